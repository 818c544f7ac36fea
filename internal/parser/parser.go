// Package parser reads Markdown notes with optional YAML frontmatter and
// extracts wiki links and tags from note content.
package parser

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/flowstate/internal/models"
)

var (
	wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)
	hashtagRe  = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
)

// Frontmatter holds the keys recognised at the top of an imported note.
type Frontmatter struct {
	Title  string  `yaml:"title"`
	Slug   string  `yaml:"slug,omitempty"`
	Tags   tagList `yaml:"tags,omitempty"`
	Public bool    `yaml:"public,omitempty"`
}

// tagList accepts either a YAML sequence or a comma separated string.
type tagList []string

func (t *tagList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*t = splitTags(node.Value)
		return nil
	}
	var items []string
	if err := node.Decode(&items); err != nil {
		return err
	}
	*t = items
	return nil
}

// Document is a parsed Markdown note.
type Document struct {
	Meta   *Frontmatter
	Body   string
	Title  string
	Tags   []string
	Links  []string
	Public bool
}

// Input converts the document to a create request.
func (d *Document) Input() models.NoteInput {
	in := models.NoteInput{
		Title:   d.Title,
		Content: d.Body,
		Tags:    strings.Join(d.Tags, ", "),
	}
	if d.Meta != nil {
		in.Slug = d.Meta.Slug
	}
	return in
}

// Parse splits frontmatter from body and derives title, tags and links.
// Invalid frontmatter is kept as body text rather than rejected.
func Parse(data []byte) *Document {
	meta, body := splitFrontmatter(data)
	doc := &Document{
		Meta:  meta,
		Body:  body,
		Title: deriveTitle(meta, body),
		Links: WikiLinks(body),
	}
	if meta != nil {
		doc.Public = meta.Public
	}
	doc.Tags = mergeTags(meta, body)
	return doc
}

// ParseFile parses a file, falling back to its base name for the title.
func ParseFile(path string, data []byte) *Document {
	doc := Parse(data)
	if doc.Title == "" {
		doc.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return doc
}

// Format renders a stored note as Markdown with a frontmatter block, the
// same shape Parse accepts.
func Format(n *models.Note) ([]byte, error) {
	fm := Frontmatter{
		Title:  n.Title,
		Slug:   n.Slug,
		Tags:   splitTags(n.Tags),
		Public: n.IsPublic,
	}
	head, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("parser: format: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(head)
	buf.WriteString("---\n\n")
	buf.WriteString(n.Content)
	if !strings.HasSuffix(n.Content, "\n") {
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func splitFrontmatter(data []byte) (*Frontmatter, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	end := bytes.Index(rest, []byte("\n"+delim))
	if end < 0 {
		return nil, string(data)
	}

	var fm Frontmatter
	if err := yaml.Unmarshal(rest[:end], &fm); err != nil {
		return nil, string(data)
	}
	body := strings.TrimLeft(string(rest[end+1+len(delim):]), "\n\r")
	return &fm, body
}

// WikiLinks returns the distinct [[Target]] references in order of first
// appearance. [[Target|Alias]] yields Target.
func WikiLinks(content string) []string {
	matches := wikilinkRe.FindAllStringSubmatch(content, -1)
	seen := make(map[string]struct{}, len(matches))
	out := []string{}
	for _, m := range matches {
		target, _, _ := strings.Cut(m[1], "|")
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

func mergeTags(meta *Frontmatter, body string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(tag string) {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			return
		}
		if _, dup := seen[tag]; dup {
			return
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if meta != nil {
		for _, t := range meta.Tags {
			add(t)
		}
	}
	for _, m := range hashtagRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}
	return out
}

func splitTags(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// deriveTitle prefers the frontmatter title, then the first H1.
func deriveTitle(meta *Frontmatter, body string) string {
	if meta != nil && meta.Title != "" {
		return meta.Title
	}
	for _, line := range strings.Split(body, "\n") {
		if h, ok := strings.CutPrefix(strings.TrimSpace(line), "# "); ok {
			return strings.TrimSpace(h)
		}
	}
	return ""
}
