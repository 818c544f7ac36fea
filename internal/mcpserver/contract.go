package mcpserver

// NoteFormatContract describes the Markdown shape accepted by create_note
// and returned by read_note.
const NoteFormatContract = `# FlowState Note Format Contract

Notes are Markdown with an optional YAML frontmatter block.

## Structure

` + "```" + `markdown
---
title: Human-readable title        # REQUIRED unless the body starts with "# Heading"
tags:                               # OPTIONAL; YAML list or "a, b" string
  - tag-one
slug: custom-slug                   # OPTIONAL; normalised and made unique
public: false                       # OPTIONAL; true publishes the note
---

Body text in standard Markdown.

Use [[wikilinks]] to mention other notes by title.
Use [[target|alias]] for display text that differs from the target.
` + "```" + `

## Rules

1. **Title and body are required.** A note with a blank title or blank body is rejected
   with ` + "`" + `missing_fields` + "`" + `.
2. **Slugs** are derived from the title: lowercase ASCII letters, digits and hyphens.
   Duplicates get a numeric suffix (` + "`" + `hello-world-2` + "`" + `).
3. **Versions** start at 1. Every accepted edit increments the version; an edit based on an
   older version is refused with the current version number.
4. **Related notes** are computed automatically from shared vocabulary (TF-IDF cosine,
   at most 12 per note). Words like "the", "and", "with" do not count.
5. **Inline tags** written as ` + "`" + `#tag` + "`" + ` in the body are merged with frontmatter tags on import.
6. **Encoding** is UTF-8.

## Example

` + "```" + `markdown
---
title: Weekly standup 2025-01-20
tags: [meeting-notes, project-x]
---

Attendees: Alice, Bob.

- Alice to review the [[Design doc]]
- Bob to update [[Roadmap|the roadmap]]
` + "```" + `
`
