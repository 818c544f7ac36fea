package similarity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tidwall/btree"
	"gonum.org/v1/gonum/floats"

	"github.com/starford/flowstate/internal/models"
	"github.com/starford/flowstate/internal/terms"
)

// MaxLinks is the number of outbound edges kept per note.
const MaxLinks = 12

// Index is the storage seam used by the linker. ReplaceTerms and
// ReplaceEdges must each be atomic per note.
type Index interface {
	ReplaceTerms(ctx context.Context, noteID int64, v terms.Vector) error
	TermVector(ctx context.Context, noteID int64) (terms.Vector, error)
	// CandidateVectors returns, for every other note sharing at least one of
	// termList, its weights restricted to termList.
	CandidateVectors(ctx context.Context, noteID int64, termList []string) (map[int64]terms.Vector, error)
	DocumentFrequencies(ctx context.Context, termList []string) (map[string]int, error)
	CountNotes(ctx context.Context) (int, error)
	ReplaceEdges(ctx context.Context, srcID int64, links []models.Link) error
	// Documents returns every note's id, title and content in ascending id order.
	Documents(ctx context.Context) ([]Document, error)
}

// Document is the indexable text of one note.
type Document struct {
	ID      int64
	Title   string
	Content string
}

// Linker recomputes term vectors and outbound similarity edges.
type Linker struct {
	idx    Index
	logger *slog.Logger
}

// NewLinker creates a Linker over idx.
func NewLinker(idx Index, logger *slog.Logger) *Linker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Linker{idx: idx, logger: logger}
}

// Reindex replaces the note's term vector from its text and then recomputes
// its outbound edges. It returns the number of edges written.
func (l *Linker) Reindex(ctx context.Context, doc Document) (int, error) {
	v := terms.Analyze(doc.Title, doc.Content)
	if err := l.idx.ReplaceTerms(ctx, doc.ID, v); err != nil {
		return 0, fmt.Errorf("similarity: replace terms %d: %w", doc.ID, err)
	}
	links, err := l.Link(ctx, doc.ID)
	if err != nil {
		return 0, err
	}
	return len(links), nil
}

// Link recomputes and stores the outbound edges of noteID from the indexed
// vectors. Running it twice on an unchanged corpus yields the same edge set.
func (l *Linker) Link(ctx context.Context, noteID int64) ([]models.Link, error) {
	links, err := l.Compute(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if err := l.idx.ReplaceEdges(ctx, noteID, links); err != nil {
		return nil, fmt.Errorf("similarity: replace edges %d: %w", noteID, err)
	}
	l.logger.Debug("similarity: linked",
		slog.Int64("note_id", noteID),
		slog.Int("edges", len(links)))
	return links, nil
}

// Compute scores candidates for noteID without writing anything.
// Degenerate inputs (empty vector, no candidates, zero norm) yield no links.
func (l *Linker) Compute(ctx context.Context, noteID int64) ([]models.Link, error) {
	vec, err := l.idx.TermVector(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("similarity: term vector %d: %w", noteID, err)
	}
	if len(vec) == 0 {
		return nil, nil
	}

	termList := vec.Terms()
	candidates, err := l.idx.CandidateVectors(ctx, noteID, termList)
	if err != nil {
		return nil, fmt.Errorf("similarity: candidates %d: %w", noteID, err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	n, err := l.idx.CountNotes(ctx)
	if err != nil {
		return nil, fmt.Errorf("similarity: count notes: %w", err)
	}
	df, err := l.idx.DocumentFrequencies(ctx, termList)
	if err != nil {
		return nil, fmt.Errorf("similarity: document frequencies: %w", err)
	}

	ax := newAxis(IDF(termList, df, n))
	source := ax.weigh(vec)
	sourceNorm := norm(source)
	if sourceNorm == 0 {
		return nil, nil
	}

	top := newTopK(MaxLinks)
	for id, cv := range candidates {
		if id == noteID {
			continue
		}
		weighted := ax.weigh(cv)
		cn := norm(weighted)
		if cn == 0 {
			continue
		}
		dot := floats.Dot(source, weighted)
		if dot <= 0 {
			continue
		}
		top.offer(id, min(dot/(sourceNorm*cn), 1))
	}
	return top.links(noteID), nil
}

// ReindexAll reindexes and relinks every note in ascending id order and
// returns the number of notes processed.
func (l *Linker) ReindexAll(ctx context.Context) (int, error) {
	docs, err := l.idx.Documents(ctx)
	if err != nil {
		return 0, fmt.Errorf("similarity: list documents: %w", err)
	}
	count := 0
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if _, err := l.Reindex(ctx, d); err != nil {
			return count, err
		}
		count++
	}
	l.logger.Info("similarity: reindexed all", slog.Int("count", count))
	return count, nil
}

type scored struct {
	id    int64
	score float64
}

// better orders by score descending, then id ascending.
func better(a, b scored) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	return a.id < b.id
}

// topK keeps the k best candidates seen so far.
type topK struct {
	k    int
	tree *btree.BTreeG[scored]
}

func newTopK(k int) *topK {
	return &topK{k: k, tree: btree.NewBTreeG(better)}
}

func (t *topK) offer(id int64, score float64) {
	t.tree.Set(scored{id: id, score: score})
	if t.tree.Len() > t.k {
		t.tree.PopMax()
	}
}

func (t *topK) links(src int64) []models.Link {
	out := make([]models.Link, 0, t.tree.Len())
	t.tree.Scan(func(s scored) bool {
		out = append(out, models.Link{SrcID: src, DstID: s.id, Score: s.score})
		return true
	})
	return out
}
