package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/starford/flowstate/internal/apperr"
	"github.com/starford/flowstate/internal/models"
	"github.com/starford/flowstate/internal/similarity"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "flowstate-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() {
		os.Remove(f.Name())
		os.Remove(f.Name() + "-wal")
		os.Remove(f.Name() + "-shm")
	})

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustCreate(t *testing.T, db *DB, title, content string) *models.Note {
	t.Helper()
	n, err := db.CreateNote(context.Background(), models.NoteInput{Title: title, Content: content})
	if err != nil {
		t.Fatalf("CreateNote(%q): %v", title, err)
	}
	return n
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"notes", "note_terms", "note_links"} {
		var count int
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Hello World!":       "hello-world",
		"  Multiple   gaps ": "multiple-gaps",
		"--already-slug--":   "already-slug",
		"Città di Roma":      "citt-di-roma",
		"!!!":                DefaultSlug,
		"":                   DefaultSlug,
		"Go 1.25 release":    "go-1-25-release",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCreateNote_SlugCollision(t *testing.T) {
	db := testDB(t)
	a := mustCreate(t, db, "Hello World!", "first")
	b := mustCreate(t, db, "Hello World!", "second")
	c := mustCreate(t, db, "Hello World!", "third")

	if a.Slug != "hello-world" || b.Slug != "hello-world-2" || c.Slug != "hello-world-3" {
		t.Errorf("slugs = %q, %q, %q", a.Slug, b.Slug, c.Slug)
	}
	if a.Version != 1 || b.Version != 1 {
		t.Errorf("initial versions = %d, %d, want 1", a.Version, b.Version)
	}
}

func TestCreateNote_ExplicitSlug(t *testing.T) {
	db := testDB(t)
	n, err := db.CreateNote(context.Background(), models.NoteInput{Title: "Anything", Content: "x", Slug: "My Custom Slug"})
	if err != nil {
		t.Fatal(err)
	}
	if n.Slug != "my-custom-slug" {
		t.Errorf("slug = %q", n.Slug)
	}
}

func TestCreateNote_ConcurrentSameTitle(t *testing.T) {
	db := testDB(t)
	const writers = 8

	var wg sync.WaitGroup
	slugs := make(chan string, writers)
	errs := make(chan error, writers)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := db.CreateNote(context.Background(), models.NoteInput{Title: "Race", Content: "x"})
			if err != nil {
				errs <- err
				return
			}
			slugs <- n.Slug
		}()
	}
	wg.Wait()
	close(slugs)
	close(errs)

	for err := range errs {
		t.Errorf("CreateNote: %v", err)
	}
	seen := map[string]bool{}
	for s := range slugs {
		if seen[s] {
			t.Errorf("duplicate slug %q", s)
		}
		seen[s] = true
	}
	if len(seen) != writers {
		t.Errorf("got %d distinct slugs, want %d", len(seen), writers)
	}
}

func TestUpdateNote_VersionIncrements(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	n := mustCreate(t, db, "Draft", "v1")

	for want := 2; want <= 4; want++ {
		got, err := db.UpdateNote(ctx, n.ID, models.NoteInput{Title: "Draft", Content: "next"}, want-1)
		if err != nil {
			t.Fatalf("UpdateNote(expected=%d): %v", want-1, err)
		}
		if got.Version != want {
			t.Fatalf("version = %d, want %d", got.Version, want)
		}
	}
}

func TestUpdateNote_StaleVersionConflicts(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	n := mustCreate(t, db, "Plan", "original")

	if _, err := db.UpdateNote(ctx, n.ID, models.NoteInput{Title: "Plan", Content: "second"}, 1); err != nil {
		t.Fatal(err)
	}

	_, err := db.UpdateNote(ctx, n.ID, models.NoteInput{Title: "Plan", Content: "stale write"}, 1)
	var conflict *apperr.VersionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want VersionConflictError", err)
	}
	if conflict.Current != 2 {
		t.Errorf("Current = %d, want 2", conflict.Current)
	}
	if !errors.Is(err, apperr.ErrConflict) {
		t.Error("conflict should unwrap to ErrConflict")
	}

	got, err := db.GetNote(ctx, n.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "second" || got.Version != 2 {
		t.Errorf("note mutated by stale write: %+v", got)
	}
}

func TestUpdateNote_NotFound(t *testing.T) {
	db := testDB(t)
	_, err := db.UpdateNote(context.Background(), 999, models.NoteInput{Title: "x", Content: "y"}, 1)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateNote_ConcurrentSameVersion(t *testing.T) {
	db := testDB(t)
	n := mustCreate(t, db, "Shared", "base")
	const writers = 6

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.UpdateNote(context.Background(), n.ID, models.NoteInput{Title: "Shared", Content: string(rune('a' + i))}, 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperr.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || conflicts != writers-1 {
		t.Errorf("ok=%d conflicts=%d, want 1 and %d", ok, conflicts, writers-1)
	}
	got, _ := db.GetNote(context.Background(), n.ID, false)
	if got.Version != 2 {
		t.Errorf("version = %d, want 2", got.Version)
	}
}

func TestUpdateNote_RenameSlug(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	mustCreate(t, db, "Taken", "x")
	n := mustCreate(t, db, "Mine", "y")

	got, err := db.UpdateNote(ctx, n.ID, models.NoteInput{Title: "Mine", Content: "y", Slug: "Taken"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Slug != "taken-2" {
		t.Errorf("slug = %q, want taken-2", got.Slug)
	}

	// Renaming to its own slug keeps it.
	got, err = db.UpdateNote(ctx, n.ID, models.NoteInput{Title: "Mine", Content: "y", Slug: "taken-2"}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if got.Slug != "taken-2" {
		t.Errorf("slug = %q, want taken-2", got.Slug)
	}
}

func TestSetPublic(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	n := mustCreate(t, db, "Visible", "x")

	if _, err := db.GetNoteBySlug(ctx, n.Slug, true); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("private note visible publicly: %v", err)
	}
	if err := db.SetPublic(ctx, n.ID, true); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetNoteBySlug(ctx, n.Slug, true)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsPublic || got.Version != 1 {
		t.Errorf("after publish: public=%v version=%d", got.IsPublic, got.Version)
	}
	if err := db.SetPublic(ctx, 12345, true); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("SetPublic missing note: %v", err)
	}
}

func TestDeleteNote_CascadesLinks(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a := mustCreate(t, db, "A", "a")
	b := mustCreate(t, db, "B", "b")
	if err := db.ReplaceEdges(ctx, a.ID, []models.Link{{SrcID: a.ID, DstID: b.ID, Score: 0.5}}); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteNote(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	rel, err := db.Related(ctx, a.ID, 10, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(rel) != 0 {
		t.Errorf("edge to deleted note survived: %+v", rel)
	}
	if err := db.DeleteNote(ctx, b.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}
}

func TestRelatedAndBacklinks_Order(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a := mustCreate(t, db, "A", "a")
	b := mustCreate(t, db, "B", "b")
	c := mustCreate(t, db, "C", "c")

	_ = db.ReplaceEdges(ctx, a.ID, []models.Link{{DstID: b.ID, Score: 0.2}, {DstID: c.ID, Score: 0.9}})
	_ = db.ReplaceEdges(ctx, c.ID, []models.Link{{DstID: b.ID, Score: 0.7}})

	rel, err := db.Related(ctx, a.ID, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(rel) != 2 || rel[0].ID != c.ID || rel[1].ID != b.ID {
		t.Errorf("related = %+v", rel)
	}

	bl, err := db.Backlinks(ctx, b.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(bl) != 2 || bl[0].ID != c.ID || bl[1].ID != a.ID {
		t.Errorf("backlinks = %+v", bl)
	}

	// Replacing is wholesale, not a merge.
	_ = db.ReplaceEdges(ctx, a.ID, []models.Link{{DstID: b.ID, Score: 0.4}})
	rel, _ = db.Related(ctx, a.ID, 10, false)
	if len(rel) != 1 || rel[0].ID != b.ID {
		t.Errorf("after replace related = %+v", rel)
	}
}

func TestGraph_PublicFilter(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a := mustCreate(t, db, "A", "a")
	b := mustCreate(t, db, "B", "b")
	_ = db.ReplaceEdges(ctx, a.ID, []models.Link{{DstID: b.ID, Score: 0.5}})
	_ = db.SetPublic(ctx, a.ID, true)

	nodes, links, err := db.Graph(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 2 || len(links) != 1 {
		t.Errorf("full graph: %d nodes %d links", len(nodes), len(links))
	}

	nodes, links, err = db.Graph(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 1 || len(links) != 0 {
		t.Errorf("public graph: %d nodes %d links", len(nodes), len(links))
	}
}

func TestListNotes_TagFilter(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, _ = db.CreateNote(ctx, models.NoteInput{Title: "One", Content: "x", Tags: "go, sqlite"})
	_, _ = db.CreateNote(ctx, models.NoteInput{Title: "Two", Content: "y", Tags: "cooking"})

	items, total, err := db.ListNotes(ctx, ListQuery{Tag: "go"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(items) != 1 || items[0].Title != "One" {
		t.Errorf("items = %+v total = %d", items, total)
	}
}

func TestSearch_Basic(t *testing.T) {
	db := testDB(t)
	n := mustCreate(t, db, "Search Me", "uniqueword appears here")

	results, err := db.Search(context.Background(), "uniqueword", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Slug != n.Slug {
		t.Errorf("search results = %+v, want 1 hit for %s", results, n.Slug)
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	db := testDB(t)
	mustCreate(t, db, "Anything", "content")
	results, err := db.Search(context.Background(), "   ", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("results = %+v", results)
	}
}

func TestLinker_SharedStemOnSQLite(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a := mustCreate(t, db, "", "Cats and Dogs")
	b := mustCreate(t, db, "", "Dogs and Birds")

	linker := similarity.NewLinker(db, nil)
	count, err := linker.ReindexAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("count = %d", count)
	}
	// The first pass links a before b is indexed; relink a.
	if _, err := linker.Link(ctx, a.ID); err != nil {
		t.Fatal(err)
	}

	rel, err := db.Related(ctx, a.ID, 10, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(rel) != 1 || rel[0].ID != b.ID || rel[0].Score <= 0 || rel[0].Score > 1 {
		t.Errorf("related = %+v", rel)
	}

	vec, err := db.TermVector(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := vec["dog"]; !ok || len(vec) != 2 {
		t.Errorf("vector = %v", vec)
	}
}

func TestLinker_ReindexAllEmpty(t *testing.T) {
	db := testDB(t)
	count, err := similarity.NewLinker(db, nil).ReindexAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("count = %d", count)
	}
	var edges int
	_ = db.conn.QueryRow(`SELECT count(*) FROM note_links`).Scan(&edges)
	if edges != 0 {
		t.Errorf("edges = %d", edges)
	}
}

func TestDocumentFrequencies(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a := mustCreate(t, db, "A", "x")
	b := mustCreate(t, db, "B", "y")
	_ = db.ReplaceTerms(ctx, a.ID, map[string]float64{"dog": 1, "cat": 0.5})
	_ = db.ReplaceTerms(ctx, b.ID, map[string]float64{"dog": 1})

	df, err := db.DocumentFrequencies(ctx, []string{"dog", "cat", "ghost"})
	if err != nil {
		t.Fatal(err)
	}
	if df["dog"] != 2 || df["cat"] != 1 {
		t.Errorf("df = %v", df)
	}
	if _, ok := df["ghost"]; ok {
		t.Error("unseen term should be absent")
	}

	cands, err := db.CandidateVectors(ctx, a.ID, []string{"dog", "cat"})
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 || cands[b.ID]["dog"] != 1 {
		t.Errorf("candidates = %v", cands)
	}
}

func TestSearch_FallbackOrderedByRecency(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	older := mustCreate(t, db, "Older", "shared phrase")
	newer := mustCreate(t, db, "Newer", "shared phrase")

	results, err := db.likeSearch(ctx, "shared phrase", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].ID != newer.ID || results[1].ID != older.ID {
		t.Errorf("results = %+v", results)
	}

	// Touching the older note moves it to the front.
	if _, err := db.UpdateNote(ctx, older.ID, models.NoteInput{Title: "Older", Content: "shared phrase again"}, 1); err != nil {
		t.Fatal(err)
	}
	results, _ = db.likeSearch(ctx, "shared phrase", 10)
	if len(results) != 2 || results[0].ID != older.ID {
		t.Errorf("after update results = %+v", results)
	}
}

func TestSearch_LikeWildcardsEscaped(t *testing.T) {
	db := testDB(t)
	mustCreate(t, db, "Plain", "nothing special")
	results, err := db.likeSearch(context.Background(), "%", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("%% matched everything: %+v", results)
	}
}
