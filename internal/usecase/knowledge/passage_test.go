package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"clinicrew/internal/domain"
)

func words(prefix string, n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(w, " ")
}

func TestChunkWindows(t *testing.T) {
	tests := []struct {
		name  string
		words int
		want  []int // window lengths
	}{
		{"exactly one window", 80, []int{80}},
		{"second window reaches end", 130, []int{80, 70}},
		{"third window", 145, []int{80, 80, 25}},
		{"second window ends exactly", 140, []int{80, 80}},
		{"document under ten words", 9, nil},
		{"document of ten words", 10, []int{10}},
		{"empty", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Chunk(words("w", tt.words), 80, 20, 10)
			if len(chunks) != len(tt.want) {
				t.Fatalf("got %d chunks, want %d", len(chunks), len(tt.want))
			}
			for i, c := range chunks {
				if n := len(strings.Fields(c)); n != tt.want[i] {
					t.Errorf("chunk %d has %d words, want %d", i, n, tt.want[i])
				}
			}
		})
	}
}

func TestChunkDropsShortTail(t *testing.T) {
	// Without overlap a 23-word document leaves a 3-word tail.
	chunks := Chunk(words("w", 23), 10, 0, 5)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if last := strings.Fields(chunks[1]); last[0] != "w10" || len(last) != 10 {
		t.Errorf("second chunk starts %s with %d words", last[0], len(last))
	}

	// A tail at the minimum is kept.
	if got := Chunk(words("w", 25), 10, 0, 5); len(got) != 3 {
		t.Errorf("25 words: got %d chunks, want 3", len(got))
	}
}

func TestChunkOverlap(t *testing.T) {
	chunks := Chunk(words("w", 200), 80, 20, 10)
	first := strings.Fields(chunks[0])
	second := strings.Fields(chunks[1])
	if second[0] != "w60" || first[60] != second[0] {
		t.Errorf("second window should start at word 60, got %s", second[0])
	}
}

func TestChunkStripsHeadersAndBlankLines(t *testing.T) {
	doc := "# Heart Failure Management\n\nStart ACE inhibitor therapy.\n   ## Dosing\nAdd SGLT2 inhibitor\n\n"
	chunks := Chunk(doc, 80, 20, 1)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	if chunks[0] != "Start ACE inhibitor therapy. Add SGLT2 inhibitor" {
		t.Errorf("chunk = %q", chunks[0])
	}
}

// One five-word line per chunk with WithChunking(5, 0, 1).
const passageDoc = `# Guidelines
alpha alpha alpha alpha alpha
bravo bravo bravo bravo bravo

charlie charlie charlie charlie charlie
delta delta delta delta delta
echo echo echo echo echo
`

func newPassageFixture(t *testing.T, opts ...PassageOption) (*PassageIndex, *mapEmbedder) {
	t.Helper()
	emb := &mapEmbedder{
		fallback: []float32{0, 1},
		vectors: map[string][]float32{
			"alpha alpha alpha alpha alpha":           {1, 0},
			"bravo bravo bravo bravo bravo":           {0.9, 0.43589},
			"charlie charlie charlie charlie charlie": {0.59, 0.8074},
			"delta delta delta delta delta":           {0.9, 0.43589},
			"echo echo echo echo echo":                {0.95, 0.3122},
			"ejection fraction":                       {1, 0},
			"unrelated query":                         {-1, 0},
		},
	}
	opts = append([]PassageOption{WithChunking(5, 0, 1)}, opts...)
	pi := NewPassageIndex(emb, discardLogger(), opts...)
	if err := pi.Initialize(context.Background(), writeFile(t, "guidelines.md", passageDoc)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return pi, emb
}

func TestPassageSearchTopK(t *testing.T) {
	pi, _ := newPassageFixture(t)
	if pi.Len() != 5 {
		t.Fatalf("Len = %d, want 5", pi.Len())
	}

	hits, err := pi.Search(context.Background(), "ejection fraction")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3", len(hits))
	}
	wantOrder := []string{"alpha", "echo", "bravo"}
	for i, h := range hits {
		if !strings.HasPrefix(h.Text, wantOrder[i]) {
			t.Errorf("hit %d = %q, want %s", i, h.Text, wantOrder[i])
		}
		if h.Relevance < 60 {
			t.Errorf("hit %d relevance %d below threshold", i, h.Relevance)
		}
	}
	if hits[0].Relevance != 100 {
		t.Errorf("exact match relevance = %d, want 100", hits[0].Relevance)
	}
}

func TestPassageSearchThresholdAndStableTies(t *testing.T) {
	pi, _ := newPassageFixture(t, WithTopK(10))

	hits, err := pi.Search(context.Background(), "ejection fraction")
	if err != nil {
		t.Fatal(err)
	}
	// charlie scores 0.59 and is filtered out.
	if len(hits) != 4 {
		t.Fatalf("got %d hits, want 4", len(hits))
	}
	if !strings.HasPrefix(hits[2].Text, "bravo") || !strings.HasPrefix(hits[3].Text, "delta") {
		t.Errorf("equal scores should keep document order: %q, %q", hits[2].Text, hits[3].Text)
	}
}

func TestPassageSearchNoHits(t *testing.T) {
	pi, _ := newPassageFixture(t)

	hits, err := pi.Search(context.Background(), "unrelated query")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Fatalf("got %d hits, want 0", len(hits))
	}
	if FormatPassages(hits) != NoGuidelinesText {
		t.Errorf("FormatPassages = %q", FormatPassages(hits))
	}
}

func TestPassageSearchWithoutEmbedding(t *testing.T) {
	pi, emb := newPassageFixture(t)
	before := emb.callCount()
	if hits, err := pi.Search(context.Background(), "  "); err != nil || hits != nil {
		t.Errorf("empty query = %v, %v", hits, err)
	}
	if emb.callCount() != before {
		t.Error("empty query must not call the embedder")
	}

	cold := &mapEmbedder{}
	if hits, err := NewPassageIndex(cold, discardLogger()).Search(context.Background(), "x"); err != nil || hits != nil || cold.calls != 0 {
		t.Errorf("uninitialised search = %v, %v, calls=%d", hits, err, cold.calls)
	}
}

func TestPassageShortDocumentIsEmpty(t *testing.T) {
	emb := &mapEmbedder{fallback: []float32{1}}
	pi := NewPassageIndex(emb, discardLogger())
	if err := pi.Initialize(context.Background(), writeFile(t, "g.md", "# Title\nToo short to index.\n")); err != nil {
		t.Fatal(err)
	}
	if pi.Len() != 0 || !pi.Ready() {
		t.Fatalf("Len = %d ready = %v", pi.Len(), pi.Ready())
	}
	hits, err := pi.Search(context.Background(), "anything")
	if err != nil || len(hits) != 0 || emb.calls != 0 {
		t.Errorf("search on empty index = %v, %v, calls=%d", hits, err, emb.calls)
	}
}

func TestPassageInitializeIdempotentAndErrors(t *testing.T) {
	pi, emb := newPassageFixture(t)
	before := emb.callCount()
	if err := pi.Initialize(context.Background(), "/elsewhere.md"); err != nil {
		t.Fatal(err)
	}
	if emb.callCount() != before {
		t.Error("second Initialize embedded again")
	}

	err := NewPassageIndex(&mapEmbedder{}, discardLogger()).Initialize(context.Background(), "/missing.md")
	if !errors.Is(err, domain.ErrKnowledgeSource) {
		t.Errorf("err = %v, want ErrKnowledgeSource", err)
	}

	err = NewPassageIndex(&mapEmbedder{err: errEmbedDown}, discardLogger(), WithChunking(5, 0, 1)).
		Initialize(context.Background(), writeFile(t, "g.md", passageDoc))
	if !errors.Is(err, domain.ErrEmbeddingFailed) {
		t.Errorf("err = %v, want ErrEmbeddingFailed", err)
	}
}

func TestPassageSearchEmbedFailure(t *testing.T) {
	pi, emb := newPassageFixture(t)
	emb.err = errEmbedDown
	hits, err := pi.Search(context.Background(), "ejection fraction")
	if !errors.Is(err, domain.ErrEmbeddingFailed) || hits != nil {
		t.Errorf("Search = %v, %v", hits, err)
	}
}

func TestFormatPassages(t *testing.T) {
	got := FormatPassages([]domain.PassageHit{
		{Text: "Start an ACE inhibitor.", Relevance: 87},
		{Text: "Add an SGLT2 inhibitor.", Relevance: 64},
	})
	want := "[Passage 1 | Relevance: 87%]\nStart an ACE inhibitor.\n\n[Passage 2 | Relevance: 64%]\nAdd an SGLT2 inhibitor."
	if got != want {
		t.Errorf("FormatPassages =\n%s\nwant\n%s", got, want)
	}
}
