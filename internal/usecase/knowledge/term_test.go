package knowledge

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"clinicrew/internal/domain"
)

const termsFile = `# MainTerm | Acronym | Synonyms
Hypertension | HTA | Arterial Hypertension, High Blood Pressure

Diabetes Mellitus Type 2 | DM2 | Type 2 Diabetes, T2DM
this line is malformed
 | EMPTY | missing term
Chronic Obstructive Pulmonary Disease | COPD
`

func newTermFixture(t *testing.T) (*TermIndex, *mapEmbedder) {
	t.Helper()
	emb := &mapEmbedder{
		fallback: []float32{0, 0, 1},
		vectors: map[string][]float32{
			"Hypertension Arterial Hypertension High Blood Pressure": {1, 0, 0},
			"Diabetes Mellitus Type 2 Type 2 Diabetes T2DM":          {0, 1, 0},
			"Chronic Obstructive Pulmonary Disease":                  {0, -1, 0},
			"high blood pressure":                                    {1, 0, 0},
			"raised pressure":                                        {0.72, 0, 0.6},
			"headache":                                               {0, 0, 1},
		},
	}
	ti := NewTermIndex(emb, discardLogger())
	if err := ti.Initialize(context.Background(), writeFile(t, "terms.txt", termsFile)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return ti, emb
}

func TestParseTermLine(t *testing.T) {
	tests := []struct {
		line string
		ok   bool
		want domain.MedicalEntry
	}{
		{"Hypertension | HTA | Arterial Hypertension, High Blood Pressure", true,
			domain.MedicalEntry{MainTerm: "Hypertension", Acronym: "HTA", Synonyms: []string{"Arterial Hypertension", "High Blood Pressure"}}},
		{"Atrial Fibrillation|AF", true, domain.MedicalEntry{MainTerm: "Atrial Fibrillation", Acronym: "AF"}},
		{"Heart Failure | HF | , CHF ,", true, domain.MedicalEntry{MainTerm: "Heart Failure", Acronym: "HF", Synonyms: []string{"CHF"}}},
		{"no pipes here", false, domain.MedicalEntry{}},
		{" | HTA", false, domain.MedicalEntry{}},
		{"Hypertension | ", false, domain.MedicalEntry{}},
	}
	for _, tt := range tests {
		got, ok := ParseTermLine(tt.line)
		if ok != tt.ok {
			t.Errorf("ParseTermLine(%q) ok = %v, want %v", tt.line, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		if got.MainTerm != tt.want.MainTerm || got.Acronym != tt.want.Acronym ||
			strings.Join(got.Synonyms, ";") != strings.Join(tt.want.Synonyms, ";") {
			t.Errorf("ParseTermLine(%q) = %+v, want %+v", tt.line, got, tt.want)
		}
	}
}

func TestTermInitializeSkipsMalformed(t *testing.T) {
	var logs bytes.Buffer
	emb := &mapEmbedder{fallback: []float32{1, 0}}
	ti := NewTermIndex(emb, slog.New(slog.NewTextHandler(&logs, nil)))

	if err := ti.Initialize(context.Background(), writeFile(t, "terms.txt", termsFile)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if ti.Len() != 3 {
		t.Fatalf("Len = %d, want 3", ti.Len())
	}
	if got := ti.Entries()[2].Acronym; got != "COPD" {
		t.Errorf("third entry = %q, want COPD", got)
	}
	if strings.Count(logs.String(), "skipping malformed term line") != 2 {
		t.Errorf("expected two warnings, got:\n%s", logs.String())
	}
	if !strings.Contains(logs.String(), "line=5") {
		t.Errorf("warning should carry the line number:\n%s", logs.String())
	}
}

func TestTermInitializeIdempotent(t *testing.T) {
	ti, emb := newTermFixture(t)
	before := emb.callCount()

	if err := ti.Initialize(context.Background(), "/does/not/matter"); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if emb.callCount() != before {
		t.Errorf("second Initialize embedded again (%d -> %d calls)", before, emb.callCount())
	}
}

func TestTermInitializeBatches(t *testing.T) {
	var b strings.Builder
	for i := range 130 {
		b.WriteString("Term")
		b.WriteString(strings.Repeat("x", i+1))
		b.WriteString(" | T\n")
	}
	emb := &mapEmbedder{fallback: []float32{1}}
	ti := NewTermIndex(emb, discardLogger())
	if err := ti.Initialize(context.Background(), writeFile(t, "terms.txt", b.String())); err != nil {
		t.Fatal(err)
	}
	if emb.calls != 3 || emb.texts != 130 {
		t.Errorf("calls=%d texts=%d, want 3 batches covering 130 texts", emb.calls, emb.texts)
	}
}

func TestTermInitializeErrors(t *testing.T) {
	ti := NewTermIndex(&mapEmbedder{}, discardLogger())
	err := ti.Initialize(context.Background(), "/nonexistent/terms.txt")
	if !errors.Is(err, domain.ErrKnowledgeSource) {
		t.Errorf("missing file err = %v, want ErrKnowledgeSource", err)
	}
	if ti.Ready() {
		t.Error("index should not be ready after a failed build")
	}

	ti = NewTermIndex(&mapEmbedder{err: errEmbedDown}, discardLogger())
	err = ti.Initialize(context.Background(), writeFile(t, "terms.txt", termsFile))
	if !errors.Is(err, domain.ErrEmbeddingFailed) {
		t.Errorf("embed failure err = %v, want ErrEmbeddingFailed", err)
	}
}

func TestTermSearchTiers(t *testing.T) {
	ti, _ := newTermFixture(t)
	ctx := context.Background()

	m, err := ti.Search(ctx, "high blood pressure")
	if err != nil {
		t.Fatal(err)
	}
	if m.Tier != domain.TierConfirmed || m.Entry.Acronym != "HTA" {
		t.Fatalf("high blood pressure = %+v", m)
	}
	if !strings.HasPrefix(m.Format(), "CONFIRMED: HTA (Source: Hypertension)") {
		t.Errorf("Format = %q", m.Format())
	}

	m, _ = ti.Search(ctx, "raised pressure")
	if m.Tier != domain.TierUncertain {
		t.Fatalf("raised pressure tier = %s (score %.3f)", m.Tier, m.Score)
	}
	want := `UNCERTAIN: possible match "Hypertension" (76% confidence). Use the original text verbatim.`
	if m.Format() != want {
		t.Errorf("Format = %q, want %q", m.Format(), want)
	}

	m, _ = ti.Search(ctx, "headache")
	if m.Tier != domain.TierNoMatch || m.Format() != domain.TermNoMatchText {
		t.Errorf("headache = %+v", m)
	}
}

func TestTermSearchTieKeepsFirst(t *testing.T) {
	emb := &mapEmbedder{fallback: []float32{1, 0}}
	ti := NewTermIndex(emb, discardLogger())
	path := writeFile(t, "terms.txt", "First Term | FT\nSecond Term | ST\n")
	if err := ti.Initialize(context.Background(), path); err != nil {
		t.Fatal(err)
	}

	m, err := ti.Search(context.Background(), "anything")
	if err != nil {
		t.Fatal(err)
	}
	if m.Entry == nil || m.Entry.Acronym != "FT" {
		t.Errorf("tie winner = %+v, want FT", m.Entry)
	}
}

func TestTermSearchWithoutEmbedding(t *testing.T) {
	ti, emb := newTermFixture(t)
	before := emb.callCount()

	for _, q := range []string{"", "   \t"} {
		m, err := ti.Search(context.Background(), q)
		if err != nil || m.Tier != domain.TierNoMatch {
			t.Errorf("Search(%q) = %+v, %v", q, m, err)
		}
	}
	if emb.callCount() != before {
		t.Error("empty query must not call the embedder")
	}

	cold := &mapEmbedder{}
	m, err := NewTermIndex(cold, discardLogger()).Search(context.Background(), "hypertension")
	if err != nil || m.Tier != domain.TierNoMatch || cold.calls != 0 {
		t.Errorf("uninitialised search = %+v, %v, calls=%d", m, err, cold.calls)
	}
}

func TestTermSearchEmbedFailure(t *testing.T) {
	ti, emb := newTermFixture(t)
	emb.err = errEmbedDown

	m, err := ti.Search(context.Background(), "high blood pressure")
	if !errors.Is(err, domain.ErrEmbeddingFailed) {
		t.Errorf("err = %v, want ErrEmbeddingFailed", err)
	}
	if m.Tier != domain.TierNoMatch {
		t.Errorf("tier = %s, want NO MATCH", m.Tier)
	}
}

func TestClassifyBoundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  domain.MatchTier
	}{
		{1.0, domain.TierConfirmed},
		{0.85, domain.TierConfirmed},
		{0.8499, domain.TierUncertain},
		{0.60, domain.TierUncertain},
		{0.5999, domain.TierNoMatch},
		{0, domain.TierNoMatch},
		{-0.4, domain.TierNoMatch},
	}
	for _, tt := range tests {
		if got := Classify(tt.score, DefaultConfirmThreshold, DefaultUncertainThreshold); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestClassifyMonotonic(t *testing.T) {
	rank := map[domain.MatchTier]int{domain.TierNoMatch: 0, domain.TierUncertain: 1, domain.TierConfirmed: 2}
	prev := -1
	for i := 0; i <= 1000; i++ {
		r := rank[Classify(float64(i)/1000, DefaultConfirmThreshold, DefaultUncertainThreshold)]
		if r < prev {
			t.Fatalf("tier decreased at score %v", float64(i)/1000)
		}
		prev = r
	}
}

func TestWithTermThresholds(t *testing.T) {
	ti := NewTermIndex(&mapEmbedder{}, discardLogger(), WithTermThresholds(0.9, 0.5))
	if ti.Classify(0.88) != domain.TierUncertain || ti.Classify(0.5) != domain.TierUncertain {
		t.Error("custom thresholds not applied")
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		got := Cosine(tt.a, tt.b)
		if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("%s: Cosine = %v, want %v", tt.name, got, tt.want)
		}
	}
}
