package assembler

import (
	"strings"
	"testing"

	"github.com/prawnikgpt/prawnikgpt/pkg/index"
)

func sampleResults() []index.SearchResult {
	return []index.SearchResult{
		{ChunkID: "c1", ActID: "kc", ActTitle: "Kodeks cywilny", ActYear: 1964, ActPosition: 93, ChunkIndex: 0, Content: "Art. 1. Kodeks reguluje stosunki cywilnoprawne."},
		{ChunkID: "c2", ActID: "kpc", ActTitle: "Kodeks postępowania cywilnego", ActYear: 1964, ActPosition: 296, ChunkIndex: 4, Content: "Art. 5. Pouczenia stron."},
		{ChunkID: "c3", ActID: "kc", ActTitle: "Kodeks cywilny", ActYear: 1964, ActPosition: 93, ChunkIndex: 2, Content: "Art. 3. Ustawa nie ma mocy wstecznej."},
	}
}

func TestBuildLegalContextGroupsByAct(t *testing.T) {
	got := BuildLegalContext(sampleResults(), nil)

	kcHeader := strings.Index(got, "=== Kodeks cywilny ===")
	kpcHeader := strings.Index(got, "=== Kodeks postępowania cywilnego ===")
	if kcHeader < 0 || kpcHeader < 0 {
		t.Fatalf("missing act headers in:\n%s", got)
	}
	if kcHeader > kpcHeader {
		t.Fatal("acts must appear in first-seen order")
	}

	// Both Kodeks cywilny fragments belong under its header, before the next act.
	f1 := strings.Index(got, "[Fragment 1]")
	f3 := strings.Index(got, "[Fragment 3]")
	if f1 < 0 || f3 < 0 {
		t.Fatalf("fragment labels missing in:\n%s", got)
	}
	if !(kcHeader < f1 && f1 < f3 && f3 < kpcHeader) {
		t.Fatalf("fragments not grouped under their act:\n%s", got)
	}
	if !strings.Contains(got, "[Fragment 5]\nArt. 5. Pouczenia stron.") {
		t.Errorf("fragment numbering must be chunk index + 1:\n%s", got)
	}
}

func TestBuildLegalContextRelatedActsCappedAtFive(t *testing.T) {
	related := make([]index.RelatedAct, 7)
	for i := range related {
		related[i] = index.RelatedAct{ActID: string(rune('a' + i)), Title: "Ustawa " + string(rune('A'+i)), Kind: index.KindAmends, Depth: 1}
	}

	got := BuildLegalContext(sampleResults(), related)
	if !strings.Contains(got, "=== Powiązane akty prawne ===") {
		t.Fatalf("related acts header missing:\n%s", got)
	}
	if n := strings.Count(got, "- Ustawa "); n != 5 {
		t.Fatalf("expected 5 related acts listed, got %d", n)
	}
	if strings.Contains(got, "Ustawa F") || strings.Contains(got, "Ustawa G") {
		t.Error("acts beyond the cap must be omitted")
	}
}

func TestBuildLegalContextNoRelatedSection(t *testing.T) {
	got := BuildLegalContext(sampleResults(), nil)
	if strings.Contains(got, "Powiązane akty prawne") {
		t.Error("related section must be absent without related acts")
	}
}

func TestBuildLegalContextDeterministic(t *testing.T) {
	related := []index.RelatedAct{{ActID: "x", Title: "Ustawa X", Kind: index.KindModifies, Depth: 1}}
	a := BuildLegalContext(sampleResults(), related)
	b := BuildLegalContext(sampleResults(), related)
	if a != b {
		t.Fatal("rendering must be byte-identical across calls")
	}
}

func TestBuildPrompt(t *testing.T) {
	got := BuildPrompt("Jakie są warunki zawarcia umowy?", "=== Kodeks cywilny ===")
	if !strings.HasPrefix(got, "Pytanie użytkownika:\nJakie są warunki zawarcia umowy?") {
		t.Errorf("question missing from prompt:\n%s", got)
	}
	if !strings.Contains(got, "Dostępne akty prawne i przepisy:\n=== Kodeks cywilny ===") {
		t.Errorf("context missing from prompt:\n%s", got)
	}
	if !strings.Contains(got, "cytowaniu konkretnych artykułów") {
		t.Errorf("closing instruction missing:\n%s", got)
	}
}

func TestTruncateContext(t *testing.T) {
	short := "krótki kontekst"
	if got, cut := TruncateContext(short, 100); cut || got != short {
		t.Fatalf("short context must pass through unchanged, got cut=%v", cut)
	}

	long := strings.Repeat("ą", 100)
	got, cut := TruncateContext(long, 10)
	if !cut {
		t.Fatal("expected truncation")
	}
	if !strings.HasSuffix(got, TruncationMarker) {
		t.Fatalf("marker missing: %q", got)
	}
	body := strings.TrimSuffix(got, "\n\n"+TruncationMarker)
	if len([]rune(body)) != 40 {
		t.Fatalf("expected 40 runes kept, got %d", len([]rune(body)))
	}
	// Rune-aligned cut: multi-byte characters survive intact.
	if strings.ContainsRune(got, '�') || !strings.HasPrefix(body, "ąąą") {
		t.Fatalf("truncation split a rune: %q", body)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens("abcdefgh"); got != 2 {
		t.Fatalf("expected 2 tokens, got %d", got)
	}
	// Counted in runes, not bytes.
	if got := EstimateTokens(strings.Repeat("ż", 8)); got != 2 {
		t.Fatalf("expected 2 tokens for multi-byte text, got %d", got)
	}
}

func TestISAPLink(t *testing.T) {
	got := ISAPLink(1964, 93)
	want := "https://isap.sejm.gov.pl/isap.nsf/DocDetails.xsp?id=WDU19640093"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExtractSources(t *testing.T) {
	sources := ExtractSources(sampleResults())
	if len(sources) != 2 {
		t.Fatalf("expected one source per act, got %d", len(sources))
	}
	first := sources[0]
	if first.ActTitle != "Kodeks cywilny" || first.Article != "Fragment 1" || first.ChunkID != "c1" {
		t.Fatalf("unexpected first source: %+v", first)
	}
	if first.Link != "https://isap.sejm.gov.pl/isap.nsf/DocDetails.xsp?id=WDU19640093" {
		t.Fatalf("unexpected link: %s", first.Link)
	}
}

func TestExtractSourcesCappedAtTen(t *testing.T) {
	var results []index.SearchResult
	for i := 0; i < 15; i++ {
		results = append(results, index.SearchResult{
			ChunkID:     "c" + string(rune('a'+i)),
			ActID:       "act" + string(rune('a'+i)),
			ActTitle:    "Ustawa",
			ActYear:     2000 + i,
			ActPosition: i + 1,
			ChunkIndex:  i,
		})
	}
	if got := len(ExtractSources(results)); got != 10 {
		t.Fatalf("expected 10 sources, got %d", got)
	}
}
