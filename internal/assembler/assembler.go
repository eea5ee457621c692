// Package assembler turns retrieval results into the Polish legal context
// block, the final prompts, and the source references returned to the user.
//
// Everything here is a pure function over its inputs. Rendering is
// deterministic: the same fragments and related acts always produce the same
// byte sequence, which keeps cached contexts interchangeable with freshly
// built ones.
package assembler

import (
	"fmt"
	"strings"

	"github.com/prawnikgpt/prawnikgpt/pkg/index"
)

// SystemPrompt instructs the model to answer only from the supplied legal
// fragments and to cite specific provisions.
const SystemPrompt = `Jesteś ekspertem prawnym specjalizującym się w polskim prawie.
Twoim zadaniem jest udzielanie precyzyjnych odpowiedzi na pytania prawne w oparciu
o dostarczone fragmenty aktów prawnych.

Zasady odpowiadania:
1. Opieraj odpowiedź TYLKO na dostarczonych fragmentach aktów prawnych
2. Cytuj konkretne artykuły i przepisy
3. Używaj jasnego, zrozumiałego języka
4. Jeśli informacje są niepełne, wskaż to wprost
5. Nie wymyślaj informacji spoza dostarczonego kontekstu
`

// EnhancedSystemPrompt extends SystemPrompt for the accurate tier with
// instructions for deeper analysis.
const EnhancedSystemPrompt = SystemPrompt + `
Dla tej odpowiedzi:
- Dokonaj głębszej analizy przepisów
- Rozważ różne interpretacje i konteksty
- Wskaż potencjalne wyjątki lub szczególne przypadki
- Podaj przykłady zastosowania (jeśli relewanatne)
`

const userPromptTemplate = `Pytanie użytkownika:
%s

Dostępne akty prawne i przepisy:
%s

Na podstawie powyższych przepisów, udziel zwięzłej i precyzyjnej odpowiedzi na pytanie użytkownika.
Pamiętaj o cytowaniu konkretnych artykułów.`

// TruncationMarker is appended to a context cut down to the token budget.
const TruncationMarker = "[... treść skrócona ...]"

const (
	// DefaultMaxContextTokens is the context token budget.
	DefaultMaxContextTokens = 4000

	// charsPerToken approximates tokenization of Polish text.
	charsPerToken = 4

	maxRelatedActs = 5
	maxSources     = 10
)

// Source is one reference attached to a generated answer.
type Source struct {
	ActTitle string `json:"act_title"`
	Article  string `json:"article"`
	Link     string `json:"link"`
	ChunkID  string `json:"chunk_id"`
}

// BuildLegalContext renders the retrieved fragments and related acts into the
// context block inserted into the prompt. Fragments are grouped under their
// act in first-seen order; each act's fragments keep their retrieval order.
// At most five related acts are listed.
func BuildLegalContext(results []index.SearchResult, related []index.RelatedAct) string {
	var parts []string

	actOrder := make([]string, 0, len(results))
	byAct := make(map[string][]index.SearchResult)
	titles := make(map[string]string)
	for _, r := range results {
		if r.ActID == "" {
			continue
		}
		if _, seen := byAct[r.ActID]; !seen {
			actOrder = append(actOrder, r.ActID)
			titles[r.ActID] = r.ActTitle
		}
		byAct[r.ActID] = append(byAct[r.ActID], r)
	}

	for _, actID := range actOrder {
		title := titles[actID]
		if title == "" {
			title = "Akt prawny"
		}
		parts = append(parts, fmt.Sprintf("\n=== %s ===\n", title))
		for _, r := range byAct[actID] {
			parts = append(parts, fmt.Sprintf("[Fragment %d]\n%s\n", r.ChunkIndex+1, r.Content))
		}
	}

	if len(related) > 0 {
		parts = append(parts, "\n=== Powiązane akty prawne ===\n")
		for i, act := range related {
			if i >= maxRelatedActs {
				break
			}
			parts = append(parts, fmt.Sprintf("- %s\n", act.Title))
		}
	}

	return strings.Join(parts, "\n")
}

// BuildPrompt renders the final user prompt from the question and the legal
// context block.
func BuildPrompt(question, legalContext string) string {
	return fmt.Sprintf(userPromptTemplate, question, legalContext)
}

// EstimateTokens approximates the token count of text at four characters per
// token.
func EstimateTokens(text string) int {
	return len([]rune(text)) / charsPerToken
}

// TruncateContext cuts context down to maxTokens (DefaultMaxContextTokens
// when maxTokens is not positive) and appends TruncationMarker. The cut is
// rune-aligned so Polish diacritics are never split. Reports whether
// truncation happened.
func TruncateContext(context string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxContextTokens
	}
	runes := []rune(context)
	if len(runes)/charsPerToken <= maxTokens {
		return context, false
	}
	maxChars := maxTokens * charsPerToken
	return string(runes[:maxChars]) + "\n\n" + TruncationMarker, true
}

// ISAPLink builds the public ISAP document URL for an act identified by its
// journal year and position.
func ISAPLink(year, position int) string {
	return fmt.Sprintf("https://isap.sejm.gov.pl/isap.nsf/DocDetails.xsp?id=WDU%d%04d", year, position)
}

// ExtractSources derives the source references for an answer from the
// fragments that grounded it. One source per act, in first-seen order, capped
// at ten.
func ExtractSources(results []index.SearchResult) []Source {
	sources := make([]Source, 0, maxSources)
	seen := make(map[string]struct{})

	for _, r := range results {
		if r.ActID == "" {
			continue
		}
		if _, ok := seen[r.ActID]; ok {
			continue
		}
		seen[r.ActID] = struct{}{}

		sources = append(sources, Source{
			ActTitle: r.ActTitle,
			Article:  fmt.Sprintf("Fragment %d", r.ChunkIndex+1),
			Link:     ISAPLink(r.ActYear, r.ActPosition),
			ChunkID:  r.ChunkID,
		})
		if len(sources) == maxSources {
			break
		}
	}
	return sources
}
