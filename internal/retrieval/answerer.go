package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/supportdesk/dispatcher/internal/llm"
)

// Answer is the answerer's output for one query.
type Answer struct {
	Text          string
	Confidence    float64
	Citations     int
	Category      string
	HasEvidence   bool
}

type Answerer struct {
	index           VectorIndex
	llmClient       llm.Client
	k               int
	kMin            int
	similarityFloor float64
	mmrLambda       float64
	dedupLookback   int
	complianceTerms []string
}

func NewAnswerer(index VectorIndex, llmClient llm.Client, k, kMin int, similarityFloor, mmrLambda float64, dedupLookback int, complianceTerms []string) *Answerer {
	return &Answerer{
		index:           index,
		llmClient:       llmClient,
		k:               k,
		kMin:            kMin,
		similarityFloor: similarityFloor,
		mmrLambda:       mmrLambda,
		dedupLookback:   dedupLookback,
		complianceTerms: complianceTerms,
	}
}

var confidencePattern = regexp.MustCompile(`(?i)CONFIDENCE\s*[:=]\s*([0-9]*\.?[0-9]+)`)

// Answer runs the full retrieval pipeline: normalize -> embed (delegated
// to the index) -> nearest-K with MMR -> similarity-floor filter ->
// grounded prompt -> parsed confidence; no keyword re-rank step is
// applied. recentAI is the tail of AI
// messages used to dedup a near-repeat answer.
func (a *Answerer) Answer(ctx context.Context, query string, recentAI []string) (*Answer, error) {
	normalized := strings.ToLower(strings.TrimSpace(query))

	candidates, err := a.index.Query(ctx, normalized, 2*a.kMin+a.k)
	if err != nil {
		return nil, err
	}

	selected := mmrSelect(candidates, a.k, a.mmrLambda)
	filtered := make([]Chunk, 0, len(selected))
	for _, c := range selected {
		if c.Score >= a.similarityFloor {
			filtered = append(filtered, c)
		}
	}

	if len(filtered) < a.kMin {
		return &Answer{HasEvidence: false, Confidence: 0}, nil
	}

	category := categorizeChunks(filtered, a.complianceTerms)

	promptBuilder := strings.Builder{}
	promptBuilder.WriteString("Answer the user's question using only the evidence below. ")
	promptBuilder.WriteString("Cite evidence by chunk number. If the evidence is insufficient, say ")
	promptBuilder.WriteString("\"I don't have that information\" plainly. ")
	promptBuilder.WriteString("End your response with a line of the form CONFIDENCE: <0.0-1.0>.\n\nEvidence:\n")
	for i, c := range filtered {
		fmt.Fprintf(&promptBuilder, "[%d] %s\n", i+1, c.Text)
	}
	promptBuilder.WriteString("\nQuestion: ")
	promptBuilder.WriteString(query)

	resp, err := a.llmClient.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "You are a support assistant. Ground every claim in the provided evidence and never invent facts.",
		UserPrompt:   promptBuilder.String(),
		Temperature:  0.2,
		MaxTokens:    512,
	})
	if err != nil {
		return nil, err
	}

	confidence := parseConfidence(resp.Content)
	text := stripConfidenceLine(resp.Content)

	if isNearDuplicate(text, recentAI, a.dedupLookback) {
		text = "As mentioned, " + text
	}

	return &Answer{
		Text:        text,
		Confidence:  confidence,
		Citations:   len(filtered),
		Category:    category,
		HasEvidence: true,
	}, nil
}

func parseConfidence(text string) float64 {
	match := confidencePattern.FindStringSubmatch(text)
	if match == nil {
		return 0
	}
	v, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0
	}
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return v
}

func stripConfidenceLine(text string) string {
	idx := confidencePattern.FindStringIndex(text)
	if idx == nil {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(text[:idx[0]])
}

// categorizeChunks returns "compliance" if any retrieved chunk's
// category matches one of complianceTerms (e.g. "soc2", "gdpr"), so the
// orchestrator's literal "compliance" switch (spec.md §4.9) can route
// it to the compliance confidence threshold. Otherwise "general".
func categorizeChunks(chunks []Chunk, complianceTerms []string) string {
	for _, c := range chunks {
		cat := strings.ToLower(c.Category())
		for _, term := range complianceTerms {
			if cat == strings.ToLower(term) {
				return "compliance"
			}
		}
	}
	return "general"
}
