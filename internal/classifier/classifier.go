// Package classifier implements the Intent Classifier (C2): a pattern
// pass, a semantic (LLM) pass invoked only below the pattern-pass floor,
// and a disambiguation rule that prevents "asking about" language from
// being mistaken for a request to act.
package classifier

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/supportdesk/dispatcher/internal/llm"
	"github.com/supportdesk/dispatcher/internal/model"
)

// Result is the classifier's output for one message.
type Result struct {
	Intent         model.Intent
	Confidence     float64
	IsSlotSelection bool
	ClassifiedBy   string
}

type Classifier struct {
	llmClient    llm.Client
	patternFloor float64
	abuseLexicon []string
}

func New(llmClient llm.Client, patternFloor float64, abuseLexicon []string) *Classifier {
	return &Classifier{
		llmClient:    llmClient,
		patternFloor: patternFloor,
		abuseLexicon: abuseLexicon,
	}
}

// Classify maps a user utterance to one of {Information, Scheduling,
// TechnicalSupport, SlotSelection, Abusive, Unknown} with a confidence.
// hasPendingSlots gates the digit/"option N" slot-selection pass, since a
// bare "2" only means something when a scheduling prompt is outstanding.
func (c *Classifier) Classify(ctx context.Context, content string, hasPendingSlots bool) Result {
	normalized := strings.ToLower(strings.TrimSpace(content))

	if c.isAbusive(normalized) {
		return Result{Intent: model.IntentAbusive, Confidence: 1.0, ClassifiedBy: "lexicon"}
	}

	if hasPendingSlots && slotSelectionPattern.MatchString(normalized) {
		return Result{Intent: model.IntentSlotSelection, Confidence: 0.95, IsSlotSelection: true, ClassifiedBy: "pattern"}
	}

	schedulingScore := bestScore(normalized, schedulingPatterns)
	technicalScore := bestScore(normalized, technicalPatterns)
	informationScore := bestScore(normalized, informationPatterns)

	schedulingScore = applyDisambiguation(normalized, schedulingScore, schedulingDisambiguationPatterns)
	schedulingScore = applyDisambiguation(normalized, schedulingScore, schedulingComplianceDisambiguationPatterns)
	technicalScore = applyDisambiguation(normalized, technicalScore, technicalDisambiguationPatterns)

	best := schedulingScore
	bestIntent := model.IntentScheduling
	if technicalScore > best {
		best = technicalScore
		bestIntent = model.IntentTechnicalSupport
	}
	if informationScore > best {
		best = informationScore
		bestIntent = model.IntentInformation
	}

	if best >= c.patternFloor {
		return Result{Intent: bestIntent, Confidence: best, ClassifiedBy: "pattern"}
	}

	// Ambiguous or low confidence: fall through to the semantic pass.
	if c.llmClient != nil {
		if result, ok := c.classifyWithLLM(ctx, content); ok && result.Confidence > best {
			return result
		}
	}

	// Default to information-seeking, matching the original system's
	// conservative fallback.
	fallback := informationScore
	if fallback < c.patternFloor {
		fallback = c.patternFloor
	}
	return Result{Intent: model.IntentInformation, Confidence: fallback, ClassifiedBy: "pattern_fallback"}
}

func (c *Classifier) isAbusive(content string) bool {
	for _, term := range c.abuseLexicon {
		if term == "" {
			continue
		}
		if strings.Contains(content, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

type llmIntentPayload struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

func (c *Classifier) classifyWithLLM(ctx context.Context, content string) (Result, bool) {
	resp, err := c.llmClient.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "Classify the user's message into exactly one of: information, scheduling, technical_support, unknown. " +
			"Respond with a single JSON object: {\"intent\": \"...\", \"confidence\": 0.0-1.0}. Nothing else.",
		UserPrompt:  content,
		Temperature: 0.0,
		MaxTokens:   64,
	})
	if err != nil {
		log.Warn().Err(err).Msg("semantic classification pass unavailable, falling back to pattern pass")
		return Result{}, false
	}

	var parsed llmIntentPayload
	if jsonErr := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &parsed); jsonErr != nil {
		log.Warn().Err(jsonErr).Str("raw", resp.Content).Msg("semantic classification pass returned unparseable output")
		return Result{}, false
	}

	intent := model.Intent(parsed.Intent)
	switch intent {
	case model.IntentInformation, model.IntentScheduling, model.IntentTechnicalSupport, model.IntentUnknown:
	default:
		return Result{}, false
	}

	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return Result{Intent: intent, Confidence: confidence, ClassifiedBy: "semantic"}, true
}
