package retrieval

import "strings"

// mmrSelect runs a standard greedy max-marginal-relevance selection over
// candidates, trading off each chunk's relevance score against its
// similarity to chunks already chosen. Similarity between two chunks is
// approximated with token-overlap, since the candidates already carry
// normalized relevance scores from the index and no further embedding
// math is needed client-side.
func mmrSelect(candidates []Chunk, k int, lambda float64) []Chunk {
	if len(candidates) <= k {
		return candidates
	}

	selected := make([]Chunk, 0, k)
	remaining := append([]Chunk{}, candidates...)

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		bestScore := -1.0

		for i, c := range remaining {
			maxSim := 0.0
			for _, s := range selected {
				if sim := tokenOverlap(c.Text, s.Text); sim > maxSim {
					maxSim = sim
				}
			}
			mmrScore := lambda*c.Score - (1-lambda)*maxSim
			if mmrScore > bestScore {
				bestScore = mmrScore
				bestIdx = i
			}
		}

		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected
}

func tokenOverlap(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		set[tok] = true
	}
	return set
}

// isNearDuplicate compares the candidate answer's first sentence against
// the last `lookback` AI messages via Jaccard token-overlap, cheap and
// explainable rather than another LLM call.
func isNearDuplicate(text string, recentAI []string, lookback int) bool {
	start := firstSentence(text)
	checkLen := lookback
	if checkLen > len(recentAI) {
		checkLen = len(recentAI)
	}
	for i := len(recentAI) - checkLen; i < len(recentAI); i++ {
		if tokenOverlap(start, firstSentence(recentAI[i])) > 0.75 {
			return true
		}
	}
	return false
}

func firstSentence(text string) string {
	if idx := strings.IndexAny(text, ".!?"); idx != -1 {
		return text[:idx]
	}
	return text
}
