package classifier

import "regexp"

// scoredPattern is a (regex, base confidence) pair. Multiple matches
// within one table never stack; the highest-scoring match wins.
type scoredPattern struct {
	re         *regexp.Regexp
	confidence float64
}

func mustPatterns(pairs [][2]any) []scoredPattern {
	out := make([]scoredPattern, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, scoredPattern{
			re:         regexp.MustCompile(p[0].(string)),
			confidence: p[1].(float64),
		})
	}
	return out
}

var schedulingPatterns = mustPatterns([][2]any{
	{`\b(?:can|could|would|let's)\s+(?:we|you|i)\s+(?:schedule|book|arrange|set up)`, 0.95},
	{`\bi\s+(?:want|need|would like)\s+to\s+(?:schedule|book|arrange|set up)`, 0.95},
	{`\bschedule\s+(?:a|an|the)?\s*(?:demo|meeting|call|appointment)`, 0.90},
	{`\bbook\s+(?:a|an|the)?\s*(?:demo|meeting|call|appointment)`, 0.90},
	{`\b(?:set up|setup)\s+(?:a|an|the)?\s*(?:demo|meeting|call)`, 0.90},
	{`\bwhen\s+(?:can|could|are)\s+(?:we|you)\s+(?:meet|schedule|available)`, 0.85},
	{`\bwhat.*time.*(?:work|available|free).*(?:you|meeting|demo)`, 0.85},
	{`\b(?:available|free)\s+(?:for|to)\s+(?:meet|demo|call)`, 0.85},
	{`\b(?:next|this)\s+(?:week|monday|tuesday|wednesday|thursday|friday).*\b(?:demo|meeting|call)`, 0.80},
	{`\b(?:tomorrow|today).*\b(?:demo|meeting|call)`, 0.80},
	{`\bi'?ll\s+take\s+(?:the\s+)?(?:tuesday|wednesday|thursday|friday)`, 0.90},
	{`\byes.*(?:to\s+)?(?:tuesday|wednesday|thursday|friday)`, 0.85},
	{`\bthat.*(?:works|perfect|good)`, 0.80},
	{`\bconfirm.*(?:booking|meeting)`, 0.85},
})

var technicalPatterns = mustPatterns([][2]any{
	{`\b(?:error|bug|issue|problem|not working|broken|failed|failure).*\b(?:api|integration|code|implementation|system|login)`, 0.90},
	{`\b(?:api|integration|technical|code|implementation).*(?:error|issue|problem)`, 0.95},
	{`\b(?:troubleshoot|debug|fix|resolve).*(?:error|bug|api|integration)`, 0.85},
	{`\b(?:500|404|401|403|timeout|connection).*(?:error|issue)`, 0.95},
	{`\bhow\s+(?:do|to)\s+(?:implement|integrate|configure|set up).*\b(?:api|sdk|integration|webhook)`, 0.90},
	{`\b(?:webhook|api key|authentication|oauth).*(?:not working|issue|error)`, 0.95},
	{`\bsso.*(?:not working|issue|error|setup|configuration)`, 0.90},
	{`\bis.*(?:down|offline|not responding)`, 0.90},
	{`\b(?:login|access).*(?:not working|issue|problem)`, 0.85},
})

var informationPatterns = mustPatterns([][2]any{
	{`\bwhat\s+is\s+(?:this platform|your platform|this service)`, 0.90},
	{`\bwhat\s+does\s+(?:this platform|your platform|this)\s+do`, 0.90},
	{`\bhow\s+does\s+(?:this platform|your platform|this|it)\s+work`, 0.90},
	{`\btell\s+me\s+about\s+(?:this platform|your platform|compliance)`, 0.85},
	{`\bexplain\s+(?:how|what|the)`, 0.80},
	{`\b(?:documentation|docs|guide|tutorial|manual)`, 0.85},
	{`\bwhere\s+(?:can i find|is the)\s+(?:documentation|docs|guide)`, 0.90},
	{`\bhow\s+does\s+(?:this platform|your platform)\s+help\s+with\s+(?:soc2|iso|gdpr|hipaa|compliance)`, 0.95},
	{`\bhow\s+does\s+(?:soc2|iso|gdpr|hipaa|compliance)\s+work`, 0.90},
	{`\bwhat\s+(?:is|are)\s+(?:soc2|iso|gdpr|hipaa|compliance)`, 0.90},
	{`\b(?:soc2|iso|gdpr|hipaa)\s+(?:process|requirements|certification)`, 0.85},
	{`\btell\s+me\s+about\s+(?:soc2|iso|gdpr|hipaa|compliance)`, 0.90},
	{`\bexplain\s+(?:soc2|iso|gdpr|hipaa|compliance)`, 0.90},
	{`\bwhat\s+(?:are|is)\s+(?:your|the)\s+(?:pricing|price|cost|rates?)`, 0.95},
	{`\bhow\s+much\s+(?:does|do)\s+(?:it|you|this)\s+cost`, 0.95},
	{`\bpricing\s+(?:plans?|options?|tiers?|models?)`, 0.95},
	{`\b(?:subscription|license|licensing)\s+(?:cost|price|fee)`, 0.90},
	{`\b(?:enterprise|business)\s+pricing`, 0.90},
	{`\bwhat\s+features\s+(?:do you have|does (?:it|this) offer)`, 0.85},
	{`\bcan\s+(?:it|your platform|this)\s+(?:help with|handle|support)`, 0.80},
})

// schedulingDisambiguationPatterns are "asking about a demo" patterns:
// they reduce the scheduling score because the user is asking about a
// demo, not trying to book one.
var schedulingDisambiguationPatterns = mustPatterns([][2]any{
	{`\bwhat\s+(?:is|are)\s+(?:a\s+)?(?:demo|demonstration)`, 0.30},
	{`\bhow\s+(?:long|much time)\s+(?:is|does)\s+(?:a\s+)?(?:demo|meeting)`, 0.30},
	{`\bwhat\s+(?:happens|occurs)\s+(?:in|during)\s+(?:a\s+)?(?:demo|meeting)`, 0.30},
	{`\bhow\s+does\s+(?:the\s+)?(?:demo|meeting)\s+work`, 0.30},
	{`\bwhat\s+(?:will|would)\s+(?:we|you)\s+(?:cover|discuss)\s+(?:in|during)`, 0.30},
	{`\btell\s+me\s+about\s+(?:your\s+)?(?:demo|meeting|presentation)`, 0.30},
})

var schedulingComplianceDisambiguationPatterns = mustPatterns([][2]any{
	{`\bhow\s+does\s+(?:soc2|iso|gdpr|hipaa|compliance)\s+work`, 0.25},
	{`\bwhat\s+(?:is|are)\s+(?:soc2|iso|gdpr|hipaa|compliance)`, 0.25},
	{`\bexplain\s+(?:soc2|iso|gdpr|hipaa|compliance)`, 0.25},
})

var technicalDisambiguationPatterns = mustPatterns([][2]any{
	{`\bhow\s+does\s+(?:this platform|your platform)\s+help\s+with\s+(?:soc2|iso|gdpr|hipaa|compliance)`, 0.40},
	{`\bwhat\s+(?:are|is)\s+(?:your|the)\s+(?:pricing|price|cost)`, 0.40},
	{`\btell\s+me\s+about\s+(?:soc2|iso|gdpr|hipaa|compliance|pricing)`, 0.40},
	{`\bexplain\s+(?:soc2|iso|gdpr|hipaa|compliance|pricing)`, 0.40},
	{`\bhow\s+much\s+(?:does|do)\s+(?:it|you|this)\s+cost`, 0.40},
	{`\bwhat\s+features\s+(?:do you have|does (?:it|this) offer)`, 0.40},
	{`\bcan\s+(?:it|your platform)\s+(?:help with|handle|support)\s+(?:soc2|iso|gdpr|hipaa|compliance)`, 0.40},
})

var slotSelectionPattern = regexp.MustCompile(`\b(?:option|slot|choice|number)\s*\d+|^\d+$`)

func bestScore(content string, patterns []scoredPattern) float64 {
	best := 0.0
	for _, p := range patterns {
		if p.re.MatchString(content) {
			if p.confidence > best {
				best = p.confidence
			}
		}
	}
	return best
}

func applyDisambiguation(content string, score float64, reductions []scoredPattern) float64 {
	for _, p := range reductions {
		if p.re.MatchString(content) {
			score -= p.confidence
			if score < 0 {
				score = 0
			}
		}
	}
	return score
}
