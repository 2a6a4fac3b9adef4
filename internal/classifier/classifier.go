package classifier

import (
	"context"
	"regexp"

	"github.com/xaenox/triage-bot/internal/models"
)

// Classifier assigns exactly one category to an inbound message.
// Implementations never fail: anything unclassifiable resolves to
// models.CategoryUnknown.
type Classifier interface {
	Classify(ctx context.Context, message string, threadContext []models.ConversationTurn) models.Category
}

// KeywordClassifier scores regex pattern matches per category. It is the
// fallback path when no LLM is reachable, and the cross-check for the LLM.
type KeywordClassifier struct {
	patterns map[models.Category][]*regexp.Regexp
}

var categoryPatterns = map[models.Category][]string{
	models.CategoryTechnicalIssue: {
		`\b(error|bug|issue|problem|fail|broken|crash|not working)\b`,
		`\b(stack trace|exception|timeout|500|404|502|503)\b`,
		`\b(debug|troubleshoot|investigate)\b`,
		`\b(reproduce|repro|steps)\b`,
	},
	models.CategoryFYI: {
		`\bfyi\b`,
		`\bfor your information\b`,
		`\bheads up\b`,
		`\bjira\b.*\b(ticket|issue)\b`,
		`\bupdate\b.*\bon\b`,
		`\bjust wanted to let you know\b`,
	},
	models.CategoryCustomerQuery: {
		`\bcustomer\b.*\b(ask|question|query|request)\b`,
		`\bclient\b.*\b(ask|question|query|request)\b`,
		`\buser\b.*\b(ask|question|query|request)\b`,
		`\bhow\s+do\s+customers?\b`,
		`\bcan\s+customers?\b`,
	},
	models.CategoryEngineeringQuery: {
		`\binternal\b.*\b(team|query|question)\b`,
		`\bengineering\b.*\b(team|query|question)\b`,
		`\bconfluence\b`,
		`\bknowledge\s+transfer\b`,
		`\bkt\s+docs?\b`,
	},
	models.CategoryFeatureRequest: {
		`\bnew\s+feature\b`,
		`\bfeature\s+request\b`,
		`\bcustomer\b.*\b(want|need|request)\b.*\bfeature\b`,
		`\bcan\s+we\s+add\b`,
		`\bwould\s+it\s+be\s+possible\b`,
		`\benhancement\b`,
	},
	models.CategoryFeatureEnablement: {
		`\benable\b.*\bfeature\b`,
		`\bfeature\b.*\b(enable|activation|turn\s+on)\b`,
		`\bvalidate\b.*\bfeature\s+support\b`,
		`\bfeature\s+flag\b`,
		`\btoggle\b.*\bfeature\b`,
		`\benable\b.*\bfor\b`,
	},
	models.CategoryPRReview: {
		`\bpr\s+review\b`,
		`\bpull\s+request\b.*\breview\b`,
		`\bcode\s+review\b`,
		`\breview\b.*\bpr\b`,
	},
}

func NewKeywordClassifier() *KeywordClassifier {
	patterns := make(map[models.Category][]*regexp.Regexp, len(categoryPatterns))
	for category, exprs := range categoryPatterns {
		compiled := make([]*regexp.Regexp, 0, len(exprs))
		for _, expr := range exprs {
			compiled = append(compiled, regexp.MustCompile(`(?i)`+expr))
		}
		patterns[category] = compiled
	}
	return &KeywordClassifier{patterns: patterns}
}

// Classify scores the new message at twice the weight of thread context:
// the latest message states the intent, prior turns only disambiguate it.
func (c *KeywordClassifier) Classify(_ context.Context, message string, threadContext []models.ConversationTurn) models.Category {
	scores := make(map[models.Category]int)

	for category, patterns := range c.patterns {
		for _, p := range patterns {
			if p.MatchString(message) {
				scores[category] += 2
			}
			for _, turn := range threadContext {
				if p.MatchString(turn.Content) {
					scores[category]++
				}
			}
		}
	}

	best := models.CategoryUnknown
	bestScore := 0
	for _, category := range models.Categories() {
		if scores[category] > bestScore {
			best = category
			bestScore = scores[category]
		}
	}
	return best
}
