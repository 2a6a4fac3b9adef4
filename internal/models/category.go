package models

import "strings"

// Category is the fixed set of request types the bot triages.
type Category string

const (
	CategoryTechnicalIssue    Category = "technical_issue"
	CategoryFYI               Category = "fyi"
	CategoryCustomerQuery     Category = "customer_query"
	CategoryEngineeringQuery  Category = "engineering_query"
	CategoryFeatureRequest    Category = "feature_request"
	CategoryFeatureEnablement Category = "feature_enablement"
	CategoryPRReview          Category = "pr_review"
	CategoryUnknown           Category = "unknown"
)

// Categories returns every member of the enumeration, unknown last.
func Categories() []Category {
	return []Category{
		CategoryTechnicalIssue,
		CategoryFYI,
		CategoryCustomerQuery,
		CategoryEngineeringQuery,
		CategoryFeatureRequest,
		CategoryFeatureEnablement,
		CategoryPRReview,
		CategoryUnknown,
	}
}

// ParseCategory maps free-form model output onto the enumeration.
// Accepts "technical_issue", "Technical Issue", or a label embedded in a
// longer response. Anything unrecognized resolves to CategoryUnknown.
func ParseCategory(s string) Category {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.Trim(normalized, "\"'`.")
	normalized = strings.ReplaceAll(normalized, " ", "_")

	for _, c := range Categories() {
		if normalized == string(c) {
			return c
		}
	}

	// The model sometimes wraps the label in a sentence; take the first
	// label that appears anywhere in the response.
	for _, c := range Categories() {
		if c == CategoryUnknown {
			continue
		}
		if strings.Contains(normalized, string(c)) {
			return c
		}
	}

	return CategoryUnknown
}

// Title renders the category for humans, e.g. "Technical Issue".
func (c Category) Title() string {
	words := strings.Split(string(c), "_")
	for i, w := range words {
		if w == "fyi" || w == "pr" {
			words[i] = strings.ToUpper(w)
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
