package routing

import (
	"errors"
	"fmt"

	"github.com/xaenox/triage-bot/internal/models"
)

// ErrUnmappedCategory means the enumeration was extended without updating
// the routing table. This is a wiring bug, caught at startup by Validate.
var ErrUnmappedCategory = errors.New("no routing rule for category")

// Rule is the static routing decision for one category: which prompt
// template to use, who owns the escalation, and the default priority.
type Rule struct {
	Category       models.Category
	Template       string
	Action         string
	EscalationTeam string
	Priority       string
	RequiredInfo   []string
}

// Table is a read-only category lookup, loaded once at startup.
type Table struct {
	rules map[models.Category]Rule
}

// DefaultTable returns the built-in routing configuration.
func DefaultTable() *Table {
	rules := []Rule{
		{
			Category:       models.CategoryTechnicalIssue,
			Template:       "software_engineer_triage",
			Action:         "validate_and_triage",
			EscalationTeam: "ops-debugging",
			Priority:       "high",
			RequiredInfo: []string{
				"Problem description",
				"Steps to reproduce",
				"Expected vs actual behavior",
				"Environment details",
				"Error messages/logs",
			},
		},
		{
			Category: models.CategoryFYI,
			Template: "fyi_ack",
			Action:   "acknowledge",
			Priority: "low",
		},
		{
			Category:       models.CategoryCustomerQuery,
			Template:       "customer_query",
			Action:         "route_to_product",
			EscalationTeam: "df-product",
			Priority:       "medium",
			RequiredInfo:   []string{"Customer context", "Specific query details"},
		},
		{
			Category:       models.CategoryEngineeringQuery,
			Template:       "engineering_support",
			Action:         "respond_directly",
			EscalationTeam: "df-ops",
			Priority:       "medium",
			RequiredInfo:   []string{"Technical context", "Component details"},
		},
		{
			Category:       models.CategoryFeatureRequest,
			Template:       "feature_request",
			Action:         "verify_and_route",
			EscalationTeam: "df-product",
			Priority:       "medium",
			RequiredInfo:   []string{"Customer demand details", "Feature description"},
		},
		{
			Category:       models.CategoryFeatureEnablement,
			Template:       "feature_enablement",
			Action:         "verify_and_route",
			EscalationTeam: "df-product",
			Priority:       "medium",
			RequiredInfo:   []string{"Feature details", "Support validation"},
		},
		{
			Category:       models.CategoryPRReview,
			Template:       "pr_review",
			Action:         "redirect",
			EscalationTeam: "mobile-pr-reviews",
			Priority:       "low",
		},
		{
			Category: models.CategoryUnknown,
			Template: "general_support",
			Action:   "clarify",
			Priority: "medium",
		},
	}

	table := &Table{rules: make(map[models.Category]Rule, len(rules))}
	for _, rule := range rules {
		table.rules[rule.Category] = rule
	}
	return table
}

// Route returns the rule for a category. It fails only on an incomplete
// table, which Validate rules out at startup.
func (t *Table) Route(category models.Category) (Rule, error) {
	rule, exists := t.rules[category]
	if !exists {
		return Rule{}, fmt.Errorf("%w: %s", ErrUnmappedCategory, category)
	}
	return rule, nil
}

// Validate checks the table covers the whole category enumeration.
func (t *Table) Validate() error {
	for _, category := range models.Categories() {
		if _, exists := t.rules[category]; !exists {
			return fmt.Errorf("%w: %s", ErrUnmappedCategory, category)
		}
	}
	return nil
}
