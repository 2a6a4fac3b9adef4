package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaenox/triage-bot/internal/models"
)

func TestDefaultTableCompleteness(t *testing.T) {
	table := DefaultTable()
	require.NoError(t, table.Validate())

	for _, category := range models.Categories() {
		rule, err := table.Route(category)
		require.NoError(t, err, "category %s", category)
		assert.Equal(t, category, rule.Category)
		assert.NotEmpty(t, rule.Template, "category %s", category)
		assert.NotEmpty(t, rule.Priority, "category %s", category)
	}
}

func TestRouteMappings(t *testing.T) {
	table := DefaultTable()

	technical, err := table.Route(models.CategoryTechnicalIssue)
	require.NoError(t, err)
	assert.Equal(t, "software_engineer_triage", technical.Template)
	assert.Equal(t, "ops-debugging", technical.EscalationTeam)
	assert.Equal(t, "high", technical.Priority)

	fyi, err := table.Route(models.CategoryFYI)
	require.NoError(t, err)
	assert.Empty(t, fyi.EscalationTeam, "FYI needs no escalation tag")
	assert.Equal(t, "low", fyi.Priority)

	enablement, err := table.Route(models.CategoryFeatureEnablement)
	require.NoError(t, err)
	assert.Equal(t, "df-product", enablement.EscalationTeam, "enablement escalates to product")
}

func TestRouteUnmapped(t *testing.T) {
	table := &Table{rules: map[models.Category]Rule{}}

	_, err := table.Route(models.CategoryTechnicalIssue)
	assert.ErrorIs(t, err, ErrUnmappedCategory)
	assert.ErrorIs(t, table.Validate(), ErrUnmappedCategory)
}
