package plans_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapmux/leapmux/internal/plans"
)

func TestMarkdownRoundTrip_PreservesFieldsViaDataBlock(t *testing.T) {
	m := newTestManager(t)
	p, err := m.CreatePlan("Refactor auth", "sess-1", "needs a rewrite", "/repo")
	require.NoError(t, err)
	p.Approach = "Extract the middleware first"
	task := p.AddTask("Write the code")
	task.Details = "keep it small"
	task.Files = []string{"auth.go"}
	p.Considerations = map[string]string{"risk": "low"}
	require.NoError(t, m.UpdatePlan(p))

	rendered := p.ToMarkdown()
	assert.Contains(t, rendered, "# Plan: Refactor auth")
	assert.Contains(t, rendered, "<!-- plan-data")

	got, err := plans.FromMarkdown(rendered)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, p.Title, got.Title)
	assert.Equal(t, p.Approach, got.Approach)
	require.Len(t, got.Tasks, 1)
	assert.Equal(t, "keep it small", got.Tasks[0].Details)
	assert.Equal(t, "low", got.Considerations["risk"])
}

func TestFromMarkdown_FallsBackToScrapingWithoutDataBlock(t *testing.T) {
	content := "# Plan: Hand Edited\n\n**ID:** plan-abc\n**Status:** in-review\n**Session:** sess-9\n\n" +
		"## Context\n\nsome notes\n\n## Implementation Approach\n\ndo it carefully\n\n## Tasks\n\n_No tasks defined yet._\n"

	got, err := plans.FromMarkdown(content)
	require.NoError(t, err)
	assert.Equal(t, "Hand Edited", got.Title)
	assert.Equal(t, "plan-abc", got.ID)
	assert.Equal(t, plans.StatusInReview, got.Status)
	assert.Equal(t, "sess-9", got.SessionID)
	assert.Equal(t, "some notes", got.Context)
	assert.Equal(t, "do it carefully", got.Approach)
}

func TestFromMarkdown_MissingIDIsGenerated(t *testing.T) {
	content := "# Plan: No ID Here\n\n## Context\n\n_No context provided yet._\n"
	got, err := plans.FromMarkdown(content)
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, plans.StatusDraft, got.Status)
}

func TestToMarkdown_RendersTaskStatusMarkers(t *testing.T) {
	m := newTestManager(t)
	p, err := m.CreatePlan("Ship feature", "sess-1", "", "")
	require.NoError(t, err)
	pending := p.AddTask("pending task")
	done := p.AddTask("done task")
	verified := p.AddTask("verified task")
	done.Completed = true
	verified.Completed = true
	verified.Verified = true

	rendered := p.ToMarkdown()
	lines := strings.Split(rendered, "\n")

	var pendingLine, doneLine, verifiedLine string
	for _, l := range lines {
		// Only markdown list items; the embedded JSON data block repeats
		// each description on its own line.
		if !strings.HasPrefix(l, "- ") {
			continue
		}
		switch {
		case strings.Contains(l, pending.Description):
			pendingLine = l
		case strings.Contains(l, done.Description):
			doneLine = l
		case strings.Contains(l, verified.Description):
			verifiedLine = l
		}
	}

	assert.Contains(t, pendingLine, "⬜")
	assert.Contains(t, doneLine, "✅")
	assert.Contains(t, verifiedLine, "✓✓")
}
