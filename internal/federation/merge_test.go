package federation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpgateway/gateway/internal/domain"
)

func TestMergeSingleContributorPassesThrough(t *testing.T) {
	fed := merge([]*domain.ServerSchema{
		{
			ServerID:  "a",
			Namespace: "a",
			Tools:     []domain.ToolDef{{Name: "search", Namespace: "a"}},
		},
		{
			ServerID:  "b",
			Namespace: "b",
			Tools:     []domain.ToolDef{{Name: "fetch", Namespace: "b"}},
		},
	})

	require.Len(t, fed.Tools, 2)
	assert.Equal(t, "search", fed.Tools[0].Name)
	assert.Equal(t, "fetch", fed.Tools[1].Name)
	assert.Empty(t, fed.Conflicts)
	assert.Equal(t, 2, fed.ServerCount)
	assert.Equal(t, []string{"a", "b"}, fed.Namespaces)
}

func TestMergeRenamesEveryContributorOnConflict(t *testing.T) {
	fed := merge([]*domain.ServerSchema{
		{
			ServerID:  "a",
			Namespace: "a",
			Tools:     []domain.ToolDef{{Name: "search", Namespace: "a"}},
		},
		{
			ServerID:  "b",
			Namespace: "b",
			Tools:     []domain.ToolDef{{Name: "search", Namespace: "b"}},
		},
	})

	// The first claimant is renamed too, not just latecomers.
	require.Len(t, fed.Tools, 2)
	assert.Equal(t, "a:search", fed.Tools[0].Name)
	assert.Equal(t, "b:search", fed.Tools[1].Name)

	require.Len(t, fed.Conflicts, 1)
	conflict := fed.Conflicts[0]
	assert.Equal(t, "tool", conflict.Kind)
	assert.Equal(t, "search", conflict.Name)
	assert.Equal(t, []string{"a", "b"}, conflict.Namespaces)
	assert.Equal(t, "namespace", conflict.Resolution)
}

func TestMergeThreeWayConflictYieldsOneRecord(t *testing.T) {
	schemas := make([]*domain.ServerSchema, 3)
	for i, ns := range []string{"a", "b", "c"} {
		schemas[i] = &domain.ServerSchema{
			ServerID:  ns,
			Namespace: ns,
			Prompts:   []domain.PromptDef{{Name: "summarize", Namespace: ns}},
		}
	}

	fed := merge(schemas)
	require.Len(t, fed.Prompts, 3)
	require.Len(t, fed.Conflicts, 1)
	assert.Equal(t, []string{"a", "b", "c"}, fed.Conflicts[0].Namespaces)
}

func TestMergeKindsConflictIndependently(t *testing.T) {
	// The same name as a tool on one server and a resource on another is
	// not a conflict.
	fed := merge([]*domain.ServerSchema{
		{
			ServerID:  "a",
			Namespace: "a",
			Tools:     []domain.ToolDef{{Name: "notes", Namespace: "a"}},
		},
		{
			ServerID:  "b",
			Namespace: "b",
			Resources: []domain.ResourceDef{{Name: "notes", Namespace: "b"}},
		},
	})

	assert.Empty(t, fed.Conflicts)
	require.Len(t, fed.Tools, 1)
	assert.Equal(t, "notes", fed.Tools[0].Name)
	require.Len(t, fed.Resources, 1)
	assert.Equal(t, "notes", fed.Resources[0].Name)
}

// A server listing the same tool twice must not conflict with itself.
func TestMergeDedupesWithinNamespace(t *testing.T) {
	fed := merge([]*domain.ServerSchema{
		{
			ServerID:  "a",
			Namespace: "a",
			Tools: []domain.ToolDef{
				{Name: "search", Description: "first", Namespace: "a"},
				{Name: "search", Description: "dup", Namespace: "a"},
			},
		},
	})

	require.Len(t, fed.Tools, 1)
	assert.Equal(t, "search", fed.Tools[0].Name)
	assert.Equal(t, "first", fed.Tools[0].Description)
	assert.Empty(t, fed.Conflicts)
}

func TestMergeConflictNamespacesAreDistinct(t *testing.T) {
	fed := merge([]*domain.ServerSchema{
		{
			ServerID:  "a",
			Namespace: "a",
			Tools: []domain.ToolDef{
				{Name: "search", Namespace: "a"},
				{Name: "search", Namespace: "a"},
			},
		},
		{
			ServerID:  "b",
			Namespace: "b",
			Tools:     []domain.ToolDef{{Name: "search", Namespace: "b"}},
		},
	})

	// The duplicate contributes once: two renamed entries, each namespace
	// listed once in the conflict record.
	require.Len(t, fed.Tools, 2)
	assert.Equal(t, "a:search", fed.Tools[0].Name)
	assert.Equal(t, "b:search", fed.Tools[1].Name)
	require.Len(t, fed.Conflicts, 1)
	assert.Equal(t, []string{"a", "b"}, fed.Conflicts[0].Namespaces)
}

func TestMergeUnionsCapabilities(t *testing.T) {
	fed := merge([]*domain.ServerSchema{
		{ServerID: "a", Namespace: "a", Capabilities: []string{"tools", "prompts"}},
		{ServerID: "b", Namespace: "b", Capabilities: []string{"tools", "resources"}},
	})

	assert.Equal(t, []string{"prompts", "resources", "tools"}, fed.Capabilities)
}

func TestMergeEmptyInput(t *testing.T) {
	fed := merge(nil)
	assert.NotNil(t, fed.Tools)
	assert.Empty(t, fed.Tools)
	assert.Empty(t, fed.Conflicts)
	assert.Equal(t, 0, fed.ServerCount)
}
