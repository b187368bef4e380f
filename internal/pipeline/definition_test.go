package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamline/botfleet/internal/model"
)

func writeDefinition(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefinition_Valid(t *testing.T) {
	path := writeDefinition(t, `
stages:
  - id: draft
    label: Draft
  - id: review
    label: Review
    reviewers:
      - lead@example.com
  - id: prod
    label: Production
    action: promote_copy
`)

	p, err := LoadDefinition(path)
	require.NoError(t, err)
	require.Len(t, p.Stages, 3)
	assert.True(t, p.Enabled())

	// Action defaults to promote_move when omitted.
	assert.Equal(t, model.StageActionMove, p.Stages[0].Action)
	assert.Equal(t, model.StageActionCopy, p.Stages[2].Action)
	assert.Equal(t, []string{"lead@example.com"}, p.Stages[1].Reviewers)
}

func TestLoadDefinition_MissingFileDisablesPipeline(t *testing.T) {
	p, err := LoadDefinition(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.False(t, p.Enabled())
}

func TestLoadDefinition_EmptyPath(t *testing.T) {
	p, err := LoadDefinition("")
	require.NoError(t, err)
	assert.Empty(t, p.Stages)
}

func TestLoadDefinition_DuplicateStageID(t *testing.T) {
	path := writeDefinition(t, `
stages:
  - id: draft
  - id: draft
`)

	_, err := LoadDefinition(path)
	assert.Error(t, err)
}

func TestLoadDefinition_MissingStageID(t *testing.T) {
	path := writeDefinition(t, `
stages:
  - label: Draft
`)

	_, err := LoadDefinition(path)
	assert.Error(t, err)
}

func TestLoadDefinition_SingleStageNotEnabled(t *testing.T) {
	path := writeDefinition(t, `
stages:
  - id: live
`)

	p, err := LoadDefinition(path)
	require.NoError(t, err)
	assert.False(t, p.Enabled())
}
