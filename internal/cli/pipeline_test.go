package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bidsify/bidsify/internal/config"
	"github.com/bidsify/bidsify/internal/model"
)

func TestSessionSuffix(t *testing.T) {
	assert.Equal(t, "", sessionSuffix(""))
	assert.Equal(t, "/ses-01", sessionSuffix("01"))
}

func TestStringFileGroup(t *testing.T) {
	fg := map[string][]*model.DicomFile{
		"1": {{Path: "/a/1.dcm"}, {Path: "/a/2.dcm"}},
	}
	out := stringFileGroup(fg)
	assert.Equal(t, []string{"/a/1.dcm", "/a/2.dcm"}, out["1"])
}

func TestOutputExistsFunc(t *testing.T) {
	dir := t.TempDir()
	prefix := "sub-01_task-rest_bold"
	assert.NoError(t, os.WriteFile(filepath.Join(dir, prefix+".nii.gz"), nil, 0644))

	plans := []model.OutputPlan{{SeriesIDs: []string{"1"}, Prefix: prefix}}
	exists := outputExistsFunc(dir, plans)

	assert.True(t, exists("1"))
	assert.False(t, exists("missing-series"))
}

func TestApplyIntendedForOptsMergesKnownKeys(t *testing.T) {
	cfg := config.DefaultConfig()

	applyIntendedForOpts(cfg, map[string]interface{}{
		"enabled":             true,
		"criterion":           "closest",
		"matching_parameters": []interface{}{"ShimSetting", "EchoTime"},
	})

	assert.True(t, cfg.IntendedFor.Enabled)
	assert.Equal(t, "closest", cfg.IntendedFor.Criterion)
	assert.Equal(t, []string{"ShimSetting", "EchoTime"}, cfg.IntendedFor.MatchingParameters)
}

func TestApplyIntendedForOptsIgnoresUnknownOrEmpty(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.IntendedFor.Criterion = "first"

	applyIntendedForOpts(cfg, map[string]interface{}{
		"criterion": "",
		"unrelated": 42,
	})

	assert.Equal(t, "first", cfg.IntendedFor.Criterion)
	assert.False(t, cfg.IntendedFor.Enabled)
}
