package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/urfave/cli/v2"

	"github.com/bidsify/bidsify/internal/config"
)

func TestNonEmptyOr(t *testing.T) {
	assert.Equal(t, "fallback", nonEmptyOr("", "fallback"))
	assert.Equal(t, "M", nonEmptyOr("M", "fallback"))
}

func TestDiscoverSubjectSessions(t *testing.T) {
	root := t.TempDir()
	mustMkdirAll(t, filepath.Join(root, "sub-01", "ses-pre"))
	mustMkdirAll(t, filepath.Join(root, "sub-01", "ses-post"))
	mustMkdirAll(t, filepath.Join(root, "sub-02", "anat"))

	out, err := discoverSubjectSessions(root)
	assert.NoError(t, err)
	assert.Len(t, out, 3)

	bySubjectSession := map[string]bool{}
	for _, ss := range out {
		bySubjectSession[ss.subject+"/"+ss.session] = true
	}
	assert.True(t, bySubjectSession["01/pre"])
	assert.True(t, bySubjectSession["01/post"])
	assert.True(t, bySubjectSession["02/"])
}

func TestFuncTasksIn(t *testing.T) {
	dir := t.TempDir()
	funcDir := filepath.Join(dir, "func")
	mustMkdirAll(t, funcDir)
	mustWriteFile(t, filepath.Join(funcDir, "sub-01_task-rest_bold.json"), `{}`)
	mustWriteFile(t, filepath.Join(funcDir, "sub-01_task-rest_echo-1_bold.json"), `{}`)
	mustWriteFile(t, filepath.Join(funcDir, "sub-01_task-nback_bold.json"), `{}`)

	tasks := funcTasksIn(dir)
	assert.ElementsMatch(t, []string{"rest", "nback"}, tasks)
}

func TestFuncTasksInMissingDir(t *testing.T) {
	assert.Nil(t, funcTasksIn(t.TempDir()))
}

func TestFuncSidecarsForTaskExcludesTopLevelAggregate(t *testing.T) {
	root := t.TempDir()
	funcDir := filepath.Join(root, "sub-01", "func")
	mustMkdirAll(t, funcDir)
	mustWriteFile(t, filepath.Join(funcDir, "sub-01_task-rest_bold.json"), `{"RepetitionTime": 2}`)
	// top-level aggregate: same suffix, but its parent dir isn't "func"
	mustWriteFile(t, filepath.Join(root, "task-rest_bold.json"), `{"RepetitionTime": 2}`)
	// different task, must be excluded
	mustWriteFile(t, filepath.Join(funcDir, "sub-01_task-nback_bold.json"), `{"RepetitionTime": 1}`)

	paths, sidecars, err := funcSidecarsForTask(root, "rest")
	assert.NoError(t, err)
	assert.Len(t, sidecars, 1)
	assert.Len(t, paths, 1)
	assert.Equal(t, float64(2), sidecars[0]["RepetitionTime"])
}

func TestPopulateTemplatesActionMissingOutputRoot(t *testing.T) {
	cfg := config.DefaultConfig()
	app := &cli.App{
		Name:     "bidsify-test",
		Commands: []*cli.Command{PopulateTemplatesCommand()},
		Before: func(c *cli.Context) error {
			c.Context = context.WithValue(c.Context, "config", cfg)
			return nil
		},
	}
	err := app.Run([]string{"bidsify-test", "populate-templates"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "output_root")
}

func TestPopulateTemplatesActionEmptyDataset(t *testing.T) {
	cfg := config.DefaultConfig()
	outputDir := t.TempDir()
	app := &cli.App{
		Name:     "bidsify-test",
		Commands: []*cli.Command{PopulateTemplatesCommand()},
		Before: func(c *cli.Context) error {
			c.Context = context.WithValue(c.Context, "config", cfg)
			return nil
		},
	}
	err := app.Run([]string{"bidsify-test", "populate-templates", "--output-dir", outputDir})
	assert.NoError(t, err)
}

func mustMkdirAll(t *testing.T, path string) {
	t.Helper()
	assert.NoError(t, os.MkdirAll(path, 0755))
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	assert.NoError(t, os.WriteFile(path, []byte(content), 0644))
}
