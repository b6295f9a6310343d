package cli

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bidsify/bidsify/internal/model"
)

func TestExtractEntity(t *testing.T) {
	assert.Equal(t, "rest", extractEntity("sub-01_task-rest_bold.nii.gz", "task"))
	assert.Equal(t, "", extractEntity("sub-01_bold.nii.gz", "task"))
}

func TestFilterByExt(t *testing.T) {
	files := []string{"a.nii.gz", "a.json", "b.nii", "c.bval"}
	assert.ElementsMatch(t, []string{"a.nii.gz", "b.nii"}, filterByExt(files, ".nii.gz", ".nii"))
}

func TestDistinctEchoes(t *testing.T) {
	files := []*model.DicomFile{
		{EchoNumber: 1, EchoTime: 12.5},
		{EchoNumber: 1, EchoTime: 12.5},
		{EchoNumber: 2, EchoTime: 24.0},
		{EchoNumber: math.NaN(), EchoTime: math.NaN()},
	}
	echoes := distinctEchoes(files)
	assert.Equal(t, []echoPoint{{EchoNumber: 1, EchoTime: 12.5}, {EchoNumber: 2, EchoTime: 24.0}}, echoes)
}

func TestMergeScansEntriesFreshWinsExistingOrderKept(t *testing.T) {
	existing := []model.ScansEntry{
		{Filename: "func/sub-01_task-rest_bold.nii.gz", AcqTime: "2024-01-01T00:00:00"},
		{Filename: "anat/sub-01_T1w.nii.gz", AcqTime: "2024-01-01T00:00:00"},
	}
	fresh := []model.ScansEntry{
		{Filename: "func/sub-01_task-rest_bold.nii.gz", AcqTime: "2024-02-02T00:00:00"},
		{Filename: "fmap/sub-01_magnitude1.nii.gz", AcqTime: "2024-02-02T00:00:00"},
	}

	merged := mergeScansEntries(existing, fresh)

	assert.Len(t, merged, 3)
	assert.Equal(t, "func/sub-01_task-rest_bold.nii.gz", merged[0].Filename)
	assert.Equal(t, "2024-02-02T00:00:00", merged[0].AcqTime)
	assert.Equal(t, "anat/sub-01_T1w.nii.gz", merged[1].Filename)
	assert.Equal(t, "fmap/sub-01_magnitude1.nii.gz", merged[2].Filename)
}
