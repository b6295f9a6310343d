package fmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidsify/bidsify/internal/config"
)

func TestGroupFieldmaps_PhasediffWithMagnitudes(t *testing.T) {
	files := []FmapFile{
		{Path: "fmap/sub-01_acq-func_phasediff.nii.gz", SeriesNumber: 5, AcqLabel: "func"},
		{Path: "fmap/sub-01_acq-func_magnitude1.nii.gz", SeriesNumber: 5, AcqLabel: "func"},
		{Path: "fmap/sub-01_acq-func_magnitude2.nii.gz", SeriesNumber: 5, AcqLabel: "func"},
	}
	candidates := GroupFieldmaps(files)
	require.Len(t, candidates, 1)
	assert.Len(t, candidates[0].Files, 3)
}

func TestGroupFieldmaps_PepolarPairsByLabel(t *testing.T) {
	files := []FmapFile{
		{Path: "fmap/sub-01_dir-AP_epi.nii.gz", SeriesNumber: 3, AcqLabel: "func"},
		{Path: "fmap/sub-01_dir-PA_epi.nii.gz", SeriesNumber: 4, AcqLabel: "func"},
	}
	candidates := GroupFieldmaps(files)
	require.Len(t, candidates, 1)
	assert.Len(t, candidates[0].Files, 2)
}

func TestAssignIntendedFor_ForceMatchesEveryImage(t *testing.T) {
	cfg := config.IntendedForConfig{Enabled: true, MatchingParameters: []string{"Force"}, Criterion: "First"}
	candidates := []Candidate{{ID: "fmap1", SeriesNumber: 1}}
	images := []Image{{Path: "func/sub-01_task-rest_bold.nii.gz", Modality: "func", SeriesNumber: 2}}

	result := AssignIntendedFor(cfg, candidates, images)
	assert.Equal(t, []string{"func/sub-01_task-rest_bold.nii.gz"}, result["fmap1"])
}

func TestAssignIntendedFor_ModalityAcquisitionLabel(t *testing.T) {
	cfg := config.IntendedForConfig{Enabled: true, MatchingParameters: []string{"ModalityAcquisitionLabel"}, Criterion: "First"}
	candidates := []Candidate{{ID: "fmap-func", AcqLabel: "func", SeriesNumber: 1}, {ID: "fmap-anat", AcqLabel: "anat", SeriesNumber: 2}}
	images := []Image{{Path: "func/sub-01_task-rest_bold.nii.gz", Modality: "func", SeriesNumber: 3}}

	result := AssignIntendedFor(cfg, candidates, images)
	assert.Equal(t, []string{"func/sub-01_task-rest_bold.nii.gz"}, result["fmap-func"])
	assert.Empty(t, result["fmap-anat"])
}

func TestAssignIntendedFor_ClosestPicksNearestAcqTime(t *testing.T) {
	cfg := config.IntendedForConfig{Enabled: true, MatchingParameters: []string{"Force"}, Criterion: "Closest"}
	candidates := []Candidate{
		{ID: "far", SeriesNumber: 1, AcqTime: "20240101T080000"},
		{ID: "near", SeriesNumber: 2, AcqTime: "20240101T120500"},
	}
	images := []Image{{Path: "func/sub-01_bold.nii.gz", SeriesNumber: 3, AcqTime: "20240101T120000"}}

	result := AssignIntendedFor(cfg, candidates, images)
	assert.Equal(t, []string{"func/sub-01_bold.nii.gz"}, result["near"])
	assert.Empty(t, result["far"])
}

func TestAssignIntendedFor_ClosestTieBreaksByLowerSeriesNumber(t *testing.T) {
	cfg := config.IntendedForConfig{Enabled: true, MatchingParameters: []string{"Force"}, Criterion: "Closest"}
	candidates := []Candidate{
		{ID: "series2", SeriesNumber: 2, AcqTime: "20240101T120000"},
		{ID: "series1", SeriesNumber: 1, AcqTime: "20240101T140000"},
	}
	images := []Image{{Path: "func/sub-01_bold.nii.gz", SeriesNumber: 3, AcqTime: "20240101T130000"}}

	result := AssignIntendedFor(cfg, candidates, images)
	assert.Equal(t, []string{"func/sub-01_bold.nii.gz"}, result["series1"])
}

func TestAssignIntendedFor_DisabledReturnsEmpty(t *testing.T) {
	cfg := config.IntendedForConfig{Enabled: false}
	result := AssignIntendedFor(cfg, []Candidate{{ID: "fmap1"}}, []Image{{Path: "x"}})
	assert.Empty(t, result)
}
