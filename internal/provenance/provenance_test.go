package provenance

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidsify/bidsify/internal/model"
)

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	root := t.TempDir()
	store := New(root)

	record := model.ProvenanceRecord{
		Subject:       "01",
		Session:       "pre",
		HeuristicText: []byte("package heuristic"),
		SeqInfos:      []model.SeqInfo{{SeriesID: "1-t1", ProtocolName: "t1"}},
		FileGroup:     map[string][]string{"1-t1": {"/data/a.dcm"}},
	}
	require.NoError(t, store.Save(record))

	loaded, ok, err := store.Load("01", "pre")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, record.HeuristicText, loaded.HeuristicText)
	require.Len(t, loaded.SeqInfos, 1)
	assert.Equal(t, "1-t1", loaded.SeqInfos[0].SeriesID)
	assert.Equal(t, []string{"/data/a.dcm"}, loaded.FileGroup["1-t1"])
}

func TestLoad_NoPriorRunReturnsNotOk(t *testing.T) {
	store := New(t.TempDir())
	_, ok, err := store.Load("01", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResume_NoPriorRunSkipsNothing(t *testing.T) {
	decision := Resume(model.ProvenanceRecord{}, false, []byte("h"), nil, nil)
	assert.False(t, decision.ForceReconvert)
	assert.Empty(t, decision.SkipSeries)
}

func TestResume_HeuristicDriftForcesReconversion(t *testing.T) {
	prior := model.ProvenanceRecord{HeuristicText: []byte("old")}
	decision := Resume(prior, true, []byte("new"), nil, nil)
	assert.True(t, decision.ForceReconvert)
}

func TestResume_UnchangedSeriesWithExistingOutputIsSkipped(t *testing.T) {
	prior := model.ProvenanceRecord{
		HeuristicText: []byte("h"),
		SeqInfos:      []model.SeqInfo{{SeriesID: "1-t1", ProtocolName: "t1", Dim3: 1}},
	}
	current := []model.SeqInfo{{SeriesID: "1-t1", ProtocolName: "t1", Dim3: 1}}

	decision := Resume(prior, true, []byte("h"), current, func(string) bool { return true })
	assert.False(t, decision.ForceReconvert)
	assert.True(t, decision.SkipSeries["1-t1"])
}

func TestResume_ChangedSeriesIsNotSkipped(t *testing.T) {
	prior := model.ProvenanceRecord{
		HeuristicText: []byte("h"),
		SeqInfos:      []model.SeqInfo{{SeriesID: "1-t1", Dim3: 1}},
	}
	current := []model.SeqInfo{{SeriesID: "1-t1", Dim3: 2}}

	decision := Resume(prior, true, []byte("h"), current, func(string) bool { return true })
	assert.False(t, decision.SkipSeries["1-t1"])
}

func TestEditOverride_AbsentReturnsNil(t *testing.T) {
	store := New(t.TempDir())
	fg, err := store.EditOverride("01", "")
	require.NoError(t, err)
	assert.Nil(t, fg)
}

func TestEditOverride_PresentOverridesAutoMapping(t *testing.T) {
	root := t.TempDir()
	store := New(root)
	dir := filepath.Join(Dir(root, "01", ""), "edit")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "filegroup.json"), []byte(`{"1-t1":["/data/b.dcm"]}`), 0644))

	fg, err := store.EditOverride("01", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/b.dcm"}, fg["1-t1"])
}
