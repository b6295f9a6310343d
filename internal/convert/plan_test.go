package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidsify/bidsify/internal/heuristic"
	"github.com/bidsify/bidsify/internal/model"
)

func TestPlan_SubstitutesPlaceholders(t *testing.T) {
	seqinfos := []model.SeqInfo{{SeriesID: "1-t1"}}
	decisions := []heuristic.Decision{{
		Target:    model.ConversionTarget{Template: "{bids_subject_session_dir}/anat/{bids_subject_session_prefix}_T1w"},
		SeriesIDs: []string{"1-t1"},
	}}

	plans, err := Plan(decisions, seqinfos, "01", "pre")
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "sub-01/ses-pre/anat/sub-01_ses-pre_T1w", plans[0].Prefix)
}

func TestPlan_ItemCounterIncrementsWithinTarget(t *testing.T) {
	seqinfos := []model.SeqInfo{{SeriesID: "1-bold"}, {SeriesID: "2-bold"}}
	decisions := []heuristic.Decision{{
		Target:    model.ConversionTarget{Template: "sub-{subject}/func/sub-{subject}_run-{item}_bold"},
		SeriesIDs: []string{"1-bold", "2-bold"},
	}}

	plans, err := Plan(decisions, seqinfos, "01", "")
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, "sub-01/func/sub-01_run-1_bold", plans[0].Prefix)
	assert.Equal(t, "sub-01/func/sub-01_run-2_bold", plans[1].Prefix)
}

func TestPlan_UnresolvedPlaceholderIsAnError(t *testing.T) {
	seqinfos := []model.SeqInfo{{SeriesID: "1-t1"}}
	decisions := []heuristic.Decision{{
		Target:    model.ConversionTarget{Template: "sub-{subject}/anat/{unknownslot}_T1w"},
		SeriesIDs: []string{"1-t1"},
	}}

	_, err := Plan(decisions, seqinfos, "01", "")
	assert.Error(t, err)
}

func TestPlan_NoSession_OmitsSessionSegment(t *testing.T) {
	seqinfos := []model.SeqInfo{{SeriesID: "1-t1"}}
	decisions := []heuristic.Decision{{
		Target:    model.ConversionTarget{Template: "{bids_subject_session_dir}/anat/{bids_subject_session_prefix}_T1w"},
		SeriesIDs: []string{"1-t1"},
	}}

	plans, err := Plan(decisions, seqinfos, "01", "")
	require.NoError(t, err)
	assert.Equal(t, "sub-01/anat/sub-01_T1w", plans[0].Prefix)
}
