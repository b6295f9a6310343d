package provenance

import (
	"bytes"
	"path/filepath"

	"github.com/bidsify/bidsify/internal/model"
)

// ResumeDecision is what Resume recommends for one (subject, session)
// given the stored provenance and this run's freshly computed SeqInfos.
type ResumeDecision struct {
	// ForceReconvert is true when the stored heuristic differs from the
	// current one — every series is reconverted regardless of prior state
	// (spec.md §4.8).
	ForceReconvert bool
	// SkipSeries lists series_ids whose prior outputs are present and
	// unchanged and so can be skipped this run.
	SkipSeries map[string]bool
}

// Resume compares the stored record against this run's heuristic and
// seqinfos and decides what to force and what to skip.
func Resume(prior model.ProvenanceRecord, hadPrior bool, currentHeuristic []byte, currentSeqInfos []model.SeqInfo, outputExists func(seriesID string) bool) ResumeDecision {
	if !hadPrior {
		return ResumeDecision{SkipSeries: map[string]bool{}}
	}

	if !bytes.Equal(prior.HeuristicText, currentHeuristic) {
		return ResumeDecision{ForceReconvert: true, SkipSeries: map[string]bool{}}
	}

	priorBySeries := map[string]model.SeqInfo{}
	for _, si := range prior.SeqInfos {
		priorBySeries[si.SeriesID] = si
	}

	skip := map[string]bool{}
	for _, si := range currentSeqInfos {
		old, ok := priorBySeries[si.SeriesID]
		if !ok || !seqInfoUnchanged(old, si) {
			continue
		}
		if outputExists != nil && outputExists(si.SeriesID) {
			skip[si.SeriesID] = true
		}
	}
	return ResumeDecision{SkipSeries: skip}
}

// seqInfoUnchanged compares the fields that would affect conversion output;
// TotalFilesTillNow is excluded since it shifts whenever an earlier series
// in the same run gains or loses files without this series itself changing.
func seqInfoUnchanged(a, b model.SeqInfo) bool {
	return a.Dim1 == b.Dim1 && a.Dim2 == b.Dim2 && a.Dim3 == b.Dim3 && a.Dim4 == b.Dim4 &&
		a.ProtocolName == b.ProtocolName && a.SeriesDescription == b.SeriesDescription &&
		a.SeriesUID == b.SeriesUID && a.AccessionNumber == b.AccessionNumber
}

// OutputExists reports whether a series has existing output: any file whose
// path starts with prefix. Resume's outputExists callback receives a
// series_id, so a caller maps the series to its output prefix first.
func OutputExists(prefix string) bool {
	matches, _ := filepath.Glob(prefix + "*")
	return len(matches) > 0
}
