package heuristic

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/bidsify/bidsify/internal/model"
)

// referenceSource is this file's own bytes, frozen verbatim into the
// provenance store so a later run can detect drift even though this
// heuristic ships compiled into the binary rather than loaded from a
// path (spec.md §4.8).
//
//go:embed reference.go
var referenceSource []byte

func init() {
	Register("reference", func() (Heuristic, []byte, error) {
		return &referenceHeuristic{}, referenceSource, nil
	})
}

// referenceHeuristic is the one bundled example: every series becomes an
// anat/func/fmap/dwi target named after its protocol, and every template
// carries a run index (run-01, run-02, ...) that counts the series sharing
// that protocol name within the group.
// It exists to give the contract a concrete implementation to test
// against, not as a general-purpose heuristic.
type referenceHeuristic struct{}

func (referenceHeuristic) CreateKey(template string, outtypes []string, annotation string) (model.ConversionTarget, error) {
	return DefaultCreateKey(template, outtypes, annotation)
}

func (r referenceHeuristic) InfoToDict(seqinfos []model.SeqInfo) (map[model.ConversionTarget][]string, error) {
	runOf := map[string]int{}
	out := map[model.ConversionTarget][]string{}

	for _, si := range seqinfos {
		protocol := normalizeProtocol(si.ProtocolName)
		runOf[protocol]++
		run := runOf[protocol]

		datatype, suffix := classify(protocol, si)
		template := fmt.Sprintf("sub-{subject}/%s/sub-{subject}_run-%02d_%s", datatype, run, suffix)

		target, err := DefaultCreateKey(template, []string{model.OutTypeNiiGz}, protocol)
		if err != nil {
			return nil, err
		}
		out[target] = append(out[target], si.SeriesID)
	}
	return out, nil
}

// classify guesses a BIDS datatype/suffix pair from protocol-name
// conventions commonly used at acquisition time. It is a starting point
// for a site's own heuristic, not an attempt at general inference
// (spec.md's Non-goals explicitly exclude inferring anatomy).
func classify(protocol string, si model.SeqInfo) (datatype, suffix string) {
	lower := strings.ToLower(protocol)
	switch {
	case strings.Contains(lower, "fmap") || strings.Contains(lower, "fieldmap"):
		return "fmap", "fieldmap"
	case strings.Contains(lower, "bold") || strings.Contains(lower, "func") || strings.Contains(lower, "rest"):
		return "func", "bold"
	case strings.Contains(lower, "dwi") || strings.Contains(lower, "dti"):
		return "dwi", "dwi"
	case strings.Contains(lower, "t2"):
		return "anat", "T2w"
	default:
		return "anat", "T1w"
	}
}

func normalizeProtocol(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "series"
	}
	return p
}
