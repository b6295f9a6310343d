package bidslayout

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// EchoFile pairs a produced file with the echo metadata of the series file
// it came from, so multi-echo outputs can be relabeled deterministically.
type EchoFile struct {
	Path       string
	EchoNumber float64 // NaN when absent
	EchoTime   float64 // NaN when absent
}

// AssignEchoLabels implements spec.md §4.5's multi-echo rule: derive
// echo-<N> from EchoNumbers when present, otherwise from EchoTimes sorted
// ascending (echo 1 = shortest TE). EchoNumbers are used only when every
// file has one. Returns path -> "echo-N" for every file; under the EchoTimes
// fallback a file without an echo time sorts after those that have one and
// still receives the next index. Fewer than two files yield nil.
func AssignEchoLabels(files []EchoFile) map[string]string {
	if len(files) < 2 {
		return nil
	}

	haveEchoNumbers := true
	for _, f := range files {
		if math.IsNaN(f.EchoNumber) {
			haveEchoNumbers = false
			break
		}
	}

	labels := make(map[string]string, len(files))
	if haveEchoNumbers {
		for _, f := range files {
			labels[f.Path] = fmt.Sprintf("echo-%d", int(f.EchoNumber))
		}
		return labels
	}

	ordered := append([]EchoFile(nil), files...)
	sort.SliceStable(ordered, func(i, j int) bool {
		ei, ej := ordered[i].EchoTime, ordered[j].EchoTime
		if math.IsNaN(ei) {
			return false
		}
		if math.IsNaN(ej) {
			return true
		}
		return ei < ej
	})
	for i, f := range ordered {
		labels[f.Path] = fmt.Sprintf("echo-%d", i+1)
	}
	return labels
}

// AssignMagnitudeLabels assigns the literal magnitude1/magnitude2 BIDS
// suffixes spec.md §4.4/§4.5's worked fieldmap example requires when a
// fieldmap magnitude series is split into multiple images, in sorted path
// order (matching the transcoder's own deterministic split order). Unlike
// AssignEchoLabels, these are never echo-N: the magnitude vocabulary is
// reserved for fieldmap magnitude pairs.
func AssignMagnitudeLabels(paths []string) map[string]string {
	if len(paths) < 2 {
		return nil
	}
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	labels := make(map[string]string, len(sorted))
	for i, p := range sorted {
		labels[p] = fmt.Sprintf("magnitude%d", i+1)
	}
	return labels
}

// InjectEntity inserts an entity (already in "key-value" form) into
// basename at the canonical position, then re-sorts so it lands where
// ReorderEntities would have placed it natively.
func InjectEntity(basename, entity string) string {
	ext := ""
	for _, known := range []string{".nii.gz", ".nii", ".json", ".bval", ".bvec"} {
		if strings.HasSuffix(basename, known) {
			ext = known
			basename = strings.TrimSuffix(basename, known)
			break
		}
	}
	parts := strings.Split(basename, "_")
	suffix := parts[len(parts)-1]
	entities := append(parts[:len(parts)-1], entity)
	sortEntities(entities)
	return strings.Join(append(entities, suffix), "_") + ext
}

// RewritePartEntity implements the phase/magnitude naming rule (spec.md
// §4.5): a legacy rec-magnitude|rec-phase shape is rewritten to
// part-mag|part-phase.
func RewritePartEntity(basename string) string {
	basename = strings.ReplaceAll(basename, "rec-magnitude", "part-mag")
	basename = strings.ReplaceAll(basename, "rec-phase", "part-phase")
	return basename
}
