package bidslayout

import (
	"encoding/json"
	"os"
	"reflect"

	"github.com/sirupsen/logrus"

	"github.com/bidsify/bidsify/internal/errs"
)

// EngineVersion is recorded into every sidecar this engine writes or edits,
// the BidsifyVersion field spec.md §4.5 calls a "HeudiconvVersion"-style
// provenance field.
const EngineVersion = "0.1.0"

// bidsAllowedFields restricts a sidecar to the declared BIDS vocabulary
// under minmeta (spec.md §6). Non-exhaustive on purpose: it covers the
// common anatomical/functional/fieldmap fields this engine's bundled
// heuristic and tests exercise.
var bidsAllowedFields = map[string]bool{
	"RepetitionTime": true, "EchoTime": true, "FlipAngle": true,
	"SliceTiming": true, "TaskName": true, "PhaseEncodingDirection": true,
	"EffectiveEchoSpacing": true, "TotalReadoutTime": true,
	"EchoTime1": true, "EchoTime2": true, "IntendedFor": true,
	"BidsifyVersion": true,
}

// MergeSidecar merges the transcoder's produced sidecar with engine-owned
// edits: edits win, fields neither side sets are preserved, and under
// minmeta the result is restricted to the declared BIDS vocabulary.
func MergeSidecar(transcoderJSON []byte, edits map[string]interface{}, minMeta bool) (map[string]interface{}, error) {
	base := map[string]interface{}{}
	if len(transcoderJSON) > 0 {
		if err := json.Unmarshal(transcoderJSON, &base); err != nil {
			return nil, errs.Sidecar("", err)
		}
	}
	for k, v := range edits {
		base[k] = v
	}
	base["BidsifyVersion"] = EngineVersion

	if minMeta {
		filtered := map[string]interface{}{}
		for k, v := range base {
			if bidsAllowedFields[k] {
				filtered[k] = v
			}
		}
		return filtered, nil
	}
	return base, nil
}

// WriteSidecar pretty-prints sidecar with a two-space indent (spec.md
// §4.5). When original is non-empty and the pretty-printed bytes, parsed
// back, do not reproduce sidecar (see semanticMatch), the original,
// unmodified transcoder output is written instead and the location is
// logged. The check compares against sidecar, not against the content of
// original.
func WriteSidecar(path string, sidecar map[string]interface{}, original []byte) error {
	pretty, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return errs.Sidecar(path, err)
	}

	if len(original) > 0 && !semanticMatch(pretty, original, sidecar) {
		logrus.Warnf("sidecar %s: pretty-printed form would alter semantics, writing unmodified transcoder output", path)
		return os.WriteFile(path, original, 0644)
	}
	return os.WriteFile(path, pretty, 0644)
}

// semanticMatch reports whether pretty, re-parsed, produces the same map
// the caller intended to write — guarding against the edge case where
// indentation/escaping differences hide an actual content change. want is
// normalized through the same JSON encode/decode round trip before
// comparison, since it may hold Go-native types (e.g. []string) that
// decode back as their JSON-native equivalent ([]interface{}) even when
// semantically unchanged.
func semanticMatch(pretty, original []byte, want map[string]interface{}) bool {
	var reparsed map[string]interface{}
	if err := json.Unmarshal(pretty, &reparsed); err != nil {
		return false
	}
	wantJSON, err := json.Marshal(want)
	if err != nil {
		return false
	}
	var wantNormalized map[string]interface{}
	if err := json.Unmarshal(wantJSON, &wantNormalized); err != nil {
		return false
	}
	return reflect.DeepEqual(reparsed, wantNormalized)
}

// InjectTaskName ensures a func/*_task-X_*_bold sidecar's TaskName matches
// the filename's task entity (spec.md §4.5).
func InjectTaskName(sidecar map[string]interface{}, task string) {
	if task != "" {
		sidecar["TaskName"] = task
	}
}
