// Package bidslayout applies BIDS placement rules to a converted series'
// output: entity ordering, modality defaults, multi-echo derivation,
// phase/magnitude naming, sidecar merging, and the scans/participants
// tables (spec.md §4.5).
package bidslayout

import (
	"path/filepath"
	"strings"
)

// canonicalOrder is the filename grammar spec.md §3 fixes:
// sub_ses_task_acq_ce_rec_dir_run_mod_echo_part_<suffix>.
var canonicalOrder = []string{
	"sub", "ses", "task", "acq", "ce", "rec", "dir", "run", "mod", "echo", "part",
}

var canonicalIndex = func() map[string]int {
	m := make(map[string]int, len(canonicalOrder))
	for i, k := range canonicalOrder {
		m[k] = i
	}
	return m
}()

// ReorderEntities rewrites basename's key-value entities into canonical BIDS
// order, leaving any entity the heuristic introduced that isn't in the
// canonical vocabulary exactly where it appears relative to the trailing
// end of the known-entity block — it is neither reordered among the known
// entities nor moved away from the suffix.
func ReorderEntities(basename string) string {
	ext := ""
	for _, known := range []string{".nii.gz", ".nii", ".json", ".bval", ".bvec", ".tsv"} {
		if strings.HasSuffix(basename, known) {
			ext = known
			basename = strings.TrimSuffix(basename, known)
			break
		}
	}

	parts := strings.Split(basename, "_")
	if len(parts) < 2 {
		return basename + ext
	}
	suffix := parts[len(parts)-1]
	entities := parts[:len(parts)-1]

	var known, unknown []string
	for _, e := range entities {
		key, _, ok := splitEntity(e)
		if ok {
			if _, isCanonical := canonicalIndex[key]; isCanonical {
				known = append(known, e)
				continue
			}
		}
		unknown = append(unknown, e)
	}

	sortEntities(known)

	out := append(append([]string{}, known...), unknown...)
	out = append(out, suffix)
	return strings.Join(out, "_") + ext
}

func splitEntity(e string) (key, value string, ok bool) {
	i := strings.Index(e, "-")
	if i < 0 {
		return "", "", false
	}
	return e[:i], e[i+1:], true
}

func sortEntities(entities []string) {
	for i := 1; i < len(entities); i++ {
		for j := i; j > 0 && rank(entities[j-1]) > rank(entities[j]); j-- {
			entities[j-1], entities[j] = entities[j], entities[j-1]
		}
	}
}

func rank(entity string) int {
	key, _, ok := splitEntity(entity)
	if !ok {
		return len(canonicalOrder)
	}
	if idx, isCanonical := canonicalIndex[key]; isCanonical {
		return idx
	}
	return len(canonicalOrder)
}

// DefaultSuffix fills in the modality default spec.md §4.5 names when the
// heuristic's template omitted a suffix for the given BIDS datatype
// directory (anat/fmap/func).
func DefaultSuffix(datatype, suffix string) string {
	if suffix != "" {
		return suffix
	}
	switch datatype {
	case "anat":
		return "T1w"
	case "fmap":
		return "epi"
	case "func":
		return "bold"
	default:
		return suffix
	}
}

// Datatype extracts the BIDS datatype directory (anat/func/fmap/dwi/...)
// from a path shaped .../<datatype>/<filename>.
func Datatype(path string) string {
	return filepath.Base(filepath.Dir(path))
}

// ReplaceSuffix swaps basename's trailing <suffix> token for newSuffix,
// leaving every entity and the extension untouched.
func ReplaceSuffix(basename, newSuffix string) string {
	ext := ""
	for _, known := range []string{".nii.gz", ".nii", ".json", ".bval", ".bvec"} {
		if strings.HasSuffix(basename, known) {
			ext = known
			basename = strings.TrimSuffix(basename, known)
			break
		}
	}
	idx := strings.LastIndex(basename, "_")
	if idx < 0 {
		return newSuffix + ext
	}
	return basename[:idx+1] + newSuffix + ext
}
