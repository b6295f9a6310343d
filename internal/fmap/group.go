package fmap

import (
	"path/filepath"
	"sort"
	"strings"
)

// FmapFile is one file living under a subject's fmap/ directory, with just
// enough naming/metadata to group it with its magnitude/phase partners.
type FmapFile struct {
	Path         string
	SeriesNumber int
	AcqTime      string
	AcqLabel     string
	DirLabel     string // the dir-<D> entity, for pepolar pairing
	ShimSetting  []float64
	Volume       ImagingVolume
}

// suffix returns the BIDS suffix of an fmap filename: phasediff,
// magnitude1, magnitude2, phase1, phase2, or epi.
func suffix(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(strings.TrimSuffix(strings.TrimSuffix(base, ".gz"), ".nii"), ".json")
	idx := strings.LastIndex(base, "_")
	if idx < 0 {
		return base
	}
	return base[idx+1:]
}

// GroupFieldmaps partitions a subject's fmap/ files into Candidates: a
// phasediff with its magnitude1/magnitude2, a phase/phasediff set with its
// magnitudes, or a pepolar EPI pair sharing everything but direction
// (spec.md §4.6 — "fieldmaps are grouped as they live").
func GroupFieldmaps(files []FmapFile) []Candidate {
	magnitude := map[string][]FmapFile{} // acqLabel bucket -> magnitudes
	var phaseLike []FmapFile
	var pepolar []FmapFile

	for _, f := range files {
		switch suffix(f.Path) {
		case "magnitude1", "magnitude2", "magnitude":
			key := magnitudeKey(f)
			magnitude[key] = append(magnitude[key], f)
		case "phasediff", "phase1", "phase2":
			phaseLike = append(phaseLike, f)
		case "epi":
			pepolar = append(pepolar, f)
		}
	}

	var candidates []Candidate
	for _, p := range phaseLike {
		key := magnitudeKey(p)
		group := append([]FmapFile{p}, magnitude[key]...)
		candidates = append(candidates, toCandidate(group))
		delete(magnitude, key)
	}
	// leftover magnitude-only buckets (no matching phase file found) still
	// form their own candidate, since they carry real acquisition metadata.
	var leftoverKeys []string
	for k := range magnitude {
		leftoverKeys = append(leftoverKeys, k)
	}
	sort.Strings(leftoverKeys)
	for _, k := range leftoverKeys {
		candidates = append(candidates, toCandidate(magnitude[k]))
	}

	candidates = append(candidates, groupPepolar(pepolar)...)
	return candidates
}

// magnitudeKey buckets a magnitude/phase file with its partners by acq
// label alone. Series numbers are not consulted, so every magnitude file
// sharing an acq label joins the first phase file with that label.
func magnitudeKey(f FmapFile) string {
	return f.AcqLabel
}

func groupPepolar(files []FmapFile) []Candidate {
	byLabel := map[string][]FmapFile{}
	for _, f := range files {
		byLabel[f.AcqLabel] = append(byLabel[f.AcqLabel], f)
	}
	var candidates []Candidate
	var keys []string
	for k := range byLabel {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		candidates = append(candidates, toCandidate(byLabel[k]))
	}
	return candidates
}

func toCandidate(files []FmapFile) Candidate {
	sort.Slice(files, func(i, j int) bool { return files[i].SeriesNumber < files[j].SeriesNumber })
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	first := files[0]
	return Candidate{
		ID:           strings.Join(paths, "+"),
		Files:        paths,
		SeriesNumber: first.SeriesNumber,
		AcqTime:      first.AcqTime,
		AcqLabel:     first.AcqLabel,
		ShimSetting:  first.ShimSetting,
		Volume:       first.Volume,
	}
}
