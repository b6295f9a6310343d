// Package fmap associates fieldmap acquisitions with the images they
// correct, populating each fieldmap sidecar's IntendedFor list (spec.md
// §4.6).
package fmap

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/bidsify/bidsify/internal/config"
)

// ImagingVolume is the subset of geometry needed for the ImagingVolume
// matching parameter: position, orientation, voxel size and extents must
// all agree for two acquisitions to share a volume.
type ImagingVolume struct {
	Position    [3]float64
	Orientation [6]float64
	VoxelSize   [3]float64
	Extents     [3]int
}

func (a ImagingVolume) Equal(b ImagingVolume) bool {
	return a.Position == b.Position && a.Orientation == b.Orientation &&
		a.VoxelSize == b.VoxelSize && a.Extents == b.Extents
}

// Candidate is one fieldmap group: a phasediff+magnitude pair, a
// phase+magnitude pair, or a pepolar EPI pair (spec.md §4.6).
type Candidate struct {
	ID           string
	Files        []string
	SeriesNumber int
	AcqTime      string // "n/a" when unknown
	AcqLabel     string // the fmap's acq-<label> entity, if any
	ShimSetting  []float64
	Volume       ImagingVolume
}

// Image is a converted non-fmap acquisition that may need a fieldmap.
type Image struct {
	Path         string // relative to the subject root, e.g. ses-01/func/...
	Modality     string // anat | func | dwi | ...
	Task         string
	AcqLabel     string
	SeriesNumber int
	AcqTime      string
	ShimSetting  []float64
	Volume       ImagingVolume
}

// AssignIntendedFor computes, for every image, its winning fieldmap
// candidate (if any), and returns candidate ID -> the IntendedFor paths it
// should list.
func AssignIntendedFor(cfg config.IntendedForConfig, candidates []Candidate, images []Image) map[string][]string {
	result := map[string][]string{}
	if !cfg.Enabled || len(candidates) == 0 {
		return result
	}

	params := cfg.MatchingParameters
	if len(params) == 0 {
		params = []string{"Force"}
	}

	for _, img := range images {
		var matching []Candidate
		for _, c := range candidates {
			if matchesAny(params, c, img) {
				matching = append(matching, c)
			}
		}
		if len(matching) == 0 {
			continue
		}
		winner := reduce(matching, cfg.Criterion, img)
		result[winner.ID] = append(result[winner.ID], img.Path)
	}
	return result
}

func matchesAny(params []string, c Candidate, img Image) bool {
	for _, p := range params {
		if matches(p, c, img) {
			return true
		}
	}
	return false
}

func matches(param string, c Candidate, img Image) bool {
	switch param {
	case "Shims":
		return shimsEqual(c.ShimSetting, img.ShimSetting)
	case "ImagingVolume":
		return c.Volume.Equal(img.Volume)
	case "ModalityAcquisitionLabel":
		return modalityAcquisitionLabelMatches(c.AcqLabel, img)
	case "CustomAcquisitionLabel":
		return customAcquisitionLabelMatches(c.AcqLabel, img)
	case "Force":
		return true
	default:
		return false
	}
}

func shimsEqual(a, b []float64) bool {
	if len(a) == 0 || len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// modalityAcquisitionLabelMatches implements spec.md §4.6: the fmap's
// acq-<label> names a modality (anat/dwi/func) and the image's own
// modality matches it; func additionally matches fmri|bold|func spellings.
func modalityAcquisitionLabelMatches(acqLabel string, img Image) bool {
	label := strings.ToLower(acqLabel)
	switch label {
	case "func", "fmri", "bold":
		return img.Modality == "func"
	case "anat", "dwi":
		return img.Modality == label
	default:
		return false
	}
}

// customAcquisitionLabelMatches implements spec.md §4.6: the fmap's
// acq-X equals the image's own acq-X (for non-func images) or the image's
// task-X (for func images).
func customAcquisitionLabelMatches(acqLabel string, img Image) bool {
	if acqLabel == "" {
		return false
	}
	if img.Modality == "func" {
		return strings.EqualFold(acqLabel, img.Task)
	}
	return strings.EqualFold(acqLabel, img.AcqLabel)
}

// reduce implements the First/Closest criterion (spec.md §4.6), with
// equidistant Closest candidates broken by lower series number — the
// resolution adopted for the open question of how ties in Closest itself
// should be broken.
func reduce(candidates []Candidate, criterion string, img Image) Candidate {
	sorted := append([]Candidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SeriesNumber < sorted[j].SeriesNumber })

	if criterion != "Closest" {
		return sorted[0]
	}

	imgTime, imgOK := parseAcqTime(img.AcqTime)
	best := sorted[0]
	bestDist := math.Inf(1)
	haveBest := false
	for _, c := range sorted {
		cTime, cOK := parseAcqTime(c.AcqTime)
		if !imgOK || !cOK {
			continue
		}
		dist := math.Abs(cTime - imgTime)
		if !haveBest || dist < bestDist {
			best, bestDist, haveBest = c, dist, true
		}
	}
	if !haveBest {
		return sorted[0]
	}
	return best
}

// parseAcqTime turns an AcqTime string ("YYYYMMDDTHHMMSS[.ffffff]") into a
// monotonically comparable float of seconds-since-midnight-of-the-date;
// cross-date comparisons aren't meaningful here since fmap/image pairs
// belong to the same session.
func parseAcqTime(s string) (float64, bool) {
	if s == "" || s == "n/a" {
		return 0, false
	}
	parts := strings.SplitN(s, "T", 2)
	if len(parts) != 2 {
		return 0, false
	}
	t := parts[1]
	if len(t) < 6 {
		return 0, false
	}
	hh, err1 := strconv.ParseFloat(t[0:2], 64)
	mm, err2 := strconv.ParseFloat(t[2:4], 64)
	ss, err3 := strconv.ParseFloat(t[4:], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	return hh*3600 + mm*60 + ss, true
}
