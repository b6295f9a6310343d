package seriesgroup

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/bidsify/bidsify/internal/config"
	"github.com/bidsify/bidsify/internal/errs"
	"github.com/bidsify/bidsify/internal/model"
)

// FileFilter excludes a candidate path before it is even parsed as DICOM
// (heuristic's filter_files, spec.md §4.3).
type FileFilter func(path string) bool

// DicomFilter excludes a parsed DICOM header (heuristic's filter_dicom).
type DicomFilter func(df *model.DicomFile) bool

// CustomGrouper delegates grouping entirely to the heuristic under
// grouping=custom (spec.md §4.2).
type CustomGrouper func(files []*model.DicomFile) (map[string][]*model.DicomFile, error)

// Group is one output of grouping: the files belonging to it, keyed by the
// selected grouping mode.
type Group struct {
	ID    string
	Files []*model.DicomFile
}

// ReadAndGroup reads every candidate path, drops files the filters reject,
// and partitions what remains into groups per the configured mode.
func ReadAndGroup(paths []string, cfg *config.Config, fileFilter FileFilter, dicomFilter DicomFilter, customGrouper CustomGrouper) ([]Group, error) {
	var files []*model.DicomFile
	for _, p := range paths {
		if fileFilter != nil && fileFilter(p) {
			continue
		}
		df, ok := ReadDicomFile(p)
		if !ok {
			continue // not a valid DICOM: excluded silently
		}
		if dicomFilter != nil && dicomFilter(df) {
			continue
		}
		files = append(files, df)
	}

	if err := checkStudyConsistency(files); err != nil {
		return nil, err
	}

	switch cfg.Grouping {
	case config.GroupingAll:
		if len(files) == 0 {
			return nil, nil
		}
		return []Group{{ID: "all", Files: files}}, nil
	case config.GroupingStudyUID:
		return groupBy(files, func(df *model.DicomFile) string { return df.StudyInstanceUID }), nil
	case config.GroupingCustom:
		if customGrouper == nil {
			return nil, errs.Usage("grouping=custom requires a heuristic-provided grouping function")
		}
		grouped, err := customGrouper(files)
		if err != nil {
			return nil, errs.Heuristic("", err, "custom grouping callback failed")
		}
		var groups []Group
		for id, fs := range grouped {
			groups = append(groups, Group{ID: id, Files: fs})
		}
		sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
		return groups, nil
	default: // accession_number
		return groupBy(files, func(df *model.DicomFile) string {
			return df.StudyInstanceUID + "|" + df.AccessionNumber
		}), nil
	}
}

func groupBy(files []*model.DicomFile, key func(*model.DicomFile) string) []Group {
	byKey := map[string][]*model.DicomFile{}
	var order []string
	for _, f := range files {
		k := key(f)
		if _, ok := byKey[k]; !ok {
			order = append(order, k)
		}
		byKey[k] = append(byKey[k], f)
	}
	sort.Strings(order)
	groups := make([]Group, 0, len(order))
	for _, k := range order {
		groups = append(groups, Group{ID: k, Files: byKey[k]})
	}
	return groups
}

// checkStudyConsistency enforces spec.md §3's invariant: all SeqInfos
// within a study share patient_id and study_description, and a subject
// mismatch within a claimed single session is fatal.
func checkStudyConsistency(files []*model.DicomFile) error {
	byStudy := map[string]*model.DicomFile{}
	for _, f := range files {
		first, ok := byStudy[f.StudyInstanceUID]
		if !ok {
			byStudy[f.StudyInstanceUID] = f
			continue
		}
		if first.PatientID != "" && f.PatientID != "" && first.PatientID != f.PatientID {
			return errs.StudyConsistency(f.PatientID, "", "conflicting patient IDs within study %s: %s vs %s", f.StudyInstanceUID, first.PatientID, f.PatientID)
		}
		if first.StudyDescription != "" && f.StudyDescription != "" && first.StudyDescription != f.StudyDescription {
			return errs.StudyConsistency(f.PatientID, "", "conflicting study descriptions within study %s: %s vs %s", f.StudyInstanceUID, first.StudyDescription, f.StudyDescription)
		}
	}
	return nil
}

// seriesKey identifies a series within a group: SeriesInstanceUID, plus
// EchoNumbers when the heuristic wants echo sets split into stable
// sub-series (spec.md §4.2).
func seriesKey(df *model.DicomFile, splitByEcho bool) string {
	if splitByEcho && !math.IsNaN(df.EchoNumber) {
		return fmt.Sprintf("%s:echo%g", df.SeriesInstanceUID, df.EchoNumber)
	}
	return df.SeriesInstanceUID
}

// BuildSeqInfos partitions one Group's files into series (by
// SeriesInstanceUID, optionally split by echo), sorted by series number
// ascending, and produces one SeqInfo per series plus the file membership
// used by the provenance store's filegroup.json.
func BuildSeqInfos(group Group, splitByEcho bool) ([]model.SeqInfo, map[string][]*model.DicomFile, error) {
	bySeries := map[string][]*model.DicomFile{}
	var order []string
	for _, f := range group.Files {
		k := seriesKey(f, splitByEcho)
		if _, ok := bySeries[k]; !ok {
			order = append(order, k)
		}
		bySeries[k] = append(bySeries[k], f)
	}

	sort.Slice(order, func(i, j int) bool {
		return bySeries[order[i]][0].SeriesNumber < bySeries[order[j]][0].SeriesNumber
	})

	seqinfos := make([]model.SeqInfo, 0, len(order))
	fileGroup := make(map[string][]*model.DicomFile, len(order))
	totalSoFar := 0

	for idx, k := range order {
		series := bySeries[k]
		sortSeriesFiles(series)

		first := series[0]
		seriesID := makeSeriesID(idx+1, first)
		totalSoFar += len(series)

		si := model.SeqInfo{
			TotalFilesTillNow:      totalSoFar,
			ExampleDcmFile:         first.Path,
			SeriesID:               seriesID,
			DcmDirName:             "",
			Dim1:                   first.Rows,
			Dim2:                   first.Columns,
			Dim3:                   len(series),
			Dim4:                   1,
			TR:                     first.TR,
			TE:                     first.TE,
			ProtocolName:           first.ProtocolName,
			IsMotionCorrected:      first.IsMotionCorrected,
			IsDerived:              first.IsDerived,
			PatientID:              first.PatientID,
			StudyDescription:       first.StudyDescription,
			ReferringPhysicianName: first.ReferringPhysician,
			SeriesDescription:      first.SeriesDescription,
			ImageType:              first.ImageType,
			AccessionNumber:        first.AccessionNumber,
			PatientAge:             first.PatientAge,
			PatientSex:             first.PatientSex,
			Date:                   first.Date,
			SeriesUID:              first.SeriesInstanceUID,
			Time:                   first.Time,
		}
		if si.Dim4 < 1 {
			si.Dim4 = 1
		}
		seqinfos = append(seqinfos, si)
		fileGroup[seriesID] = series
	}

	return seqinfos, fileGroup, nil
}

var nonWord = regexp.MustCompile(`[^A-Za-z0-9]+`)

// makeSeriesID derives a series_id stable across runs for the same input:
// the series-level DICOM identifiers plus the series' index within the
// study (spec.md §3).
func makeSeriesID(index int, df *model.DicomFile) string {
	label := df.ProtocolName
	if label == "" {
		label = df.SeriesDescription
	}
	label = strings.Trim(nonWord.ReplaceAllString(label, "_"), "_")
	if label == "" {
		label = "series"
	}
	return fmt.Sprintf("%d-%s", index, label)
}

// sortSeriesFiles orders files within a series so that fieldmap magnitude
// pairs yield deterministic magnitude1/magnitude2 assignment downstream:
// by echo number (NaN-last), then instance number.
func sortSeriesFiles(files []*model.DicomFile) {
	sort.SliceStable(files, func(i, j int) bool {
		ei, ej := files[i].EchoNumber, files[j].EchoNumber
		switch {
		case math.IsNaN(ei) && !math.IsNaN(ej):
			return false
		case !math.IsNaN(ei) && math.IsNaN(ej):
			return true
		case !math.IsNaN(ei) && !math.IsNaN(ej) && ei != ej:
			return ei < ej
		}
		return files[i].InstanceNumber < files[j].InstanceNumber
	})
}
