package bidslayout

import (
	"encoding/csv"
	"io"
	"path/filepath"
	"sort"

	"github.com/bidsify/bidsify/internal/model"
)

var scansColumns = []string{"filename", "acq_time", "operator", "randstr"}

// AcqTime resolves a scans-table acq_time per spec.md §4.5: prefer
// AcquisitionDate+AcquisitionTime (sub-second precision preserved as given
// by the DICOM header), fall back to ContentDate+ContentTime, else "n/a".
func AcqTime(f *model.DicomFile) string {
	if f.AcquisitionDate != "" && f.AcquisitionTime != "" {
		return f.AcquisitionDate + "T" + f.AcquisitionTime
	}
	if f.ContentDate != "" && f.ContentTime != "" {
		return f.ContentDate + "T" + f.ContentTime
	}
	return "n/a"
}

// SortScansEntries orders rows ascending by acq_time, with entries missing
// acq_time ("n/a") sorted last and then by filename (spec.md §4.5).
func SortScansEntries(entries []model.ScansEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.AcqTime == "n/a" && b.AcqTime != "n/a" {
			return false
		}
		if a.AcqTime != "n/a" && b.AcqTime == "n/a" {
			return true
		}
		if a.AcqTime != b.AcqTime {
			return a.AcqTime < b.AcqTime
		}
		return a.Filename < b.Filename
	})
}

// WriteScansTSV writes entries (already sorted by SortScansEntries) to a
// sub-<id>[_ses-<id>]_scans.tsv file.
func WriteScansTSV(w io.Writer, entries []model.ScansEntry) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(scansColumns); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write([]string{e.Filename, e.AcqTime, e.Operator, e.RandStr}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// RelativeScanName formats the scans.tsv filename column: the output path
// relative to the subject/session directory, forward-slashed.
func RelativeScanName(subjectSessionDir, finalPath string) string {
	rel, err := filepath.Rel(subjectSessionDir, finalPath)
	if err != nil {
		return finalPath
	}
	return filepath.ToSlash(rel)
}

// ReadScansTSV is the inverse of WriteScansTSV, used to merge newly
// converted rows into an existing subject/session scans.tsv on rerun.
func ReadScansTSV(r io.Reader) ([]model.ScansEntry, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) <= 1 {
		return nil, nil
	}
	out := make([]model.ScansEntry, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) != 4 {
			continue
		}
		out = append(out, model.ScansEntry{Filename: row[0], AcqTime: row[1], Operator: row[2], RandStr: row[3]})
	}
	return out, nil
}
