package model

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// SeqInfo is one record per series, in the canonical, order-relevant field
// order spec.md §3 defines for the persisted TSV.
type SeqInfo struct {
	TotalFilesTillNow       int
	ExampleDcmFile          string
	SeriesID                string
	DcmDirName              string
	Unspecified2            string
	Unspecified3            string
	Dim1                    int
	Dim2                    int
	Dim3                    int
	Dim4                    int
	TR                      float64
	TE                      float64
	ProtocolName            string
	IsMotionCorrected       bool
	IsDerived               bool
	PatientID               string
	StudyDescription        string
	ReferringPhysicianName  string
	SeriesDescription       string
	ImageType               []string
	AccessionNumber         string
	PatientAge              string
	PatientSex              string
	Date                    string
	SeriesUID               string
	Time                    string
}

// seqInfoColumns is the stable, persisted column order. Keep in lockstep
// with the field order above and with fromRow/toRow.
var seqInfoColumns = []string{
	"total_files_till_now", "example_dcm_file", "series_id", "dcm_dir_name",
	"unspecified2", "unspecified3", "dim1", "dim2", "dim3", "dim4",
	"TR", "TE", "protocol_name", "is_motion_corrected", "is_derived",
	"patient_id", "study_description", "referring_physician_name",
	"series_description", "image_type", "accession_number", "patient_age",
	"patient_sex", "date", "series_uid", "time",
}

func formatFloat(f float64) string {
	if math.IsNaN(f) {
		return "nan"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func parseFloat(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func (s SeqInfo) toRow() []string {
	return []string{
		strconv.Itoa(s.TotalFilesTillNow),
		s.ExampleDcmFile,
		s.SeriesID,
		s.DcmDirName,
		s.Unspecified2,
		s.Unspecified3,
		strconv.Itoa(s.Dim1),
		strconv.Itoa(s.Dim2),
		strconv.Itoa(s.Dim3),
		strconv.Itoa(s.Dim4),
		formatFloat(s.TR),
		formatFloat(s.TE),
		s.ProtocolName,
		strconv.FormatBool(s.IsMotionCorrected),
		strconv.FormatBool(s.IsDerived),
		s.PatientID,
		s.StudyDescription,
		s.ReferringPhysicianName,
		s.SeriesDescription,
		strings.Join(s.ImageType, "\\"),
		s.AccessionNumber,
		s.PatientAge,
		s.PatientSex,
		s.Date,
		s.SeriesUID,
		s.Time,
	}
}

func seqInfoFromRow(row []string) (SeqInfo, error) {
	if len(row) != len(seqInfoColumns) {
		return SeqInfo{}, fmt.Errorf("seqinfo row has %d fields, want %d", len(row), len(seqInfoColumns))
	}
	atoi := func(v string) int {
		n, _ := strconv.Atoi(v)
		return n
	}
	s := SeqInfo{
		TotalFilesTillNow:      atoi(row[0]),
		ExampleDcmFile:         row[1],
		SeriesID:               row[2],
		DcmDirName:             row[3],
		Unspecified2:           row[4],
		Unspecified3:           row[5],
		Dim1:                   atoi(row[6]),
		Dim2:                   atoi(row[7]),
		Dim3:                   atoi(row[8]),
		Dim4:                   atoi(row[9]),
		TR:                     parseFloat(row[10]),
		TE:                     parseFloat(row[11]),
		ProtocolName:           row[12],
		IsMotionCorrected:      row[13] == "true",
		IsDerived:              row[14] == "true",
		PatientID:              row[15],
		StudyDescription:       row[16],
		ReferringPhysicianName: row[17],
		SeriesDescription:      row[18],
		AccessionNumber:        row[20],
		PatientAge:             row[21],
		PatientSex:             row[22],
		Date:                   row[23],
		SeriesUID:              row[24],
		Time:                   row[25],
	}
	if row[19] != "" {
		s.ImageType = strings.Split(row[19], "\\")
	}
	return s, nil
}

// WriteSeqInfoTSV persists seqinfos as dicominfo.tsv, tab-delimited with a
// header row, in the canonical column order.
func WriteSeqInfoTSV(w io.Writer, seqinfos []SeqInfo) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(seqInfoColumns); err != nil {
		return err
	}
	for _, si := range seqinfos {
		if err := cw.Write(si.toRow()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadSeqInfoTSV is the inverse of WriteSeqInfoTSV.
func ReadSeqInfoTSV(r io.Reader) ([]SeqInfo, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]SeqInfo, 0, len(rows)-1)
	for _, row := range rows[1:] {
		si, err := seqInfoFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, si)
	}
	return out, nil
}
