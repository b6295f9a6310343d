// Package seriesgroup implements C2: reading DICOM headers (stopping
// before pixel data), filtering, grouping files into series, and producing
// the SeqInfo record per series.
package seriesgroup

import (
	"bytes"
	"math"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/bidsify/bidsify/internal/model"
)

// siemensCSASeriesHeader (0029,1020) is Siemens' private CSA series header
// blob: an SV10 tag table whose tail carries a plain-text ASCCONV dump of
// the scanner protocol, including tProtocolName.
var siemensCSASeriesHeader = tag.Tag{Group: 0x0029, Element: 0x1020}

// ReadDicomFile parses one file's header, tolerating missing optional tags,
// and returns nil (not an error) when the file isn't a valid DICOM — the
// caller is expected to drop such files silently per spec.md §4.2.
func ReadDicomFile(path string) (*model.DicomFile, bool) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, false
	}

	df := &model.DicomFile{
		Path:               path,
		StudyInstanceUID:   str(ds, tag.StudyInstanceUID),
		SeriesInstanceUID:  str(ds, tag.SeriesInstanceUID),
		AccessionNumber:    str(ds, tag.AccessionNumber),
		SeriesNumber:       integer(ds, tag.SeriesNumber),
		InstanceNumber:     integer(ds, tag.InstanceNumber),
		PatientID:          str(ds, tag.PatientID),
		PatientSex:         str(ds, tag.PatientSex),
		PatientAge:         str(ds, tag.PatientAge),
		StudyDescription:   str(ds, tag.StudyDescription),
		SeriesDescription:  str(ds, tag.SeriesDescription),
		ProtocolName:       protocolName(ds),
		OperatorsName:      str(ds, tag.OperatorsName),
		ReferringPhysician: str(ds, tag.ReferringPhysicianName),
		ImageType:          strList(ds, tag.ImageType),
		Modality:           str(ds, tag.Modality),
		Rows:               integer(ds, tag.Rows),
		Columns:            integer(ds, tag.Columns),
		TR:                 float(ds, tag.RepetitionTime),
		TE:                 float(ds, tag.EchoTime),
		AcquisitionDate:    str(ds, tag.AcquisitionDate),
		AcquisitionTime:    str(ds, tag.AcquisitionTime),
		ContentDate:        str(ds, tag.ContentDate),
		ContentTime:        str(ds, tag.ContentTime),
		Date:               str(ds, tag.StudyDate),
		Time:               str(ds, tag.StudyTime),
		EchoNumber:         echoNumber(ds),
	}
	df.IsDerived = containsFold(df.ImageType, "DERIVED")
	df.IsMotionCorrected = containsFoldStr(df.SeriesDescription, "MOCO") || containsFoldStr(df.ProtocolName, "MOCO")

	if df.StudyInstanceUID == "" || df.SeriesInstanceUID == "" {
		return nil, false
	}
	return df, true
}

func str(ds dicom.Dataset, t tag.Tag) string {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem == nil || elem.Value == nil {
		return ""
	}
	return strings.Trim(elem.Value.String(), " []")
}

func strList(ds dicom.Dataset, t tag.Tag) []string {
	v := str(ds, t)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, "\\")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func integer(ds dicom.Dataset, t tag.Tag) int {
	v := str(ds, t)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return n
}

func float(ds dicom.Dataset, t tag.Tag) float64 {
	v := strings.TrimSpace(str(ds, t))
	if v == "" {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// echoNumber reads EchoNumbers, falling back to NaN (not zero) per spec.md
// §4.2 so total ordering by echo stays well-defined even when absent.
func echoNumber(ds dicom.Dataset) float64 {
	elem, err := ds.FindElementByTag(tag.EchoNumbers)
	if err != nil || elem == nil || elem.Value == nil {
		return math.NaN()
	}
	v := strings.Trim(elem.Value.String(), " []")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// protocolName falls back to the Siemens CSA series header's ASCCONV
// tProtocolName entry when the standard (0018,1030) tag is absent, per
// spec.md §4.2.
func protocolName(ds dicom.Dataset) string {
	if v := str(ds, tag.ProtocolName); v != "" {
		return v
	}
	return csaProtocolName(ds)
}

// csaProtocolName scans the raw CSA series header for the ASCCONV
// "tProtocolName = "value"" line Siemens scanners embed, without decoding
// the surrounding SV10 tag table.
func csaProtocolName(ds dicom.Dataset) string {
	elem, err := ds.FindElementByTag(siemensCSASeriesHeader)
	if err != nil || elem == nil || elem.Value == nil {
		return ""
	}
	raw, ok := elem.Value.GetValue().([]byte)
	if !ok {
		return ""
	}
	const marker = "tProtocolName"
	idx := bytes.Index(raw, []byte(marker))
	if idx < 0 {
		return ""
	}
	line := raw[idx:]
	if end := bytes.IndexByte(line, '\n'); end >= 0 {
		line = line[:end]
	}
	fields := strings.SplitN(string(line), "\"", 3)
	if len(fields) < 2 {
		return ""
	}
	return strings.TrimSpace(fields[1])
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

func containsFoldStr(haystack, needle string) bool {
	return strings.Contains(strings.ToUpper(haystack), strings.ToUpper(needle))
}
