// Package model defines the data shapes that flow through the conversion
// pipeline: DicomFile, SeqInfo, Study, ConversionTarget, OutputPlan,
// ScansEntry, TopLevelState and ProvenanceRecord.
package model

import "time"

// DicomFile is a single input file plus the subset of its DICOM header the
// pipeline needs downstream. Its lifetime is one engine run.
type DicomFile struct {
	Path string

	StudyInstanceUID   string
	SeriesInstanceUID  string
	AccessionNumber    string
	SeriesNumber       int
	InstanceNumber     int
	EchoNumber         float64 // NaN when absent, so sorting stays total.
	EchoTime           float64
	PatientID          string
	PatientSex         string
	PatientAge         string
	StudyDescription   string
	SeriesDescription  string
	ProtocolName       string
	OperatorsName      string
	ReferringPhysician string
	ImageType          []string
	Modality           string
	Rows               int
	Columns            int
	TR                 float64
	TE                 float64
	AcquisitionDate    string
	AcquisitionTime    string
	ContentDate        string
	ContentTime        string
	Date               string
	Time               string
	IsMotionCorrected  bool
	IsDerived          bool
}

// Study is all DicomFiles sharing one Study Instance UID.
type Study struct {
	StudyInstanceUID string
	PatientID        string
	StudyDescription string
	Subject          string
	Session          string
	Files            []*DicomFile
}

// ConversionTarget is the heuristic's decision for a group of series: a
// template with named placeholders, the output kinds to produce, and an
// opaque, historical annotation slot the engine never interprets.
type ConversionTarget struct {
	Template   string
	OutTypes   []string
	Annotation string
}

// OutputKinds recognized by the engine (spec.md §3, ConversionTarget).
const (
	OutTypeNii    = "nii"
	OutTypeNiiGz  = "nii.gz"
	OutTypeDicom  = "dicom"
)

// AllowedOutTypes is the set the heuristic host validates ConversionTarget
// outtypes against (spec.md §4.3).
var AllowedOutTypes = map[string]bool{
	OutTypeNii:   true,
	OutTypeNiiGz: true,
	OutTypeDicom: true,
}

// OutputPlan is a single (resolved path, kind) pair produced by substituting
// placeholders on a ConversionTarget.
type OutputPlan struct {
	Target    ConversionTarget
	SeriesIDs []string
	Prefix    string // resolved output prefix, before extension/suffix
	Item      int    // 1-based counter within the target key
}

// ScansEntry is one row under a subject/session scans.tsv.
type ScansEntry struct {
	Filename string
	AcqTime  string // "n/a" when unavailable
	Operator string
	RandStr  string
}

// TopLevelState is the mutable set of aggregated documents living at the
// dataset root. It is owned by nobody exclusively; mutation happens under
// the advisory lock in internal/toplevel.
type TopLevelState struct {
	DatasetDescription map[string]interface{}
	Changes             []string
	Participants         []ParticipantRow
	TaskJSON             map[string]map[string]interface{} // task name -> fields
}

// ParticipantRow is one row of the top-level participants.tsv.
type ParticipantRow struct {
	ParticipantID string
	Age           string
	Sex           string
	Group         string
}

// ProvenanceRecord is the subject-scoped bookkeeping directory described in
// spec.md §4.8 / §6 (.heudiconv-equivalent hidden directory).
type ProvenanceRecord struct {
	Subject       string
	Session       string
	HeuristicText []byte
	SeqInfos      []SeqInfo
	FileGroup     map[string][]string // series_id -> contributing file paths
	RecordedAt    time.Time
}
