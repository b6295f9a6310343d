package bidslayout

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bidsify/bidsify/internal/model"
)

var participantsColumns = []string{"participant_id", "age", "sex", "group"}

// ParseAge converts a DICOM PatientAge value (nnnD/W/M/Y) to the
// participants.tsv age column: a plain year count, with month-denominated
// ages converted to fractional years at two-decimal precision (spec.md
// §4.5's "18M" -> "1.50" example). An unparsable or empty value yields
// "n/a".
func ParseAge(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "n/a"
	}
	unit := raw[len(raw)-1]
	numPart := raw[:len(raw)-1]
	n, err := strconv.Atoi(numPart)
	if err != nil {
		return "n/a"
	}

	switch unit {
	case 'Y', 'y':
		return strconv.Itoa(n)
	case 'M', 'm':
		return fmt.Sprintf("%.2f", float64(n)/12.0)
	case 'W', 'w':
		return fmt.Sprintf("%.2f", float64(n)/52.0)
	case 'D', 'd':
		return fmt.Sprintf("%.2f", float64(n)/365.0)
	default:
		return "n/a"
	}
}

// BuildParticipantRow derives the participants.tsv row for one subject.
func BuildParticipantRow(participantID string, f *model.DicomFile, group string) model.ParticipantRow {
	sex := f.PatientSex
	if sex == "" {
		sex = "n/a"
	}
	if group == "" {
		group = "n/a"
	}
	return model.ParticipantRow{
		ParticipantID: "sub-" + participantID,
		Age:           ParseAge(f.PatientAge),
		Sex:           sex,
		Group:         group,
	}
}

// WriteParticipantsTSV writes rows, one per subject, to participants.tsv.
func WriteParticipantsTSV(w io.Writer, rows []model.ParticipantRow) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(participantsColumns); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.ParticipantID, r.Age, r.Sex, r.Group}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadParticipantsTSV is the inverse of WriteParticipantsTSV, used when
// merging newly discovered subjects into an existing participants.tsv.
func ReadParticipantsTSV(r io.Reader) ([]model.ParticipantRow, error) {
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
	out := make([]model.ParticipantRow, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) != 4 {
			continue
		}
		out = append(out, model.ParticipantRow{
			ParticipantID: row[0],
			Age:           row[1],
			Sex:           row[2],
			Group:         row[3],
		})
	}
	return out, nil
}
