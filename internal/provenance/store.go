// Package provenance maintains the hidden per-subject bookkeeping
// directory (spec.md §4.8): the frozen heuristic, the persisted SeqInfo
// rows, the series->file mapping, and the append-only rerun log that
// together drive resume/skip-unchanged decisions.
package provenance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bidsify/bidsify/internal/errs"
	"github.com/bidsify/bidsify/internal/model"
)

const hiddenDirName = ".bidsify"

// Dir returns the hidden bookkeeping directory for one (subject, session).
func Dir(outputRoot, subject, session string) string {
	if session != "" {
		return filepath.Join(outputRoot, hiddenDirName, "sub-"+subject, "ses-"+session)
	}
	return filepath.Join(outputRoot, hiddenDirName, "sub-"+subject)
}

// Store mediates one subject/session's provenance directory.
type Store struct {
	OutputRoot string
}

func New(outputRoot string) *Store { return &Store{OutputRoot: outputRoot} }

func (s *Store) dir(subject, session string) string { return Dir(s.OutputRoot, subject, session) }

// Load reads back whatever provenance exists for (subject, session). ok is
// false when this is the first run (no hidden directory yet).
func (s *Store) Load(subject, session string) (record model.ProvenanceRecord, ok bool, err error) {
	dir := s.dir(subject, session)
	heuristicText, err := os.ReadFile(filepath.Join(dir, "heuristic.py"))
	if os.IsNotExist(err) {
		return model.ProvenanceRecord{}, false, nil
	}
	if err != nil {
		return model.ProvenanceRecord{}, false, errs.Filesystem(err, "failed to read frozen heuristic for sub-%s", subject)
	}

	seqinfos, err := readSeqInfos(filepath.Join(dir, "dicominfo.tsv"))
	if err != nil {
		return model.ProvenanceRecord{}, false, errs.Filesystem(err, "failed to read dicominfo.tsv for sub-%s", subject)
	}

	fileGroup, err := readFileGroup(filepath.Join(dir, "auto", "filegroup.json"))
	if err != nil {
		return model.ProvenanceRecord{}, false, errs.Filesystem(err, "failed to read filegroup.json for sub-%s", subject)
	}

	return model.ProvenanceRecord{
		Subject:       subject,
		Session:       session,
		HeuristicText: heuristicText,
		SeqInfos:      seqinfos,
		FileGroup:     fileGroup,
	}, true, nil
}

// Save freezes this run's record to disk: heuristic.py, dicominfo.tsv,
// auto/filegroup.json, and an append to the rerun log.
func (s *Store) Save(record model.ProvenanceRecord) error {
	dir := s.dir(record.Subject, record.Session)
	if err := os.MkdirAll(filepath.Join(dir, "auto"), 0755); err != nil {
		return errs.Filesystem(err, "failed to create provenance directory for sub-%s", record.Subject)
	}
	if err := os.MkdirAll(filepath.Join(dir, "edit"), 0755); err != nil {
		return errs.Filesystem(err, "failed to create edit directory for sub-%s", record.Subject)
	}

	if err := os.WriteFile(filepath.Join(dir, "heuristic.py"), record.HeuristicText, 0644); err != nil {
		return errs.Filesystem(err, "failed to freeze heuristic for sub-%s", record.Subject)
	}

	var tsv bytes.Buffer
	if err := model.WriteSeqInfoTSV(&tsv, record.SeqInfos); err != nil {
		return errs.Filesystem(err, "failed to render dicominfo.tsv for sub-%s", record.Subject)
	}
	if err := os.WriteFile(filepath.Join(dir, "dicominfo.tsv"), tsv.Bytes(), 0644); err != nil {
		return errs.Filesystem(err, "failed to write dicominfo.tsv for sub-%s", record.Subject)
	}

	fgData, err := json.MarshalIndent(record.FileGroup, "", "  ")
	if err != nil {
		return errs.Filesystem(err, "failed to marshal filegroup.json for sub-%s", record.Subject)
	}
	if err := os.WriteFile(filepath.Join(dir, "auto", "filegroup.json"), fgData, 0644); err != nil {
		return errs.Filesystem(err, "failed to write filegroup.json for sub-%s", record.Subject)
	}

	return s.appendRerunLog(record.Subject, record.Session, "conversion completed")
}

func (s *Store) appendRerunLog(subject, session, message string) error {
	dir := s.dir(subject, session)
	f, err := os.OpenFile(filepath.Join(dir, "rerun.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errs.Filesystem(err, "failed to open rerun log for sub-%s", subject)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s\t%s\n", nowStamp(), message)
	return err
}

// nowStamp is the single timestamp source for rerun.log; appendRerunLog
// prefixes every message with it, so callers cannot supply their own.
func nowStamp() string { return time.Now().UTC().Format(time.RFC3339) }

func readSeqInfos(path string) ([]model.SeqInfo, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return model.ReadSeqInfoTSV(f)
}

func readFileGroup(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string][]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	var fg map[string][]string
	if err := json.Unmarshal(data, &fg); err != nil {
		return nil, err
	}
	return fg, nil
}

// EditOverride reads edit/filegroup.json if present: a hand-edited override
// for the next rerun (spec.md §4.8's edit/ directory). A nil map means no
// override is present.
func (s *Store) EditOverride(subject, session string) (map[string][]string, error) {
	path := filepath.Join(s.dir(subject, session), "edit", "filegroup.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var fg map[string][]string
	if err := json.Unmarshal(data, &fg); err != nil {
		return nil, err
	}
	return fg, nil
}
