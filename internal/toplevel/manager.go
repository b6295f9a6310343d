package toplevel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"time"

	"github.com/bidsify/bidsify/internal/bidslayout"
	"github.com/bidsify/bidsify/internal/config"
	"github.com/bidsify/bidsify/internal/errs"
	"github.com/bidsify/bidsify/internal/model"
)

// Manager mediates all dataset-root read-modify-write operations behind
// the advisory lock.
type Manager struct {
	Root      string
	Overwrite bool
	Lock      config.LockConfig
}

// New builds a Manager from the engine configuration.
func New(cfg *config.Config) *Manager {
	return &Manager{Root: cfg.OutputRoot, Overwrite: cfg.Overwrite, Lock: cfg.Lock}
}

// withLock runs fn while holding the dataset-root advisory lock.
func (m *Manager) withLock(ctx context.Context, fn func() error) error {
	lock, err := Acquire(ctx, m.Root, time.Duration(m.Lock.TimeoutSeconds)*time.Second, m.Lock.MaxRetries)
	if err != nil {
		return err
	}
	defer lock.Release()
	return fn()
}

// mayWrite enforces the "refuse to overwrite unowned files" rule: an
// existence check precedes every write, and pre-existing content on an
// owned file is left untouched unless Overwrite is set.
func (m *Manager) mayWrite(relName string) bool {
	if m.Overwrite {
		return true
	}
	// Whether owned (dataset_description.json, participants.tsv, ...) or
	// unowned (events.tsv, hand-edited task JSON): pre-existing content is
	// left untouched unless Overwrite is set.
	_, err := os.Stat(filepath.Join(m.Root, relName))
	return os.IsNotExist(err)
}

// EnsureDatasetDescription writes dataset_description.json if it doesn't
// already exist (or Overwrite is set).
func (m *Manager) EnsureDatasetDescription(ctx context.Context, name, bidsVersion string) error {
	return m.withLock(ctx, func() error {
		if !m.mayWrite("dataset_description.json") {
			return nil
		}
		desc := map[string]interface{}{
			"Name":        name,
			"BIDSVersion": bidsVersion,
			"GeneratedBy": []map[string]string{{"Name": "bidsify"}},
		}
		data, err := json.MarshalIndent(desc, "", "  ")
		if err != nil {
			return errs.Filesystem(err, "failed to marshal dataset_description.json")
		}
		return m.atomicWrite("dataset_description.json", data)
	})
}

// AppendChanges appends one entry to the top-level CHANGES file. CHANGES is
// engine-owned but append-only, so Overwrite does not apply: new entries
// are always appended, never replacing history.
func (m *Manager) AppendChanges(ctx context.Context, entry string) error {
	return m.withLock(ctx, func() error {
		path := filepath.Join(m.Root, "CHANGES")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return errs.Filesystem(err, "failed to open CHANGES")
		}
		defer f.Close()
		if _, err := fmt.Fprintf(f, "%s\n", entry); err != nil {
			return errs.Filesystem(err, "failed to append to CHANGES")
		}
		return nil
	})
}

// WriteParticipants merges rows into participants.tsv, keyed by
// participant_id, and writes the companion participants.json column
// descriptions.
func (m *Manager) WriteParticipants(ctx context.Context, rows []model.ParticipantRow, columnDescriptions map[string]interface{}) error {
	return m.withLock(ctx, func() error {
		existing, _ := m.readParticipants()
		merged := mergeParticipants(existing, rows)

		var buf bytes.Buffer
		if err := bidslayout.WriteParticipantsTSV(&buf, merged); err != nil {
			return errs.Filesystem(err, "failed to render participants.tsv")
		}
		if err := m.atomicWrite("participants.tsv", buf.Bytes()); err != nil {
			return err
		}

		if len(columnDescriptions) > 0 && m.mayWrite("participants.json") {
			data, err := json.MarshalIndent(columnDescriptions, "", "  ")
			if err != nil {
				return errs.Filesystem(err, "failed to marshal participants.json")
			}
			if err := m.atomicWrite("participants.json", data); err != nil {
				return err
			}
		}
		return nil
	})
}

func mergeParticipants(existing, fresh []model.ParticipantRow) []model.ParticipantRow {
	byID := map[string]model.ParticipantRow{}
	var order []string
	for _, r := range existing {
		byID[r.ParticipantID] = r
		order = append(order, r.ParticipantID)
	}
	for _, r := range fresh {
		if _, ok := byID[r.ParticipantID]; !ok {
			order = append(order, r.ParticipantID)
		}
		byID[r.ParticipantID] = r
	}
	sort.Strings(order)
	out := make([]model.ParticipantRow, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

func (m *Manager) readParticipants() ([]model.ParticipantRow, error) {
	path := filepath.Join(m.Root, "participants.tsv")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return bidslayout.ReadParticipantsTSV(bytes.NewReader(data))
}

// AggregateTaskSidecars implements the top-level task-*_bold.json
// aggregation rule (spec.md §4.7): a field is included at the top level
// only if identical across every per-run sidecar feeding it; per-run
// sidecars should then omit that field. perRun holds every func/*_bold
// sidecar for one task name, already merged with engine edits.
func (m *Manager) AggregateTaskSidecars(ctx context.Context, task string, perRun []map[string]interface{}) (map[string]interface{}, error) {
	var aggregate map[string]interface{}
	err := m.withLock(ctx, func() error {
		aggregate = commonFields(perRun)
		if !m.mayWrite(fmt.Sprintf("task-%s_bold.json", task)) {
			return nil
		}
		data, err := json.MarshalIndent(aggregate, "", "  ")
		if err != nil {
			return errs.Filesystem(err, "failed to marshal task-%s_bold.json", task)
		}
		return m.atomicWrite(fmt.Sprintf("task-%s_bold.json", task), data)
	})
	return aggregate, err
}

// commonFields returns only the fields whose value is identical across
// every sidecar in runs.
func commonFields(runs []map[string]interface{}) map[string]interface{} {
	if len(runs) == 0 {
		return map[string]interface{}{}
	}
	out := map[string]interface{}{}
	for k, v := range runs[0] {
		same := true
		for _, r := range runs[1:] {
			other, ok := r[k]
			if !ok || !reflect.DeepEqual(other, v) {
				same = false
				break
			}
		}
		if same {
			out[k] = v
		}
	}
	return out
}

// OmitPromotedFields returns sidecar with every field that was promoted
// into aggregate removed, so a per-run func/*_bold.json doesn't repeat a
// value task-<T>_bold.json already carries (spec.md §4.7). sidecar is left
// untouched; the result is a new map.
func OmitPromotedFields(sidecar, aggregate map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(sidecar))
	for k, v := range sidecar {
		if promoted, ok := aggregate[k]; ok && reflect.DeepEqual(promoted, v) {
			continue
		}
		out[k] = v
	}
	return out
}

// atomicWrite writes via a temp file + rename so a crash mid-write never
// leaves a truncated top-level file (spec.md §5's atomicity guarantee,
// extended here to the dataset-root files).
func (m *Manager) atomicWrite(relName string, data []byte) error {
	dest := filepath.Join(m.Root, relName)
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errs.Filesystem(err, "failed to write %s", relName)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return errs.Filesystem(err, "failed to rename into place: %s", relName)
	}
	return nil
}
