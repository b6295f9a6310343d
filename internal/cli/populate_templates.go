package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/bidsify/bidsify/internal/bidslayout"
	"github.com/bidsify/bidsify/internal/config"
	"github.com/bidsify/bidsify/internal/model"
	"github.com/bidsify/bidsify/internal/provenance"
	"github.com/bidsify/bidsify/internal/toplevel"
)

// PopulateTemplatesCommand implements the companion pass spec.md §4.7's
// bids_notop mode anticipates: once every per-subject --bids-notop
// conversion in a batch has landed, this walks the dataset root and writes
// the top-level aggregates (dataset_description.json, participants.tsv,
// task-*_bold.json) a single time.
func PopulateTemplatesCommand() *cli.Command {
	return &cli.Command{
		Name:  "populate-templates",
		Usage: "Write dataset-root aggregates after a batch of --bids-notop conversions",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output-dir", Usage: "Dataset root (overrides config output_root)"},
			&cli.StringFlag{Name: "dataset-name", Usage: "dataset_description.json Name field", Value: "bidsify dataset"},
		},
		Action: populateTemplatesAction,
	}
}

func populateTemplatesAction(c *cli.Context) error {
	cfg, ok := c.Context.Value("config").(*config.Config)
	if !ok {
		return fmt.Errorf("❌ configuration not found in context")
	}
	if v := c.String("output-dir"); v != "" {
		cfg.OutputRoot = v
	}
	if cfg.OutputRoot == "" {
		return fmt.Errorf("❌ output_root must be set via config or --output-dir")
	}

	mgr := toplevel.New(cfg)
	if err := mgr.EnsureDatasetDescription(c.Context, c.String("dataset-name"), "1.8.0"); err != nil {
		return err
	}

	subjects, err := discoverSubjectSessions(cfg.OutputRoot)
	if err != nil {
		return err
	}
	logrus.Infof("🔎 found %d subject/session director(ies) to aggregate", len(subjects))

	store := provenance.New(cfg.OutputRoot)
	tasksSeen := map[string]bool{}

	for _, ss := range subjects {
		record, ok, err := store.Load(ss.subject, ss.session)
		if err != nil {
			logrus.Warnf("⚠️  failed to load provenance for sub-%s: %v", ss.subject, err)
			continue
		}
		if !ok || len(record.SeqInfos) == 0 {
			continue
		}
		si := record.SeqInfos[0]
		row := model.ParticipantRow{
			ParticipantID: "sub-" + ss.subject,
			Age:           bidslayout.ParseAge(si.PatientAge),
			Sex:           nonEmptyOr(si.PatientSex, "n/a"),
			Group:         "n/a",
		}
		if err := mgr.WriteParticipants(c.Context, []model.ParticipantRow{row}, nil); err != nil {
			return err
		}

		for _, task := range funcTasksIn(ss.dir) {
			tasksSeen[task] = true
		}
	}

	tasks := make([]string, 0, len(tasksSeen))
	for task := range tasksSeen {
		tasks = append(tasks, task)
	}
	sort.Strings(tasks)
	if err := aggregateTaskSidecars(c.Context, mgr, cfg.OutputRoot, tasks); err != nil {
		return err
	}

	logrus.Infof("✅ populate-templates complete for %s", cfg.OutputRoot)
	return nil
}

type subjectSession struct {
	subject string
	session string
	dir     string
}

func discoverSubjectSessions(outputRoot string) ([]subjectSession, error) {
	entries, err := os.ReadDir(outputRoot)
	if err != nil {
		return nil, err
	}
	var out []subjectSession
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "sub-") {
			continue
		}
		subject := strings.TrimPrefix(e.Name(), "sub-")
		subjectDir := filepath.Join(outputRoot, e.Name())
		sessionEntries, err := os.ReadDir(subjectDir)
		if err != nil {
			continue
		}
		hasSession := false
		for _, se := range sessionEntries {
			if se.IsDir() && strings.HasPrefix(se.Name(), "ses-") {
				hasSession = true
				out = append(out, subjectSession{
					subject: subject,
					session: strings.TrimPrefix(se.Name(), "ses-"),
					dir:     filepath.Join(subjectDir, se.Name()),
				})
			}
		}
		if !hasSession {
			out = append(out, subjectSession{subject: subject, dir: subjectDir})
		}
	}
	return out, nil
}

func funcTasksIn(subjectSessionDir string) []string {
	entries, err := os.ReadDir(filepath.Join(subjectSessionDir, "func"))
	if err != nil {
		return nil
	}
	seen := map[string]bool{}
	var tasks []string
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), "_bold.json") {
			continue
		}
		task := extractEntity(e.Name(), "task")
		if task == "" || seen[task] {
			continue
		}
		seen[task] = true
		tasks = append(tasks, task)
	}
	return tasks
}

// funcSidecarsForTask walks outputRoot for every func/*_bold.json sidecar
// belonging to task, returning each one's path alongside its parsed
// contents (same index in both slices) so a caller can write modifications
// back to the file they were read from.
func funcSidecarsForTask(outputRoot, task string) ([]string, []map[string]interface{}, error) {
	var paths []string
	var sidecars []map[string]interface{}
	err := filepath.Walk(outputRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, "_bold.json") || filepath.Base(filepath.Dir(path)) != "func" {
			return nil
		}
		if extractEntity(filepath.Base(path), "task") != task {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		var sidecar map[string]interface{}
		if err := json.Unmarshal(data, &sidecar); err != nil {
			return nil
		}
		paths = append(paths, path)
		sidecars = append(sidecars, sidecar)
		return nil
	})
	return paths, sidecars, err
}

func nonEmptyOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
