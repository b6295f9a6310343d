package cli

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bidsify/bidsify/internal/bidslayout"
	"github.com/bidsify/bidsify/internal/config"
	"github.com/bidsify/bidsify/internal/convert"
	"github.com/bidsify/bidsify/internal/fmap"
	"github.com/bidsify/bidsify/internal/model"
	"github.com/bidsify/bidsify/internal/toplevel"
)

// applyBIDSLayout rewrites every converted file's basename into canonical
// BIDS form, assigns multi-echo/magnitude labels, merges sidecars, and
// writes the subject/session scans.tsv (spec.md §4.5). When cfg.BIDS is
// false the engine leaves dcm2niix's raw output names untouched. randStr is
// this run's scans-table anonymization token (spec.md §4.6/§4.7's
// filename, acq_time, operator, randstr columns).
func applyBIDSLayout(cfg *config.Config, subject, session, subjectDir, subjectSessionDir, randStr string, convertedAll []convert.Converted, fileGroup map[string][]*model.DicomFile) error {
	if !cfg.BIDS {
		return nil
	}

	var scansEntries []model.ScansEntry

	for i := range convertedAll {
		c := &convertedAll[i]
		files := renameToCanonicalEntities(c.Files)
		series := fileGroup[c.Plan.SeriesIDs[0]]
		if bidslayout.Datatype(c.FinalPrefix) == "fmap" {
			files = assignMagnitudeSuffixes(files)
		} else {
			files = injectEchoLabels(files, series)
		}
		c.Files = files

		task := extractEntity(filepath.Base(c.FinalPrefix), "task")
		for _, f := range files {
			if !strings.HasSuffix(f, ".json") {
				continue
			}
			if err := mergeConvertedSidecar(cfg, f, task); err != nil {
				logrus.Warnf("⚠️  sidecar merge failed for %s: %v", f, err)
			}
		}

		if len(series) > 0 {
			rep := series[0]
			for _, f := range files {
				if strings.HasSuffix(f, ".json") {
					continue
				}
				scansEntries = append(scansEntries, model.ScansEntry{
					Filename: bidslayout.RelativeScanName(subjectSessionDir, f),
					AcqTime:  bidslayout.AcqTime(rep),
					Operator: nonEmptyOr(rep.OperatorsName, "n/a"),
					RandStr:  randStr,
				})
			}
		}
	}

	if err := writeScansTable(subject, session, subjectSessionDir, scansEntries); err != nil {
		return err
	}

	if cfg.IntendedFor.Enabled {
		applyIntendedFor(cfg, subjectDir, convertedAll)
	}

	return nil
}

// renameToCanonicalEntities applies the phase/magnitude legacy rewrite and
// canonical entity ordering to every produced file, renaming on disk when
// the basename changes.
func renameToCanonicalEntities(files []string) []string {
	out := make([]string, len(files))
	for i, f := range files {
		dir, base := filepath.Dir(f), filepath.Base(f)
		newBase := bidslayout.ReorderEntities(bidslayout.RewritePartEntity(base))
		if newBase == base {
			out[i] = f
			continue
		}
		newPath := filepath.Join(dir, newBase)
		if err := os.Rename(f, newPath); err != nil {
			logrus.Warnf("⚠️  failed to rename %s to canonical entity order: %v", f, err)
			out[i] = f
			continue
		}
		out[i] = newPath
	}
	return out
}

// injectEchoLabels assigns echo-<N> entities when the transcoder split a
// multi-echo series into more than one image file. The Nth (by path,
// matching dcm2niix's own echo-ascending naming) image is paired with the
// series' Nth distinct echo, in the order sortSeriesFiles already fixed.
func injectEchoLabels(files []string, sourceFiles []*model.DicomFile) []string {
	images := filterByExt(files, ".nii.gz", ".nii")
	if len(images) < 2 {
		return files
	}
	sort.Strings(images)

	echoes := distinctEchoes(sourceFiles)
	echoFiles := make([]bidslayout.EchoFile, len(images))
	for i, f := range images {
		en, et := math.NaN(), math.NaN()
		if i < len(echoes) {
			en, et = echoes[i].EchoNumber, echoes[i].EchoTime
		}
		echoFiles[i] = bidslayout.EchoFile{Path: f, EchoNumber: en, EchoTime: et}
	}

	labels := bidslayout.AssignEchoLabels(echoFiles)
	if labels == nil {
		return files
	}

	renamed := make(map[string]string, len(labels))
	for path, label := range labels {
		dir, base := filepath.Dir(path), filepath.Base(path)
		newBase := bidslayout.InjectEntity(base, label)
		newPath := filepath.Join(dir, newBase)
		if err := os.Rename(path, newPath); err != nil {
			logrus.Warnf("⚠️  failed to inject echo label into %s: %v", path, err)
			continue
		}
		renamed[path] = newPath
	}

	out := make([]string, len(files))
	for i, f := range files {
		if r, ok := renamed[f]; ok {
			out[i] = r
			continue
		}
		out[i] = f
	}
	return out
}

// assignMagnitudeSuffixes implements spec.md §4.4/§4.5's magnitude1/
// magnitude2 naming: a fieldmap magnitude series split into multiple
// images is renamed by sorted path order, never echo-N (echo-N is
// reserved for anat/func multi-echo acquisitions, not fieldmaps).
func assignMagnitudeSuffixes(files []string) []string {
	images := filterByExt(files, ".nii.gz", ".nii")
	if len(images) < 2 {
		return files
	}

	labels := bidslayout.AssignMagnitudeLabels(images)
	if labels == nil {
		return files
	}

	renamed := make(map[string]string, len(labels))
	for path, label := range labels {
		dir, base := filepath.Dir(path), filepath.Base(path)
		newBase := bidslayout.ReplaceSuffix(base, label)
		newPath := filepath.Join(dir, newBase)
		if err := os.Rename(path, newPath); err != nil {
			logrus.Warnf("⚠️  failed to assign magnitude suffix to %s: %v", path, err)
			continue
		}
		renamed[path] = newPath
	}

	out := make([]string, len(files))
	for i, f := range files {
		if r, ok := renamed[f]; ok {
			out[i] = r
			continue
		}
		out[i] = f
	}
	return out
}

type echoPoint struct {
	EchoNumber float64
	EchoTime   float64
}

// distinctEchoes returns one echoPoint per distinct echo present in a
// series' source files, in the ascending order BuildSeqInfos already
// sorted them into.
func distinctEchoes(files []*model.DicomFile) []echoPoint {
	seen := map[float64]bool{}
	var echoes []echoPoint
	for _, f := range files {
		if math.IsNaN(f.EchoNumber) || seen[f.EchoNumber] {
			continue
		}
		seen[f.EchoNumber] = true
		echoes = append(echoes, echoPoint{EchoNumber: f.EchoNumber, EchoTime: f.EchoTime})
	}
	return echoes
}

func filterByExt(files []string, exts ...string) []string {
	var out []string
	for _, f := range files {
		for _, ext := range exts {
			if strings.HasSuffix(f, ext) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// extractEntity pulls the value of a key-value entity (e.g. "task") out of
// a BIDS basename, or "" if absent.
func extractEntity(basename, key string) string {
	for _, part := range strings.Split(basename, "_") {
		if strings.HasPrefix(part, key+"-") {
			return strings.TrimPrefix(part, key+"-")
		}
	}
	return ""
}

func mergeConvertedSidecar(cfg *config.Config, path, task string) error {
	original, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	sidecar, err := bidslayout.MergeSidecar(original, nil, cfg.MinMeta)
	if err != nil {
		return err
	}
	bidslayout.InjectTaskName(sidecar, task)
	return bidslayout.WriteSidecar(path, sidecar, original)
}

func writeScansTable(subject, session, subjectSessionDir string, entries []model.ScansEntry) error {
	if len(entries) == 0 {
		return nil
	}
	name := "sub-" + subject
	if session != "" {
		name += "_ses-" + session
	}
	path := filepath.Join(subjectSessionDir, name+"_scans.tsv")

	if existing, err := os.ReadFile(path); err == nil {
		if rows, err := bidslayout.ReadScansTSV(strings.NewReader(string(existing))); err == nil {
			entries = mergeScansEntries(rows, entries)
		}
	}

	bidslayout.SortScansEntries(entries)

	if err := os.MkdirAll(subjectSessionDir, 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return bidslayout.WriteScansTSV(f, entries)
}

func mergeScansEntries(existing, fresh []model.ScansEntry) []model.ScansEntry {
	byName := make(map[string]model.ScansEntry, len(existing)+len(fresh))
	var order []string
	for _, e := range existing {
		byName[e.Filename] = e
		order = append(order, e.Filename)
	}
	for _, e := range fresh {
		if _, ok := byName[e.Filename]; !ok {
			order = append(order, e.Filename)
		}
		byName[e.Filename] = e
	}
	out := make([]model.ScansEntry, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out
}

// applyIntendedFor groups this subject/session's fmap outputs into
// candidates, matches every non-fmap image against them, and injects the
// winning IntendedFor list into each fmap sidecar (spec.md §4.6).
func applyIntendedFor(cfg *config.Config, subjectDir string, convertedAll []convert.Converted) {
	var fmapFiles []fmap.FmapFile
	var images []fmap.Image

	for _, c := range convertedAll {
		datatype := bidslayout.Datatype(c.FinalPrefix)
		for _, f := range c.Files {
			if strings.HasSuffix(f, ".json") {
				continue
			}
			base := filepath.Base(f)
			if datatype == "fmap" {
				fmapFiles = append(fmapFiles, fmap.FmapFile{
					Path:         f,
					SeriesNumber: c.Plan.Item,
					AcqLabel:     extractEntity(base, "acq"),
					DirLabel:     extractEntity(base, "dir"),
				})
				continue
			}
			images = append(images, fmap.Image{
				Path:         bidslayout.RelativeScanName(subjectDir, f),
				Modality:     datatype,
				Task:         extractEntity(base, "task"),
				AcqLabel:     extractEntity(base, "acq"),
				SeriesNumber: c.Plan.Item,
			})
		}
	}

	if len(fmapFiles) == 0 || len(images) == 0 {
		return
	}

	candidates := fmap.GroupFieldmaps(fmapFiles)
	assignment := fmap.AssignIntendedFor(cfg.IntendedFor, candidates, images)
	if len(assignment) == 0 {
		return
	}

	byID := map[string]fmap.Candidate{}
	for _, c := range candidates {
		byID[c.ID] = c
	}
	for id, intendedFor := range assignment {
		candidate, ok := byID[id]
		if !ok {
			continue
		}
		for _, path := range candidate.Files {
			jsonPath := strings.TrimSuffix(strings.TrimSuffix(path, ".gz"), ".nii") + ".json"
			if err := injectIntendedFor(jsonPath, intendedFor); err != nil {
				logrus.Warnf("⚠️  failed to inject IntendedFor into %s: %v", jsonPath, err)
			}
		}
	}
}

func injectIntendedFor(path string, intendedFor []string) error {
	original, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var sidecar map[string]interface{}
	if err := json.Unmarshal(original, &sidecar); err != nil {
		return err
	}
	sort.Strings(intendedFor)
	sidecar["IntendedFor"] = intendedFor
	return bidslayout.WriteSidecar(path, sidecar, original)
}

// writeTopLevel merges this subject's participant row into the dataset's
// participants.tsv under the advisory lock (spec.md §4.7).
func writeTopLevel(ctx context.Context, mgr *toplevel.Manager, subject string, fileGroup map[string][]*model.DicomFile, group string) error {
	var representative *model.DicomFile
	for _, files := range fileGroup {
		if len(files) > 0 {
			representative = files[0]
			break
		}
	}
	if representative == nil {
		return nil
	}
	row := bidslayout.BuildParticipantRow(subject, representative, group)
	return mgr.WriteParticipants(ctx, []model.ParticipantRow{row}, nil)
}

// aggregateTaskSidecars recomputes each task's top-level task-<T>_bold.json
// aggregate from every func/*_bold.json sidecar currently on disk for that
// task, then omits the promoted fields back out of each per-run sidecar
// (spec.md §4.7's "recomputed on every run" rule). Shared by runConvert and
// the populate-templates command so both stay in sync.
func aggregateTaskSidecars(ctx context.Context, mgr *toplevel.Manager, outputRoot string, tasks []string) error {
	for _, task := range tasks {
		paths, sidecars, err := funcSidecarsForTask(outputRoot, task)
		if err != nil {
			logrus.Warnf("⚠️  failed to collect sidecars for task %s: %v", task, err)
			continue
		}
		if len(sidecars) == 0 {
			continue
		}

		aggregate, err := mgr.AggregateTaskSidecars(ctx, task, sidecars)
		if err != nil {
			return err
		}

		for i, path := range paths {
			stripped := toplevel.OmitPromotedFields(sidecars[i], aggregate)
			original, err := os.ReadFile(path)
			if err != nil {
				logrus.Warnf("⚠️  failed to re-read sidecar %s: %v", path, err)
				continue
			}
			if err := bidslayout.WriteSidecar(path, stripped, original); err != nil {
				logrus.Warnf("⚠️  failed to omit promoted fields in %s: %v", path, err)
			}
		}
	}
	return nil
}
