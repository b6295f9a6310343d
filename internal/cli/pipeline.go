package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bidsify/bidsify/internal/config"
	"github.com/bidsify/bidsify/internal/convert"
	"github.com/bidsify/bidsify/internal/discovery"
	"github.com/bidsify/bidsify/internal/errs"
	"github.com/bidsify/bidsify/internal/heuristic"
	"github.com/bidsify/bidsify/internal/model"
	"github.com/bidsify/bidsify/internal/provenance"
	"github.com/bidsify/bidsify/internal/seriesgroup"
	"github.com/bidsify/bidsify/internal/toplevel"
)

// convertRequest is the fully-resolved set of inputs one convertAction
// invocation drives through discovery -> grouping -> heuristic -> plan ->
// transcode -> BIDS layout -> top-level aggregation.
type convertRequest struct {
	cfg         *config.Config
	subject     string
	session     string
	files       []string
	paths       []string
	dcm2niixDir string
	splitByEcho bool
	dryRun      bool
	group       string
}

// runConvert drives one subject/session end to end. It is deliberately a
// single long function, one pass, narrated with logrus as it goes, errors
// returned (not swallowed) for anything that should abort the whole
// subject, with per-series failures collected instead of aborting siblings
// (spec.md §5).
func runConvert(ctx context.Context, req convertRequest) error {
	cfg := req.cfg
	subject := req.subject
	session := req.session

	if cfg.OutputRoot == "" {
		return errs.Usage("output_root must be set via config or --output-dir")
	}

	logrus.Infof("🏗️  starting conversion for sub-%s%s", subject, sessionSuffix(session))

	scratchDir, err := os.MkdirTemp("", "bidsify-scratch-")
	if err != nil {
		return errs.Filesystem(err, "failed to create scratch directory")
	}
	defer os.RemoveAll(scratchDir)

	disc, err := discovery.Discover(discovery.Request{
		Templates:  req.files,
		Subject:    subject,
		Session:    session,
		Paths:      req.paths,
		ScratchDir: scratchDir,
	})
	if err != nil {
		return err
	}
	for _, fail := range disc.ArchiveFailures {
		logrus.Warnf("⚠️  failed to extract archive %s: %v", fail.Path, fail.Err)
	}
	logrus.Infof("📦 discovered %d candidate file(s)", len(disc.Files))
	if len(disc.Files) == 0 {
		logrus.Warnf("⚠️  no candidate files found for sub-%s%s", subject, sessionSuffix(session))
		return nil
	}

	h, heuristicBytes, err := heuristic.Resolve(cfg.Heuristic)
	if err != nil {
		return err
	}

	var fileFilter seriesgroup.FileFilter
	if ff, ok := h.(heuristic.FileFilterer); ok {
		fileFilter = ff.FilterFile
	}
	var dicomFilter seriesgroup.DicomFilter
	if df, ok := h.(heuristic.DicomFilterer); ok {
		dicomFilter = df.FilterDicom
	}
	// heuristic.CustomGrouper's Group method already has the exact shape
	// seriesgroup.CustomGrouper expects, so the method value itself is the
	// adapter — no wrapper type needed.
	var customGrouper seriesgroup.CustomGrouper
	if cg, ok := h.(heuristic.CustomGrouper); ok {
		customGrouper = cg.Group
	}

	if opts, ok := h.(heuristic.IntendedForOptionser); ok {
		applyIntendedForOpts(cfg, opts.IntendedForOpts())
	}

	groups, err := seriesgroup.ReadAndGroup(disc.Files, cfg, fileFilter, dicomFilter, customGrouper)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		logrus.Warnf("⚠️  no DICOM files survived filtering for sub-%s%s", subject, sessionSuffix(session))
		return nil
	}

	if inferer, ok := h.(heuristic.IDInferer); ok {
		firstSeqinfos, _, err := seriesgroup.BuildSeqInfos(groups[0], req.splitByEcho)
		if err == nil {
			if ids, err := inferer.InfoToIDs(firstSeqinfos, cfg.OutputRoot); err == nil {
				if ids.Subject != "" {
					subject = ids.Subject
				}
				if ids.Session != "" {
					session = ids.Session
				}
			} else {
				logrus.Warnf("⚠️  infotoids failed, keeping caller-supplied identifiers: %v", err)
			}
		}
	}

	store := provenance.New(cfg.OutputRoot)
	prior, hadPrior, err := store.Load(subject, session)
	if err != nil {
		return err
	}

	toplevelMgr := toplevel.New(cfg)
	if !cfg.BIDSNoTop && !req.dryRun {
		if err := toplevelMgr.EnsureDatasetDescription(ctx, filepath.Base(cfg.OutputRoot), "1.8.0"); err != nil {
			return err
		}
	}

	transcoder := convert.NewTranscoder(req.dcm2niixDir)

	subjectDir := filepath.Join(cfg.OutputRoot, "sub-"+subject)
	subjectSessionDir := subjectDir
	if session != "" {
		subjectSessionDir = filepath.Join(subjectDir, "ses-"+session)
	}

	var allSeqinfos []model.SeqInfo
	fullFileGroup := map[string][]*model.DicomFile{}
	var convertedAll []convert.Converted
	var conversionFailures []error

	for _, group := range groups {
		seqinfos, fileGroup, err := seriesgroup.BuildSeqInfos(group, req.splitByEcho)
		if err != nil {
			return err
		}

		applyEditOverride(store, subject, session, group, fileGroup)

		allSeqinfos = append(allSeqinfos, seqinfos...)
		for k, v := range fileGroup {
			fullFileGroup[k] = v
		}

		decisions, err := heuristic.InvokeInfoToDict(h, seqinfos, subject)
		if err != nil {
			return err
		}

		plans, err := convert.Plan(decisions, seqinfos, subject, session)
		if err != nil {
			return err
		}

		if req.dryRun {
			for _, p := range plans {
				logrus.Infof("📝 would convert series %s -> %s [%s]", p.SeriesIDs[0], p.Prefix, strings.Join(p.Target.OutTypes, ","))
			}
			continue
		}

		resume := provenance.Resume(prior, hadPrior, heuristicBytes, seqinfos, outputExistsFunc(cfg.OutputRoot, plans))

		var activePlans []model.OutputPlan
		for _, p := range plans {
			if !resume.ForceReconvert && resume.SkipSeries[p.SeriesIDs[0]] {
				logrus.Infof("⏭️  skipping unchanged series %s (resume)", p.SeriesIDs[0])
				continue
			}
			activePlans = append(activePlans, p)
		}

		converted, failures := convert.ConvertAll(ctx, cfg, transcoder, subject, activePlans, fileGroup, cfg.OutputRoot)
		convertedAll = append(convertedAll, converted...)
		conversionFailures = append(conversionFailures, failures...)
	}

	if req.dryRun {
		logrus.Infof("🔍 dry-run complete for sub-%s%s, no files were written", subject, sessionSuffix(session))
		return nil
	}

	for _, failure := range conversionFailures {
		logrus.Errorf("❌ %v", failure)
	}
	logrus.Infof("✅ converted %d/%d planned series for sub-%s%s", len(convertedAll), len(convertedAll)+len(conversionFailures), subject, sessionSuffix(session))

	randID, err := uuid.NewV4()
	if err != nil {
		return errs.Filesystem(err, "failed to generate scans-table randstr")
	}
	randStr := strings.ReplaceAll(randID.String(), "-", "")[:8]

	if err := applyBIDSLayout(cfg, subject, session, subjectDir, subjectSessionDir, randStr, convertedAll, fullFileGroup); err != nil {
		return err
	}

	if !cfg.BIDSNoTop {
		if err := writeTopLevel(ctx, toplevelMgr, subject, fullFileGroup, req.group); err != nil {
			return err
		}
		// task-<T>_bold.json is recomputed from every func/*_bold.json
		// sidecar on disk on every run, not just via populate-templates
		// (spec.md §4.7).
		if err := aggregateTaskSidecars(ctx, toplevelMgr, cfg.OutputRoot, funcTasksIn(subjectSessionDir)); err != nil {
			return err
		}
	} else {
		logrus.Infof("⏭️  bids-notop set, skipping top-level writes (run populate-templates afterward)")
	}

	record := model.ProvenanceRecord{
		Subject:       subject,
		Session:       session,
		HeuristicText: heuristicBytes,
		SeqInfos:      allSeqinfos,
		FileGroup:     stringFileGroup(fullFileGroup),
	}
	if err := store.Save(record); err != nil {
		return err
	}

	if len(conversionFailures) > 0 {
		return fmt.Errorf("conversion completed with %d failed series for sub-%s%s", len(conversionFailures), subject, sessionSuffix(session))
	}
	return nil
}

func applyEditOverride(store *provenance.Store, subject, session string, group seriesgroup.Group, fileGroup map[string][]*model.DicomFile) {
	override, err := store.EditOverride(subject, session)
	if err != nil {
		logrus.Warnf("⚠️  failed to read filegroup edit override: %v", err)
		return
	}
	if override == nil {
		return
	}
	byPath := make(map[string]*model.DicomFile, len(group.Files))
	for _, f := range group.Files {
		byPath[f.Path] = f
	}
	for seriesID, paths := range override {
		var files []*model.DicomFile
		for _, p := range paths {
			if f, ok := byPath[p]; ok {
				files = append(files, f)
			}
		}
		if len(files) > 0 {
			fileGroup[seriesID] = files
			logrus.Infof("✏️  applying hand-edited file group for series %s (%d files)", seriesID, len(files))
		}
	}
}

func outputExistsFunc(outputRoot string, plans []model.OutputPlan) func(string) bool {
	bySeries := make(map[string]string, len(plans))
	for _, p := range plans {
		bySeries[p.SeriesIDs[0]] = p.Prefix
	}
	return func(seriesID string) bool {
		prefix, ok := bySeries[seriesID]
		if !ok {
			return false
		}
		matches, _ := filepath.Glob(filepath.Join(outputRoot, prefix) + "*")
		return len(matches) > 0
	}
}

func stringFileGroup(fileGroup map[string][]*model.DicomFile) map[string][]string {
	out := make(map[string][]string, len(fileGroup))
	for seriesID, files := range fileGroup {
		paths := make([]string, len(files))
		for i, f := range files {
			paths[i] = f.Path
		}
		out[seriesID] = paths
	}
	return out
}

// applyIntendedForOpts merges a heuristic's POPULATE_INTENDED_FOR_OPTS
// (spec.md §4.3) into cfg.IntendedFor, the same shape the engine's own
// config file uses for the same setting.
func applyIntendedForOpts(cfg *config.Config, opts map[string]interface{}) {
	if enabled, ok := opts["enabled"].(bool); ok {
		cfg.IntendedFor.Enabled = enabled
	}
	if criterion, ok := opts["criterion"].(string); ok && criterion != "" {
		cfg.IntendedFor.Criterion = criterion
	}
	switch params := opts["matching_parameters"].(type) {
	case []string:
		cfg.IntendedFor.MatchingParameters = params
	case []interface{}:
		strs := make([]string, 0, len(params))
		for _, p := range params {
			if s, ok := p.(string); ok {
				strs = append(strs, s)
			}
		}
		if len(strs) > 0 {
			cfg.IntendedFor.MatchingParameters = strs
		}
	}
}

func sessionSuffix(session string) string {
	if session == "" {
		return ""
	}
	return "/ses-" + session
}
