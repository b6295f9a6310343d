package convert

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bidsify/bidsify/internal/config"
	"github.com/bidsify/bidsify/internal/errs"
	"github.com/bidsify/bidsify/internal/model"
)

// Converted is one OutputPlan's result: the final (post-rename, post-dup-
// disambiguation) prefix and the files that landed under it.
type Converted struct {
	Plan        model.OutputPlan
	FinalPrefix string
	Files       []string
}

// dupCounts tracks how many times a final prefix has already been claimed
// in this run, so repeat collisions append __dup-NN "per sequence" (spec.md
// §4.4) rather than per individual file.
type dupCounts struct {
	counts map[string]int
}

func newDupCounts() *dupCounts { return &dupCounts{counts: map[string]int{}} }

func (d *dupCounts) resolve(prefix string) string {
	n := d.counts[prefix]
	d.counts[prefix] = n + 1
	if n == 0 {
		return prefix
	}
	return fmt.Sprintf("%s__dup-%02d", prefix, n)
}

// ConvertAll drives every plan in order (plans are expected pre-sorted by
// ascending series number, matching the input seqinfo order) and returns
// what landed on disk for each. A single plan's failure is recorded as an
// error against that plan (KindTranscoder; KindFilesystem for working-prefix
// or rename failures; KindUsage for an unknown outtype) and does not abort
// the others
// (spec.md §5's "a failed series leaves no partial files").
func ConvertAll(ctx context.Context, cfg *config.Config, transcoder Transcoder, subject string, plans []model.OutputPlan, fileGroup map[string][]*model.DicomFile, outputRoot string) ([]Converted, []error) {
	dups := newDupCounts()
	var results []Converted
	var failures []error

	for _, plan := range plans {
		finalPrefix := dups.resolve(filepath.Join(outputRoot, plan.Prefix))
		converted, err := convertOne(ctx, cfg, transcoder, subject, plan, fileGroup, finalPrefix)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		if converted != nil {
			results = append(results, *converted)
		}
	}
	return results, failures
}

func convertOne(ctx context.Context, cfg *config.Config, transcoder Transcoder, subject string, plan model.OutputPlan, fileGroup map[string][]*model.DicomFile, finalPrefix string) (*Converted, error) {
	seriesID := plan.SeriesIDs[0]
	files := fileGroup[seriesID]
	if len(files) == 0 {
		return nil, errs.Transcoder(subject, seriesID, nil, "no source files for series")
	}

	workingPrefix, err := workingPrefix(finalPrefix)
	if err != nil {
		return nil, errs.Filesystem(err, "failed to derive a working prefix for %s", finalPrefix)
	}

	var produced []string
	for _, outType := range plan.Target.OutTypes {
		switch outType {
		case model.OutTypeDicom:
			out, err := copySourceArchive(files, finalPrefix)
			if err != nil {
				return nil, errs.Transcoder(subject, seriesID, err, "failed to archive source DICOMs")
			}
			produced = append(produced, out...)
		case model.OutTypeNii, model.OutTypeNiiGz:
			if isScoutSuppressed(files) {
				logrus.WithFields(logrus.Fields{"subject": subject, "series": seriesID}).
					Infof("suppressing NIfTI output for derived/motion-corrected scout series")
				continue
			}
			paths := make([]string, len(files))
			for i, f := range files {
				paths[i] = f.Path
			}
			out, err := transcoder.Convert(ctx, paths, workingPrefix)
			if err != nil {
				cleanupWorkingFiles(workingPrefix)
				return nil, errs.Transcoder(subject, seriesID, err, "transcoder invocation failed")
			}
			renamed, err := finalizeRename(out, workingPrefix, finalPrefix, isDWI(finalPrefix))
			if err != nil {
				cleanupWorkingFiles(workingPrefix)
				return nil, errs.Filesystem(err, "failed to rename transcoder output for %s", finalPrefix)
			}
			produced = append(produced, renamed...)
		default:
			return nil, errs.Usage("unknown outtype %q on target %s", outType, plan.Target.Template)
		}
	}

	return &Converted{Plan: plan, FinalPrefix: finalPrefix, Files: produced}, nil
}

// workingPrefix resolves the "working output prefix" (spec.md §4.4):
// directly under the final target directory, suffixed with a random token,
// so the rename-on-success is a same-filesystem atomic operation and
// cleanup-on-failure only ever touches files bearing the token.
func workingPrefix(finalPrefix string) (string, error) {
	dir := filepath.Dir(finalPrefix)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	token := strings.ReplaceAll(id.String(), "-", "")[:12]
	return finalPrefix + "_heudiconv" + token, nil
}

// finalizeRename sorts the transcoder's output deterministically and renames
// each file from its working name to the corresponding final name, dropping
// bval/bvec unless the final suffix is dwi (spec.md §4.4).
func finalizeRename(produced []string, workingPrefix, finalPrefix string, keepBvalBvec bool) ([]string, error) {
	sort.Strings(produced)
	var final []string
	for _, p := range produced {
		ext := strings.TrimPrefix(p, workingPrefix)
		if (ext == ".bval" || ext == ".bvec") && !keepBvalBvec {
			_ = os.Remove(p)
			continue
		}
		dest := finalPrefix + ext
		if err := os.Rename(p, dest); err != nil {
			return nil, err
		}
		final = append(final, dest)
	}
	return final, nil
}

func cleanupWorkingFiles(workingPrefix string) {
	matches, _ := filepath.Glob(workingPrefix + "*")
	for _, m := range matches {
		_ = os.Remove(m)
	}
}

func isDWI(finalPrefix string) bool {
	return strings.HasSuffix(finalPrefix, "_dwi") || strings.Contains(finalPrefix, "_dwi.") ||
		strings.Contains(finalPrefix, "_dwi__dup-")
}

// isScoutSuppressed implements the "single motion-corrected scout or
// derived series keeps DICOMs but suppresses NIfTI" rule (spec.md §4.4).
func isScoutSuppressed(files []*model.DicomFile) bool {
	return len(files) == 1 && (files[0].IsDerived || files[0].IsMotionCorrected)
}

// copySourceArchive hardlinks (falling back to copy across filesystems) the
// source DICOMs, for outtype=dicom targets, into a directory whose path is
// the final prefix itself, as <finalPrefix>/0001.dcm, 0002.dcm, ... The
// files are not placed under sourcedata/ and no archive file is written.
func copySourceArchive(files []*model.DicomFile, finalPrefix string) ([]string, error) {
	destDir := finalPrefix
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, err
	}
	var out []string
	for i, f := range files {
		dest := filepath.Join(destDir, fmt.Sprintf("%04d.dcm", i+1))
		if err := hardlinkOrCopy(f.Path, dest); err != nil {
			return nil, err
		}
		out = append(out, dest)
	}
	return out, nil
}

func hardlinkOrCopy(src, dest string) error {
	if err := os.Link(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
