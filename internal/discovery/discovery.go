// Package discovery implements C1: resolving input templates/paths,
// descending directories, unpacking archives into scratch space, and
// enumerating candidate DICOM files.
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Request describes one (subject, session) discovery job.
type Request struct {
	Templates []string // with {subject} and optional {session} placeholders
	Subject   string
	Session   string // optional
	Paths     []string // explicit files/directories, used verbatim alongside Templates
	ScratchDir string
}

// ArchiveFailure records one archive that failed to extract; per spec.md
// §4.1, one failing archive must not abort discovery of the others.
type ArchiveFailure struct {
	Path string
	Err  error
}

// Result is what Discover returns: the flat list of candidate DICOM paths
// plus any archive extraction failures that were tolerated.
type Result struct {
	Files            []string
	ArchiveFailures  []ArchiveFailure
}

// expandTemplate substitutes {subject} and {session} in a template.
func expandTemplate(tmpl, subject, session string) string {
	out := strings.ReplaceAll(tmpl, "{subject}", subject)
	out = strings.ReplaceAll(out, "{session}", session)
	return out
}

// Discover resolves a Request into a flat list of candidate DICOM file
// paths, extracting any archive-like files it encounters into ScratchDir.
func Discover(req Request) (*Result, error) {
	if req.ScratchDir == "" {
		return nil, fmt.Errorf("discovery: ScratchDir is required")
	}
	if err := os.MkdirAll(req.ScratchDir, 0755); err != nil {
		return nil, fmt.Errorf("discovery: create scratch dir: %w", err)
	}

	var roots []string
	for _, tmpl := range req.Templates {
		roots = append(roots, expandTemplate(tmpl, req.Subject, req.Session))
	}
	roots = append(roots, req.Paths...)

	var candidates []string
	var archives []string
	for _, root := range roots {
		matches, err := filepath.Glob(root)
		if err != nil {
			logrus.Warnf("discovery: bad glob pattern %q: %v", root, err)
			continue
		}
		if len(matches) == 0 {
			if _, err := os.Stat(root); err == nil {
				matches = []string{root}
			}
		}
		for _, m := range matches {
			files, archs, err := walk(m)
			if err != nil {
				logrus.Warnf("discovery: failed to walk %s: %v", m, err)
				continue
			}
			candidates = append(candidates, files...)
			archives = append(archives, archs...)
		}
	}

	res := &Result{Files: candidates}
	if len(archives) == 0 {
		return res, nil
	}

	extracted, failures := extractAll(archives, req.ScratchDir)
	res.Files = append(res.Files, extracted...)
	res.ArchiveFailures = failures
	return res, nil
}

// walk descends a file or directory, splitting results into plain
// candidate files and archive-like files needing extraction.
func walk(root string) (files []string, archives []string, err error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, nil, err
	}
	if !info.IsDir() {
		if isArchive(root) {
			return nil, []string{root}, nil
		}
		return []string{root}, nil, nil
	}

	err = filepath.Walk(root, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if fi.IsDir() {
			return nil
		}
		if isArchive(path) {
			archives = append(archives, path)
			return nil
		}
		files = append(files, path)
		return nil
	})
	return files, archives, err
}

func isArchive(path string) bool {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return true
	case strings.HasSuffix(lower, ".tar"):
		return true
	case strings.HasSuffix(lower, ".zip"):
		return true
	}
	return false
}

// extractAll extracts each archive into its own subdirectory of
// scratchDir (keyed by archive basename, so entries from separate
// archives never collide), in parallel, isolating per-archive failures.
func extractAll(archives []string, scratchDir string) (files []string, failures []ArchiveFailure) {
	type outcome struct {
		files []string
		fail  *ArchiveFailure
	}
	outcomes := make([]outcome, len(archives))

	var g errgroup.Group
	for i, archivePath := range archives {
		i, archivePath := i, archivePath
		g.Go(func() error {
			dest := filepath.Join(scratchDir, archiveSubdir(archivePath, i))
			if err := os.MkdirAll(dest, 0755); err != nil {
				outcomes[i].fail = &ArchiveFailure{Path: archivePath, Err: err}
				return nil
			}
			extractedFiles, err := extractArchive(archivePath, dest)
			if err != nil {
				outcomes[i].fail = &ArchiveFailure{Path: archivePath, Err: err}
				return nil
			}
			outcomes[i].files = extractedFiles
			return nil
		})
	}
	_ = g.Wait() // per-archive failures are captured in outcomes, never aborts siblings

	for _, o := range outcomes {
		if o.fail != nil {
			failures = append(failures, *o.fail)
			logrus.Warnf("discovery: failed to extract archive %s: %v", o.fail.Path, o.fail.Err)
			continue
		}
		files = append(files, o.files...)
	}
	return files, failures
}

func archiveSubdir(archivePath string, index int) string {
	base := strings.TrimSuffix(filepath.Base(archivePath), filepath.Ext(archivePath))
	return fmt.Sprintf("%s_%d", base, index)
}
