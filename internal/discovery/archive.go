package discovery

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// extractArchive unpacks a tar, tar.gz/tgz, or zip file into dest,
// preserving entry file names, and returns the extracted file paths.
func extractArchive(path, dest string) ([]string, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return extractZip(path, dest)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return extractTar(path, dest, true)
	case strings.HasSuffix(lower, ".tar"):
		return extractTar(path, dest, false)
	default:
		return nil, fmt.Errorf("unrecognized archive type: %s", path)
	}
}

func extractTar(path, dest string, gzipped bool) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	tr := tar.NewReader(r)
	var out []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, fmt.Errorf("tar: %w", err)
		}
		if hdr.Typeflag == tar.TypeDir {
			continue
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return out, err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return out, err
		}
		outFile, err := os.Create(target)
		if err != nil {
			return out, err
		}
		if _, err := io.Copy(outFile, tr); err != nil {
			outFile.Close()
			return out, err
		}
		outFile.Close()
		out = append(out, target)
	}
	return out, nil
}

func extractZip(path, dest string) ([]string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("zip: %w", err)
	}
	defer zr.Close()

	var out []string
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		target, err := safeJoin(dest, entry.Name)
		if err != nil {
			return out, err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return out, err
		}
		rc, err := entry.Open()
		if err != nil {
			return out, err
		}
		outFile, err := os.Create(target)
		if err != nil {
			rc.Close()
			return out, err
		}
		if _, err := io.Copy(outFile, rc); err != nil {
			outFile.Close()
			rc.Close()
			return out, err
		}
		outFile.Close()
		rc.Close()
		out = append(out, target)
	}
	return out, nil
}

// safeJoin joins dest and name, rejecting entries that would escape dest
// (zip-slip / tar-slip).
func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, name)
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) && target != filepath.Clean(dest) {
		return "", fmt.Errorf("archive entry escapes destination: %s", name)
	}
	return target, nil
}
