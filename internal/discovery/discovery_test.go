package discovery

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTar(t *testing.T, path string, names []string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	tw := tar.NewWriter(f)
	for _, name := range names {
		content := []byte("dicom-bytes-" + name)
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(content)), Mode: 0644}))
		_, err := tw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
}

func writeTarGz(t *testing.T, path string, names []string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, name := range names {
		content := []byte("dicom-bytes-" + name)
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(content)), Mode: 0644}))
		_, err := tw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
}

func writeZip(t *testing.T, path string, names []string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte("dicom-bytes-" + name))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func TestDiscover_PlainDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "img1.dcm"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "img2.dcm"), []byte("x"), 0644))

	res, err := Discover(Request{
		Paths:      []string{dir},
		ScratchDir: filepath.Join(dir, "scratch"),
	})
	require.NoError(t, err)
	assert.Len(t, res.Files, 2)
}

func TestDiscover_ExtractsTarGzAndZip(t *testing.T) {
	dir := t.TempDir()
	writeTar(t, filepath.Join(dir, "a.tar"), []string{"001.dcm", "002.dcm"})
	writeTarGz(t, filepath.Join(dir, "b.tar.gz"), []string{"001.dcm"}) // same entry name as a.tar
	writeZip(t, filepath.Join(dir, "c.zip"), []string{"001.dcm"})

	res, err := Discover(Request{
		Paths:      []string{dir},
		ScratchDir: filepath.Join(dir, "scratch"),
	})
	require.NoError(t, err)
	assert.Empty(t, res.ArchiveFailures)
	assert.Len(t, res.Files, 4) // 2 + 1 + 1, no collisions across archives

	seen := map[string]bool{}
	for _, f := range res.Files {
		assert.False(t, seen[f], "duplicate extracted path %s", f)
		seen[f] = true
	}
}

func TestDiscover_OneBadArchiveDoesNotAbortOthers(t *testing.T) {
	dir := t.TempDir()
	writeTar(t, filepath.Join(dir, "good.tar"), []string{"001.dcm"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.zip"), []byte("not a zip"), 0644))

	res, err := Discover(Request{
		Paths:      []string{dir},
		ScratchDir: filepath.Join(dir, "scratch"),
	})
	require.NoError(t, err)
	assert.Len(t, res.ArchiveFailures, 1)
	assert.Equal(t, "bad.zip", filepath.Base(res.ArchiveFailures[0].Path))
	assert.Len(t, res.Files, 1)
}

func TestSafeJoin_RejectsEscape(t *testing.T) {
	_, err := safeJoin("/tmp/scratch", "../../etc/passwd")
	assert.Error(t, err)
}

func TestExtractZip_EmptyBufferIsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.zip")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0}, 4), 0644))
	_, err := extractArchive(path, t.TempDir())
	assert.Error(t, err)
}
