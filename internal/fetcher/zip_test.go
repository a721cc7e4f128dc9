package fetcher

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestZIP(t *testing.T, files map[string]string) string {
	t.Helper()
	zipPath := filepath.Join(t.TempDir(), "test.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	w := zip.NewWriter(f)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return zipPath
}

func TestExtractZIP_AllMembers(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"file1.txt": "content one",
		"file2.txt": "content two",
		"file3.csv": "a;b;c",
	})

	destDir := t.TempDir()
	extracted, err := ExtractZIP(zipPath, destDir, ZIPOptions{})
	require.NoError(t, err)
	assert.Len(t, extracted, 3)

	data, err := os.ReadFile(filepath.Join(destDir, "file1.txt"))
	require.NoError(t, err)
	assert.Equal(t, "content one", string(data))
}

func TestExtractZIP_KeepFilter(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"boundaries.shp": "shapes",
		"boundaries.dbf": "attributes",
		"boundaries.shx": "index",
		"boundaries.prj": "projection",
		"liesmich.pdf":   "documentation",
		"metadata.xml":   "<meta/>",
	})

	destDir := t.TempDir()
	extracted, err := ExtractZIP(zipPath, destDir, ZIPOptions{
		Keep: []string{".shp", ".dbf", ".shx", ".prj"},
	})
	require.NoError(t, err)
	assert.Len(t, extracted, 4)

	_, err = os.Stat(filepath.Join(destDir, "liesmich.pdf"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(destDir, "boundaries.shp"))
	assert.NoError(t, err)
}

func TestExtractZIP_KeepFilterIgnoresCase(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"REGISTRY.CSV": "a;b",
	})

	destDir := t.TempDir()
	extracted, err := ExtractZIP(zipPath, destDir, ZIPOptions{Keep: []string{".csv"}})
	require.NoError(t, err)
	assert.Len(t, extracted, 1)
}

func TestExtractZIP_Flatten(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"release_2025-01/data/boundaries.shp": "shapes",
		"release_2025-01/data/boundaries.dbf": "attributes",
	})

	destDir := t.TempDir()
	extracted, err := ExtractZIP(zipPath, destDir, ZIPOptions{Flatten: true})
	require.NoError(t, err)
	require.Len(t, extracted, 2)

	data, err := os.ReadFile(filepath.Join(destDir, "boundaries.shp"))
	require.NoError(t, err)
	assert.Equal(t, "shapes", string(data))

	_, err = os.Stat(filepath.Join(destDir, "release_2025-01"))
	assert.True(t, os.IsNotExist(err))
}

func TestExtractZIP_PreservesSubdirectories(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"sub/dir/file.txt": "nested",
	})

	destDir := t.TempDir()
	extracted, err := ExtractZIP(zipPath, destDir, ZIPOptions{})
	require.NoError(t, err)
	require.Len(t, extracted, 1)

	data, err := os.ReadFile(filepath.Join(destDir, "sub", "dir", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "nested", string(data))
}

func TestExtractZIP_ZipSlipPrevention(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"../evil.txt": "pwned",
	})

	destDir := filepath.Join(t.TempDir(), "dest")
	require.NoError(t, os.MkdirAll(destDir, 0o755))

	_, err := ExtractZIP(zipPath, destDir, ZIPOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal path")

	_, statErr := os.Stat(filepath.Join(filepath.Dir(destDir), "evil.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtractZIP_SkipsDirectoryEntries(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "dirs.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	_, err = w.Create("empty-dir/")
	require.NoError(t, err)
	fw, err := w.Create("empty-dir/file.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	destDir := t.TempDir()
	extracted, err := ExtractZIP(zipPath, destDir, ZIPOptions{})
	require.NoError(t, err)
	assert.Len(t, extracted, 1)
}

func TestExtractZIP_InvalidArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-zip.zip")
	require.NoError(t, writeTestFile(path, "this is not a zip archive"))

	_, err := ExtractZIP(path, t.TempDir(), ZIPOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open archive")
}
