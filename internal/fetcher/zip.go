package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ZIPOptions controls which archive members are extracted and where.
type ZIPOptions struct {
	// Keep lists lowercased file extensions (".csv", ".shp") to extract.
	// Empty keeps every member.
	Keep []string

	// Flatten drops member directories and extracts by base name, so nested
	// release folders do not leak into the data directory.
	Flatten bool
}

// ExtractZIP extracts the wanted members of a ZIP archive to the destination
// directory. Returns the list of extracted file paths.
func ExtractZIP(zipPath, destDir string, opts ZIPOptions) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	var extracted []string
	skipped := 0
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if !wantMember(f.Name, opts.Keep) {
			skipped++
			continue
		}
		path, err := extractZIPEntry(f, destDir, opts.Flatten)
		if err != nil {
			return extracted, err
		}
		extracted = append(extracted, path)
	}

	if skipped > 0 {
		zap.L().Debug("skipped archive members",
			zap.String("archive", zipPath),
			zap.Int("skipped", skipped),
		)
	}
	return extracted, nil
}

func wantMember(name string, keep []string) bool {
	if len(keep) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, k := range keep {
		if ext == k {
			return true
		}
	}
	return false
}

// extractZIPEntry extracts a single zip.File to the destination directory.
func extractZIPEntry(f *zip.File, destDir string, flatten bool) (string, error) {
	name := f.Name
	if flatten {
		name = filepath.Base(filepath.ToSlash(name))
	}

	// Sanitize against zip slip
	destPath := filepath.Join(destDir, name)
	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("zip: illegal path %q (zip slip attempt)", f.Name)
	}

	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", eris.Wrap(err, "zip: create parent directory")
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrap(err, "zip: open entry")
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return "", eris.Wrap(err, "zip: create file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, rc); err != nil {
		return "", eris.Wrap(err, "zip: write file")
	}

	return destPath, nil
}
