package fetcher

import (
	"context"
	"io"
)

// Fetcher defines the interface for downloading remote datasets.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)

	// SyncFile downloads the URL into path unless the validator stored in the
	// sidecar file still matches the remote copy. Returns true when a new copy
	// was written.
	SyncFile(ctx context.Context, url string, path string) (bool, error)
}
