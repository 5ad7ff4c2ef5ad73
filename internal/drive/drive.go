// Package drive defines the per-user cloud drive client used to browse folders
// and fetch file bytes for chat context.
package drive

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/jun/drivechat/internal/model"
)

// DefaultMaxDownloadBytes caps a single file download.
const DefaultMaxDownloadBytes int64 = 50 << 20

// Client browses and downloads files from one user's drive.
// This abstraction allows switching between providers (Microsoft Graph,
// Google Drive) without changing the chat pipeline.
type Client interface {
	// ListItems lists the children of folderID, or of the drive root when
	// folderID is empty. Only files and folders are returned. On failure it
	// returns an empty slice and an error wrapping ErrListFailed.
	ListItems(ctx context.Context, folderID string) ([]model.DriveItem, error)

	// DownloadContent returns the raw bytes of a file. When downloadURL is
	// empty it is resolved from the item's metadata using fileID.
	DownloadContent(ctx context.Context, fileID, downloadURL string) ([]byte, error)
}

// Provider builds a Client bound to a user's credentials.
type Provider interface {
	// Client returns a Client for the given user ID. Missing or unusable
	// credentials surface as *auth.AuthError.
	Client(ctx context.Context, userID string) (Client, error)
}

// Fetch GETs a pre-signed download URL. No credentials are attached; the URL
// itself authorizes the request.
func Fetch(ctx context.Context, client *http.Client, url string, maxBytes int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &DownloadError{Err: err}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &DownloadError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &DownloadError{StatusCode: resp.StatusCode}
	}
	return ReadLimited(resp.Body, maxBytes)
}

// ReadLimited reads r fully, failing with a *DownloadError once more than
// maxBytes have been read. A non-positive maxBytes means DefaultMaxDownloadBytes.
func ReadLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDownloadBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, &DownloadError{Err: fmt.Errorf("failed to read body: %w", err)}
	}
	if int64(len(data)) > maxBytes {
		return nil, &DownloadError{Err: fmt.Errorf("%w (limit %d bytes)", ErrTooLarge, maxBytes)}
	}
	return data, nil
}
