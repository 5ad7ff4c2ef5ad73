// Package googledrive implements drive.Client for Google Drive.
package googledrive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jun/drivechat/internal/drive"
	"github.com/jun/drivechat/internal/model"
	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	folderMIME   = "application/vnd.google-apps.folder"
	shortcutMIME = "application/vnd.google-apps.shortcut"
	nativePrefix = "application/vnd.google-apps."
)

// exportMIME maps Google-native document types to the format they are
// exported as. Native types not listed here cannot be downloaded.
var exportMIME = map[string]string{
	"application/vnd.google-apps.document":     "text/plain",
	"application/vnd.google-apps.spreadsheet":  "text/csv",
	"application/vnd.google-apps.presentation": "text/plain",
}

// DriveAdapter implements drive.Client for Google Drive.
type DriveAdapter struct {
	service  *gdrive.Service
	maxBytes int64
}

// NewDriveAdapter creates a new DriveAdapter. opts must carry the user's
// credentials, e.g. option.WithTokenSource.
func NewDriveAdapter(ctx context.Context, maxBytes int64, opts ...option.ClientOption) (*DriveAdapter, error) {
	srv, err := gdrive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Drive client: %w", err)
	}
	return &DriveAdapter{service: srv, maxBytes: maxBytes}, nil
}

// ListItems lists files and folders in a folder ("root" when empty).
func (d *DriveAdapter) ListItems(ctx context.Context, folderID string) ([]model.DriveItem, error) {
	if folderID == "" {
		folderID = "root"
	}

	q := fmt.Sprintf("'%s' in parents and trashed = false", strings.ReplaceAll(folderID, "'", `\'`))
	fields := googleapi.Field("nextPageToken, files(id, name, mimeType, webViewLink)")

	items := []model.DriveItem{}
	err := d.service.Files.List().
		Q(q).
		Fields(fields).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Pages(ctx, func(r *gdrive.FileList) error {
			for _, f := range r.Files {
				switch f.MimeType {
				case folderMIME:
					items = append(items, model.DriveItem{Name: f.Name, ID: f.Id, WebURL: f.WebViewLink, Kind: model.KindFolder})
				case shortcutMIME:
					continue
				default:
					items = append(items, model.DriveItem{Name: f.Name, ID: f.Id, WebURL: f.WebViewLink, Kind: model.KindFile})
				}
			}
			return nil
		})
	if err != nil {
		return []model.DriveItem{}, fmt.Errorf("%w: %v", drive.ErrListFailed, err)
	}
	return items, nil
}

// DownloadContent downloads a file by ID, exporting Google-native documents.
// Without an ID, a supplied download URL is fetched directly.
func (d *DriveAdapter) DownloadContent(ctx context.Context, fileID, downloadURL string) ([]byte, error) {
	if fileID == "" {
		if downloadURL == "" {
			return nil, drive.ErrNotFound
		}
		return drive.Fetch(ctx, http.DefaultClient, downloadURL, d.maxBytes)
	}

	f, err := d.service.Files.Get(fileID).
		SupportsAllDrives(true).
		Fields("id, name, mimeType").
		Context(ctx).
		Do()
	if err != nil {
		if isNotFound(err) {
			return nil, drive.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", drive.ErrNotFound, err)
	}

	var resp *http.Response
	switch {
	case f.MimeType == folderMIME:
		return nil, drive.ErrNotFound
	case strings.HasPrefix(f.MimeType, nativePrefix):
		target, ok := exportMIME[f.MimeType]
		if !ok {
			return nil, &drive.DownloadError{Err: fmt.Errorf("google type %s cannot be exported", f.MimeType)}
		}
		resp, err = d.service.Files.Export(fileID, target).Context(ctx).Download()
	default:
		resp, err = d.service.Files.Get(fileID).SupportsAllDrives(true).Context(ctx).Download()
	}
	if err != nil {
		var gErr *googleapi.Error
		if errors.As(err, &gErr) {
			return nil, &drive.DownloadError{StatusCode: gErr.Code, Err: err}
		}
		return nil, &drive.DownloadError{Err: err}
	}
	defer resp.Body.Close()

	return drive.ReadLimited(resp.Body, d.maxBytes)
}

func isNotFound(err error) bool {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code == http.StatusNotFound
	}
	return false
}
