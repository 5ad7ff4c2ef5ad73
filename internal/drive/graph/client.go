// Package graph implements drive.Client over the Microsoft Graph REST API
// (OneDrive and SharePoint document libraries).
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jun/drivechat/internal/drive"
	"github.com/jun/drivechat/internal/model"
)

// DefaultBaseURL is the Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// driveItem is the subset of the Graph driveItem resource we read.
// Exactly one of Folder or File is set for ordinary items.
type driveItem struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	WebURL      string    `json:"webUrl"`
	DownloadURL string    `json:"@microsoft.graph.downloadUrl"`
	Folder      *struct{} `json:"folder,omitempty"`
	File        *struct {
		MimeType string `json:"mimeType"`
	} `json:"file,omitempty"`
}

type driveItemList struct {
	Value    []driveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

// Client talks to Graph with a fixed bearer token. Build one per request via Provider.
type Client struct {
	accessToken    string
	baseURL        string
	httpClient     *http.Client
	downloadClient *http.Client
	maxBytes       int64
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides DefaultBaseURL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient sets the client used for both API calls and downloads.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
		c.downloadClient = hc
	}
}

// WithMaxDownloadBytes caps the size of a single download.
func WithMaxDownloadBytes(n int64) Option {
	return func(c *Client) { c.maxBytes = n }
}

// NewClient creates a Graph client authorized with accessToken.
func NewClient(accessToken string, opts ...Option) *Client {
	c := &Client{
		accessToken:    accessToken,
		baseURL:        DefaultBaseURL,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		downloadClient: &http.Client{Timeout: 5 * time.Minute},
		maxBytes:       drive.DefaultMaxDownloadBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) get(ctx context.Context, u string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

// ListItems lists a folder, following @odata.nextLink until exhausted.
func (c *Client) ListItems(ctx context.Context, folderID string) ([]model.DriveItem, error) {
	next := c.baseURL + "/me/drive/root/children"
	if folderID != "" {
		next = c.baseURL + "/me/drive/items/" + url.PathEscape(folderID) + "/children"
	}

	items := []model.DriveItem{}
	for next != "" {
		var page driveItemList
		status, err := c.get(ctx, next, &page)
		if err != nil {
			return []model.DriveItem{}, fmt.Errorf("%w: %v", drive.ErrListFailed, err)
		}
		if status != http.StatusOK {
			return []model.DriveItem{}, fmt.Errorf("%w: status %d", drive.ErrListFailed, status)
		}

		for _, it := range page.Value {
			switch {
			case it.Folder != nil:
				items = append(items, model.DriveItem{
					Name:   it.Name,
					ID:     it.ID,
					WebURL: it.WebURL,
					Kind:   model.KindFolder,
				})
			case it.File != nil:
				items = append(items, model.DriveItem{
					Name:        it.Name,
					ID:          it.ID,
					WebURL:      it.WebURL,
					DownloadURL: it.DownloadURL,
					Kind:        model.KindFile,
				})
			}
		}
		next = page.NextLink
	}
	return items, nil
}

// DownloadContent fetches file bytes through the item's pre-signed download URL.
func (c *Client) DownloadContent(ctx context.Context, fileID, downloadURL string) ([]byte, error) {
	if downloadURL == "" {
		if fileID == "" {
			return nil, drive.ErrNotFound
		}
		var it driveItem
		status, err := c.get(ctx, c.baseURL+"/me/drive/items/"+url.PathEscape(fileID), &it)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", drive.ErrNotFound, err)
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("%w: metadata status %d", drive.ErrNotFound, status)
		}
		if it.DownloadURL == "" {
			return nil, drive.ErrNotFound
		}
		downloadURL = it.DownloadURL
	}

	return drive.Fetch(ctx, c.downloadClient, downloadURL, c.maxBytes)
}
