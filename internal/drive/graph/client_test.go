package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jun/drivechat/internal/drive"
	"github.com/jun/drivechat/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGraph(t *testing.T, h http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, NewClient("tok", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
}

func TestListItems_RootMapsFilesAndFolders(t *testing.T) {
	_, c := newGraph(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/drive/root/children", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"value":[
			{"id":"f1","name":"Reports","webUrl":"https://x/Reports","folder":{"childCount":2}},
			{"id":"d1","name":"plan.docx","webUrl":"https://x/plan.docx","file":{"mimeType":"application/vnd.openxmlformats-officedocument.wordprocessingml.document"},"@microsoft.graph.downloadUrl":"https://dl/plan"},
			{"id":"p1","name":"Notebook","package":{"type":"oneNote"}}
		]}`)
	})

	items, err := c.ListItems(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []model.DriveItem{
		{Name: "Reports", ID: "f1", WebURL: "https://x/Reports", Kind: model.KindFolder},
		{Name: "plan.docx", ID: "d1", WebURL: "https://x/plan.docx", DownloadURL: "https://dl/plan", Kind: model.KindFile},
	}, items)
}

func TestListItems_Folder(t *testing.T) {
	_, c := newGraph(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/drive/items/ABC!123/children", r.URL.Path)
		fmt.Fprint(w, `{"value":[]}`)
	})

	items, err := c.ListItems(context.Background(), "ABC!123")
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestListItems_OnlyOtherKindsIsEmptySuccess(t *testing.T) {
	_, c := newGraph(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":[{"id":"n1","name":"Notebook","package":{"type":"oneNote"}},{"id":"r1","name":"shared","remoteItem":{"id":"x"}}]}`)
	})

	items, err := c.ListItems(context.Background(), "")
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestListItems_FailureIsDistinguishable(t *testing.T) {
	_, c := newGraph(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":"accessDenied"}}`)
	})

	items, err := c.ListItems(context.Background(), "")
	assert.ErrorIs(t, err, drive.ErrListFailed)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestListItems_FollowsNextLink(t *testing.T) {
	var srv *httptest.Server
	srv, c := newGraph(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("$skiptoken") == "" {
			fmt.Fprintf(w, `{"value":[{"id":"a","name":"a.txt","file":{}}],"@odata.nextLink":"%s/me/drive/root/children?$skiptoken=2"}`, srv.URL)
			return
		}
		fmt.Fprint(w, `{"value":[{"id":"b","name":"b.txt","file":{}}]}`)
	})

	items, err := c.ListItems(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, "b", items[1].ID)
}

func TestDownloadContent_DirectURLHasNoBearer(t *testing.T) {
	_, c := newGraph(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/download/xyz", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte("hello"))
	})

	data, err := c.DownloadContent(context.Background(), "", c.baseURL+"/download/xyz")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestDownloadContent_ResolvesURLFromMetadata(t *testing.T) {
	var srv *httptest.Server
	srv, c := newGraph(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/me/drive/items/item-1":
			fmt.Fprintf(w, `{"id":"item-1","name":"a.txt","file":{},"@microsoft.graph.downloadUrl":"%s/blob/item-1"}`, srv.URL)
		case "/blob/item-1":
			w.Write([]byte("payload"))
		default:
			http.NotFound(w, r)
		}
	})

	data, err := c.DownloadContent(context.Background(), "item-1", "")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestDownloadContent_NotFound(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		fileID  string
	}{
		{"no id and no url", func(w http.ResponseWriter, r *http.Request) { t.Error("unexpected request") }, ""},
		{"metadata 404", func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) }, "missing"},
		{"folder without url", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"id":"f","name":"dir","folder":{}}`)
		}, "f"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, c := newGraph(t, tt.handler)
			_, err := c.DownloadContent(context.Background(), tt.fileID, "")
			assert.ErrorIs(t, err, drive.ErrNotFound)
		})
	}
}

func TestDownloadContent_Non200IsDownloadError(t *testing.T) {
	_, c := newGraph(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := c.DownloadContent(context.Background(), "", c.baseURL+"/blob")
	var dlErr *drive.DownloadError
	require.True(t, errors.As(err, &dlErr))
	assert.Equal(t, http.StatusForbidden, dlErr.StatusCode)
}

func TestDownloadContent_SizeCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 11)))
	}))
	defer srv.Close()
	c := NewClient("tok", WithHTTPClient(srv.Client()), WithMaxDownloadBytes(10))

	_, err := c.DownloadContent(context.Background(), "", srv.URL)
	assert.ErrorIs(t, err, drive.ErrTooLarge)
	var dlErr *drive.DownloadError
	assert.ErrorAs(t, err, &dlErr)
}

type stubTokens struct {
	token string
	err   error
}

func (s stubTokens) ValidTokenForUser(context.Context, string) (string, error) {
	return s.token, s.err
}

func TestProvider_Client(t *testing.T) {
	_, err := NewProvider(stubTokens{err: errors.New("not linked")}).Client(context.Background(), "u")
	assert.EqualError(t, err, "not linked")

	c, err := NewProvider(stubTokens{token: "abc"}).Client(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, "abc", c.(*Client).accessToken)
}
