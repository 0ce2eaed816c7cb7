// Package drive polls a cloud folder for new recording archives and feeds
// them into the pipeline, tracking which files have already been handled.
package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
)

// File is one archive in the watched folder.
type File struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client lists and downloads files from the watched folder. Implementations
// must be safe for use from the single watcher goroutine.
type Client interface {
	// List returns the folder's current non-trashed files.
	List(ctx context.Context) ([]File, error)

	// Download returns a file's raw content.
	Download(ctx context.Context, fileID string) ([]byte, error)
}

// defaultAPIBase is the Drive v3 REST endpoint.
const defaultAPIBase = "https://www.googleapis.com/drive/v3"

// RESTClient talks to the Drive v3 REST API with a bearer token read from
// the credentials file. The credentials file is JSON with an "access_token"
// field, issued out of band (service-account token broker or refresh
// sidecar); token acquisition is deliberately outside this process.
type RESTClient struct {
	// BaseURL overrides the API endpoint. Empty uses the public API.
	BaseURL string

	// HTTPClient overrides the transport. Nil uses http.DefaultClient.
	HTTPClient *http.Client

	folderID string
	token    string
}

var _ Client = (*RESTClient)(nil)

// NewRESTClient reads the bearer token from credentialsFile and returns a
// client scoped to folderID.
func NewRESTClient(folderID, credentialsFile string) (*RESTClient, error) {
	raw, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("drive: read credentials %q: %w", credentialsFile, err)
	}
	var creds struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("drive: parse credentials %q: %w", credentialsFile, err)
	}
	if creds.AccessToken == "" {
		return nil, fmt.Errorf("drive: credentials %q contain no access_token", credentialsFile)
	}
	return &RESTClient{folderID: folderID, token: creds.AccessToken}, nil
}

func (c *RESTClient) base() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return defaultAPIBase
}

func (c *RESTClient) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("drive: HTTP %d from %s", resp.StatusCode, rawURL)
	}
	return resp, nil
}

// List implements Client, following pagination until the folder is
// exhausted.
func (c *RESTClient) List(ctx context.Context) ([]File, error) {
	query := fmt.Sprintf("'%s' in parents and trashed = false", c.folderID)

	var files []File
	pageToken := ""
	for {
		params := url.Values{
			"q":        {query},
			"fields":   {"nextPageToken, files(id, name)"},
			"pageSize": {"100"},
		}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		resp, err := c.get(ctx, c.base()+"/files?"+params.Encode())
		if err != nil {
			return nil, fmt.Errorf("drive: list folder %s: %w", c.folderID, err)
		}

		var body struct {
			NextPageToken string `json:"nextPageToken"`
			Files         []File `json:"files"`
		}
		err = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("drive: decode file list: %w", err)
		}

		files = append(files, body.Files...)
		if body.NextPageToken == "" {
			return files, nil
		}
		pageToken = body.NextPageToken
	}
}

// Download implements Client.
func (c *RESTClient) Download(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := c.get(ctx, c.base()+"/files/"+url.PathEscape(fileID)+"?alt=media")
	if err != nil {
		return nil, fmt.Errorf("drive: download %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("drive: read %s: %w", fileID, err)
	}
	return data, nil
}
