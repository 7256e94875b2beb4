package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/starford/postsync/internal/apperr"
	"github.com/starford/postsync/internal/models"
)

type contentEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	SHA         string `json:"sha"`
	Type        string `json:"type"`
	DownloadURL string `json:"download_url"`
	Content     string `json:"content"`
	Encoding    string `json:"encoding"`
}

func (e contentEntry) remoteFile() models.RemoteFile {
	return models.RemoteFile{
		Name:        e.Name,
		Path:        e.Path,
		SHA:         e.SHA,
		Type:        e.Type,
		DownloadURL: e.DownloadURL,
	}
}

func (c *Client) ref() url.Values {
	return url.Values{"ref": {c.cfg.Branch}}
}

// ListDirectory lists the entries of dir on the configured branch. A missing
// directory yields an empty listing.
func (c *Client) ListDirectory(ctx context.Context, dir string) ([]models.RemoteFile, error) {
	var raw json.RawMessage
	err := c.do(ctx, "list directory", http.MethodGet, []string{"contents", dir}, c.ref(), nil, &raw)
	if apperr.StatusOf(err) == http.StatusNotFound {
		return []models.RemoteFile{}, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []contentEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("remote: list directory: %w: %s is not a directory", apperr.ErrInvalidResponse, dir)
	}
	out := make([]models.RemoteFile, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.remoteFile())
	}
	return out, nil
}

// FetchFile returns the file at path with its decoded content.
func (c *Client) FetchFile(ctx context.Context, path string) (models.RemoteFile, error) {
	var e contentEntry
	if err := c.do(ctx, "fetch file", http.MethodGet, []string{"contents", path}, c.ref(), nil, &e); err != nil {
		return models.RemoteFile{}, err
	}
	if e.Type != "" && e.Type != "file" {
		return models.RemoteFile{}, fmt.Errorf("remote: fetch file: %w: %s is a %s", apperr.ErrInvalidResponse, path, e.Type)
	}
	content, err := decodeContent(e.Content, e.Encoding)
	if err != nil {
		return models.RemoteFile{}, fmt.Errorf("remote: fetch file %s: %w: %v", path, apperr.ErrInvalidResponse, err)
	}
	f := e.remoteFile()
	f.Content = content
	return f, nil
}

// FetchFileContent returns only the decoded content of the file at path.
func (c *Client) FetchFileContent(ctx context.Context, path string) (string, error) {
	f, err := c.FetchFile(ctx, path)
	if err != nil {
		return "", err
	}
	return f.Content, nil
}

// decodeContent decodes the base64 payload of the contents API, which wraps
// lines with newlines.
func decodeContent(content, encoding string) (string, error) {
	if encoding != "" && encoding != "base64" {
		return "", fmt.Errorf("unsupported encoding %q", encoding)
	}
	cleaned := strings.NewReplacer("\n", "", "\r", "").Replace(content)
	data, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
