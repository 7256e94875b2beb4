package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/postsync/internal/media"
)

const imageDir = "uploads"

type uploadResult struct {
	SavedPath     string `json:"savedPath"`
	MarkdownImage string `json:"markdownImage"`
}

func (s *Server) uploadImage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawURL, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	filename := req.GetString("filename", "")

	var data []byte
	var detectedExt string
	if strings.HasPrefix(rawURL, "data:") {
		data, detectedExt, err = media.DecodeDataURI(rawURL)
	} else {
		data, detectedExt, err = s.fetcher.Fetch(ctx, rawURL)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if filename == "" {
		filename = filenameFromURL(rawURL, detectedExt)
	}
	if path.Ext(filename) == "" && detectedExt != "" {
		filename += detectedExt
	}
	if err := media.Validate(filename, data); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	savePath := path.Join(imageDir, media.SanitizeBase(filename)+strings.ToLower(path.Ext(filename)))
	exists, err := s.media.Exists(savePath)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if exists {
		return mcp.NewToolResultError(fmt.Sprintf("file already exists: %s", savePath)), nil
	}
	if err := s.media.Write(savePath, data); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to save image: %v", err)), nil
	}

	out, _ := json.Marshal(uploadResult{
		SavedPath:     savePath,
		MarkdownImage: fmt.Sprintf("![%s](%s)", media.SanitizeBase(filename), savePath),
	})
	return mcp.NewToolResultText(string(out)), nil
}

// filenameFromURL tries to extract a filename from a URL, falling back to UUID.
func filenameFromURL(rawURL string, fallbackExt string) string {
	if !strings.HasPrefix(rawURL, "data:") {
		if parsed, err := url.Parse(rawURL); err == nil {
			base := path.Base(parsed.Path)
			if base != "" && base != "." && base != "/" && strings.Contains(base, ".") {
				return base
			}
		}
	}
	ext := fallbackExt
	if ext == "" {
		ext = ".bin"
	}
	return uuid.NewString() + ext
}
