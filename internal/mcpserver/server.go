// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes postsync tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/postsync/internal/apperr"
	"github.com/starford/postsync/internal/media"
	"github.com/starford/postsync/internal/models"
	"github.com/starford/postsync/internal/parser"
	"github.com/starford/postsync/internal/postservice"
	"github.com/starford/postsync/internal/storage"
	"github.com/starford/postsync/internal/sync"
)

const formatURI = "postsync://post-format"

// Server wraps the MCP server with postsync tools.
type Server struct {
	mcp     *server.MCPServer
	svc     *postservice.Service
	media   storage.Provider
	fetcher *media.Fetcher
}

// New creates a new MCP server with all tools registered. mediaFiles may be
// nil, in which case upload_image is not offered.
func New(svc *postservice.Service, mediaFiles storage.Provider) *Server {
	s := &Server{svc: svc, media: mediaFiles, fetcher: media.NewFetcher()}

	s.mcp = server.NewMCPServer(
		"postsync",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List local documents, most recently updated first."),
		mcp.WithString("kind", mcp.Description("Optional filter: draft or published (empty for all)")),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("read_document",
		mcp.WithDescription("Read a document as a post file (front matter and body)."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id as returned by list_documents")),
	), s.readDocument)

	s.mcp.AddTool(mcp.NewTool("search_documents",
		mcp.WithDescription("Full-text search through document titles, bodies and tags."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchDocuments)

	s.mcp.AddTool(mcp.NewTool("create_draft",
		mcp.WithDescription("Create a local draft. Drafts stay on this device until published. "+
			"Read the post format first via get_post_format or the "+formatURI+" resource."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Post title; also decides the remote file name")),
		mcp.WithString("body", mcp.Required(), mcp.Description("Markdown body without front matter")),
		mcp.WithString("summary", mcp.Description("One-line summary")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags")),
		mcp.WithString("date", mcp.Description("Publication date, YYYY-MM-DD")),
		mcp.WithBoolean("archived", mcp.Description("Hide the post from the site once published (front matter draft flag)")),
	), s.createDraft)

	s.mcp.AddTool(mcp.NewTool("sync_posts",
		mcp.WithDescription("Reconcile local posts with the remote repository. "+
			"Recently edited posts missing remotely are kept unless force_delete is set."),
		mcp.WithBoolean("force_delete", mcp.Description("Delete posts missing remotely even if edited in the last 24h")),
		mcp.WithBoolean("dry_run", mcp.Description("Report planned changes without applying them")),
	), s.syncPosts)

	s.mcp.AddTool(mcp.NewTool("publish_document",
		mcp.WithDescription("Publish a document and its local images to the remote branch as one commit."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
		mcp.WithString("message", mcp.Description("Commit message (default: Publish <title>)")),
	), s.publishDocument)

	s.mcp.AddTool(mcp.NewTool("get_post_format",
		mcp.WithDescription("Returns the post file format. "+
			"Call this before creating drafts to ensure correct structure."),
	), s.getPostFormat)

	if mediaFiles != nil {
		s.mcp.AddTool(mcp.NewTool("upload_image",
			mcp.WithDescription("Store an image for use in a draft. Accepts an http(s) URL or a base64 data URI. "+
				"Returns markdownImage, ready to paste into the draft body."),
			mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:image/...;base64,... URI")),
			mcp.WithString("filename", mcp.Description("Optional file name, e.g. cat.png")),
		), s.uploadImage)
	}

	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Post Format",
			mcp.WithResourceDescription("Post file format that every draft and published post follows."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readPostFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

type documentSummary struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Draft    bool     `json:"draft"`
	Archived bool     `json:"archived"`
	File     string   `json:"file,omitempty"`
	Tags     []string `json:"tags"`
	Updated  string   `json:"updated"`
}

func summarize(d models.Document) documentSummary {
	return documentSummary{
		ID:       d.ID,
		Title:    d.Title,
		Draft:    d.IsDraftLocal,
		Archived: d.Archived,
		File:     d.Origin(),
		Tags:     d.Tags,
		Updated:  d.UpdatedAt.Format("2006-01-02 15:04"),
	}
}

func (s *Server) listDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docs, err := s.svc.List(ctx, req.GetString("kind", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := make([]documentSummary, len(docs))
	for i, d := range docs {
		out[i] = summarize(d)
	}
	return jsonResult(out), nil
}

func (s *Server) readDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.svc.Get(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(parser.Serialize(doc.Metadata, doc.Body))), nil
}

func (s *Server) searchDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results), nil
}

func (s *Server) createDraft(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body, err := req.RequireString("body")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	in := postservice.DraftInput{
		Title:   title,
		Body:    body,
		Summary: req.GetString("summary", ""),
		Date:    req.GetString("date", ""),
		Tags:    strings.Split(req.GetString("tags", ""), ","),
	}
	if v, ok := req.GetArguments()["archived"].(bool); ok {
		in.Archived = &v
	}
	doc, err := s.svc.CreateDraft(ctx, in)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created draft %s", doc.ID)), nil
}

type syncOutput struct {
	Summary   string                 `json:"summary"`
	New       []string               `json:"new,omitempty"`
	Updated   []string               `json:"updated,omitempty"`
	Deleted   []string               `json:"deleted,omitempty"`
	Protected []string               `json:"protected,omitempty"`
	Errors    []string               `json:"errors,omitempty"`
	Warnings  []string               `json:"warnings,omitempty"`
	Planned   []models.PlannedAction `json:"planned,omitempty"`
}

func titles(docs []models.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Title)
	}
	return out
}

func (s *Server) syncPosts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.svc.Sync(ctx, sync.Options{
		Force:  req.GetBool("force_delete", false),
		DryRun: req.GetBool("dry_run", false),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(syncOutput{
		Summary:   res.Summary(),
		New:       titles(res.NewPosts()),
		Updated:   titles(res.UpdatedPosts()),
		Deleted:   titles(res.DeletedPosts()),
		Protected: res.Protected(),
		Errors:    res.Errors(),
		Warnings:  res.Warnings(),
		Planned:   res.Planned(),
	}), nil
}

func (s *Server) publishDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Publish(ctx, id, req.GetString("message", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"id":            res.Document.ID,
		"path":          res.Path,
		"commit":        res.CommitSHA,
		"images":        res.Images,
		"disambiguated": res.Disambiguated,
		"warnings":      res.Warnings,
		"image_errors":  res.ImageErrors,
	}), nil
}

func (s *Server) getPostFormat(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(PostFormat), nil
}

func (s *Server) readPostFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     PostFormat,
		},
	}, nil
}
