// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes mdview tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/mdview/internal/history"
	"github.com/starford/mdview/internal/session"
)

const (
	tagFormatURI = "mdview://tag-format"

	settlePoll    = 25 * time.Millisecond
	settleTimeout = 2 * time.Minute
)

// RecentLister lists recently opened documents. *history.DB satisfies it.
type RecentLister interface {
	Recent(ctx context.Context, limit int) ([]history.Document, error)
}

// Server wraps the MCP server with mdview tools.
type Server struct {
	mcp  *server.MCPServer
	sess *session.Session
	hist RecentLister
}

// New creates a new MCP server with all mdview tools registered. hist may be nil.
func New(sess *session.Session, hist RecentLister) *Server {
	s := &Server{sess: sess, hist: hist}

	s.mcp = server.NewMCPServer(
		"mdview",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("open_document",
		mcp.WithDescription("Open a Markdown (.md) file and make it the current document. "+
			"Waits until the file is rendered and returns the status line."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path to the .md file")),
	), s.openDocument)

	s.mcp.AddTool(mcp.NewTool("status",
		mcp.WithDescription("Current document, status line and whether a load or conversion is running."),
	), s.status)

	s.mcp.AddTool(mcp.NewTool("list_tags",
		mcp.WithDescription("List every tag of every document, one listing line per tag. "+
			"Lines can be passed to jump_to_tag unchanged."),
	), s.listTags)

	s.mcp.AddTool(mcp.NewTool("add_tag",
		mcp.WithDescription("Tag a scroll position in the current document."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Tag name")),
		mcp.WithNumber("position", mcp.Required(), mcp.Description("Scroll offset in pixels, >= 0")),
	), s.addTag)

	s.mcp.AddTool(mcp.NewTool("delete_tag",
		mcp.WithDescription("Delete the first tag with the given name from the current document."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Tag name")),
	), s.deleteTag)

	s.mcp.AddTool(mcp.NewTool("jump_to_tag",
		mcp.WithDescription("Scroll the view to the position in a tag listing line."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Listing line, e.g. \"readme.md: intro (位置: 420)\"")),
	), s.jumpToTag)

	s.mcp.AddTool(mcp.NewTool("convert_document",
		mcp.WithDescription("Convert the current document with pandoc and wait for the result."),
		mcp.WithString("format", mcp.Required(), mcp.Enum("docx", "html"), mcp.Description("Target format")),
		mcp.WithString("output", mcp.Description("Output path; defaults to the source name with the new extension")),
	), s.convertDocument)

	s.mcp.AddTool(mcp.NewTool("recent_documents",
		mcp.WithDescription("Recently opened documents, newest first."),
		mcp.WithNumber("limit", mcp.Description("Max results (default 20)")),
	), s.recentDocuments)

	s.mcp.AddTool(mcp.NewTool("get_tag_format",
		mcp.WithDescription("Returns the tag file format and the listing text accepted by jump_to_tag."),
	), s.getTagFormat)

	// Resource: tag format contract.
	s.mcp.AddResource(
		mcp.NewResource(tagFormatURI, "Tag Format",
			mcp.WithResourceDescription("How mdview stores tags and renders tag listings."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readTagFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// settle waits until task id has finished and returns its result. Other
// tasks finishing meanwhile do not affect it.
func (s *Server) settle(ctx context.Context, id uuid.UUID) (session.TaskResult, error) {
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()
	ticker := time.NewTicker(settlePoll)
	defer ticker.Stop()
	for {
		res, done, err := s.sess.Result(ctx, id)
		if err != nil {
			return res, err
		}
		if done {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-ticker.C:
		}
	}
}

// finished turns a task result into the tool result.
func finished(res session.TaskResult) *mcp.CallToolResult {
	if res.Failed {
		return mcp.NewToolResultError(res.Text)
	}
	return mcp.NewToolResultText(res.Text)
}

func (s *Server) openDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := s.sess.Open(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.settle(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return finished(res), nil
}

func (s *Server) status(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := s.sess.Snapshot(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(snap, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listTags(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	listings, err := s.sess.Tags(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(listings) == 0 {
		return mcp.NewToolResultText("no tags"), nil
	}
	lines := make([]string, 0, len(listings))
	for _, l := range listings {
		lines = append(lines, l.Display())
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) addTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pos, err := req.RequireFloat("position")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	added, err := s.sess.AddTag(ctx, name, int(math.Round(pos)))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !added {
		return mcp.NewToolResultText(fmt.Sprintf("tag %q already exists", name)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("added: %s", name)), nil
}

func (s *Server) deleteTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.sess.DeleteTag(ctx, name); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", name)), nil
}

func (s *Server) jumpToTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pos, err := s.sess.Jump(ctx, text)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("position: %d", pos)), nil
}

func (s *Server) convertDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	output := ""
	if v, oErr := req.RequireString("output"); oErr == nil {
		output = v
	}
	id, err := s.sess.Convert(ctx, format, output)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.settle(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return finished(res), nil
}

func (s *Server) recentDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.hist == nil {
		return mcp.NewToolResultError("history disabled"), nil
	}
	limit := 0
	if v, lErr := req.RequireFloat("limit"); lErr == nil {
		limit = int(v)
	}
	docs, err := s.hist.Recent(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(docs) == 0 {
		return mcp.NewToolResultText("no documents opened yet"), nil
	}
	out, _ := json.MarshalIndent(docs, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getTagFormat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(TagFormatContract), nil
}

func (s *Server) readTagFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      tagFormatURI,
			MIMEType: "text/markdown",
			Text:     TagFormatContract,
		},
	}, nil
}
