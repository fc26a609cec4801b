package domreplay

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/domreplay/kit"
)

// RegisterMCP registers the domreplay tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerRecordingTool(srv)
	s.registerSnapshotTool(srv)
	s.registerPaintIndexTool(srv)
}

var tabProperty = map[string]any{"type": "integer", "description": "Recorded tab id"}

// --- recording ---

type recordingReq struct {
	Tab int `json:"tab"`
}

func (s *Service) registerRecordingTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domreplay_recording",
		Description: "Summarize the recording of a tab: its documents, paint count and time span.",
		InputSchema: kit.InputSchema(map[string]any{"tab": tabProperty}, "tab"),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.Summary(ctx, req.(*recordingReq).Tab)
	}
	kit.RegisterMCPTool(srv, tool, kit.Logging(s.logger, tool.Name)(endpoint), kit.DecodeArgs[recordingReq]())
}

// --- snapshot ---

type snapshotReq struct {
	Tab    int    `json:"tab"`
	Paint  *int   `json:"paint"`
	Format string `json:"format"`
}

func (s *Service) registerSnapshotTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domreplay_snapshot",
		Description: "Rebuild the page of a tab as it was after a paint, as sanitized HTML or markdown.",
		InputSchema: kit.InputSchema(map[string]any{
			"tab":    tabProperty,
			"paint":  map[string]any{"type": "integer", "description": "Paint index; the last paint when omitted"},
			"format": map[string]any{"type": "string", "enum": []string{FormatHTML, FormatMarkdown}},
		}, "tab"),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*snapshotReq)
		res, err := s.Snapshot(ctx, r.Tab, r.Paint, r.Format)
		if err != nil {
			return nil, err
		}
		return res.Content, nil
	}
	kit.RegisterMCPTool(srv, tool, kit.Logging(s.logger, tool.Name)(endpoint), kit.DecodeArgs[snapshotReq]())
}

// --- paint index ---

type paintIndexReq struct {
	Tab       int   `json:"tab"`
	Timestamp int64 `json:"timestamp"`
}

func (s *Service) registerPaintIndexTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domreplay_paint_index",
		Description: "Find the paint of a tab shown at a timestamp (milliseconds since epoch).",
		InputSchema: kit.InputSchema(map[string]any{
			"tab":       tabProperty,
			"timestamp": map[string]any{"type": "integer"},
		}, "tab", "timestamp"),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*paintIndexReq)
		idx, err := s.PaintIndex(ctx, r.Tab, r.Timestamp)
		if err != nil {
			return nil, err
		}
		return map[string]int{"paintIndex": idx}, nil
	}
	kit.RegisterMCPTool(srv, tool, kit.Logging(s.logger, tool.Name)(endpoint), kit.DecodeArgs[paintIndexReq]())
}
