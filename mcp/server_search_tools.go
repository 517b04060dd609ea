package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/megamem/vaultd/api"
)

type searchToolInput struct {
	Query          string `json:"query" jsonschema:"Search string; matched fuzzily against filenames"`
	Mode           string `json:"mode,omitempty" jsonschema:"What to match: filename, content, or both (default)"`
	MaxResults     int    `json:"maxResults,omitempty" jsonschema:"Result cap, default 100, max 1000"`
	IncludeContext bool   `json:"includeContext,omitempty" jsonschema:"Include surrounding text for content hits"`
	Path           string `json:"path,omitempty" jsonschema:"Optional folder subtree to search"`
}

type searchMatch struct {
	Path    string  `json:"path"`
	Score   float64 `json:"score,omitempty"`
	Line    int     `json:"line,omitempty"`
	Context string  `json:"context,omitempty"`
}

type searchToolOutput struct {
	Matches   []searchMatch `json:"matches"`
	Total     int           `json:"total"`
	Truncated bool          `json:"truncated,omitempty"`
}

func (s *server) handleSearchTool(ctx context.Context, _ *mcpsdk.CallToolRequest, input searchToolInput) (*mcpsdk.CallToolResult, searchToolOutput, error) {
	args := api.NoteSearchArgs{
		Query:          input.Query,
		Mode:           api.SearchMode(input.Mode),
		MaxResults:     input.MaxResults,
		IncludeContext: input.IncludeContext,
		Path:           input.Path,
	}
	var res api.NoteSearchResult
	if err := s.call(ctx, api.OpNoteSearch, args, &res); err != nil {
		return nil, searchToolOutput{}, err
	}
	out := searchToolOutput{Total: res.Total, Truncated: res.Truncated}
	for _, m := range res.Matches {
		out.Matches = append(out.Matches, searchMatch{Path: m.Path, Score: m.Score, Line: m.Line, Context: m.Context})
	}
	return nil, out, nil
}
