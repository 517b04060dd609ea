package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/megamem/vaultd/api"
)

type folderToolInput struct {
	Path string `json:"path" jsonschema:"Vault-relative folder path"`
}

type folderToolOutput struct {
	Path    string `json:"path"`
	Saved   bool   `json:"saved"`
	Message string `json:"message,omitempty"`
}

func (s *server) handleFolderCreateTool(ctx context.Context, _ *mcpsdk.CallToolRequest, input folderToolInput) (*mcpsdk.CallToolResult, folderToolOutput, error) {
	var ack api.WriteAck
	if err := s.call(ctx, api.OpFolderCreate, api.FolderArgs{Path: input.Path}, &ack); err != nil {
		return nil, folderToolOutput{}, err
	}
	return nil, folderToolOutput{Path: ack.Path, Saved: ack.Saved, Message: ack.Message}, nil
}

func (s *server) handleFolderDeleteTool(ctx context.Context, _ *mcpsdk.CallToolRequest, input folderToolInput) (*mcpsdk.CallToolResult, folderToolOutput, error) {
	var ack api.WriteAck
	if err := s.call(ctx, api.OpFolderDelete, api.FolderArgs{Path: input.Path}, &ack); err != nil {
		return nil, folderToolOutput{}, err
	}
	return nil, folderToolOutput{Path: ack.Path, Saved: ack.Saved, Message: ack.Message}, nil
}

type folderRenameToolInput struct {
	Path    string `json:"path" jsonschema:"Current vault-relative folder path"`
	NewPath string `json:"newPath" jsonschema:"New vault-relative folder path"`
}

func (s *server) handleFolderRenameTool(ctx context.Context, _ *mcpsdk.CallToolRequest, input folderRenameToolInput) (*mcpsdk.CallToolResult, renameToolOutput, error) {
	var ack api.RenameAck
	if err := s.call(ctx, api.OpFolderRename, api.NoteRenameArgs{Path: input.Path, NewPath: input.NewPath}, &ack); err != nil {
		return nil, renameToolOutput{}, err
	}
	return nil, renameToolOutput{Path: ack.Path, NewPath: ack.NewPath}, nil
}

type exploreToolInput struct {
	Path     string `json:"path,omitempty" jsonschema:"Explicit subtree to explore; preferred over query"`
	Query    string `json:"query,omitempty" jsonschema:"Folder name to locate when no path is given"`
	Format   string `json:"format,omitempty" jsonschema:"Result shape: tree, flat, paths or smart (default)"`
	MaxDepth int    `json:"maxDepth,omitempty" jsonschema:"Recursion depth bound, default 3, max 10"`
}

type exploreEntry struct {
	Path  string `json:"path"`
	Kind  string `json:"kind"`
	Depth int    `json:"depth,omitempty"`
}

type exploreToolOutput struct {
	Format   string         `json:"format"`
	Entries  []exploreEntry `json:"entries,omitempty"`
	Rendered string         `json:"rendered,omitempty"`
}

func (s *server) handleExploreTool(ctx context.Context, _ *mcpsdk.CallToolRequest, input exploreToolInput) (*mcpsdk.CallToolResult, exploreToolOutput, error) {
	args := api.FolderExploreArgs{
		Path:     input.Path,
		Query:    input.Query,
		Format:   api.ExploreFormat(input.Format),
		MaxDepth: input.MaxDepth,
	}
	var res api.FolderExploreResult
	if err := s.call(ctx, api.OpFolderExplore, args, &res); err != nil {
		return nil, exploreToolOutput{}, err
	}
	out := exploreToolOutput{Format: string(res.Format), Rendered: res.Rendered}
	for _, e := range res.Entries {
		out.Entries = append(out.Entries, exploreEntry{Path: e.Path, Kind: e.Kind, Depth: e.Depth})
	}
	return nil, out, nil
}
