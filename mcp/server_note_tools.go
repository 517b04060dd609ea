package mcp

import (
	"context"
	"encoding/json"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/megamem/vaultd/api"
)

// call marshals args, dispatches op through the vault session, and decodes
// the result into out. All tool handlers funnel through here.
func (s *server) call(ctx context.Context, op string, args, out any) error {
	encoded, err := json.Marshal(args)
	if err != nil {
		return api.ValidationErrorf(op, "encode args: %v", err)
	}
	result, err := s.session.Do(ctx, op, encoded)
	if err != nil {
		s.toolLog.Debug("tool call failed", "op", op, "error", err)
		return err
	}
	if out == nil || len(result) == 0 {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return api.Errorf(api.KindOperation, "%s: decode result: %v", op, err)
	}
	return nil
}

type noteReadToolInput struct {
	Path string `json:"path" jsonschema:"Vault-relative note path"`
}

type noteReadToolOutput struct {
	Path        string         `json:"path"`
	Content     string         `json:"content"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Size        int64          `json:"size,omitempty"`
	ModifiedAt  int64          `json:"modifiedAtUnix,omitempty"`
}

func (s *server) handleNoteReadTool(ctx context.Context, _ *mcpsdk.CallToolRequest, input noteReadToolInput) (*mcpsdk.CallToolResult, noteReadToolOutput, error) {
	var res api.NoteReadResult
	if err := s.call(ctx, api.OpNoteRead, api.NoteReadArgs{Path: input.Path}, &res); err != nil {
		return nil, noteReadToolOutput{}, err
	}
	out := noteReadToolOutput{
		Path:        res.Path,
		Content:     res.Content,
		Frontmatter: res.Frontmatter,
	}
	if res.Stat != nil {
		out.Size = res.Stat.Size
		out.ModifiedAt = res.Stat.ModifiedAtUnix
	}
	return nil, out, nil
}

type noteWriteToolInput struct {
	Path        string         `json:"path" jsonschema:"Vault-relative note path"`
	Mode        string         `json:"mode,omitempty" jsonschema:"Edit mode: replace (default), frontmatter, append, splice, anchor"`
	Content     string         `json:"content,omitempty" jsonschema:"Body text for replace/append/splice/anchor modes"`
	Frontmatter map[string]any `json:"frontmatter,omitempty" jsonschema:"Frontmatter keys to merge in frontmatter mode"`
	StartLine   *int           `json:"startLine,omitempty" jsonschema:"Splice start line (zero-based)"`
	StartChar   *int           `json:"startChar,omitempty" jsonschema:"Splice start character (zero-based)"`
	EndLine     *int           `json:"endLine,omitempty" jsonschema:"Splice end line; omit with endChar to insert"`
	EndChar     *int           `json:"endChar,omitempty" jsonschema:"Splice end character"`
	Anchor      string         `json:"anchor,omitempty" jsonschema:"Anchor method for anchor mode (e.g. insertAfterHeading)"`
	Heading     string         `json:"heading,omitempty" jsonschema:"Target heading for heading-relative anchors"`
}

type noteWriteToolOutput struct {
	Path    string `json:"path"`
	Saved   bool   `json:"saved"`
	Message string `json:"message,omitempty"`
}

func (s *server) handleNoteWriteTool(ctx context.Context, _ *mcpsdk.CallToolRequest, input noteWriteToolInput) (*mcpsdk.CallToolResult, noteWriteToolOutput, error) {
	args := api.NoteWriteArgs{
		Path:        input.Path,
		Mode:        api.WriteMode(input.Mode),
		Content:     input.Content,
		Frontmatter: input.Frontmatter,
		StartLine:   input.StartLine,
		StartChar:   input.StartChar,
		EndLine:     input.EndLine,
		EndChar:     input.EndChar,
		Anchor:      input.Anchor,
		Heading:     input.Heading,
	}
	var ack api.WriteAck
	if err := s.call(ctx, api.OpNoteWrite, args, &ack); err != nil {
		return nil, noteWriteToolOutput{}, err
	}
	return nil, noteWriteToolOutput{Path: ack.Path, Saved: ack.Saved, Message: ack.Message}, nil
}

type noteCreateToolInput struct {
	Path    string `json:"path" jsonschema:"Vault-relative path for the new note"`
	Content string `json:"content" jsonschema:"Initial note content"`
}

func (s *server) handleNoteCreateTool(ctx context.Context, _ *mcpsdk.CallToolRequest, input noteCreateToolInput) (*mcpsdk.CallToolResult, noteWriteToolOutput, error) {
	var ack api.WriteAck
	if err := s.call(ctx, api.OpNoteCreate, api.NoteCreateArgs{Path: input.Path, Content: input.Content}, &ack); err != nil {
		return nil, noteWriteToolOutput{}, err
	}
	return nil, noteWriteToolOutput{Path: ack.Path, Saved: ack.Saved, Message: ack.Message}, nil
}

type noteDeleteToolInput struct {
	Path string `json:"path" jsonschema:"Vault-relative note path"`
}

func (s *server) handleNoteDeleteTool(ctx context.Context, _ *mcpsdk.CallToolRequest, input noteDeleteToolInput) (*mcpsdk.CallToolResult, noteWriteToolOutput, error) {
	var ack api.WriteAck
	if err := s.call(ctx, api.OpNoteDelete, api.NoteDeleteArgs{Path: input.Path}, &ack); err != nil {
		return nil, noteWriteToolOutput{}, err
	}
	return nil, noteWriteToolOutput{Path: ack.Path, Saved: ack.Saved, Message: ack.Message}, nil
}

type noteRenameToolInput struct {
	Path    string `json:"path" jsonschema:"Current vault-relative note path"`
	NewPath string `json:"newPath" jsonschema:"New vault-relative note path"`
}

type renameToolOutput struct {
	Path    string `json:"path"`
	NewPath string `json:"newPath"`
}

func (s *server) handleNoteRenameTool(ctx context.Context, _ *mcpsdk.CallToolRequest, input noteRenameToolInput) (*mcpsdk.CallToolResult, renameToolOutput, error) {
	var ack api.RenameAck
	if err := s.call(ctx, api.OpNoteRename, api.NoteRenameArgs{Path: input.Path, NewPath: input.NewPath}, &ack); err != nil {
		return nil, renameToolOutput{}, err
	}
	return nil, renameToolOutput{Path: ack.Path, NewPath: ack.NewPath}, nil
}

type noteMetadataToolInput struct {
	Path string `json:"path" jsonschema:"Vault-relative note path"`
}

type noteMetadataToolOutput struct {
	Path        string         `json:"path"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Links       []string       `json:"links,omitempty"`
	Size        int64          `json:"size,omitempty"`
	ModifiedAt  int64          `json:"modifiedAtUnix,omitempty"`
}

func (s *server) handleNoteMetadataTool(ctx context.Context, _ *mcpsdk.CallToolRequest, input noteMetadataToolInput) (*mcpsdk.CallToolResult, noteMetadataToolOutput, error) {
	var res api.NoteMetadataResult
	if err := s.call(ctx, api.OpNoteMetadata, api.NoteMetadataArgs{Path: input.Path}, &res); err != nil {
		return nil, noteMetadataToolOutput{}, err
	}
	out := noteMetadataToolOutput{
		Path:        res.Path,
		Frontmatter: res.Frontmatter,
		Tags:        res.Tags,
		Links:       res.Links,
	}
	if res.Stat != nil {
		out.Size = res.Stat.Size
		out.ModifiedAt = res.Stat.ModifiedAtUnix
	}
	return nil, out, nil
}

type noteListToolInput struct {
	Path string `json:"path,omitempty" jsonschema:"Optional folder subtree to list"`
}

type noteListToolOutput struct {
	Notes []string `json:"notes"`
	Total int      `json:"total"`
}

func (s *server) handleNoteListTool(ctx context.Context, _ *mcpsdk.CallToolRequest, input noteListToolInput) (*mcpsdk.CallToolResult, noteListToolOutput, error) {
	var res api.NoteListResult
	if err := s.call(ctx, api.OpNoteList, api.NoteListArgs{Path: input.Path}, &res); err != nil {
		return nil, noteListToolOutput{}, err
	}
	return nil, noteListToolOutput{Notes: res.Notes, Total: res.Total}, nil
}
