package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/megamem/vaultd/api"
)

type vaultInfoToolInput struct{}

type vaultInfoToolOutput struct {
	Name            string `json:"name"`
	NoteCount       int    `json:"noteCount"`
	FolderCount     int    `json:"folderCount"`
	AttachmentCount int    `json:"attachmentCount,omitempty"`
}

func (s *server) handleVaultInfoTool(ctx context.Context, _ *mcpsdk.CallToolRequest, _ vaultInfoToolInput) (*mcpsdk.CallToolResult, vaultInfoToolOutput, error) {
	var res api.VaultInfoResult
	if err := s.call(ctx, api.OpVaultInfo, struct{}{}, &res); err != nil {
		return nil, vaultInfoToolOutput{}, err
	}
	return nil, vaultInfoToolOutput{
		Name:            res.Name,
		NoteCount:       res.NoteCount,
		FolderCount:     res.FolderCount,
		AttachmentCount: res.AttachmentCount,
	}, nil
}

type vaultStatusToolInput struct{}

type vaultStatusToolOutput struct {
	Role            string `json:"role"`
	ConnectionState string `json:"connectionState"`
}

// handleVaultStatusTool answers from local session state; it never touches
// the vault host, so it works even while the channel is down.
func (s *server) handleVaultStatusTool(_ context.Context, _ *mcpsdk.CallToolRequest, _ vaultStatusToolInput) (*mcpsdk.CallToolResult, vaultStatusToolOutput, error) {
	return nil, vaultStatusToolOutput{
		Role:            string(s.session.Role()),
		ConnectionState: s.session.ConnectionState(),
	}, nil
}
