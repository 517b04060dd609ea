package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/megamem/vaultd/api"
)

type templateListToolInput struct{}

type templateInfo struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type templateListToolOutput struct {
	Templates []templateInfo `json:"templates"`
}

func (s *server) handleTemplateListTool(ctx context.Context, _ *mcpsdk.CallToolRequest, _ templateListToolInput) (*mcpsdk.CallToolResult, templateListToolOutput, error) {
	var res api.TemplateListResult
	if err := s.call(ctx, api.OpTemplateList, struct{}{}, &res); err != nil {
		return nil, templateListToolOutput{}, err
	}
	var out templateListToolOutput
	for _, t := range res.Templates {
		out.Templates = append(out.Templates, templateInfo{Name: t.Name, Path: t.Path})
	}
	return nil, out, nil
}

type templateCreateToolInput struct {
	SearchTerm   string `json:"searchTerm" jsonschema:"Template name to match, exact or fuzzy"`
	FileName     string `json:"fileName" jsonschema:"Name of the note to create"`
	TargetFolder string `json:"targetFolder,omitempty" jsonschema:"Destination folder; overrides the host's template mapping"`
	Content      string `json:"content,omitempty" jsonschema:"Optional body text appended after template expansion"`
}

type templateCreateToolOutput struct {
	Path     string `json:"path"`
	Template string `json:"template"`
}

func (s *server) handleTemplateCreateTool(ctx context.Context, _ *mcpsdk.CallToolRequest, input templateCreateToolInput) (*mcpsdk.CallToolResult, templateCreateToolOutput, error) {
	args := api.TemplateCreateArgs{
		SearchTerm:   input.SearchTerm,
		FileName:     input.FileName,
		TargetFolder: input.TargetFolder,
		Content:      input.Content,
	}
	var res api.TemplateCreateResult
	if err := s.call(ctx, api.OpTemplateCreate, args, &res); err != nil {
		return nil, templateCreateToolOutput{}, err
	}
	return nil, templateCreateToolOutput{Path: res.Path, Template: res.Template}, nil
}
