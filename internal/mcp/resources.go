package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	modelsURI      = "basin://models"
	modelURIPrefix = "basin://model/"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {

	// basin://models: every model definition
	srv.AddResource(
		mcp.NewResource(
			modelsURI,
			"Basin Models",
			mcp.WithResourceDescription(
				"Every model managed by Basin with its fields, relationships and access rules.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleModelsResource,
	)

	// basin://model/{table}: one model definition
	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			modelURIPrefix+"{table}",
			"Basin Model",
			mcp.WithTemplateDescription(
				"The definition of one model: fields with types and validation rules, "+
					"relationships and access rules.",
			),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleModelResource,
	)
}

func (s *MCPServer) handleModelsResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	defs, err := s.models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	return jsonContents(modelsURI, defs)
}

func (s *MCPServer) handleModelResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := request.Params.URI
	table := strings.TrimPrefix(uri, modelURIPrefix)
	if table == "" || table == uri {
		return nil, fmt.Errorf("invalid model URI %q: expected %s{table}", uri, modelURIPrefix)
	}
	def, err := s.models.Get(ctx, table)
	if err != nil {
		return nil, err
	}
	return jsonContents(uri, def)
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
