package mcp

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/faucetdb/basin/internal/data"
	"github.com/faucetdb/basin/internal/model"
)

// registerTools registers all Basin MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Discovery tools -----

	srv.AddTool(
		mcp.NewTool("basin_list_models",
			mcp.WithDescription(
				"List the models served by Basin with their table names, field counts "+
					"and whether they are exposed on the data API. Use this first to "+
					"discover what data exists.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListModels,
	)

	srv.AddTool(
		mcp.NewTool("basin_describe_model",
			mcp.WithDescription(
				"Get a model's fields (types, required, unique, options, validation rules), "+
					"relationships and access rules. Use this before creating or updating records.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("table",
				mcp.Required(),
				mcp.Description("Table name of the model"),
			),
		),
		s.handleDescribeModel,
	)

	// ----- Record tools -----

	srv.AddTool(
		mcp.NewTool("basin_list_records",
			mcp.WithDescription(
				"List records of a model with pagination, sorting, free-text search, "+
					"equality filters on filterable fields and relationship includes.\n\n"+
					"Sort syntax: 'field' ascending, '-field' descending.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("table",
				mcp.Required(),
				mcp.Description("Table name of the model"),
			),
			mcp.WithNumber("page",
				mcp.Description("Page number (default 1)"),
			),
			mcp.WithNumber("per_page",
				mcp.Description("Records per page (default 15, max 100)"),
			),
			mcp.WithString("sort",
				mcp.Description("Sortable field, optionally prefixed with -"),
			),
			mcp.WithString("search",
				mcp.Description("Term matched against searchable fields"),
			),
			mcp.WithObject("filters",
				mcp.Description("Map of field name to value. Use \"null\" to match missing values."),
			),
			mcp.WithArray("include",
				mcp.Description("Relationship names to embed"),
				mcp.WithStringItems(),
			),
		),
		s.handleListRecords,
	)

	srv.AddTool(
		mcp.NewTool("basin_get_record",
			mcp.WithDescription("Fetch a single record by id."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("table",
				mcp.Required(),
				mcp.Description("Table name of the model"),
			),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Record id"),
			),
			mcp.WithArray("include",
				mcp.Description("Relationship names to embed"),
				mcp.WithStringItems(),
			),
		),
		s.handleGetRecord,
	)

	srv.AddTool(
		mcp.NewTool("basin_create_record",
			mcp.WithDescription(
				"Create a record. Values are coerced to the declared field types and "+
					"validated; failures come back with per-field messages.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("table",
				mcp.Required(),
				mcp.Description("Table name of the model"),
			),
			mcp.WithObject("record",
				mcp.Required(),
				mcp.Description("Field values for the new record"),
			),
		),
		s.handleCreateRecord,
	)

	srv.AddTool(
		mcp.NewTool("basin_update_record",
			mcp.WithDescription("Update a record. Only the supplied fields change."),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("table",
				mcp.Required(),
				mcp.Description("Table name of the model"),
			),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Record id"),
			),
			mcp.WithObject("record",
				mcp.Required(),
				mcp.Description("Field values to change"),
			),
		),
		s.handleUpdateRecord,
	)

	srv.AddTool(
		mcp.NewTool("basin_delete_record",
			mcp.WithDescription("Delete a record. Soft-delete models keep the row with deleted_at set."),
			mcp.WithToolAnnotation(mcp.ToolAnnotation{
				ReadOnlyHint:    boolPtr(false),
				DestructiveHint: boolPtr(true),
			}),
			mcp.WithString("table",
				mcp.Required(),
				mcp.Description("Table name of the model"),
			),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("Record id"),
			),
		),
		s.handleDeleteRecord,
	)

	// ----- Schema tools -----

	srv.AddTool(
		mcp.NewTool("basin_sync_model",
			mcp.WithDescription(
				"Bring a model's table up to date with its definition. Sync only adds "+
					"tables, columns and indexes; it never drops anything.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("table",
				mcp.Required(),
				mcp.Description("Table name of the model"),
			),
		),
		s.handleSyncModel,
	)
}

// modelSummary is one entry of basin_list_models.
type modelSummary struct {
	Name          string `json:"name"`
	Table         string `json:"table"`
	DisplayName   string `json:"display_name"`
	Fields        int    `json:"fields"`
	Relationships int    `json:"relationships"`
	Serving       bool   `json:"serving"`
}

func (s *MCPServer) handleListModels(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defs, err := s.models.List(ctx)
	if err != nil {
		return appError(err)
	}
	out := make([]modelSummary, len(defs))
	for i, d := range defs {
		out[i] = modelSummary{
			Name:          d.Name,
			Table:         d.TableName,
			DisplayName:   d.DisplayName,
			Fields:        len(d.Fields),
			Relationships: len(d.Relationships),
			Serving:       d.Serving(),
		}
	}
	return successJSON(out)
}

func (s *MCPServer) handleDescribeModel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	table, err := requireString(request, "table")
	if err != nil {
		return toolError("%v", err)
	}
	def, err := s.models.Get(ctx, table)
	if err != nil {
		return appError(err)
	}
	return successJSON(def)
}

func (s *MCPServer) handleListRecords(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	table, err := requireString(request, "table")
	if err != nil {
		return toolError("%v", err)
	}
	params := data.ListParams{
		Page:    max(optionalInt(request, "page", 1), 1),
		PerPage: clamp(optionalInt(request, "per_page", 15), 1, 100),
		Sort:    optionalString(request, "sort"),
		Search:  optionalString(request, "search"),
		Include: optionalStringSlice(request, "include"),
		Filters: map[string]string{},
	}
	for k, v := range getObjectArg(request, "filters") {
		params.Filters[k] = filterValue(v)
	}

	res, err := s.data.List(ctx, model.SystemPrincipal(), table, params)
	if err != nil {
		return appError(err)
	}
	return successJSON(res)
}

func (s *MCPServer) handleGetRecord(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	table, err := requireString(request, "table")
	if err != nil {
		return toolError("%v", err)
	}
	id, err := requireID(request)
	if err != nil {
		return toolError("%v", err)
	}
	rec, err := s.data.Get(ctx, model.SystemPrincipal(), table, id, optionalStringSlice(request, "include"))
	if err != nil {
		return appError(err)
	}
	return successJSON(model.ItemResponse{Data: rec})
}

func (s *MCPServer) handleCreateRecord(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	table, err := requireString(request, "table")
	if err != nil {
		return toolError("%v", err)
	}
	record := getObjectArg(request, "record")
	if record == nil {
		return toolError("parameter %q must be an object", "record")
	}
	rec, err := s.data.Create(ctx, model.SystemPrincipal(), table, record)
	if err != nil {
		return appError(err)
	}
	s.logger.Info("mcp record created", "table", table, "id", rec["id"])
	return successJSON(model.ItemResponse{Data: rec})
}

func (s *MCPServer) handleUpdateRecord(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	table, err := requireString(request, "table")
	if err != nil {
		return toolError("%v", err)
	}
	id, err := requireID(request)
	if err != nil {
		return toolError("%v", err)
	}
	record := getObjectArg(request, "record")
	if record == nil {
		return toolError("parameter %q must be an object", "record")
	}
	rec, err := s.data.Update(ctx, model.SystemPrincipal(), table, id, record)
	if err != nil {
		return appError(err)
	}
	return successJSON(model.ItemResponse{Data: rec})
}

func (s *MCPServer) handleDeleteRecord(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	table, err := requireString(request, "table")
	if err != nil {
		return toolError("%v", err)
	}
	id, err := requireID(request)
	if err != nil {
		return toolError("%v", err)
	}
	if err := s.data.Delete(ctx, model.SystemPrincipal(), table, id); err != nil {
		return appError(err)
	}
	s.logger.Info("mcp record deleted", "table", table, "id", id)
	return successJSON(map[string]any{"success": true, "id": id})
}

func (s *MCPServer) handleSyncModel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	table, err := requireString(request, "table")
	if err != nil {
		return toolError("%v", err)
	}
	res, err := s.models.Sync(ctx, table)
	if err != nil {
		return appError(err)
	}
	return successJSON(res)
}

// filterValue renders a JSON filter value the way it would arrive in a
// filter_<field> query parameter.
func filterValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
