// Package openapi builds an OpenAPI 3.1 document describing the data API of
// every served model.
package openapi

import (
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/faucetdb/basin/internal/model"
)

// Generate returns the document for defs. Models that are inactive or not
// API-enabled are left out.
func Generate(defs []model.ModelDefinition, title, version, baseURL string) *openapi3.T {
	if title == "" {
		title = "Basin API"
	}
	if version == "" {
		version = "1.0.0"
	}
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       title,
			Description: "Generated REST API for the models managed by Basin.",
			Version:     version,
		},
	}
	if baseURL != "" {
		doc.Servers = openapi3.Servers{{URL: baseURL}}
	}

	// Initialize components
	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	// Add security schemes
	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: "X-API-Key",
		},
	}
	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}
	doc.Security = openapi3.SecurityRequirements{
		{"apiKey": {}},
		{"bearerAuth": {}},
	}

	doc.Paths = openapi3.NewPaths()

	doc.Components.Schemas["ErrorResponse"] = objectSchema(openapi3.Schemas{
		"success":    typed("boolean", ""),
		"message":    typed("string", ""),
		"error_code": typed("string", ""),
	}, nil)
	doc.Components.Schemas["ValidationResponse"] = objectSchema(openapi3.Schemas{
		"message": typed("string", ""),
		"errors": &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			AdditionalProperties: openapi3.AdditionalProperties{Schema: &openapi3.SchemaRef{Value: &openapi3.Schema{
				Type:  &openapi3.Types{"array"},
				Items: typed("string", ""),
			}}},
		}},
	}, nil)

	sorted := make([]model.ModelDefinition, 0, len(defs))
	for _, d := range defs {
		if d.Serving() {
			sorted = append(sorted, d)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TableName < sorted[j].TableName })

	for i := range sorted {
		addModelPaths(doc, &sorted[i])
	}
	return doc
}

// addModelPaths registers the component schemas and the record routes of def.
func addModelPaths(doc *openapi3.T, def *model.ModelDefinition) {
	table := def.TableName
	tag := table
	name := schemaName(table)

	doc.Components.Schemas[name] = recordSchema(def)
	doc.Components.Schemas[name+"Input"] = inputSchema(def, true)
	doc.Components.Schemas[name+"Update"] = inputSchema(def, false)

	recordRef := openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
	inputRef := openapi3.NewSchemaRef("#/components/schemas/"+name+"Input", nil)
	updateRef := openapi3.NewSchemaRef("#/components/schemas/"+name+"Update", nil)

	item := objectSchema(openapi3.Schemas{"data": recordRef}, nil)
	list := objectSchema(openapi3.Schemas{
		"data": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: recordRef}},
		"meta": metaSchema(),
	}, nil)

	base := "/data/" + table
	doc.Paths.Set(base, &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{tag},
			Summary:     fmt.Sprintf("List %s records", table),
			OperationID: "list_" + table,
			Parameters:  listQueryParameters(def),
			Responses:   newResponses("200", fmt.Sprintf("Page of %s records", table), list),
		},
		Post: &openapi3.Operation{
			Tags:        []string{tag},
			Summary:     fmt.Sprintf("Create a %s record", table),
			OperationID: "create_" + table,
			RequestBody: jsonBody(inputRef),
			Responses:   newResponses("201", fmt.Sprintf("Created %s record", table), item),
		},
	})

	idParam := &openapi3.ParameterRef{Value: openapi3.NewPathParameter("id").
		WithDescription("Record id.").
		WithSchema(openapi3.NewInt64Schema())}
	update := &openapi3.Operation{
		Tags:        []string{tag},
		Summary:     fmt.Sprintf("Update a %s record", table),
		Description: "Only supplied fields are changed.",
		OperationID: "update_" + table,
		Parameters:  openapi3.Parameters{idParam},
		RequestBody: jsonBody(updateRef),
		Responses:   newResponses("200", fmt.Sprintf("Updated %s record", table), item),
	}
	replace := *update
	replace.OperationID = "replace_" + table
	doc.Paths.Set(base+"/{id}", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{tag},
			Summary:     fmt.Sprintf("Get a %s record", table),
			OperationID: "get_" + table,
			Parameters:  openapi3.Parameters{idParam, includeParameter()},
			Responses:   newResponses("200", fmt.Sprintf("The %s record", table), item),
		},
		Put:   &replace,
		Patch: update,
		Delete: &openapi3.Operation{
			Tags:        []string{tag},
			Summary:     fmt.Sprintf("Delete a %s record", table),
			OperationID: "delete_" + table,
			Parameters:  openapi3.Parameters{idParam},
			Responses: newResponses("200", fmt.Sprintf("Deleted %s record", table), objectSchema(openapi3.Schemas{
				"success": typed("boolean", ""),
				"message": typed("string", ""),
			}, nil)),
		},
	})

	doc.Paths.Set(base+"/schema", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{tag},
			Summary:     fmt.Sprintf("Describe %s", table),
			OperationID: "schema_" + table,
			Responses: newResponses("200", fmt.Sprintf("Schema for %s", table),
				&openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}}),
		},
	})
}

// ─── Schema Builders ────────────────────────────────────────────────────────

// recordSchema describes a stored record: id, visible fields and the
// managed timestamp columns.
func recordSchema(def *model.ModelDefinition) *openapi3.SchemaRef {
	props := openapi3.Schemas{}
	id := openapi3.NewInt64Schema()
	id.ReadOnly = true
	props["id"] = &openapi3.SchemaRef{Value: id}
	for i := range def.Fields {
		f := &def.Fields[i]
		if f.Hidden {
			continue
		}
		props[f.Name] = &openapi3.SchemaRef{Value: fieldSchema(f)}
	}
	if def.HasTimestamps {
		props["created_at"] = readOnly(typed("string", "date-time"))
		props["updated_at"] = readOnly(typed("string", "date-time"))
	}
	for _, rel := range def.Relationships {
		s := &openapi3.Schema{Type: &openapi3.Types{"object"}, Description: "Included with ?include=" + rel.Name}
		if rel.Kind == model.HasMany || rel.Kind == model.BelongsToMany {
			s = &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}}, Description: s.Description}
		}
		props[rel.Name] = &openapi3.SchemaRef{Value: s}
	}
	return objectSchema(props, nil)
}

// inputSchema describes a create (all required fields marked) or update
// payload.
func inputSchema(def *model.ModelDefinition, create bool) *openapi3.SchemaRef {
	props := openapi3.Schemas{}
	var required []string
	for i := range def.Fields {
		f := &def.Fields[i]
		props[f.Name] = &openapi3.SchemaRef{Value: fieldSchema(f)}
		if create && f.Required && f.DefaultValue == "" {
			required = append(required, f.Name)
		}
	}
	return objectSchema(props, required)
}

func fieldSchema(f *model.FieldDefinition) *openapi3.Schema {
	s := &openapi3.Schema{
		Type:        &openapi3.Types{f.Type.JSONType()},
		Format:      f.Type.Format(),
		Description: f.DisplayName,
		Nullable:    !f.Required,
	}
	if f.Type.JSONType() == "array" {
		s.Items = &openapi3.SchemaRef{Value: &openapi3.Schema{}}
	}
	if f.Type.RequiresOptions() {
		for _, o := range f.Options {
			s.Enum = append(s.Enum, o)
		}
	}
	return s
}

func typed(t, format string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{t}, Format: format}}
}

func readOnly(ref *openapi3.SchemaRef) *openapi3.SchemaRef {
	ref.Value.ReadOnly = true
	return ref
}

func objectSchema(props openapi3.Schemas, required []string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: props,
		Required:   required,
	}}
}

func jsonBody(ref *openapi3.SchemaRef) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{Value: &openapi3.RequestBody{
		Required: true,
		Content:  openapi3.NewContentWithJSONSchemaRef(ref),
	}}
}

// ─── Query Parameter Builders ───────────────────────────────────────────────

// listQueryParameters returns the paging, sorting, search and include
// parameters plus one filter_<field> parameter per filterable field.
func listQueryParameters(def *model.ModelDefinition) openapi3.Parameters {
	params := openapi3.Parameters{
		&openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter("page").
				WithDescription("Page number, starting at 1.").
				WithSchema(&openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}),
		},
		&openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter("per_page").
				WithDescription("Records per page.").
				WithSchema(&openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}),
		},
		&openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter("sort").
				WithDescription("Sortable field, prefixed with - for descending order.").
				WithSchema(openapi3.NewStringSchema()),
		},
		&openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter("search").
				WithDescription("Matches any searchable field.").
				WithSchema(openapi3.NewStringSchema()),
		},
		includeParameter(),
	}
	for _, f := range def.Fields {
		if !f.Filterable || f.Hidden {
			continue
		}
		params = append(params, &openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter("filter_"+f.Name).
				WithDescription(fmt.Sprintf("Equality filter on %s. Use null for IS NULL.", f.Name)).
				WithSchema(openapi3.NewStringSchema()),
		})
	}
	return params
}

func includeParameter() *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: openapi3.NewQueryParameter("include").
			WithDescription("Comma-separated relationship names to embed.").
			WithSchema(openapi3.NewStringSchema()),
	}
}

// ─── Response Helpers ───────────────────────────────────────────────────────

// newResponses builds a Responses map with a success response and standard error responses.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	errorRef := openapi3.NewSchemaRef("#/components/schemas/ErrorResponse", nil)
	for _, e := range []struct{ code, desc string }{
		{"401", "Missing or invalid API key"},
		{"403", "Scope, table access or rule denial"},
		{"404", "Table or record not found"},
		{"429", "Rate limit exceeded"},
	} {
		desc := e.desc
		responses.Set(e.code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}

	invalidDesc := "Validation failed"
	responses.Set("422", &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &invalidDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(openapi3.NewSchemaRef("#/components/schemas/ValidationResponse", nil)),
		},
	})

	return responses
}

// metaSchema returns the schema for the "meta" field in list responses.
func metaSchema() *openapi3.SchemaRef {
	return objectSchema(openapi3.Schemas{
		"current_page": typed("integer", "int32"),
		"last_page":    typed("integer", "int32"),
		"per_page":     typed("integer", "int32"),
		"total":        typed("integer", "int64"),
	}, nil)
}

// ─── Naming Helpers ─────────────────────────────────────────────────────────

// schemaName turns a table name into a PascalCase component name.
func schemaName(table string) string {
	var b strings.Builder
	for _, part := range strings.Split(table, "_") {
		b.WriteString(capitalize(part))
	}
	return b.String()
}

// capitalize returns a string with its first character uppercased.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
