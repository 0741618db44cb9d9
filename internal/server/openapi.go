package server

import (
	"github.com/morezero/epics-mcp-bridge/pkg/dispatcher"
)

// openAPI3 types for generating a document from a tool listing entry.
type openAPI3Spec struct {
	OpenAPI string                      `json:"openapi"`
	Info    openAPI3Info                `json:"info"`
	Paths   map[string]openAPI3PathItem `json:"paths"`
}

type openAPI3Info struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
}

type openAPI3PathItem struct {
	Post *openAPI3Operation `json:"post,omitempty"`
}

type openAPI3Operation struct {
	Summary     string                      `json:"summary"`
	Description string                      `json:"description,omitempty"`
	OperationID string                      `json:"operationId"`
	RequestBody *openAPI3RequestBody        `json:"requestBody,omitempty"`
	Responses   map[string]openAPI3Response `json:"responses"`
}

type openAPI3RequestBody struct {
	Content map[string]openAPI3MediaType `json:"content"`
}

type openAPI3Response struct {
	Description string                       `json:"description"`
	Content     map[string]openAPI3MediaType `json:"content,omitempty"`
}

type openAPI3MediaType struct {
	Schema map[string]interface{} `json:"schema,omitempty"`
}

// resultSchema describes the status envelope every tool returns.
func resultSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"status"},
		"properties": map[string]interface{}{
			"status":  map[string]interface{}{"type": "string", "enum": []string{"success", "error"}},
			"value":   map[string]interface{}{"description": "PV value (read)"},
			"message": map[string]interface{}{"type": "string", "description": "Confirmation or error message"},
			"info":    map[string]interface{}{"type": "object", "description": "PV description (describe)"},
		},
	}
}

// buildOpenAPISpec builds an OpenAPI 3.0 document with a single POST operation
// for the tool.
func buildOpenAPISpec(td dispatcher.ToolDescription, version string) *openAPI3Spec {
	inputSchema := td.InputSchema
	if inputSchema == nil {
		inputSchema = map[string]interface{}{"type": "object"}
	}
	desc := td.Description
	if desc == "" {
		desc = "Tool " + td.Name
	}

	return &openAPI3Spec{
		OpenAPI: "3.0.0",
		Info: openAPI3Info{
			Title:       td.Name,
			Description: desc,
			Version:     version,
		},
		Paths: map[string]openAPI3PathItem{
			"/" + td.Name: {
				Post: &openAPI3Operation{
					Summary:     td.Name,
					Description: td.Description,
					OperationID: td.Name,
					RequestBody: &openAPI3RequestBody{
						Content: map[string]openAPI3MediaType{
							"application/json": {Schema: inputSchema},
						},
					},
					Responses: map[string]openAPI3Response{
						"200": {
							Description: "Result envelope",
							Content: map[string]openAPI3MediaType{
								"application/json": {Schema: resultSchema()},
							},
						},
					},
				},
			},
		},
	}
}
