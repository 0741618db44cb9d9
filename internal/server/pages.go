package server

import (
	"encoding/json"
	"fmt"
	"html/template"
	"sort"

	"github.com/morezero/epics-mcp-bridge/pkg/dispatcher"
)

// homePageTemplate is the HTML for the bridge home page (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{.Name}}</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2, h3 { color: #0066cc; }
    .status-ok { color: #0066cc; font-weight: bold; }
    .status-degraded { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
    .error { color: #cc0000; }
    code { background: #f5f5f5; padding: 0 0.25rem; }
  </style>
</head>
<body>
  <h1>{{.Name}}</h1>
  <p class="meta">EPICS process variables over the Model Context Protocol.</p>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span> (version {{.Health.Version}})</p>
    <table>
      <thead><tr><th>Check</th><th>Result</th></tr></thead>
      <tbody>
        {{range $name, $result := .Health.Checks}}
        <tr><td>{{$name}}</td><td>{{if eq $result "ok"}}OK{{else}}<span class="error">{{$result}}</span>{{end}}</td></tr>
        {{end}}
      </tbody>
    </table>
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>

  <section>
    <h2>Transport</h2>
    <p>Serving on <strong>{{.Transport}}</strong>.</p>
    {{if .SSEEndpoint}}<p>SSE endpoint: <code>{{.SSEEndpoint}}</code></p>{{end}}
    {{if .Subject}}<p>COMMS subject: <code>{{.Subject}}</code></p>{{end}}
    {{if .Journal}}<p><a href="/invocations">Recent invocations</a></p>{{end}}
  </section>

  <section>
    <h2>Tools</h2>
    <table>
      <thead>
        <tr><th>Tool</th><th>Description</th><th>Required arguments</th></tr>
      </thead>
      <tbody>
        {{range .Tools}}
        <tr>
          <td><a href="/tools/{{.Name}}">{{.Name}}</a></td>
          <td>{{.Description}}</td>
          <td>{{range required .}}<code>{{.}}</code> {{end}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
  </section>
</body>
</html>
`

// toolPageTemplate is the HTML for a single tool page.
const toolPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{.Tool.Name}}</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2, h3 { color: #0066cc; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; vertical-align: top; }
    th { background: #f0f4f8; color: #0066cc; }
    section { margin-bottom: 2rem; }
    pre { background: #f5f5f5; padding: 0.75rem; overflow-x: auto; font-size: 0.85rem; margin: 0.25rem 0; border: 1px solid #eee; }
    .back { margin-bottom: 1rem; }
    .btn { display: inline-block; padding: 0.5rem 1rem; background: #0066cc; color: #fff; text-decoration: none; border-radius: 4px; }
  </style>
</head>
<body>
  <p class="back"><a href="/">← Back to tools</a></p>
  <h1>{{.Tool.Name}}</h1>
  <p>{{.Tool.Description}}</p>
  <p><a href="/tools/{{.Tool.Name}}/docs" class="btn">View API (Swagger)</a></p>

  <section>
    <h2>Arguments</h2>
    <table>
      <thead><tr><th>Name</th><th>Type</th><th>Required</th><th>Description</th></tr></thead>
      <tbody>
        {{range .Params}}
        <tr><td>{{.Name}}</td><td>{{.Type}}</td><td>{{if .Required}}yes{{else}}no{{end}}</td><td>{{.Description}}</td></tr>
        {{end}}
      </tbody>
    </table>
  </section>

  <section>
    <h2>Input schema</h2>
    <pre>{{json .Tool.InputSchema}}</pre>
  </section>
</body>
</html>
`

// swaggerUIPage embeds Swagger UI from CDN and loads the tool's OpenAPI document.
const swaggerUIPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>API – {{.Name}}</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.onload = function() {
      SwaggerUIBundle({
        url: "{{.SpecURL}}",
        dom_id: "#swagger-ui",
        presets: [SwaggerUIBundle.presets.apis]
      });
    };
  </script>
</body>
</html>
`

type pages struct {
	home    *template.Template
	tool    *template.Template
	swagger *template.Template
}

func newPages() *pages {
	funcs := template.FuncMap{
		"json": func(v interface{}) string {
			b, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return fmt.Sprintf("%v", v)
			}
			return string(b)
		},
		"required": func(td dispatcher.ToolDescription) []string {
			req, _ := td.InputSchema["required"].([]string)
			return req
		},
	}
	return &pages{
		home:    template.Must(template.New("home").Funcs(funcs).Parse(homePageTemplate)),
		tool:    template.Must(template.New("tool").Funcs(funcs).Parse(toolPageTemplate)),
		swagger: template.Must(template.New("swagger").Parse(swaggerUIPage)),
	}
}

// homeData is the data passed to the home page template.
type homeData struct {
	Name        string
	Transport   string
	Health      *dispatcher.HealthOutput
	Tools       []dispatcher.ToolDescription
	SSEEndpoint string
	Subject     string
	Journal     bool
}

// toolData is the data passed to the tool page template.
type toolData struct {
	Tool   dispatcher.ToolDescription
	Params []paramRow
}

type paramRow struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// paramRows flattens the input schema, required parameters first.
func paramRows(td dispatcher.ToolDescription) []paramRow {
	props, _ := td.InputSchema["properties"].(map[string]any)
	required, _ := td.InputSchema["required"].([]string)
	isRequired := make(map[string]bool, len(required))
	for _, name := range required {
		isRequired[name] = true
	}

	rows := make([]paramRow, 0, len(props))
	for name, raw := range props {
		prop, _ := raw.(map[string]any)
		typ, _ := prop["type"].(string)
		desc, _ := prop["description"].(string)
		rows = append(rows, paramRow{Name: name, Type: typ, Description: desc, Required: isRequired[name]})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Required != rows[j].Required {
			return rows[i].Required
		}
		return rows[i].Name < rows[j].Name
	})
	return rows
}
