package openapi

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// Operation describes one HTTP endpoint for the generated document.
type Operation struct {
	Method      string
	Path        string // echo syntax, e.g. /risk-assessments/:id
	Summary     string
	OperationID string
	Tag         string
	Roles       []string
	// RequestSchema names a component schema; empty means no body.
	RequestSchema   string
	RequestOptional bool
	// Status is the success status; ResponseSchema is empty for bodiless responses.
	Status         int
	ResponseSchema string
	ContentType    string
	Query          []Param
	// Errors lists the error responses besides 401/403/404. Nil keeps the
	// risk pipeline's 422/503/504 set for operations with a body.
	Errors map[int]string
}

// Param is a query parameter.
type Param struct {
	Name        string
	Type        string
	Description string
}

// Generator builds an OpenAPI 3.0 document from registered operations.
type Generator struct {
	title   string
	version string
	baseURL string
	ops     []Operation
	schemas map[string]interface{}
}

// NewGenerator creates a new OpenAPI document generator.
func NewGenerator(title, version, baseURL string) *Generator {
	return &Generator{title: title, version: version, baseURL: baseURL, schemas: coreSchemas()}
}

// Add registers operations under the given path prefix.
func (g *Generator) Add(prefix string, ops ...Operation) {
	for _, op := range ops {
		op.Path = prefix + op.Path
		g.ops = append(g.ops, op)
	}
}

// Schema registers a component schema.
func (g *Generator) Schema(name string, schema map[string]interface{}) {
	g.schemas[name] = schema
}

// GenerateSpec produces the OpenAPI 3.0 document as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	paths := make(map[string]map[string]interface{})
	for _, op := range g.ops {
		p := openAPIPath(op.Path)
		if paths[p] == nil {
			paths[p] = make(map[string]interface{})
		}
		paths[p][strings.ToLower(op.Method)] = g.buildOperation(op)
	}

	out := make(map[string]interface{}, len(paths))
	for p, methods := range paths {
		out[p] = methods
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   g.title,
			"version": g.version,
		},
		"servers": []map[string]string{
			{"url": g.baseURL},
		},
		"paths": out,
		"components": map[string]interface{}{
			"schemas": g.schemas,
			"securitySchemes": map[string]interface{}{
				"bearerAuth": map[string]interface{}{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
		},
		"security": []map[string][]string{{"bearerAuth": {}}},
	}
}

func (g *Generator) buildOperation(op Operation) map[string]interface{} {
	var params []map[string]interface{}
	for _, name := range pathParams(op.Path) {
		params = append(params, map[string]interface{}{
			"name": name, "in": "path", "required": true,
			"schema": map[string]string{"type": "string", "format": "uuid"},
		})
	}
	for _, q := range op.Query {
		params = append(params, map[string]interface{}{
			"name": q.Name, "in": "query", "description": q.Description,
			"schema": map[string]string{"type": q.Type},
		})
	}

	out := map[string]interface{}{
		"summary":     op.Summary,
		"operationId": op.OperationID,
		"tags":        []string{op.Tag},
		"responses":   g.buildResponses(op),
	}
	if len(params) > 0 {
		out["parameters"] = params
	}
	if op.RequestSchema != "" {
		out["requestBody"] = map[string]interface{}{
			"required": !op.RequestOptional,
			"content":  content("application/json", op.RequestSchema),
		}
	}
	if len(op.Roles) > 0 {
		out["x-roles"] = op.Roles
	}
	return out
}

func (g *Generator) buildResponses(op Operation) map[string]interface{} {
	status := op.Status
	if status == 0 {
		status = http.StatusOK
	}
	ok := map[string]interface{}{"description": http.StatusText(status)}
	if op.ResponseSchema != "" {
		ct := op.ContentType
		if ct == "" {
			ct = "application/json"
		}
		ok["content"] = content(ct, op.ResponseSchema)
	}

	responses := map[string]interface{}{
		strconv.Itoa(status): ok,
		"401":        errorResponse("Missing or invalid credentials"),
		"403":        errorResponse("Role not permitted"),
	}
	if len(pathParams(op.Path)) > 0 {
		responses["404"] = errorResponse("Not found")
	}
	if op.Errors != nil {
		for code, desc := range op.Errors {
			responses[strconv.Itoa(code)] = errorResponse(desc)
		}
	} else if op.RequestSchema != "" || op.Method == http.MethodPost {
		responses["422"] = errorResponse("Incomplete patient profile")
		responses["503"] = errorResponse("Worker pool saturated or model unavailable")
		responses["504"] = errorResponse("Assessment timed out")
	}
	return responses
}

func errorResponse(description string) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content":     content("application/json", "Error"),
	}
}

func content(contentType, schema string) map[string]interface{} {
	return map[string]interface{}{
		contentType: map[string]interface{}{
			"schema": map[string]interface{}{"$ref": "#/components/schemas/" + schema},
		},
	}
}

// openAPIPath converts echo ":param" segments to "{param}".
func openAPIPath(path string) string {
	segs := strings.Split(path, "/")
	for i, s := range segs {
		if strings.HasPrefix(s, ":") {
			segs[i] = "{" + s[1:] + "}"
		}
	}
	return strings.Join(segs, "/")
}

func pathParams(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if strings.HasPrefix(s, ":") {
			out = append(out, s[1:])
		}
	}
	return out
}

// Paths returns the registered OpenAPI paths, sorted.
func (g *Generator) Paths() []string {
	seen := make(map[string]bool)
	var out []string
	for _, op := range g.ops {
		p := openAPIPath(op.Path)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// ── Core schemas ────────────────────────────────────────────────────────

func coreSchemas() map[string]interface{} {
	return map[string]interface{}{
		"Error": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"message": map[string]interface{}{"type": "string"},
			},
		},
		"Coding": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"system":  map[string]interface{}{"type": "string", "format": "uri"},
				"code":    map[string]interface{}{"type": "string"},
				"display": map[string]interface{}{"type": "string"},
			},
		},
		"CodeableConcept": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"coding": map[string]interface{}{
					"type":  "array",
					"items": map[string]interface{}{"$ref": "#/components/schemas/Coding"},
				},
				"text": map[string]interface{}{"type": "string"},
			},
		},
		"Reference": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"reference": map[string]interface{}{"type": "string"},
				"display":   map[string]interface{}{"type": "string"},
			},
		},
		"OperationOutcome": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"resourceType": map[string]interface{}{"type": "string", "enum": []string{"OperationOutcome"}},
				"issue": map[string]interface{}{
					"type": "array",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"severity":    map[string]interface{}{"type": "string", "enum": []string{"fatal", "error", "warning", "information"}},
							"code":        map[string]interface{}{"type": "string"},
							"diagnostics": map[string]interface{}{"type": "string"},
						},
						"required": []string{"severity", "code"},
					},
				},
			},
			"required": []string{"resourceType", "issue"},
		},
	}
}

// ── Swagger UI ──────────────────────────────────────────────────────────

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>MedNexus Risk API - Swagger UI</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" >
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({ url: "/openapi.json", dom_id: '#swagger-ui', deepLinking: true })
  </script>
</body>
</html>`

// docsCSP lets the Swagger UI page load its assets from unpkg.
const docsCSP = "default-src 'self'; script-src 'self' 'unsafe-inline' https://unpkg.com; style-src 'self' https://unpkg.com; img-src 'self' data:; frame-ancestors 'none'"

// RegisterRoutes serves the document and the Swagger UI.
func (g *Generator) RegisterRoutes(e *echo.Echo) {
	e.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	})
	e.GET("/docs", func(c echo.Context) error {
		c.Response().Header().Set("Content-Security-Policy", docsCSP)
		return c.HTML(http.StatusOK, swaggerUIHTML)
	})
}
