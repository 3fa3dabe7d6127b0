package openapi

import (
	"encoding"
	"encoding/json"
	"net/http"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// Auth describes how an operation treats bearer tokens.
type Auth int

const (
	AuthNone Auth = iota
	AuthOptional
	AuthRequired
)

// Param is a query parameter or multipart form field.
type Param struct {
	Name        string
	Description string
	Required    bool
	Type        string // "string", "integer" or "binary"
}

// Operation documents one route. Request and Response are sample values
// whose types are reflected into schemas; nil means no JSON body.
type Operation struct {
	Method   string
	Path     string
	Summary  string
	Tag      string
	Auth     Auth
	Query    []Param
	Form     []Param
	Request  interface{}
	Response interface{}
	Errors   []int
}

// Generator builds an OpenAPI 3.0 document from registered operations.
type Generator struct {
	title   string
	version string
	baseURL string
	ops     []Operation
}

// NewGenerator creates a new OpenAPI document generator.
func NewGenerator(title, version, baseURL string) *Generator {
	return &Generator{title: title, version: version, baseURL: baseURL}
}

// Add registers operations. Later registrations for the same method and path
// replace earlier ones.
func (g *Generator) Add(ops ...Operation) {
	g.ops = append(g.ops, ops...)
}

// GenerateSpec produces the OpenAPI 3.0 document as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	schemas := map[string]interface{}{
		"Error": map[string]interface{}{
			"type":     "object",
			"required": []string{"message"},
			"properties": map[string]interface{}{
				"message": map[string]interface{}{"type": "string"},
			},
		},
	}

	paths := make(map[string]interface{})
	for _, op := range g.ops {
		item, _ := paths[op.Path].(map[string]interface{})
		if item == nil {
			item = make(map[string]interface{})
			paths[op.Path] = item
		}
		item[strings.ToLower(op.Method)] = g.buildOperation(op, schemas)
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
		"paths": paths,
		"components": map[string]interface{}{
			"schemas": schemas,
			"securitySchemes": map[string]interface{}{
				"bearerAuth": map[string]interface{}{
					"type":         "http",
					"scheme":       "bearer",
					"bearerFormat": "JWT",
				},
			},
		},
	}
}

func (g *Generator) buildOperation(op Operation, schemas map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{
		"summary":     op.Summary,
		"operationId": operationID(op.Method, op.Path),
	}
	if op.Tag != "" {
		out["tags"] = []string{op.Tag}
	}

	switch op.Auth {
	case AuthRequired:
		out["security"] = []map[string][]string{{"bearerAuth": {}}}
	case AuthOptional:
		out["security"] = []map[string][]string{{}, {"bearerAuth": {}}}
	}

	if len(op.Query) > 0 {
		params := make([]map[string]interface{}, 0, len(op.Query))
		for _, p := range op.Query {
			params = append(params, map[string]interface{}{
				"name":        p.Name,
				"in":          "query",
				"required":    p.Required,
				"description": p.Description,
				"schema":      paramSchema(p.Type),
			})
		}
		out["parameters"] = params
	}

	switch {
	case len(op.Form) > 0:
		props := make(map[string]interface{}, len(op.Form))
		var required []string
		for _, p := range op.Form {
			props[p.Name] = paramSchema(p.Type)
			if p.Required {
				required = append(required, p.Name)
			}
		}
		form := map[string]interface{}{"type": "object", "properties": props}
		if len(required) > 0 {
			form["required"] = required
		}
		out["requestBody"] = map[string]interface{}{
			"required": true,
			"content": map[string]interface{}{
				"multipart/form-data": map[string]interface{}{"schema": form},
			},
		}
	case op.Request != nil:
		out["requestBody"] = map[string]interface{}{
			"required": true,
			"content":  jsonContent(schemaFor(reflect.TypeOf(op.Request), schemas)),
		}
	}

	responses := map[string]interface{}{}
	ok := map[string]interface{}{"description": "Success"}
	if op.Response != nil {
		ok["content"] = jsonContent(schemaFor(reflect.TypeOf(op.Response), schemas))
	}
	responses["200"] = ok
	for _, code := range op.Errors {
		responses[strconv.Itoa(code)] = map[string]interface{}{
			"description": http.StatusText(code),
			"content":     jsonContent(map[string]interface{}{"$ref": "#/components/schemas/Error"}),
		}
	}
	out["responses"] = responses
	return out
}

func jsonContent(schema map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"application/json": map[string]interface{}{"schema": schema},
	}
}

func paramSchema(typ string) map[string]interface{} {
	switch typ {
	case "integer":
		return map[string]interface{}{"type": "integer"}
	case "binary":
		return map[string]interface{}{"type": "string", "format": "binary"}
	default:
		return map[string]interface{}{"type": "string"}
	}
}

// operationID turns "POST /notes/generate-prescription" into
// "postNotesGeneratePrescription".
func operationID(method, path string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '-' || r == '_' }) {
		part = strings.Trim(part, "{}:")
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]) + part[1:])
	}
	return b.String()
}

var (
	timeType        = reflect.TypeOf(time.Time{})
	rawMessageType  = reflect.TypeOf(json.RawMessage{})
	textMarshalType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// schemaFor reflects t into a schema. Named structs are added to schemas and
// referenced by $ref.
func schemaFor(t reflect.Type, schemas map[string]interface{}) map[string]interface{} {
	switch {
	case t == timeType:
		return map[string]interface{}{"type": "string", "format": "date-time"}
	case t == rawMessageType:
		return map[string]interface{}{"type": "object"}
	}

	switch t.Kind() {
	case reflect.Ptr:
		s := schemaFor(t.Elem(), schemas)
		if _, isRef := s["$ref"]; !isRef {
			s["nullable"] = true
		}
		return s
	case reflect.Struct:
		if t.Name() == "" {
			return structSchema(t, schemas)
		}
		if _, seen := schemas[t.Name()]; !seen {
			schemas[t.Name()] = map[string]interface{}{} // placeholder for recursive types
			schemas[t.Name()] = structSchema(t, schemas)
		}
		return map[string]interface{}{"$ref": "#/components/schemas/" + t.Name()}
	case reflect.Slice:
		return map[string]interface{}{"type": "array", "items": schemaFor(t.Elem(), schemas)}
	case reflect.Map:
		return map[string]interface{}{"type": "object", "additionalProperties": schemaFor(t.Elem(), schemas)}
	case reflect.Bool:
		return map[string]interface{}{"type": "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]interface{}{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]interface{}{"type": "number"}
	case reflect.Array:
		// uuid.UUID and similar fixed-size identifiers marshal as text.
		if t.Implements(textMarshalType) {
			return map[string]interface{}{"type": "string", "format": strings.ToLower(t.Name())}
		}
		return map[string]interface{}{"type": "array", "items": schemaFor(t.Elem(), schemas)}
	default:
		return map[string]interface{}{"type": "string"}
	}
}

func structSchema(t reflect.Type, schemas map[string]interface{}) map[string]interface{} {
	props := make(map[string]interface{})
	var required []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := jsonName(f)
		if name == "-" {
			continue
		}
		s := schemaFor(f.Type, schemas)
		for _, rule := range strings.Split(f.Tag.Get("validate"), ",") {
			switch {
			case rule == "required":
				required = append(required, name)
			case rule == "email":
				s["format"] = "email"
			case strings.HasPrefix(rule, "oneof="):
				s["enum"] = strings.Fields(strings.TrimPrefix(rule, "oneof="))
			}
		}
		props[name] = s
	}
	out := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		sort.Strings(required)
		out["required"] = required
	}
	return out
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" {
		return f.Name
	}
	return name
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>GenMed API - Swagger UI</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" >
  <style>
    html { box-sizing: border-box; overflow-y: scroll; }
    *, *:before, *:after { box-sizing: inherit; }
    body { margin: 0; background: #fafafa; }
  </style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "/openapi.json",
      dom_id: '#swagger-ui',
      deepLinking: true,
      presets: [
        SwaggerUIBundle.presets.apis,
        SwaggerUIBundle.SwaggerUIStandalonePreset
      ],
      layout: "BaseLayout"
    })
  </script>
</body>
</html>`

// RegisterRoutes registers GET /openapi.json and GET /docs on e.
func (g *Generator) RegisterRoutes(e *echo.Echo) {
	e.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	})
	e.GET("/docs", func(c echo.Context) error {
		// the UI bundle is served from unpkg
		c.Response().Header().Set("Content-Security-Policy",
			"default-src 'self' https://unpkg.com; style-src 'self' 'unsafe-inline' https://unpkg.com; script-src 'self' 'unsafe-inline' https://unpkg.com; img-src 'self' data:")
		return c.HTML(http.StatusOK, swaggerUIHTML)
	})
}
