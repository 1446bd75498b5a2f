package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/AdamLaszab/zadanie-skuska/internal/operation"
)

// buildOpenAPIDoc returns the OpenAPI 3 description of the HTTP surface.
func buildOpenAPIDoc(cfg Config) map[string]any {
	ops := make([]any, 0, len(operation.Names()))
	for _, n := range operation.Names() {
		ops = append(ops, string(n))
	}

	errorResponse := func(desc string) map[string]any {
		return map[string]any{
			"description": desc,
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{"$ref": "#/components/schemas/Error"},
				},
			},
		}
	}
	secured := []any{map[string]any{"BearerAuth": []string{}}}
	binary := map[string]any{"type": "string", "format": "binary"}

	paths := map[string]any{
		"/pdf/{operation}": map[string]any{
			"post": map[string]any{
				"operationId": "runBatch",
				"summary":     "Run one PDF operation",
				"tags":        []string{"pdf"},
				"security":    secured,
				"parameters": []any{
					map[string]any{
						"name":     "operation",
						"in":       "path",
						"required": true,
						"schema":   map[string]any{"type": "string", "enum": ops},
					},
				},
				"requestBody": map[string]any{
					"required": true,
					"content": map[string]any{
						"multipart/form-data": map[string]any{
							"schema": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"file":                binary,
									"files":               map[string]any{"type": "array", "items": binary},
									"overlay_file":        binary,
									"output_name":         map[string]any{"type": "string", "pattern": "^[A-Za-z0-9_-]{1,255}$"},
									"delivery":            map[string]any{"type": "string", "enum": []any{"stream", "link"}},
									"pages":               map[string]any{"type": "string", "example": "1-3,5,8-"},
									"angle":               map[string]any{"type": "integer", "enum": []any{-270, -180, -90, 0, 90, 180, 270}},
									"user_password":       map[string]any{"type": "string"},
									"owner_password":      map[string]any{"type": "string"},
									"password":            map[string]any{"type": "string"},
									"overlay_page_number": map[string]any{"type": "integer", "minimum": 1},
									"duplicate_count":     map[string]any{"type": "integer", "minimum": 0, "maximum": operation.MaxDuplicateCount},
								},
							},
						},
					},
				},
				"responses": map[string]any{
					"200": map[string]any{
						"description": "Artifact bytes (delivery=stream) or a download link (delivery=link)",
						"content": map[string]any{
							"application/pdf": map[string]any{"schema": binary},
							"text/plain":      map[string]any{"schema": map[string]any{"type": "string"}},
							"application/json": map[string]any{
								"schema": map[string]any{"$ref": "#/components/schemas/Link"},
							},
						},
					},
					"422": errorResponse("Invalid parameters or uploads"),
					"500": errorResponse("Processing failed"),
					"503": errorResponse("Too many batches in progress"),
					"504": errorResponse("Processing timed out"),
				},
			},
		},
		"/download/{token}": map[string]any{
			"get": map[string]any{
				"operationId": "download",
				"summary":     "Redeem a one-time download link",
				"tags":        []string{"pdf"},
				"security":    secured,
				"parameters": []any{
					map[string]any{"name": "token", "in": "path", "required": true, "schema": map[string]any{"type": "string"}},
				},
				"responses": map[string]any{
					"200": map[string]any{"description": "Artifact bytes"},
					"404": errorResponse("File not found or link expired"),
				},
			},
		},
		"/logs": map[string]any{
			"get": map[string]any{
				"operationId": "listLogs",
				"tags":        []string{"audit"},
				"security":    secured,
				"parameters": []any{
					map[string]any{"name": "page", "in": "query", "schema": map[string]any{"type": "integer", "minimum": 1}},
					map[string]any{"name": "per_page", "in": "query", "schema": map[string]any{"type": "integer", "minimum": 1}},
				},
				"responses": map[string]any{
					"200": map[string]any{"description": "Audit entries, newest first"},
				},
			},
			"delete": map[string]any{
				"operationId": "purgeLogs",
				"tags":        []string{"audit"},
				"security":    secured,
				"responses": map[string]any{
					"200": map[string]any{"description": "Number of entries deleted"},
				},
			},
		},
		"/logs/export": map[string]any{
			"get": map[string]any{
				"operationId": "exportLogs",
				"tags":        []string{"audit"},
				"security":    secured,
				"responses": map[string]any{
					"200": map[string]any{
						"description": "CSV export",
						"content": map[string]any{
							"text/csv": map[string]any{"schema": map[string]any{"type": "string"}},
						},
					},
				},
			},
		},
		"/events": map[string]any{
			"get": map[string]any{
				"operationId": "events",
				"summary":     "Server-sent batch lifecycle events",
				"tags":        []string{"ops"},
				"security":    secured,
				"responses": map[string]any{
					"200": map[string]any{"description": "text/event-stream"},
				},
			},
		},
		"/healthz": map[string]any{
			"get": map[string]any{
				"operationId": "healthz",
				"tags":        []string{"ops"},
				"responses":   map[string]any{"200": map[string]any{"description": "Service is up"}},
			},
		},
	}

	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":       "pdfgate",
			"version":     "1.0",
			"description": fmt.Sprintf("PDF batch pipeline. Each uploaded file may be at most %d bytes.", cfg.MaxUploadBytes),
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
			"schemas": map[string]any{
				"Error": map[string]any{
					"type":     "object",
					"required": []string{"error", "code"},
					"properties": map[string]any{
						"error":   map[string]any{"type": "string"},
						"code":    map[string]any{"type": "string"},
						"details": map[string]any{"type": "object"},
					},
				},
				"Link": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"batch_id":     map[string]any{"type": "string"},
						"download_url": map[string]any{"type": "string"},
						"file_name":    map[string]any{"type": "string"},
						"size":         map[string]any{"type": "integer"},
						"digest":       map[string]any{"type": "string"},
						"expires_at":   map[string]any{"type": "string", "format": "date-time"},
						"warnings":     map[string]any{"type": "string"},
					},
				},
			},
		},
	}
}

// openAPIJSON builds the document, checks it with kin-openapi and returns
// the serialized form served at /openapi.json.
func openAPIJSON(ctx context.Context, cfg Config) ([]byte, error) {
	raw, err := json.Marshal(buildOpenAPIDoc(cfg))
	if err != nil {
		return nil, fmt.Errorf("marshal openapi: %w", err)
	}
	doc, err := openapi3.NewLoader().LoadFromData(raw)
	if err != nil {
		return nil, fmt.Errorf("load openapi: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return raw, fmt.Errorf("invalid openapi: %w", err)
	}
	return json.Marshal(doc)
}
