// Package docs registers the OpenAPI description served at /docs.
// Regenerate with: swag init -g cmd/server/main.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/generate": {
            "post": {
                "description": "Validates the request and provider configuration, queues the pipeline and returns the job id. options.mode=dsl answers synchronously with a DSL document.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["generate"],
                "summary": "Start a generation job",
                "parameters": [
                    {
                        "description": "Generation request",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handlers.GenerateRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "legacy DSL mode", "schema": {"$ref": "#/definitions/dsl.Response"}},
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/handlers.GenerateAccepted"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/middleware.APIError"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/middleware.APIError"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/middleware.APIError"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/middleware.APIError"}}
                }
            }
        },
        "/generate/stream": {
            "post": {
                "description": "Runs the pipeline on the request and pushes step events, then a done or error event. options.mode=dsl streams raw model chunks instead.",
                "consumes": ["application/json"],
                "produces": ["text/event-stream"],
                "tags": ["generate"],
                "summary": "Stream a generation",
                "parameters": [
                    {
                        "description": "Generation request",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handlers.GenerateRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "event stream", "schema": {"type": "string"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/middleware.APIError"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/middleware.APIError"}}
                }
            }
        },
        "/jobs/{jobId}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Poll a generation job",
                "parameters": [
                    {"type": "string", "description": "Job ID", "name": "jobId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.JobResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/middleware.APIError"}}
                }
            }
        },
        "/jobs/{jobId}/events": {
            "get": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Replay job lifecycle events",
                "parameters": [
                    {"type": "string", "description": "Job ID", "name": "jobId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/jobs.Event"}}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/middleware.APIError"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/middleware.APIError"}}
                }
            }
        },
        "/capabilities": {
            "get": {
                "produces": ["application/json"],
                "tags": ["capabilities"],
                "summary": "Current capability map",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.CapabilitiesResponse"}}
                }
            }
        },
        "/usage": {
            "get": {
                "description": "Authenticated callers only see their own runs.",
                "produces": ["application/json"],
                "tags": ["usage"],
                "summary": "Token usage totals",
                "parameters": [
                    {"type": "string", "description": "Look-back window as a Go duration, e.g. 24h", "name": "window", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.UsageResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/middleware.APIError"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/middleware.APIError"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.GenerateOptions": {
            "type": "object",
            "properties": {
                "maxTokens": {"type": "integer"},
                "mode": {"type": "string", "enum": ["agentic", "dsl"]}
            }
        },
        "handlers.GenerateRequest": {
            "type": "object",
            "properties": {
                "prompt": {"type": "string"},
                "provider": {"type": "string"},
                "model": {"type": "string"},
                "options": {"$ref": "#/definitions/handlers.GenerateOptions"}
            }
        },
        "handlers.GenerateAccepted": {
            "type": "object",
            "properties": {
                "jobId": {"type": "string"},
                "status": {"type": "string"}
            }
        },
        "handlers.JobResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "enum": ["running", "clarification", "failed", "completed"]},
                "step": {"type": "string"},
                "result": {"type": "object"},
                "error": {"type": "string"}
            }
        },
        "handlers.CapabilitiesResponse": {
            "type": "object",
            "properties": {
                "capabilityMap": {"type": "object"},
                "summary": {"$ref": "#/definitions/capability.Summary"}
            }
        },
        "handlers.UsageResponse": {
            "type": "object",
            "properties": {
                "since": {"type": "string"},
                "totals": {"type": "array", "items": {"$ref": "#/definitions/usage.Total"}}
            }
        },
        "capability.Summary": {
            "type": "object",
            "properties": {
                "entities": {"type": "integer"},
                "actions": {"type": "integer"},
                "queries": {"type": "integer"},
                "components": {"type": "integer"},
                "filesAnalyzed": {"type": "integer"}
            }
        },
        "usage.Total": {
            "type": "object",
            "properties": {
                "provider": {"type": "string"},
                "model": {"type": "string"},
                "runs": {"type": "integer"},
                "succeeded": {"type": "integer"},
                "promptTokens": {"type": "integer"},
                "completionTokens": {"type": "integer"}
            }
        },
        "jobs.Event": {
            "type": "object",
            "properties": {
                "type": {"type": "string", "enum": ["created", "step", "finished"]},
                "jobId": {"type": "string"},
                "status": {"type": "string"},
                "step": {"type": "string"},
                "error": {"type": "string"},
                "at": {"type": "string"}
            }
        },
        "dsl.Response": {
            "type": "object",
            "properties": {
                "dsl": {"type": "object"},
                "reasoning": {"type": "string"},
                "tokensUsed": {"$ref": "#/definitions/models.TokenUsage"}
            }
        },
        "models.TokenUsage": {
            "type": "object",
            "properties": {
                "prompt": {"type": "integer"},
                "completion": {"type": "integer"}
            }
        },
        "middleware.APIError": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "code": {"type": "string"},
                "retryAfterMs": {"type": "integer"},
                "validationErrors": {"type": "array", "items": {"type": "string"}},
                "resolutionErrors": {"type": "array", "items": {"type": "string"}}
            }
        }
    },
    "securityDefinitions": {
        "Bearer": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "0.1.0",
	Host:             "",
	BasePath:         "/api",
	Schemes:          []string{"http"},
	Title:            "capforge API",
	Description:      "Capability-grounded UI generation: an agentic pipeline that turns a prompt into a bound HTML/CSS/JS fragment.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
