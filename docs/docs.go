// Package docs holds the swagger spec of the JobMaster API, kept in sync by
// hand with the godoc annotations in internal/transport/http.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/heartbeat": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Liveness check",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/heartbeatResp"}}
                }
            }
        },
        "/job": {
            "post": {
                "description": "Stores the job as PENDING and enqueues it for the estimation worker.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Create an estimation job",
                "parameters": [
                    {"description": "job payload", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/createJobDTO"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/createJobResp"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/apiError"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/apiError"}}
                }
            }
        },
        "/job/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Get job by id",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/entity.Job"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/apiError"}}
                }
            }
        },
        "/job/{id}/result": {
            "get": {
                "produces": ["application/json"],
                "tags": ["jobs"],
                "summary": "Get the result of a completed job",
                "parameters": [
                    {"type": "string", "description": "job id (uuid)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/entity.JobResult"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/apiError"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/apiError"}}
                }
            }
        }
    },
    "definitions": {
        "apiError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "createJobDTO": {
            "type": "object",
            "properties": {
                "type": {"type": "string", "example": "ESTIMATE_GAINS"},
                "data": {"$ref": "#/definitions/entity.JobData"}
            }
        },
        "createJobResp": {
            "type": "object",
            "properties": {
                "jobId": {"type": "string"},
                "status": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "heartbeatResp": {
            "type": "object",
            "properties": {
                "status": {"type": "boolean"},
                "service": {"type": "string"},
                "timestamp": {"type": "string"}
            }
        },
        "entity.JobData": {
            "type": "object",
            "properties": {
                "userEmail": {"type": "string"}
            }
        },
        "entity.Job": {
            "type": "object",
            "properties": {
                "jobId": {"type": "string"},
                "type": {"type": "string"},
                "status": {"type": "string", "enum": ["PENDING", "PROCESSING", "COMPLETED", "FAILED"]},
                "data": {"$ref": "#/definitions/entity.JobData"},
                "result": {"$ref": "#/definitions/entity.JobResult"},
                "error": {"type": "string"},
                "createdAt": {"type": "string"},
                "updatedAt": {"type": "string"},
                "completedAt": {"type": "string"}
            }
        },
        "entity.StockEstimation": {
            "type": "object",
            "properties": {
                "symbol": {"type": "string"},
                "quantity": {"type": "number"},
                "currentPrice": {"type": "number"},
                "estimatedPrice": {"type": "number"},
                "currentValue": {"type": "number"},
                "estimatedValue": {"type": "number"},
                "estimatedGains": {"type": "number"},
                "estimatedGrowthPercent": {"type": "number"},
                "confidence": {"type": "string", "enum": ["low", "medium", "high"]},
                "rSquared": {"type": "number"},
                "originalDataPoints": {"type": "integer"}
            }
        },
        "entity.Summary": {
            "type": "object",
            "properties": {
                "totalCurrentValue": {"type": "number"},
                "totalEstimatedValue": {"type": "number"},
                "totalEstimatedGains": {"type": "number"},
                "totalGrowthPercent": {"type": "number"},
                "stocksAnalyzed": {"type": "integer"}
            }
        },
        "entity.SkippedSymbol": {
            "type": "object",
            "properties": {
                "symbol": {"type": "string"},
                "reason": {"type": "string"}
            }
        },
        "entity.JobResult": {
            "type": "object",
            "properties": {
                "userEmail": {"type": "string"},
                "estimations": {"type": "array", "items": {"$ref": "#/definitions/entity.StockEstimation"}},
                "summary": {"$ref": "#/definitions/entity.Summary"},
                "skippedSymbols": {"type": "array", "items": {"$ref": "#/definitions/entity.SkippedSymbol"}},
                "calculatedAt": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "JobMaster API",
	Description:      "Asynchronous portfolio gains estimation jobs.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
