// Package docs registers the OpenAPI document of the dispatch API
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
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"},
        "SchedulerKey": {"type": "apiKey", "name": "X-API-Key", "in": "header"}
    },
    "paths": {
        "/health": {"get": {"tags": ["Health"], "summary": "Health check", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}}},
        "/admin/broadcasts": {
            "get": {"tags": ["Admin Broadcasts"], "summary": "List Broadcasts", "security": [{"BearerAuth": []}], "produces": ["application/json"],
                "parameters": [
                    {"type": "integer", "name": "page", "in": "query"},
                    {"type": "integer", "name": "page_size", "in": "query"},
                    {"type": "string", "name": "status", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Validation error"}}},
            "post": {"tags": ["Admin Broadcasts"], "summary": "Create Broadcast", "security": [{"BearerAuth": []}], "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/dto.CreateBroadcastRequest"}}],
                "responses": {"201": {"description": "Created"}, "400": {"description": "Validation error"}}}
        },
        "/admin/broadcasts/audience/preview": {
            "post": {"tags": ["Admin Broadcasts"], "summary": "Preview Broadcast Audience", "security": [{"BearerAuth": []}], "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [{"name": "request", "in": "body", "schema": {"$ref": "#/definitions/dto.BroadcastAudienceRequest"}}],
                "responses": {"200": {"description": "OK"}}}
        },
        "/admin/broadcasts/maintenance": {
            "post": {"tags": ["Admin Broadcasts"], "summary": "Broadcast Maintenance", "security": [{"BearerAuth": []}], "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/dto.BroadcastMaintenanceRequest"}}],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Validation error"}}}
        },
        "/admin/broadcasts/dispatch": {
            "post": {"tags": ["Broadcast Dispatch"], "summary": "Trigger Broadcast Batch", "security": [{"BearerAuth": []}], "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [{"name": "request", "in": "body", "schema": {"$ref": "#/definitions/dto.BroadcastDispatchRequest"}}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Broadcast not found"}, "503": {"description": "Dispatch not configured"}}}
        },
        "/admin/broadcasts/dispatch/kick": {
            "post": {"tags": ["Broadcast Dispatch"], "summary": "Kick Dispatch Worker", "security": [{"BearerAuth": []}], "responses": {"202": {"description": "Accepted"}}}
        },
        "/admin/broadcasts/{id}": {
            "get": {"tags": ["Admin Broadcasts"], "summary": "Get Broadcast", "security": [{"BearerAuth": []}], "produces": ["application/json"],
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Broadcast not found"}}}
        },
        "/admin/broadcasts/{id}/actions": {
            "post": {"tags": ["Admin Broadcasts"], "summary": "Manage Broadcast", "security": [{"BearerAuth": []}], "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/dto.BroadcastActionRequest"}}
                ],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Broadcast not found"}, "409": {"description": "Action not allowed in the current status"}}}
        },
        "/admin/broadcasts/{id}/progress": {
            "get": {"tags": ["Admin Broadcasts"], "summary": "Stream Broadcast Progress", "security": [{"BearerAuth": []}], "produces": ["text/event-stream"],
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "event stream"}, "404": {"description": "Broadcast not found"}}}
        },
        "/admin/broadcasts/{id}/errors": {
            "get": {"tags": ["Admin Broadcasts"], "summary": "List Broadcast Errors", "security": [{"BearerAuth": []}], "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"type": "integer", "name": "page", "in": "query"},
                    {"type": "integer", "name": "page_size", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Broadcast not found"}}}
        },
        "/admin/broadcasts/{id}/errors/export": {
            "get": {"tags": ["Admin Broadcasts"], "summary": "Export Broadcast Errors", "security": [{"BearerAuth": []}], "produces": ["application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"],
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "xlsx report"}, "404": {"description": "Broadcast not found"}}}
        },
        "/dispatch/trigger": {
            "post": {"tags": ["Broadcast Dispatch"], "summary": "Trigger Broadcast Batch", "security": [{"SchedulerKey": []}], "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [{"name": "request", "in": "body", "schema": {"$ref": "#/definitions/dto.BroadcastDispatchRequest"}}],
                "responses": {"200": {"description": "OK"}, "401": {"description": "Invalid API key"}, "503": {"description": "Dispatch not configured"}}}
        },
        "/dispatch/kick": {
            "post": {"tags": ["Broadcast Dispatch"], "summary": "Kick Dispatch Worker", "security": [{"SchedulerKey": []}], "responses": {"202": {"description": "Accepted"}}}
        }
    },
    "definitions": {
        "dto.BroadcastButtonRequest": {"type": "object", "properties": {"text": {"type": "string"}, "url": {"type": "string"}}},
        "dto.BroadcastAudienceRequest": {"type": "object", "properties": {
            "zodiac_signs": {"type": "array", "items": {"type": "string"}},
            "plan_codes": {"type": "array", "items": {"type": "string"}},
            "language_codes": {"type": "array", "items": {"type": "string"}},
            "tags": {"type": "array", "items": {"type": "string"}},
            "chat_ids": {"type": "array", "items": {"type": "string"}},
            "include_inactive": {"type": "boolean"}
        }},
        "dto.CreateBroadcastRequest": {"type": "object", "required": ["message"], "properties": {
            "title": {"type": "string"},
            "message": {"type": "string", "maxLength": 4096},
            "parse_mode": {"type": "string", "enum": ["HTML", "Markdown", "MarkdownV2"]},
            "image_url": {"type": "string"},
            "button_text": {"type": "string"},
            "button_url": {"type": "string"},
            "custom_buttons": {"type": "array", "items": {"$ref": "#/definitions/dto.BroadcastButtonRequest"}},
            "disable_link_preview": {"type": "boolean"},
            "audience": {"$ref": "#/definitions/dto.BroadcastAudienceRequest"}
        }},
        "dto.BroadcastActionRequest": {"type": "object", "required": ["action"], "properties": {
            "action": {"type": "string", "enum": ["cancel", "pause", "resume", "delete"]}
        }},
        "dto.BroadcastMaintenanceRequest": {"type": "object", "required": ["action"], "properties": {
            "action": {"type": "string", "enum": ["cancel_old", "cleanup_completed", "pause_all_running"]},
            "days": {"type": "integer", "minimum": 1}
        }},
        "dto.BroadcastDispatchRequest": {"type": "object", "properties": {"job_id": {"type": "string", "format": "uuid"}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{"https", "http"},
	Title:            "Astro Dispatch API",
	Description:      "Broadcast job creation, dispatch and progress streaming for the astrology bot.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
