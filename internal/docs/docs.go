// Package docs registers the OpenAPI description served by gin-swagger.
// Regenerate the full document with `swag init -g cmd/labsyncd/main.go -o internal/docs`.
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
        "/cart/reconcile": {
            "post": {
                "tags": ["Checkout"],
                "summary": "Reconcile cart prices with the partner quote",
                "operationId": "reconcileCart",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad request"}}
            }
        },
        "/orders": {
            "post": {
                "tags": ["Checkout"],
                "summary": "Place an order",
                "operationId": "placeOrder",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "responses": {"201": {"description": "Created"}, "400": {"description": "Invalid order"}}
            }
        },
        "/upstream/status": {
            "get": {
                "tags": ["Upstream"],
                "summary": "Partner integration status",
                "operationId": "upstreamStatus",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Upstream not configured"}}
            }
        },
        "/upstream/session/refresh": {
            "post": {
                "tags": ["Upstream"],
                "summary": "Force a partner credential refresh",
                "operationId": "refreshSession",
                "produces": ["application/json"],
                "responses": {"200": {"description": "OK"}, "502": {"description": "Partner rejected the login"}, "503": {"description": "Partner unavailable"}}
            }
        },
        "/admin/orders": {
            "get": {
                "tags": ["Admin"],
                "summary": "List orders",
                "operationId": "listOrders",
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "status", "in": "query"},
                    {"type": "string", "name": "customer_id", "in": "query"},
                    {"type": "integer", "name": "page", "in": "query"},
                    {"type": "integer", "name": "page_size", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}, "304": {"description": "Not modified"}}
            }
        },
        "/admin/orders/{id}": {
            "get": {
                "tags": ["Admin"],
                "summary": "Get an order",
                "operationId": "getOrder",
                "produces": ["application/json"],
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Order not found"}}
            }
        },
        "/admin/orders/{id}/reference": {
            "put": {
                "tags": ["Admin"],
                "summary": "Attach the partner reference number",
                "operationId": "setOrderReference",
                "consumes": ["application/json"],
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"204": {"description": "No content"}, "404": {"description": "Order not found"}}
            }
        },
        "/admin/orders/{id}/sync": {
            "post": {
                "tags": ["Admin"],
                "summary": "Sync one order from the partner",
                "operationId": "syncOrder",
                "produces": ["application/json"],
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Order not found"}}
            }
        },
        "/admin/orders/sync": {
            "post": {
                "tags": ["Admin"],
                "summary": "Bulk sync orders from the partner",
                "operationId": "syncOrders",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "X-Admin-ID", "in": "header"},
                    {"type": "string", "name": "Idempotency-Key", "in": "header"}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad request"}}
            }
        },
        "/admin/sync-runs/{id}": {
            "get": {
                "tags": ["Admin"],
                "summary": "Get a stored bulk sync run",
                "operationId": "getSyncRun",
                "produces": ["application/json"],
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Sync run not found"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "LabSync API",
	Description:      "Partner lab integration: cart reconciliation, order placement and status sync.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
