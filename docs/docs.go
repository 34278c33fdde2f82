// Package docs registers the OpenAPI document served under /swagger.
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
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "paths": {
        "/wallets": {"get": {"tags": ["Wallets"], "summary": "Wallet balances", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}},
        "/wallets/entries": {"get": {"tags": ["Wallets"], "summary": "Wallet history", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}},
        "/offers": {
            "get": {"tags": ["Offers"], "summary": "List offers", "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["Offers"], "summary": "Create offer", "security": [{"BearerAuth": []}], "responses": {"201": {"description": "Created"}}}
        },
        "/offers/{offerId}": {
            "get": {"tags": ["Offers"], "summary": "Get offer", "parameters": [{"type": "string", "name": "offerId", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}},
            "put": {"tags": ["Offers"], "summary": "Update offer", "security": [{"BearerAuth": []}], "parameters": [{"type": "string", "name": "offerId", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}
        },
        "/offers/{offerId}/activate": {"post": {"tags": ["Offers"], "summary": "Activate offer", "security": [{"BearerAuth": []}], "parameters": [{"type": "string", "name": "offerId", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/offers/{offerId}/deactivate": {"post": {"tags": ["Offers"], "summary": "Deactivate offer", "security": [{"BearerAuth": []}], "parameters": [{"type": "string", "name": "offerId", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/trades": {
            "get": {"tags": ["Trades"], "summary": "List trades", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["Trades"], "summary": "Create trade", "security": [{"BearerAuth": []}], "responses": {"201": {"description": "Created"}, "422": {"description": "Offer limit or seller funds"}}}
        },
        "/trades/{tradeId}": {"get": {"tags": ["Trades"], "summary": "Get trade", "security": [{"BearerAuth": []}], "parameters": [{"type": "string", "name": "tradeId", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/trades/{tradeId}/paid": {"post": {"tags": ["Trades"], "summary": "Mark trade paid", "security": [{"BearerAuth": []}], "parameters": [{"type": "string", "name": "tradeId", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "409": {"description": "Invalid transition"}}}},
        "/trades/{tradeId}/release": {"post": {"tags": ["Trades"], "summary": "Release escrow", "security": [{"BearerAuth": []}], "parameters": [{"type": "string", "name": "tradeId", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "409": {"description": "Invalid transition"}}}},
        "/trades/{tradeId}/cancel": {"post": {"tags": ["Trades"], "summary": "Cancel trade", "security": [{"BearerAuth": []}], "parameters": [{"type": "string", "name": "tradeId", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "409": {"description": "Invalid transition"}}}},
        "/trades/{tradeId}/dispute": {"post": {"tags": ["Trades"], "summary": "Open dispute", "security": [{"BearerAuth": []}], "parameters": [{"type": "string", "name": "tradeId", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "409": {"description": "Invalid transition"}}}},
        "/withdrawals": {"post": {"tags": ["Withdrawals"], "summary": "Request withdrawal", "security": [{"BearerAuth": []}], "responses": {"202": {"description": "Accepted"}}}},
        "/withdrawals/{requestId}": {"get": {"tags": ["Withdrawals"], "summary": "Get withdrawal", "security": [{"BearerAuth": []}], "parameters": [{"type": "string", "name": "requestId", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/withdrawals/{requestId}/confirm": {"post": {"tags": ["Withdrawals"], "summary": "Confirm withdrawal", "security": [{"BearerAuth": []}], "parameters": [{"type": "string", "name": "requestId", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "400": {"description": "Invalid code"}, "410": {"description": "Expired"}, "423": {"description": "Rejected"}}}},
        "/admin/trades/{tradeId}/resolve": {"post": {"tags": ["Admin"], "summary": "Resolve dispute", "security": [{"BearerAuth": []}], "parameters": [{"type": "string", "name": "tradeId", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "409": {"description": "Already resolved"}}}},
        "/admin/ledger/entries": {"get": {"tags": ["Admin"], "summary": "Ledger entries", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}},
        "/admin/accounts/{accountId}/reconcile": {"get": {"tags": ["Admin"], "summary": "Reconcile account", "security": [{"BearerAuth": []}], "parameters": [{"type": "string", "name": "accountId", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}}}},
        "/admin/deposits": {"post": {"tags": ["Admin"], "summary": "Credit deposit", "security": [{"BearerAuth": []}], "responses": {"201": {"description": "Created"}}}},
        "/auth/logout": {"post": {"tags": ["Auth"], "summary": "Logout", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Stablecoin P2P Wallet API",
	Description:      "Wallet ledger, P2P escrow trades and two-phase withdrawals",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
