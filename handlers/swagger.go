package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers Swagger/OpenAPI endpoints for the document service.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>regdocs - Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

// OpenAPI document for the document and indexer routes.
const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "regdocs", "version": "v1.0.0" },
  "paths": {
    "/api/documents": {
      "get": {
        "summary": "List documents",
        "parameters": [
          { "name": "search", "in": "query", "schema": { "type": "string" } },
          { "name": "type", "in": "query", "schema": { "type": "string", "enum": ["Zakon", "Pravilnik", "InternaPolitika"] } },
          { "name": "active", "in": "query", "schema": { "type": "boolean" } },
          { "name": "validOn", "in": "query", "schema": { "type": "string", "format": "date" } }
        ],
        "responses": { "200": { "description": "documents, newest first" } }
      },
      "post": {
        "summary": "Create a document with its first version",
        "requestBody": { "content": {
          "multipart/form-data": { "schema": { "$ref": "#/components/schemas/VersionUpload" } },
          "application/json": { "schema": { "$ref": "#/components/schemas/VersionUpload" } }
        } },
        "responses": { "201": { "description": "created" }, "400": { "description": "validation" }, "415": { "description": "file type not allowed" }, "500": { "description": "metadata commit failed" }, "502": { "description": "content write failed" } }
      }
    },
    "/api/documents/{id}": {
      "get": { "summary": "Get a document with its versions", "responses": { "200": { "description": "document" }, "404": { "description": "not found" } } },
      "patch": { "summary": "Update title, type or active flag", "requestBody": { "content": { "application/json": { "schema": { "type": "object", "properties": { "title": { "type": "string" }, "type": { "type": "string" }, "isActive": { "type": "boolean" } } } } } }, "responses": { "200": { "description": "document" } } },
      "delete": { "summary": "Soft-delete a document", "responses": { "204": { "description": "deleted" }, "404": { "description": "not found" } } }
    },
    "/api/documents/{id}/versions": {
      "get": { "summary": "List versions, newest validFrom first", "responses": { "200": { "description": "versions" } } },
      "post": { "summary": "Append a version", "requestBody": { "content": { "multipart/form-data": { "schema": { "$ref": "#/components/schemas/VersionUpload" } }, "application/json": { "schema": { "$ref": "#/components/schemas/VersionUpload" } } } }, "responses": { "201": { "description": "version" }, "404": { "description": "document not found" } } }
    },
    "/api/documents/{id}/current": {
      "get": { "summary": "Current version", "responses": { "200": { "description": "version" }, "404": { "description": "none" } } },
      "put": { "summary": "Make an existing version current", "requestBody": { "content": { "application/json": { "schema": { "type": "object", "properties": { "versionId": { "type": "string" } } } } } }, "responses": { "200": { "description": "version" }, "502": { "description": "blob missing" } } }
    },
    "/api/documents/{id}/valid": {
      "get": { "summary": "Versions valid on a date", "parameters": [ { "name": "on", "in": "query", "required": true, "schema": { "type": "string", "format": "date" } } ], "responses": { "200": { "description": "versions" } } }
    },
    "/api/versions/{id}/download": {
      "get": { "summary": "Download the version file", "responses": { "200": { "description": "file bytes" }, "204": { "description": "version has no file" }, "307": { "description": "presigned redirect" }, "502": { "description": "content inconsistency" } } }
    },
    "/api/versions/{id}/index": {
      "get": { "summary": "Indexing state", "responses": { "200": { "description": "state" } } }
    },
    "/api/versions/{id}/index/started": { "post": { "summary": "Indexer picked the version up", "responses": { "200": { "description": "state" }, "409": { "description": "stale" }, "422": { "description": "illegal transition" } } } },
    "/api/versions/{id}/index/indexed": { "post": { "summary": "Indexer finished", "requestBody": { "content": { "application/json": { "schema": { "type": "object", "properties": { "indexedAt": { "type": "string", "format": "date-time" } } } } } }, "responses": { "200": { "description": "state" } } } },
    "/api/versions/{id}/index/failed": { "post": { "summary": "Indexer failed", "requestBody": { "content": { "application/json": { "schema": { "type": "object", "properties": { "error": { "type": "string" } } } } } }, "responses": { "200": { "description": "state" } } } },
    "/api/versions/{id}/index/reindex": { "post": { "summary": "Request a re-index", "responses": { "202": { "description": "state" } } } },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } },
    "/metrics": { "get": { "summary": "Prometheus metrics", "responses": { "200": { "description": "metrics" } } } }
  },
  "components": {
    "schemas": {
      "VersionUpload": {
        "type": "object",
        "properties": {
          "title": { "type": "string" },
          "type": { "type": "string" },
          "versionLabel": { "type": "string" },
          "changeNote": { "type": "string" },
          "validFrom": { "type": "string", "format": "date" },
          "validTo": { "type": "string", "format": "date" },
          "documentKey": { "type": "string", "format": "uuid" },
          "versionKey": { "type": "string", "format": "uuid" },
          "makeCurrent": { "type": "boolean" },
          "file": { "type": "string", "format": "binary" }
        }
      }
    }
  }
}`
