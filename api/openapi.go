// Package api holds the HTTP API description.
package api

import _ "embed"

// OpenAPISpec is the OpenAPI document served at /openapi.json.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
