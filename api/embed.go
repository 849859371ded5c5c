// Package api carries the OpenAPI description of the GuideVault HTTP API.
package api

import _ "embed"

// OpenAPISpec is served at /api/docs/openapi.yaml and rendered by /api/docs.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
