// Package api provides the HTTP API server for querying memories and
// inspecting the pipeline.
package api

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8085")
	ListenAddr string
}
