package main

import (
	"net/http"

	"github.com/rs/cors"
)

// corsHandler wraps the mux so browser admin consoles on other origins can
// reach the pairing and state endpoints.
func corsHandler(next http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPatch,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(next)
}
