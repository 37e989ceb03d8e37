//go:build !embed

// Package frontend serves the touch controller page. Build with -tags embed
// to compile the page into the binary.
package frontend

import "net/http"

// Handler returns nil when the page is not embedded.
func Handler() http.Handler {
	return nil
}
