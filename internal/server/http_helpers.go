package server

import "net/http"

// writeMiddlewareError writes a short plain-text error response, matching
// the "HTTP status plus a short plain-text reason" contract for webhook
// callers (spec §7 "User-visible").
func writeMiddlewareError(w http.ResponseWriter, status int, message string) {
	http.Error(w, message, status)
}
