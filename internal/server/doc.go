// Package server hosts the Intake HTTP server: the webhook and human-facing
// routes described in spec §6, wrapped in request-id, security-header,
// rate-limit, metrics, and logging middleware.
//
// It does not serve static assets or proxy a viewer; Intake is a
// server-to-server boundary with no browser-facing surface.
package server
