// Package api exposes the response engine over HTTP.
//
// The JSON API lives under /api/v1 (chat, feedback, example administration,
// stats); the WhatsApp Cloud API webhook lives at /webhook/whatsapp. Health
// probes are served outside the middleware stack so orchestrators never get
// rate limited.
package api
