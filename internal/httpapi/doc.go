// Package httpapi exposes the funnel over HTTP: the JSON endpoints driven by
// the front-end, the admin projections, the Telegram webhook, /health and
// the static front-end files.
//
// Handlers never report internal failures to callers. Malformed bodies are
// treated as empty payloads.
package httpapi
