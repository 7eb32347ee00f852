/*
Package api serves the node's HTTP endpoints.

	GET /health         component health (metrics.HealthHandler)
	GET /ready          readiness of config, persistent data and manager
	GET /live           liveness
	GET /metrics        Prometheus metrics
	GET /api/status     dispatch state, role and persistent data source
	GET /api/logs       log sink contents, oldest first
	GET /api/messages   user-facing messages

The /api endpoints are what a console UI polls. Every route accepts GET only.
*/
package api
