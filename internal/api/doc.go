// Package api implements the operations HTTP API of the Sonoff connector.
//
// This package provides:
//   - a health endpoint aggregating the connector and its infrastructure
//   - read-only device endpoints with channels, properties and live state
//   - a property write request endpoint
//   - runtime metrics
//   - middleware (request ID, logging, recovery, body size limit)
//
// # Write requests
//
// PUT /api/v1/properties/{id}/expected stores the requested value as the
// expected value of a settable property and marks it pending. The
// connector's writer picks the request up from the state store and the
// write consumer sends it to the device, so the response is 202 Accepted.
//
// # Graceful Degradation
//
// The server runs without MQTT or InfluxDB; their health checks are only
// reported when configured.
package api
