// Package logging configures the connector's log/slog output.
//
// Entries carry service and version fields, and child loggers add
// component (lan, cloud, queue, ...). Values of credential keys such as
// password, token, at and devicekey are replaced before they are written,
// so handlers may log request parameters as they are.
//
//	logging:
//	  level: info      # debug, info, warn, error
//	  format: json     # json, text
//	  output: stdout   # stdout, stderr
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("lan").Info("device announced", "device", id, "ip", ip)
package logging
