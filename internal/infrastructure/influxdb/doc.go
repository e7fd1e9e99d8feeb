// Package influxdb records device parameter history in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health monitoring.
//
// # Purpose
//
// Every parameter value reported by a device (over LAN, cloud REST or the
// cloud websocket) is written as a "parameter_state" point tagged with the
// device identifier, channel and parameter name. Device connection state
// transitions are written as "connection_state" points.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Connector.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteParameterState(influxdb.ParameterSample{
//	    DeviceID:   "1000abcdef",
//	    Channel:    "switch_0",
//	    Identifier: "switch",
//	    Value:      "on",
//	})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
//
// # Error Handling
//
// Write operations are non-blocking; batch errors are delivered through
// the SetOnError callback. Connection and health check errors are
// returned directly.
package influxdb
