package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementParameterState  = "parameter_state"
	measurementConnectionState = "connection_state"
)

// ParameterSample is one reported device parameter value.
type ParameterSample struct {
	DeviceID   string
	Channel    string // empty for device level parameters
	Identifier string
	Value      any
	Timestamp  time.Time
}

// WriteParameterState records a reported parameter value.
//
// Numeric and boolean values are stored as-is, everything else is stored
// as a string field. Samples with a nil value are dropped.
// Points written after Close are counted as dropped.
//
// Example:
//
//	client.WriteParameterState(influxdb.ParameterSample{
//	    DeviceID:   "1000abcdef",
//	    Channel:    "switch_0",
//	    Identifier: "switch",
//	    Value:      "on",
//	})
func (c *Client) WriteParameterState(sample ParameterSample) {
	point := buildParameterPoint(sample)
	if point == nil {
		return
	}
	c.write(point)
}

// WriteConnectionState records a device connection state transition.
func (c *Client) WriteConnectionState(deviceID, state string) {
	c.write(buildConnectionPoint(deviceID, state, time.Now()))
}

func (c *Client) write(point *write.Point) {
	if !c.IsConnected() {
		c.dropped.Add(1)
		return
	}
	c.writeAPI.WritePoint(point)
	c.queued.Add(1)
}

func buildParameterPoint(sample ParameterSample) *write.Point {
	field, ok := fieldValue(sample.Value)
	if !ok {
		return nil
	}

	tags := map[string]string{
		"device_id": sample.DeviceID,
		"parameter": sample.Identifier,
	}
	if sample.Channel != "" {
		tags["channel"] = sample.Channel
	}

	ts := sample.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return write.NewPoint(measurementParameterState, tags, map[string]interface{}{"value": field}, ts)
}

func buildConnectionPoint(deviceID, state string, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementConnectionState,
		map[string]string{"device_id": deviceID},
		map[string]interface{}{"state": state},
		ts,
	)
}

// fieldValue normalises a parameter value into an InfluxDB field value.
// Switch values ("on"/"off") are also kept as strings; dashboards map them.
func fieldValue(v any) (any, bool) {
	switch val := v.(type) {
	case nil:
		return nil, false
	case bool, string, float64, float32:
		return val, true
	case int:
		return int64(val), true
	case int8:
		return int64(val), true
	case int16:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case uint:
		return uint64(val), true
	case uint8:
		return uint64(val), true
	case uint16:
		return uint64(val), true
	case uint32:
		return uint64(val), true
	case uint64:
		return val, true
	case interface{ String() string }:
		return val.String(), true
	default:
		return nil, false
	}
}
