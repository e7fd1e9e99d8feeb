package transformer

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
)

// ValueFromDevice normalises a raw device value for storage in a property
// of the given data type. Values that cannot be represented, or that fall
// outside the format, yield nil.
func ValueFromDevice(dataType device.DataType, format device.Format, raw any) any {
	if raw == nil {
		return nil
	}

	switch {
	case dataType == device.DataTypeString:
		return toString(raw)

	case dataType == device.DataTypeBool:
		b, ok := toBool(raw)
		if !ok {
			return nil
		}
		return b

	case dataType.IsInteger():
		f, ok := toFloat(raw)
		if !ok || !inRange(format, f) {
			return nil
		}
		return int(math.Round(f))

	case dataType == device.DataTypeFloat:
		f, ok := toFloat(raw)
		if !ok || !inRange(format, f) {
			return nil
		}
		return f

	case dataType == device.DataTypeEnum || dataType == device.DataTypeSwitch:
		return matchItem(format, raw)
	}

	return raw
}

// ValueToDevice converts a platform value into the form a device expects.
func ValueToDevice(dataType device.DataType, format device.Format, value any) any {
	if value == nil {
		return nil
	}

	switch {
	case dataType == device.DataTypeString:
		return toString(value)

	case dataType == device.DataTypeBool:
		b, ok := toBool(value)
		if !ok {
			return nil
		}
		return b

	case dataType.IsInteger():
		f, ok := toFloat(value)
		if !ok || !inRange(format, f) {
			return nil
		}
		return int(math.Round(f))

	case dataType == device.DataTypeFloat:
		f, ok := toFloat(value)
		if !ok || !inRange(format, f) {
			return nil
		}
		return f

	case dataType == device.DataTypeSwitch:
		// Switches accept booleans from the platform.
		if b, ok := value.(bool); ok {
			if b {
				return "on"
			}
			return "off"
		}
		return matchItem(format, value)

	case dataType == device.DataTypeEnum:
		return matchItem(format, value)
	}

	return value
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(b) {
		case "on", "true", "1":
			return true, true
		case "off", "false", "0":
			return false, true
		}
	case float64:
		return b != 0, true
	case int:
		return b != 0, true
	}
	return false, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func inRange(format device.Format, f float64) bool {
	if format.Min != nil && f < *format.Min {
		return false
	}
	if format.Max != nil && f > *format.Max {
		return false
	}
	return true
}

// matchItem returns the format item equal to v ignoring case. Without
// items the value is passed through as a string.
func matchItem(format device.Format, v any) any {
	s := toString(v)
	if len(format.Items) == 0 {
		return s
	}
	for _, item := range format.Items {
		if strings.EqualFold(item, s) {
			return item
		}
	}
	return nil
}
