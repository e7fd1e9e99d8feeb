package transformer

import "github.com/FastyBird/sonoff-connector-sub001/internal/sonoff"

// parameterProperties maps wire parameter names to property identifiers.
var parameterProperties = map[string]string{
	sonoff.ParameterStatusLed:       "status_led",
	sonoff.ParameterFirmwareVersion: "firmware_version",
	sonoff.ParameterRSSI:            "rssi",
	sonoff.ParameterSSID:            "ssid",
	sonoff.ParameterBSSID:           sonoff.PropertyHardwareMACAddress,
}

// propertyParameters is the inverse of parameterProperties.
var propertyParameters = func() map[string]string {
	m := make(map[string]string, len(parameterProperties))
	for k, v := range parameterProperties {
		m[v] = k
	}
	return m
}()

// ParameterToProperty returns the property identifier for a wire
// parameter name. Unknown names are returned unchanged.
func ParameterToProperty(parameter string) string {
	if id, ok := parameterProperties[parameter]; ok {
		return id
	}
	return parameter
}

// PropertyToParameter returns the wire parameter name for a property
// identifier. Unknown identifiers are returned unchanged.
func PropertyToParameter(identifier string) string {
	if p, ok := propertyParameters[identifier]; ok {
		return p
	}
	return identifier
}

// outletGroups maps outlet parameters to the array group they live in
// on multi-outlet devices.
var outletGroups = map[string]string{
	sonoff.ParameterSwitch:     sonoff.GroupSwitches,
	sonoff.ParameterStartup:    sonoff.GroupConfigure,
	sonoff.ParameterPulse:      sonoff.GroupPulses,
	sonoff.ParameterPulseWidth: sonoff.GroupPulses,
}

// ChannelGroupFor returns the outlet array group carrying parameter,
// ok is false for parameters that are not per-outlet.
func ChannelGroupFor(parameter string) (string, bool) {
	g, ok := outletGroups[parameter]
	return g, ok
}

// ParametersForGroup returns the parameters carried by an outlet group.
func ParametersForGroup(group string) []string {
	switch group {
	case sonoff.GroupSwitches:
		return []string{sonoff.ParameterSwitch}
	case sonoff.GroupConfigure:
		return []string{sonoff.ParameterStartup}
	case sonoff.GroupPulses:
		return []string{sonoff.ParameterPulse, sonoff.ParameterPulseWidth}
	}
	return nil
}
