package sonoff

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ClientMode selects which transport a connector uses.
type ClientMode string

// Client modes.
const (
	ModeLan     ClientMode = "lan"
	ModeCloud   ClientMode = "cloud"
	ModeAuto    ClientMode = "auto"
	ModeGateway ClientMode = "gateway"
)

// ParseClientMode converts a configuration string to a ClientMode.
func ParseClientMode(s string) (ClientMode, error) {
	switch m := ClientMode(s); m {
	case ModeLan, ModeCloud, ModeAuto, ModeGateway:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown client mode %q", ErrInvalidState, s)
	}
}

// UsesLan reports whether the mode talks to devices on the local network.
func (m ClientMode) UsesLan() bool {
	return m == ModeLan || m == ModeAuto
}

// Region is an eWeLink cloud region.
type Region string

// Cloud regions.
const (
	RegionChina   Region = "cn"
	RegionAmerica Region = "us"
	RegionEurope  Region = "eu"
	RegionAsia    Region = "as"
)

// Valid reports whether r is one of the four cloud regions.
func (r Region) Valid() bool {
	switch r {
	case RegionChina, RegionAmerica, RegionEurope, RegionAsia:
		return true
	}
	return false
}

// Timing defaults shared by clients, consumers and writers.
const (
	// HeartbeatDelay is the minimum time between two information reads.
	HeartbeatDelay = 2500 * time.Millisecond

	// StateReadingDelay is the minimum time between two state reads.
	StateReadingDelay = 5000 * time.Millisecond

	// WriteDebounceDelay suppresses repeated writes of the same property.
	WriteDebounceDelay = 2000 * time.Millisecond

	// ProcessingInterval is the tick of polling and queue draining loops.
	ProcessingInterval = 10 * time.Millisecond
)

// Well-known wire parameter names.
const (
	ParameterStatusLed       = "sledOnline"
	ParameterFirmwareVersion = "fwVersion"
	ParameterRSSI            = "rssi"
	ParameterSSID            = "ssid"
	ParameterBSSID           = "bssid"
	ParameterSwitch          = "switch"
	ParameterStartup         = "startup"
	ParameterPulse           = "pulse"
	ParameterPulseWidth      = "pulseWidth"
)

// Outlet channel groups used by multi-outlet devices.
const (
	GroupSwitches  = "switches"
	GroupConfigure = "configure"
	GroupPulses    = "pulses"
	GroupRFList    = "rfList"
)

// Variable device property identifiers written by discovery.
const (
	PropertyAPIKey             = "api_key"
	PropertyDeviceKey          = "device_key"
	PropertyUIID               = "uiid"
	PropertyBrandName          = "brand_name"
	PropertyBrandLogo          = "brand_logo"
	PropertyProductModel       = "product_model"
	PropertyHardwareModel      = "hardware_model"
	PropertyHardwareMACAddress = "hardware_mac_address"
	PropertyIPAddress          = "ip_address"
	PropertyAddress            = "address"
	PropertyPort               = "port"
	PropertyHeartbeatDelay     = "heartbeat_delay"
	PropertyStateReadingDelay  = "state_reading_delay"
)

// channelGroupPattern splits a channel identifier such as "switch_2" into
// its group and optional outlet index.
var channelGroupPattern = regexp.MustCompile(`^([a-zA-Z]+)(?:_([0-9]+))?$`)

// SplitChannelIdentifier returns the group and outlet index encoded in a
// channel identifier. ok is false if the identifier has no outlet suffix.
func SplitChannelIdentifier(identifier string) (group string, outlet int, ok bool) {
	m := channelGroupPattern.FindStringSubmatch(identifier)
	if m == nil {
		return identifier, 0, false
	}
	if m[2] == "" {
		return m[1], 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return m[1], 0, false
	}
	return m[1], n, true
}

// NowMillis returns the current time as a decimal millisecond string, the
// format used for request sequence numbers.
func NowMillis() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}
