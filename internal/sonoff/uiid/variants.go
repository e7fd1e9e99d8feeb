package uiid

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Channel groups emitted by variants.
const (
	GroupSwitch     = "switch"
	GroupLight      = "light"
	GroupThermostat = "thermostat"
	GroupSensor     = "sensor"
	GroupFan        = "fan"
	GroupHumidifier = "humidifier"
	GroupBridge     = "bridge"
	GroupOther      = "other"
)

// State is one reported parameter value. Group is empty for device-level
// parameters and names the channel otherwise.
type State struct {
	Parameter string
	Value     any
	Group     string
}

// States splits reported values into device-level and channel-level ones.
type States struct {
	Device  []State
	Channel []State
}

// Variant is a decoded params payload of a known UIID.
type Variant interface {
	UIID() int
	States() States
}

// Number is a numeric value that devices report either as a JSON number
// or as a numeric string. Non-numeric strings such as "unavailable"
// decode to an invalid Number.
type Number struct {
	Value float64
	Valid bool
}

// UnmarshalJSON accepts numbers, numeric strings and null.
func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number{}
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil //nolint:nilerr // Non-numeric readings are reported as invalid
	}
	*n = Number{Value: f, Valid: true}
	return nil
}

// DeviceInfo holds the device-level parameters common to all families.
type DeviceInfo struct {
	StatusLed       *string `json:"sledOnline"`
	FirmwareVersion *string `json:"fwVersion"`
	SSID            *string `json:"ssid"`
	RSSI            *int    `json:"rssi"`
	BSSID           *string `json:"bssid"`
}

func (d DeviceInfo) deviceStates() []State {
	var s []State
	s = add(s, "sledOnline", "", d.StatusLed)
	s = add(s, "fwVersion", "", d.FirmwareVersion)
	s = add(s, "ssid", "", d.SSID)
	s = add(s, "rssi", "", d.RSSI)
	s = add(s, "bssid", "", d.BSSID)
	return s
}

func add[T any](states []State, parameter, group string, v *T) []State {
	if v == nil {
		return states
	}
	return append(states, State{Parameter: parameter, Value: *v, Group: group})
}

func addValue(states []State, parameter, group string, v any) []State {
	if v == nil {
		return states
	}
	return append(states, State{Parameter: parameter, Value: v, Group: group})
}

func addNumber(states []State, parameter, group string, n Number) []State {
	if !n.Valid {
		return states
	}
	return append(states, State{Parameter: parameter, Value: n.Value, Group: group})
}

// Switch is a single channel relay (UIID 1 and its aliases).
type Switch struct {
	DeviceInfo
	uiid       int
	Switch     *string `json:"switch"`
	Startup    *string `json:"startup"`
	Pulse      *string `json:"pulse"`
	PulseWidth *int    `json:"pulseWidth"`
}

// UIID implements Variant.
func (v Switch) UIID() int { return v.uiid }

// States implements Variant.
func (v Switch) States() States {
	var ch []State
	ch = add(ch, "switch", GroupSwitch, v.Switch)
	ch = add(ch, "startup", GroupSwitch, v.Startup)
	ch = add(ch, "pulse", GroupSwitch, v.Pulse)
	ch = add(ch, "pulseWidth", GroupSwitch, v.PulseWidth)
	return States{Device: v.deviceStates(), Channel: ch}
}

// OutletSwitch is one element of the switches array.
type OutletSwitch struct {
	Switch string `json:"switch"`
	Outlet int    `json:"outlet"`
}

// OutletConfiguration is one element of the configure array.
type OutletConfiguration struct {
	Startup string `json:"startup"`
	Outlet  int    `json:"outlet"`
}

// OutletPulse is one element of the pulses array.
type OutletPulse struct {
	Pulse  string `json:"pulse"`
	Width  *int   `json:"width"`
	Outlet int    `json:"outlet"`
}

// MultiSwitch is a multi channel relay (UIID 4 and its aliases).
type MultiSwitch struct {
	DeviceInfo
	uiid      int
	Switches  []OutletSwitch        `json:"switches"`
	Configure []OutletConfiguration `json:"configure"`
	Pulses    []OutletPulse         `json:"pulses"`
}

// UIID implements Variant.
func (v MultiSwitch) UIID() int { return v.uiid }

// States implements Variant.
func (v MultiSwitch) States() States {
	var ch []State
	for _, s := range v.Switches {
		ch = append(ch, State{Parameter: "switch", Value: s.Switch, Group: outletGroup(s.Outlet)})
	}
	for _, c := range v.Configure {
		ch = append(ch, State{Parameter: "startup", Value: c.Startup, Group: outletGroup(c.Outlet)})
	}
	for _, p := range v.Pulses {
		ch = append(ch, State{Parameter: "pulse", Value: p.Pulse, Group: outletGroup(p.Outlet)})
		ch = add(ch, "pulseWidth", outletGroup(p.Outlet), p.Width)
	}
	return States{Device: v.deviceStates(), Channel: ch}
}

func outletGroup(outlet int) string {
	return GroupSwitch + "_" + strconv.Itoa(outlet)
}

// PowerSwitch is a relay with power metering (UIID 5 and 32).
type PowerSwitch struct {
	DeviceInfo
	uiid            int
	Switch          *string `json:"switch"`
	Startup         *string `json:"startup"`
	Power           Number  `json:"power"`
	Voltage         Number  `json:"voltage"`
	Current         Number  `json:"current"`
	Consumption     *string `json:"oneKwh"`
	ConsumptionData Number  `json:"oneKwhData"`
}

// UIID implements Variant.
func (v PowerSwitch) UIID() int { return v.uiid }

// States implements Variant.
func (v PowerSwitch) States() States {
	var ch []State
	ch = add(ch, "switch", GroupSwitch, v.Switch)
	ch = add(ch, "startup", GroupSwitch, v.Startup)
	ch = addNumber(ch, "power", GroupSwitch, v.Power)
	ch = addNumber(ch, "voltage", GroupSwitch, v.Voltage)
	ch = addNumber(ch, "current", GroupSwitch, v.Current)
	ch = add(ch, "oneKwh", GroupSwitch, v.Consumption)
	ch = addNumber(ch, "oneKwhData", GroupSwitch, v.ConsumptionData)
	return States{Device: v.deviceStates(), Channel: ch}
}

// Thermostat is a relay driven by a temperature sensor (UIID 15).
type Thermostat struct {
	DeviceInfo
	Switch             *string `json:"switch"`
	MainSwitch         *string `json:"mainSwitch"`
	DeviceType         *string `json:"deviceType"`
	SensorType         *string `json:"sensorType"`
	CurrentTemperature Number  `json:"currentTemperature"`
	CurrentHumidity    Number  `json:"currentHumidity"`
}

// UIID implements Variant.
func (Thermostat) UIID() int { return 15 }

// States implements Variant.
func (v Thermostat) States() States {
	var ch []State
	ch = add(ch, "switch", GroupThermostat, v.Switch)
	ch = add(ch, "mainSwitch", GroupThermostat, v.MainSwitch)
	ch = addNumber(ch, "currentTemperature", GroupThermostat, v.CurrentTemperature)
	ch = addNumber(ch, "currentHumidity", GroupThermostat, v.CurrentHumidity)
	return States{Device: v.deviceStates(), Channel: ch}
}

// Sensor is an environment sensor (UIID 18).
type Sensor struct {
	DeviceInfo
	Temperature Number `json:"temperature"`
	Humidity    Number `json:"humidity"`
	Light       Number `json:"light"`
	Noise       Number `json:"noise"`
	Dusty       Number `json:"dusty"`
}

// UIID implements Variant.
func (Sensor) UIID() int { return 18 }

// States implements Variant.
func (v Sensor) States() States {
	var ch []State
	ch = addNumber(ch, "temperature", GroupSensor, v.Temperature)
	ch = addNumber(ch, "humidity", GroupSensor, v.Humidity)
	ch = addNumber(ch, "light", GroupSensor, v.Light)
	ch = addNumber(ch, "noise", GroupSensor, v.Noise)
	ch = addNumber(ch, "dusty", GroupSensor, v.Dusty)
	return States{Device: v.deviceStates(), Channel: ch}
}

// Dimmer is a dimmable light (UIID 36 uses bright, UIID 44 brightness).
type Dimmer struct {
	DeviceInfo
	uiid       int
	Switch     *string `json:"switch"`
	Bright     *int    `json:"bright"`
	Brightness *int    `json:"brightness"`
	BrightMin  *int    `json:"brightMin"`
	BrightMax  *int    `json:"brightMax"`
}

// UIID implements Variant.
func (v Dimmer) UIID() int { return v.uiid }

// States implements Variant.
func (v Dimmer) States() States {
	var ch []State
	ch = add(ch, "switch", GroupLight, v.Switch)
	ch = add(ch, "bright", GroupLight, v.Bright)
	ch = add(ch, "brightness", GroupLight, v.Brightness)
	ch = add(ch, "brightMin", GroupLight, v.BrightMin)
	ch = add(ch, "brightMax", GroupLight, v.BrightMax)
	return States{Device: v.deviceStates(), Channel: ch}
}

// LEDStrip is an RGB light strip (UIID 59).
type LEDStrip struct {
	DeviceInfo
	Switch *string `json:"switch"`
	Bright *int    `json:"bright"`
	ColorR *int    `json:"colorR"`
	ColorG *int    `json:"colorG"`
	ColorB *int    `json:"colorB"`
	Mode   *int    `json:"mode"`
}

// UIID implements Variant.
func (LEDStrip) UIID() int { return 59 }

// States implements Variant.
func (v LEDStrip) States() States {
	var ch []State
	ch = add(ch, "switch", GroupLight, v.Switch)
	ch = add(ch, "bright", GroupLight, v.Bright)
	ch = add(ch, "colorR", GroupLight, v.ColorR)
	ch = add(ch, "colorG", GroupLight, v.ColorG)
	ch = add(ch, "colorB", GroupLight, v.ColorB)
	return States{Device: v.deviceStates(), Channel: ch}
}

// DoorSensor is a door or window contact sensor (UIID 102).
type DoorSensor struct {
	DeviceInfo
	Switch         *string `json:"switch"`
	Battery        *int    `json:"battery"`
	LastUpdateTime *string `json:"lastUpdateTime"`
	ActionTime     *string `json:"actionTime"`
}

// UIID implements Variant.
func (DoorSensor) UIID() int { return 102 }

// States implements Variant.
func (v DoorSensor) States() States {
	var ch []State
	ch = add(ch, "switch", GroupSensor, v.Switch)
	ch = add(ch, "battery", GroupSensor, v.Battery)
	return States{Device: v.deviceStates(), Channel: ch}
}

// ColorBulb is a colour bulb with light scenes (UIID 104).
type ColorBulb struct {
	DeviceInfo
	Switch    *string `json:"switch"`
	LightType *string `json:"ltype"`
	White     *struct {
		Brightness       *int `json:"br"`
		ColorTemperature *int `json:"ct"`
	} `json:"white"`
	Color *struct {
		Brightness *int `json:"br"`
		Red        *int `json:"r"`
		Green      *int `json:"g"`
		Blue       *int `json:"b"`
	} `json:"color"`
}

// UIID implements Variant.
func (ColorBulb) UIID() int { return 104 }

// States implements Variant.
func (v ColorBulb) States() States {
	var ch []State
	ch = add(ch, "switch", GroupLight, v.Switch)
	ch = add(ch, "ltype", GroupLight, v.LightType)
	return States{Device: v.deviceStates(), Channel: ch}
}

// WhiteLight is a light driven by raw cold and warm channels (UIID 16
// and 52).
type WhiteLight struct {
	DeviceInfo
	uiid     int
	State    *string `json:"state"`
	Channel0 Number  `json:"channel0"`
	Channel1 Number  `json:"channel1"`
	Type     *string `json:"type"`
}

// UIID implements Variant.
func (v WhiteLight) UIID() int { return v.uiid }

// States implements Variant.
func (v WhiteLight) States() States {
	var ch []State
	ch = add(ch, "state", GroupLight, v.State)
	ch = addNumber(ch, "channel0", GroupLight, v.Channel0)
	ch = addNumber(ch, "channel1", GroupLight, v.Channel1)
	ch = add(ch, "type", GroupLight, v.Type)
	return States{Device: v.deviceStates(), Channel: ch}
}

// ChannelBulb is a colour bulb driven by raw white and RGB channels
// (UIID 22).
type ChannelBulb struct {
	DeviceInfo
	State    *string `json:"state"`
	Channel0 Number  `json:"channel0"`
	Channel1 Number  `json:"channel1"`
	Channel2 Number  `json:"channel2"`
	Channel3 Number  `json:"channel3"`
	Channel4 Number  `json:"channel4"`
	Type     *string `json:"type"`
	Mode     Number  `json:"mode"`
}

// UIID implements Variant.
func (ChannelBulb) UIID() int { return 22 }

// States implements Variant.
func (v ChannelBulb) States() States {
	var ch []State
	ch = add(ch, "state", GroupLight, v.State)
	for i, n := range []Number{v.Channel0, v.Channel1, v.Channel2, v.Channel3, v.Channel4} {
		ch = addNumber(ch, "channel"+strconv.Itoa(i), GroupLight, n)
	}
	ch = add(ch, "type", GroupLight, v.Type)
	ch = addNumber(ch, "mode", GroupLight, v.Mode)
	return States{Device: v.deviceStates(), Channel: ch}
}

// Fan is a standalone fan (UIID 17).
type Fan struct {
	DeviceInfo
	Fan   *string `json:"fan"`
	Speed *string `json:"speed"`
	Mode  *string `json:"mode"`
	Shake *string `json:"shake"`
}

// UIID implements Variant.
func (Fan) UIID() int { return 17 }

// States implements Variant.
func (v Fan) States() States {
	var ch []State
	ch = add(ch, "fan", GroupFan, v.Fan)
	ch = add(ch, "speed", GroupFan, v.Speed)
	ch = add(ch, "mode", GroupFan, v.Mode)
	ch = add(ch, "shake", GroupFan, v.Shake)
	return States{Device: v.deviceStates(), Channel: ch}
}

// Humidifier is a humidifier with a water level sensor (UIID 19).
type Humidifier struct {
	DeviceInfo
	Switch      *string `json:"switch"`
	State       Number  `json:"state"`
	Mode        *string `json:"mode"`
	Water       any     `json:"water"`
	Temperature Number  `json:"temperature"`
	Humidity    Number  `json:"humidity"`
}

// UIID implements Variant.
func (Humidifier) UIID() int { return 19 }

// States implements Variant.
func (v Humidifier) States() States {
	var ch []State
	ch = add(ch, "switch", GroupHumidifier, v.Switch)
	ch = addNumber(ch, "state", GroupHumidifier, v.State)
	ch = add(ch, "mode", GroupHumidifier, v.Mode)
	ch = addValue(ch, "water", GroupHumidifier, v.Water)
	ch = addNumber(ch, "temperature", GroupHumidifier, v.Temperature)
	ch = addNumber(ch, "humidity", GroupHumidifier, v.Humidity)
	return States{Device: v.deviceStates(), Channel: ch}
}

// Diffuser is an aroma diffuser with a mood light (UIID 25).
type Diffuser struct {
	DeviceInfo
	Switch          *string `json:"switch"`
	State           Number  `json:"state"`
	Water           any     `json:"water"`
	LightSwitch     any     `json:"lightswitch"`
	LightMode       Number  `json:"lightmode"`
	LightRed        Number  `json:"lightRcolor"`
	LightGreen      Number  `json:"lightGcolor"`
	LightBlue       Number  `json:"lightBcolor"`
	LightBrightness Number  `json:"lightbright"`
}

// UIID implements Variant.
func (Diffuser) UIID() int { return 25 }

// States implements Variant.
func (v Diffuser) States() States {
	var ch []State
	ch = add(ch, "switch", GroupOther, v.Switch)
	ch = addNumber(ch, "state", GroupOther, v.State)
	ch = addValue(ch, "water", GroupOther, v.Water)
	ch = addValue(ch, "lightswitch", GroupLight, v.LightSwitch)
	ch = addNumber(ch, "lightmode", GroupLight, v.LightMode)
	ch = addNumber(ch, "lightRcolor", GroupLight, v.LightRed)
	ch = addNumber(ch, "lightGcolor", GroupLight, v.LightGreen)
	ch = addNumber(ch, "lightBcolor", GroupLight, v.LightBlue)
	ch = addNumber(ch, "lightbright", GroupLight, v.LightBrightness)
	return States{Device: v.deviceStates(), Channel: ch}
}

// RFBridge is a 433 MHz bridge (UIID 28). Learned remotes in rfList are
// not exposed.
type RFBridge struct {
	DeviceInfo
	RemoteType Number  `json:"remote_type"`
	Command    *string `json:"cmd"`
	RFChannel  Number  `json:"rfChl"`
}

// UIID implements Variant.
func (RFBridge) UIID() int { return 28 }

// States implements Variant.
func (v RFBridge) States() States {
	var ch []State
	ch = addNumber(ch, "remote_type", GroupBridge, v.RemoteType)
	ch = add(ch, "cmd", GroupBridge, v.Command)
	ch = addNumber(ch, "rfChl", GroupBridge, v.RFChannel)
	return States{Device: v.deviceStates(), Channel: ch}
}

// StripController is an RGB light strip controller with effects (UIID 33).
type StripController struct {
	DeviceInfo
	Switch    *string `json:"switch"`
	LightType Number  `json:"light_type"`
	Bright    Number  `json:"bright"`
	ColorR    Number  `json:"colorR"`
	ColorG    Number  `json:"colorG"`
	ColorB    Number  `json:"colorB"`
	Mode      Number  `json:"mode"`
	Speed     Number  `json:"speed"`
}

// UIID implements Variant.
func (StripController) UIID() int { return 33 }

// States implements Variant.
func (v StripController) States() States {
	var ch []State
	ch = add(ch, "switch", GroupLight, v.Switch)
	ch = addNumber(ch, "light_type", GroupLight, v.LightType)
	ch = addNumber(ch, "bright", GroupLight, v.Bright)
	ch = addNumber(ch, "colorR", GroupLight, v.ColorR)
	ch = addNumber(ch, "colorG", GroupLight, v.ColorG)
	ch = addNumber(ch, "colorB", GroupLight, v.ColorB)
	ch = addNumber(ch, "mode", GroupLight, v.Mode)
	ch = addNumber(ch, "speed", GroupLight, v.Speed)
	return States{Device: v.deviceStates(), Channel: ch}
}

// SceneBulb is a white bulb with light scenes (UIID 103). Per scene
// brightness and temperature are not exposed.
type SceneBulb struct {
	DeviceInfo
	Switch          *string `json:"switch"`
	LightType       *string `json:"ltype"`
	ProtocolVersion *string `json:"pVer"`
}

// UIID implements Variant.
func (SceneBulb) UIID() int { return 103 }

// States implements Variant.
func (v SceneBulb) States() States {
	var ch []State
	ch = add(ch, "switch", GroupLight, v.Switch)
	ch = add(ch, "ltype", GroupLight, v.LightType)
	ch = add(ch, "pVer", GroupLight, v.ProtocolVersion)
	return States{Device: v.deviceStates(), Channel: ch}
}

// TemperatureSensor is a temperature probe (UIID 195).
type TemperatureSensor struct {
	FirmwareVersion *string `json:"fwVersion"`
	Temperature     Number  `json:"temperature"`
}

// UIID implements Variant.
func (TemperatureSensor) UIID() int { return 195 }

// States implements Variant.
func (v TemperatureSensor) States() States {
	return States{
		Device:  add(nil, "fwVersion", "", v.FirmwareVersion),
		Channel: addNumber(nil, "temperature", GroupSensor, v.Temperature),
	}
}

// ClimateSensor is a battery powered temperature and humidity sensor
// (UIID 1770 and 1771). Readings are hundredths.
type ClimateSensor struct {
	uiid        int
	Temperature Number `json:"temperature"`
	Humidity    Number `json:"humidity"`
	Battery     Number `json:"battery"`
}

// UIID implements Variant.
func (v ClimateSensor) UIID() int { return v.uiid }

// States implements Variant.
func (v ClimateSensor) States() States {
	var ch []State
	ch = addNumber(ch, "temperature", GroupSensor, v.Temperature)
	ch = addNumber(ch, "humidity", GroupSensor, v.Humidity)
	ch = addNumber(ch, "battery", GroupSensor, v.Battery)
	return States{Channel: ch}
}

// Decode maps params into the variant of the given UIID.
func Decode(id int, params map[string]any) (Variant, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	var v Variant
	switch Canonical(id) {
	case 1:
		s := Switch{uiid: id}
		err, v = json.Unmarshal(data, &s), &s
	case 4:
		s := MultiSwitch{uiid: id}
		err, v = json.Unmarshal(data, &s), &s
	case 5, 32:
		s := PowerSwitch{uiid: id}
		err, v = json.Unmarshal(data, &s), &s
	case 15:
		var s Thermostat
		err, v = json.Unmarshal(data, &s), &s
	case 18:
		var s Sensor
		err, v = json.Unmarshal(data, &s), &s
	case 36, 44:
		s := Dimmer{uiid: id}
		err, v = json.Unmarshal(data, &s), &s
	case 59:
		var s LEDStrip
		err, v = json.Unmarshal(data, &s), &s
	case 102:
		var s DoorSensor
		err, v = json.Unmarshal(data, &s), &s
	case 104:
		var s ColorBulb
		err, v = json.Unmarshal(data, &s), &s
	case 16:
		s := WhiteLight{uiid: id}
		err, v = json.Unmarshal(data, &s), &s
	case 17:
		var s Fan
		err, v = json.Unmarshal(data, &s), &s
	case 19:
		var s Humidifier
		err, v = json.Unmarshal(data, &s), &s
	case 22:
		var s ChannelBulb
		err, v = json.Unmarshal(data, &s), &s
	case 25:
		var s Diffuser
		err, v = json.Unmarshal(data, &s), &s
	case 28:
		var s RFBridge
		err, v = json.Unmarshal(data, &s), &s
	case 33:
		var s StripController
		err, v = json.Unmarshal(data, &s), &s
	case 103:
		var s SceneBulb
		err, v = json.Unmarshal(data, &s), &s
	case 195:
		var s TemperatureSensor
		err, v = json.Unmarshal(data, &s), &s
	case 1770:
		s := ClimateSensor{uiid: id}
		err, v = json.Unmarshal(data, &s), &s
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownUIID, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: uiid %d: %w", ErrInvalidPayload, id, err)
	}
	return v, nil
}
