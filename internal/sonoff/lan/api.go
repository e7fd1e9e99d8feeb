package lan

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff/transformer"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	deviceInfoSchema  = sync.OnceValues(func() (*jsonschema.Schema, error) { return compileSchema("device_info.json") })
	deviceStateSchema = sync.OnceValues(func() (*jsonschema.Schema, error) { return compileSchema("device_state.json") })
)

func compileSchema(name string) (*jsonschema.Schema, error) {
	data, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, err
	}
	return c.Compile(name)
}

// selfAPIKey is the fixed api key LAN mode devices expect from clients.
const selfAPIKey = "123"

type request struct {
	Sequence   string `json:"sequence"`
	DeviceID   string `json:"deviceid"`
	SelfAPIKey string `json:"selfApikey"`
	Data       any    `json:"data"`
	Encrypt    bool   `json:"encrypt,omitempty"`
	IV         string `json:"iv,omitempty"`
}

type response struct {
	Error   int             `json:"error"`
	Encrypt bool            `json:"encrypt"`
	IV      string          `json:"iv"`
	Data    json.RawMessage `json:"data"`
}

// DeviceInfo is the answer of /zeroconf/info.
type DeviceInfo struct {
	DeviceID        string
	SSID            string
	BSSID           string
	FirmwareVersion string
	OTAUnlock       bool
	RSSI            *int

	// Params holds every reported parameter with signalStrength renamed
	// to rssi, ready for UIID resolution.
	Params map[string]any
}

func newDeviceInfo(data map[string]any) *DeviceInfo {
	info := &DeviceInfo{Params: make(map[string]any, len(data))}
	for k, v := range data {
		info.Params[k] = v
	}
	if v, ok := info.Params["signalStrength"]; ok {
		if _, has := info.Params["rssi"]; !has {
			info.Params["rssi"] = v
		}
		delete(info.Params, "signalStrength")
	}

	info.DeviceID, _ = data["deviceid"].(string)
	info.SSID, _ = data["ssid"].(string)
	info.BSSID, _ = data["bssid"].(string)
	info.FirmwareVersion, _ = data["fwVersion"].(string)
	info.OTAUnlock, _ = data["otaUnlock"].(bool)
	if f, ok := info.Params["rssi"].(float64); ok {
		rssi := int(f)
		info.RSSI = &rssi
	}
	return info
}

// GetDeviceInfo reads the device information of a device.
func (c *Client) GetDeviceInfo(ctx context.Context, deviceID, ip string, port int) (*DeviceInfo, error) {
	url := fmt.Sprintf("http://%s:%d/zeroconf/info", ip, port)

	resp, err := c.call(ctx, deviceID, url, map[string]any{}, deviceInfoSchema, "reading device info")
	if err != nil {
		return nil, err
	}

	data, err := c.decodeData(deviceID, resp)
	if err != nil {
		return nil, err
	}
	return newDeviceInfo(data), nil
}

// SetDeviceState writes one parameter. When group is set and outlet is
// not nil the parameter is sent as {group: [{parameter: value, outlet}]},
// otherwise as {parameter: value}.
func (c *Client) SetDeviceState(
	ctx context.Context,
	deviceID, ip string,
	port int,
	parameter string,
	value any,
	group string,
	outlet *int,
) error {
	params := map[string]any{parameter: value}
	endpoint := parameter

	if group != "" && outlet != nil {
		params = map[string]any{
			group: []map[string]any{{parameter: value, "outlet": *outlet}},
		}
		endpoint = group
	}

	url := fmt.Sprintf("http://%s:%d/zeroconf/%s", ip, port, endpoint)
	_, err := c.call(ctx, deviceID, url, params, deviceStateSchema, "setting device state")
	return err
}

func (c *Client) call(
	ctx context.Context,
	deviceID, url string,
	data any,
	schema func() (*jsonschema.Schema, error),
	op string,
) (*response, error) {
	payload := request{
		Sequence:   strconv.FormatInt(c.now().UnixMilli(), 10),
		DeviceID:   deviceID,
		SelfAPIKey: selfAPIKey,
		Data:       data,
	}

	if key, ok := c.deviceKey(deviceID); ok {
		plain, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncode, err)
		}
		iv, err := transformer.RandomIV()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncode, err)
		}
		encrypted, err := transformer.Encrypt(string(plain), key, iv)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncode, err)
		}
		payload.Data = encrypted
		payload.Encrypt = true
		payload.IV = iv
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &APICallError{Message: "could not create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Close = true

	c.logDebug("lan request", "method", req.Method, "url", url, "device_id", deviceID)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &APICallError{Message: "calling api endpoint failed", Request: req, Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &APICallError{Message: "could not read response body", Request: req, Response: res, Err: err}
	}

	c.logDebug("lan response", "url", url, "status", res.StatusCode, "body", string(raw))

	if res.StatusCode != http.StatusOK {
		return nil, &APICallError{
			Message:  fmt.Sprintf("%s failed with http status %d", op, res.StatusCode),
			Request:  req,
			Response: res,
		}
	}

	if err := validate(raw, schema); err != nil {
		return nil, &APIError{Message: "could not validate received response payload", Err: err}
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &APIError{Message: "could not decode response", Err: err}
	}

	if resp.Error != 0 {
		return nil, &APICallError{
			Message:  op + " failed",
			Code:     resp.Error,
			Request:  req,
			Response: res,
		}
	}
	return &resp, nil
}

func validate(raw []byte, schema func() (*jsonschema.Schema, error)) error {
	sch, err := schema()
	if err != nil {
		return err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return sch.Validate(doc)
}

// decodeData returns the response data as a map, decrypting it first
// when the device answered encrypted.
func (c *Client) decodeData(deviceID string, resp *response) (map[string]any, error) {
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return map[string]any{}, nil
	}

	var text string
	if err := json.Unmarshal(resp.Data, &text); err != nil {
		var data map[string]any
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			return nil, &APIError{Message: "could not decode response data", Err: err}
		}
		return data, nil
	}

	if resp.Encrypt {
		key, ok := c.deviceKey(deviceID)
		if !ok {
			return nil, &APIError{Message: "received encrypted data without device key"}
		}
		plain, err := transformer.Decrypt(text, key, resp.IV)
		if err != nil {
			return nil, &APIError{Message: "could not decrypt response data", Err: err}
		}
		text = plain
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, &APIError{Message: "could not decode response data", Err: err}
	}
	return data, nil
}
