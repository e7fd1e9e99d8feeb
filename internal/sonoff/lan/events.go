package lan

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"

	"github.com/FastyBird/sonoff-connector-sub001/internal/sonoff/transformer"
)

var instanceRe = regexp.MustCompile(`^[a-zA-Z]+_([0-9A-Za-z]+)$`)

// Event is one parsed device announcement.
//
// Data holds the decoded device state. It is nil when the state is
// encrypted and no key is registered for the device, or when decryption
// failed.
type Event struct {
	ID        string
	IPAddress string
	Domain    string
	Port      int
	Type      string
	Seq       string
	IV        string
	Encrypted bool
	Data      map[string]any
}

// parseEntry turns an mDNS service entry into an Event. Entries that do
// not describe an eWeLink device are rejected.
func (c *Client) parseEntry(entry *zeroconf.ServiceEntry) (Event, bool) {
	if entry == nil || !instanceRe.MatchString(entry.Instance) || len(entry.AddrIPv4) == 0 {
		return Event{}, false
	}

	txt := make(map[string]string, len(entry.Text))
	for _, row := range entry.Text {
		k, v, _ := strings.Cut(row, "=")
		txt[k] = v
	}

	id, devType, seq, data1 := txt["id"], txt["type"], txt["seq"], txt["data1"]
	if id == "" || devType == "" || seq == "" || data1 == "" {
		return Event{}, false
	}

	ev := Event{
		ID:        id,
		IPAddress: entry.AddrIPv4[0].String(),
		Domain:    entry.HostName,
		Port:      entry.Port,
		Type:      devType,
		Seq:       seq,
		IV:        txt["iv"],
	}
	if ev.Port == 0 {
		ev.Port = DefaultPort
	}
	ev.Encrypted, _ = strconv.ParseBool(txt["encrypt"])

	raw := data1 + txt["data2"] + txt["data3"] + txt["data4"]

	if ev.Encrypted {
		key, ok := c.deviceKey(id)
		if !ok {
			return ev, true
		}
		plain, err := transformer.Decrypt(raw, key, ev.IV)
		if err != nil {
			c.logError("could not decrypt device announcement", err, "device_id", id)
			return ev, true
		}
		raw = plain
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		c.logDebug("device announcement data is not json", "device_id", id, "error", err)
		return ev, true
	}
	ev.Data = data
	return ev, true
}
