package uiid

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
)

// Parameter types of a mapping descriptor.
const (
	TypeDevice  = "device"
	TypeChannel = "channel"
)

// Descriptor describes how one wire parameter becomes a property.
type Descriptor struct {
	Name      string        `json:"name"`
	Type      string        `json:"type"`
	DataType  string        `json:"data_type"`
	Format    device.Format `json:"format"`
	Settable  bool          `json:"settable"`
	Queryable bool          `json:"queryable"`
	Scale     *int          `json:"scale,omitempty"`
	Group     string        `json:"group,omitempty"`
}

// NamedDescriptor pairs a descriptor with its parameter identifier.
type NamedDescriptor struct {
	Identifier string
	Descriptor
}

// Entry is a top-level mapping entry. Plain entries describe a single
// parameter; group entries (Length > 0) describe per-outlet parameters
// repeated Length times.
type Entry struct {
	Identifier string
	Descriptor *Descriptor
	Length     int
	Properties []NamedDescriptor
}

// IsGroup reports whether the entry describes an outlet group.
func (e Entry) IsGroup() bool {
	return e.Descriptor == nil
}

// Mapping is the parsed mapping resource of one UIID. Entries are sorted
// by identifier.
type Mapping struct {
	Entries []Entry
}

type groupEntry struct {
	Length     *int                       `json:"length"`
	Properties map[string]json.RawMessage `json:"properties"`
}

// ParseMapping decodes a mapping resource.
func ParseMapping(data []byte) (*Mapping, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMapping, err)
	}

	m := &Mapping{}
	for _, id := range sortedKeys(raw) {
		var g groupEntry
		if err := json.Unmarshal(raw[id], &g); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidMapping, id, err)
		}

		if g.Length != nil && g.Properties != nil {
			entry := Entry{Identifier: id, Length: *g.Length}
			for _, sub := range sortedKeys(g.Properties) {
				d, err := parseDescriptor(sub, g.Properties[sub])
				if err != nil {
					return nil, err
				}
				entry.Properties = append(entry.Properties, NamedDescriptor{Identifier: sub, Descriptor: *d})
			}
			m.Entries = append(m.Entries, entry)
			continue
		}

		d, err := parseDescriptor(id, raw[id])
		if err != nil {
			return nil, err
		}
		m.Entries = append(m.Entries, Entry{Identifier: id, Descriptor: d})
	}
	return m, nil
}

func parseDescriptor(id string, data json.RawMessage) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidMapping, id, err)
	}
	if d.Type != TypeDevice && d.Type != TypeChannel {
		return nil, fmt.Errorf("%w: %s: type %q", ErrInvalidMapping, id, d.Type)
	}
	if _, err := device.ParseDataType(d.DataType); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidMapping, id, err)
	}
	return &d, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
