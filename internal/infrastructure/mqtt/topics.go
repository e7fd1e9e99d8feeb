package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic the connector uses.
const TopicPrefix = "sonoff/v1"

// Topics provides builders for the connector's MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.PropertyExchange("sonoff", "5b1c...")
//	// Returns: "sonoff/v1/exchange/property/sonoff/5b1c..."
type Topics struct{}

// ConnectorStatus returns the retained status topic of a connector. The
// client's Last Will is published here too.
//
// Example: sonoff/v1/connector/living-room/status
func (Topics) ConnectorStatus(connectorID string) string {
	return fmt.Sprintf("%s/connector/%s/status", TopicPrefix, connectorID)
}

// ConnectorHealth returns the retained health topic of a connector.
//
// Example: sonoff/v1/connector/living-room/health
func (Topics) ConnectorHealth(connectorID string) string {
	return fmt.Sprintf("%s/connector/%s/health", TopicPrefix, connectorID)
}

// PropertyExchange returns the topic carrying state notifications and
// write requests of one property.
//
// Example: sonoff/v1/exchange/property/living-room/5b1c9a52-...
func (Topics) PropertyExchange(connectorID, propertyID string) string {
	return fmt.Sprintf("%s/exchange/property/%s/%s", TopicPrefix, connectorID, propertyID)
}

// AllPropertyExchange returns a pattern matching every property exchange
// topic of every connector.
//
// Pattern: sonoff/v1/exchange/property/#
func (Topics) AllPropertyExchange() string {
	return TopicPrefix + "/exchange/property/#"
}

// ParsePropertyExchange extracts the connector and property IDs from a
// property exchange topic. ok is false for any other topic.
func (Topics) ParsePropertyExchange(topic string) (connectorID, propertyID string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefix+"/exchange/property/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
