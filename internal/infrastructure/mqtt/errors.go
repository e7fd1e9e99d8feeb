package mqtt

import "errors"

var (
	ErrNotConnected      = errors.New("mqtt: broker not connected")
	ErrConnectionFailed  = errors.New("mqtt: connecting to broker failed")
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")
	ErrTimeout           = errors.New("mqtt: no broker acknowledgement")

	// ErrInvalidMessage covers empty topics, QoS above 2, nil handlers and
	// oversized payloads.
	ErrInvalidMessage = errors.New("mqtt: invalid message")
)
