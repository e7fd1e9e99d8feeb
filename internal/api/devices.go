package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
)

// DeviceSummary is a device in the device list.
type DeviceSummary struct {
	device.Device
	State device.ConnectionState `json:"state"`
}

// PropertyView is a property with its runtime state.
type PropertyView struct {
	device.Property
	State *device.PropertyState `json:"state,omitempty"`
}

// ChannelView is a channel with its properties.
type ChannelView struct {
	device.Channel
	Properties []PropertyView `json:"properties"`
}

// DeviceDetail is the body of GET /api/v1/devices/{id}.
type DeviceDetail struct {
	DeviceSummary
	Properties []PropertyView `json:"properties"`
	Channels   []ChannelView  `json:"channels"`
}

// SetExpectedRequest is the body of PUT /api/v1/properties/{id}/expected.
type SetExpectedRequest struct {
	Value any `json:"value"`
}

// handleListDevices returns the connector's devices with their
// connection state.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	entity, err := s.connector.Entity(ctx)
	if err != nil {
		return fmt.Errorf("loading connector: %w", err)
	}

	devices, err := s.repo.ListDevices(ctx, entity.ID)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}

	out := make([]DeviceSummary, 0, len(devices))
	for _, dev := range devices {
		out = append(out, DeviceSummary{Device: dev, State: s.states.ConnectionState(ctx, dev.ID)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": out, "count": len(out)})
	return nil
}

// handleGetDevice returns a device with its channels and properties.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	dev, err := s.ownedDevice(ctx, chi.URLParam(r, "id"))
	if err != nil {
		return err
	}

	props, err := s.repo.ListDeviceProperties(ctx, dev.ID)
	if err != nil {
		return fmt.Errorf("listing properties of device %s: %w", dev.ID, err)
	}

	channels, err := s.repo.ListChannels(ctx, dev.ID)
	if err != nil {
		return fmt.Errorf("listing channels of device %s: %w", dev.ID, err)
	}

	detail := DeviceDetail{
		DeviceSummary: DeviceSummary{Device: *dev, State: s.states.ConnectionState(ctx, dev.ID)},
		Properties:    s.propertyViews(ctx, props),
		Channels:      make([]ChannelView, 0, len(channels)),
	}
	for _, ch := range channels {
		chProps, err := s.repo.ListChannelProperties(ctx, ch.ID)
		if err != nil {
			return fmt.Errorf("listing properties of channel %s: %w", ch.ID, err)
		}
		detail.Channels = append(detail.Channels, ChannelView{Channel: ch, Properties: s.propertyViews(ctx, chProps)})
	}

	writeJSON(w, http.StatusOK, detail)
	return nil
}

// handleSetExpected records a write request for a settable property.
// The request is asynchronous: the writer picks it up and the device
// confirms it with its next state report.
func (s *Server) handleSetExpected(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	prop, err := s.repo.GetProperty(ctx, chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, device.ErrPropertyNotFound):
		return errPropertyNotFound
	case err != nil:
		return fmt.Errorf("loading property: %w", err)
	}
	if _, err := s.ownedDevice(ctx, prop.DeviceID); err != nil {
		return err
	}
	if !prop.IsDynamic() || !prop.Settable {
		return errNotSettable
	}

	var req SetExpectedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return badRequest("invalid JSON body")
	}
	if req.Value == nil {
		return badRequest("value field is required")
	}

	st, err := s.states.WriteState(ctx, prop.ID,
		device.WithExpected(req.Value), device.WithPending(device.PendingTrue()))
	if err != nil {
		return fmt.Errorf("storing write request for %s: %w", prop.ID, err)
	}

	s.logger.Info("property write requested",
		"property_id", prop.ID,
		"property", prop.Identifier,
		"value", req.Value,
		"request_id", ctx.Value(ctxKeyRequestID),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"property_id": prop.ID,
		"status":      "accepted",
		"state":       st,
	})
	return nil
}

// ownedDevice loads a device of this connector. Devices of other
// connectors are reported as missing.
func (s *Server) ownedDevice(ctx context.Context, id string) (*device.Device, error) {
	entity, err := s.connector.Entity(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading connector: %w", err)
	}

	dev, err := s.repo.GetDevice(ctx, id)
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		return nil, errDeviceNotFound
	case err != nil:
		return nil, fmt.Errorf("loading device %s: %w", id, err)
	case dev.ConnectorID != entity.ID:
		return nil, errDeviceNotFound
	}
	return dev, nil
}

func (s *Server) propertyViews(ctx context.Context, props []device.Property) []PropertyView {
	out := make([]PropertyView, 0, len(props))
	for _, p := range props {
		view := PropertyView{Property: p}
		if p.IsDynamic() {
			if st, err := s.states.ReadState(ctx, p.ID); err == nil {
				view.State = &st
			}
		}
		out = append(out, view)
	}
	return out
}
