package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository defines the persistence operations the connector needs on
// the platform model. Find* methods look an entity up by identifier
// within its owner's scope, Get* methods by ID.
//
// Not-found conditions are reported with the package sentinel errors.
type Repository interface {
	GetConnector(ctx context.Context, id string) (*Connector, error)
	FindConnector(ctx context.Context, identifier string) (*Connector, error)
	SaveConnector(ctx context.Context, c *Connector) error

	GetDevice(ctx context.Context, id string) (*Device, error)
	FindDevice(ctx context.Context, connectorID, identifier string) (*Device, error)
	ListDevices(ctx context.Context, connectorID string) ([]Device, error)
	ListChildren(ctx context.Context, parentID string) ([]Device, error)
	SaveDevice(ctx context.Context, d *Device) error

	GetChannel(ctx context.Context, id string) (*Channel, error)
	FindChannel(ctx context.Context, deviceID, identifier string) (*Channel, error)
	ListChannels(ctx context.Context, deviceID string) ([]Channel, error)
	SaveChannel(ctx context.Context, ch *Channel) error

	GetProperty(ctx context.Context, id string) (*Property, error)
	FindDeviceProperty(ctx context.Context, deviceID, identifier string) (*Property, error)
	FindChannelProperty(ctx context.Context, channelID, identifier string) (*Property, error)
	ListDeviceProperties(ctx context.Context, deviceID string) ([]Property, error)
	ListChannelProperties(ctx context.Context, channelID string) ([]Property, error)
	SaveProperty(ctx context.Context, p *Property) error
	DeleteProperty(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s) //nolint:errcheck // Format is controlled
	return t
}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

// --- connectors ---

const connectorColumns = `id, identifier, name, mode, created_at, updated_at`

func scanConnector(row rowScanner) (*Connector, error) {
	var c Connector
	var created, updated string
	if err := row.Scan(&c.ID, &c.Identifier, &c.Name, &c.Mode, &created, &updated); err != nil {
		return nil, err
	}
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}

// GetConnector retrieves a connector by ID.
func (r *SQLiteRepository) GetConnector(ctx context.Context, id string) (*Connector, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+connectorColumns+` FROM connectors WHERE id = ?`, id)
	c, err := scanConnector(row)
	if err != nil {
		return nil, notFound(err, ErrConnectorNotFound, "querying connector by id")
	}
	return c, nil
}

// FindConnector retrieves a connector by its identifier.
func (r *SQLiteRepository) FindConnector(ctx context.Context, identifier string) (*Connector, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+connectorColumns+` FROM connectors WHERE identifier = ?`, identifier)
	c, err := scanConnector(row)
	if err != nil {
		return nil, notFound(err, ErrConnectorNotFound, "querying connector by identifier")
	}
	return c, nil
}

// SaveConnector inserts or updates a connector. An empty ID is generated.
func (r *SQLiteRepository) SaveConnector(ctx context.Context, c *Connector) error {
	now := r.now()
	c.ID = newID(c.ID)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO connectors (`+connectorColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			identifier = excluded.identifier,
			name = excluded.name,
			mode = excluded.mode,
			updated_at = excluded.updated_at`,
		c.ID, c.Identifier, c.Name, c.Mode, formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving connector: %w", err)
	}
	return nil
}

// --- devices ---

const deviceColumns = `id, connector_id, parent_id, identifier, name, description, created_at, updated_at`

func scanDevice(row rowScanner) (*Device, error) {
	var d Device
	var parent sql.NullString
	var created, updated string
	if err := row.Scan(&d.ID, &d.ConnectorID, &parent, &d.Identifier, &d.Name, &d.Description, &created, &updated); err != nil {
		return nil, err
	}
	if parent.Valid {
		d.ParentID = &parent.String
	}
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTime(updated)
	return &d, nil
}

// GetDevice retrieves a device by ID.
func (r *SQLiteRepository) GetDevice(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	d, err := scanDevice(row)
	if err != nil {
		return nil, notFound(err, ErrDeviceNotFound, "querying device by id")
	}
	return d, nil
}

// FindDevice retrieves a device by identifier within a connector.
func (r *SQLiteRepository) FindDevice(ctx context.Context, connectorID, identifier string) (*Device, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE connector_id = ? AND identifier = ?`,
		connectorID, identifier)
	d, err := scanDevice(row)
	if err != nil {
		return nil, notFound(err, ErrDeviceNotFound, "querying device by identifier")
	}
	return d, nil
}

// ListDevices retrieves all devices of a connector.
func (r *SQLiteRepository) ListDevices(ctx context.Context, connectorID string) ([]Device, error) {
	return r.queryDevices(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE connector_id = ? ORDER BY identifier`, connectorID)
}

// ListChildren retrieves all devices whose parent is parentID.
func (r *SQLiteRepository) ListChildren(ctx context.Context, parentID string) ([]Device, error) {
	return r.queryDevices(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE parent_id = ? ORDER BY identifier`, parentID)
}

func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// SaveDevice inserts or updates a device. An empty ID is generated.
func (r *SQLiteRepository) SaveDevice(ctx context.Context, d *Device) error {
	now := r.now()
	d.ID = newID(d.ID)
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			parent_id = excluded.parent_id,
			identifier = excluded.identifier,
			name = excluded.name,
			description = excluded.description,
			updated_at = excluded.updated_at`,
		d.ID, d.ConnectorID, d.ParentID, d.Identifier, d.Name, d.Description,
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving device: %w", err)
	}
	return nil
}

// --- channels ---

const channelColumns = `id, device_id, identifier, name, created_at`

func scanChannel(row rowScanner) (*Channel, error) {
	var ch Channel
	var created string
	if err := row.Scan(&ch.ID, &ch.DeviceID, &ch.Identifier, &ch.Name, &created); err != nil {
		return nil, err
	}
	ch.CreatedAt = parseTime(created)
	return &ch, nil
}

// GetChannel retrieves a channel by ID.
func (r *SQLiteRepository) GetChannel(ctx context.Context, id string) (*Channel, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = ?`, id)
	ch, err := scanChannel(row)
	if err != nil {
		return nil, notFound(err, ErrChannelNotFound, "querying channel by id")
	}
	return ch, nil
}

// FindChannel retrieves a channel by identifier within a device.
func (r *SQLiteRepository) FindChannel(ctx context.Context, deviceID, identifier string) (*Channel, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE device_id = ? AND identifier = ?`,
		deviceID, identifier)
	ch, err := scanChannel(row)
	if err != nil {
		return nil, notFound(err, ErrChannelNotFound, "querying channel by identifier")
	}
	return ch, nil
}

// ListChannels retrieves all channels of a device.
func (r *SQLiteRepository) ListChannels(ctx context.Context, deviceID string) ([]Channel, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE device_id = ? ORDER BY identifier`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying channels: %w", err)
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning channel row: %w", err)
		}
		channels = append(channels, *ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating channels: %w", err)
	}
	return channels, nil
}

// SaveChannel inserts or updates a channel. An empty ID is generated.
func (r *SQLiteRepository) SaveChannel(ctx context.Context, ch *Channel) error {
	ch.ID = newID(ch.ID)
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = r.now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO channels (`+channelColumns+`) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			identifier = excluded.identifier,
			name = excluded.name`,
		ch.ID, ch.DeviceID, ch.Identifier, ch.Name, formatTime(ch.CreatedAt))
	if err != nil {
		return fmt.Errorf("saving channel: %w", err)
	}
	return nil
}

// --- properties ---

const propertyColumns = `id, device_id, channel_id, identifier, name, kind, data_type, format,
	settable, queryable, scale, value, created_at, updated_at`

func scanProperty(row rowScanner) (*Property, error) {
	var (
		p                Property
		channel          sql.NullString
		format, value    sql.NullString
		scale            sql.NullInt64
		created, updated string
	)
	if err := row.Scan(&p.ID, &p.DeviceID, &channel, &p.Identifier, &p.Name, &p.Kind, &p.DataType,
		&format, &p.Settable, &p.Queryable, &scale, &value, &created, &updated); err != nil {
		return nil, err
	}

	p.ChannelID = channel.String
	if format.Valid && format.String != "" {
		if err := json.Unmarshal([]byte(format.String), &p.Format); err != nil {
			return nil, fmt.Errorf("unmarshaling format: %w", err)
		}
	}
	if scale.Valid {
		s := int(scale.Int64)
		p.Scale = &s
	}
	if value.Valid && value.String != "" {
		if err := json.Unmarshal([]byte(value.String), &p.Value); err != nil {
			return nil, fmt.Errorf("unmarshaling value: %w", err)
		}
	}
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}

// GetProperty retrieves a property by ID.
func (r *SQLiteRepository) GetProperty(ctx context.Context, id string) (*Property, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = ?`, id)
	p, err := scanProperty(row)
	if err != nil {
		return nil, notFound(err, ErrPropertyNotFound, "querying property by id")
	}
	return p, nil
}

// FindDeviceProperty retrieves a device-level property by identifier.
func (r *SQLiteRepository) FindDeviceProperty(ctx context.Context, deviceID, identifier string) (*Property, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+propertyColumns+` FROM properties
		WHERE device_id = ? AND channel_id IS NULL AND identifier = ?`,
		deviceID, identifier)
	p, err := scanProperty(row)
	if err != nil {
		return nil, notFound(err, ErrPropertyNotFound, "querying device property")
	}
	return p, nil
}

// FindChannelProperty retrieves a channel-level property by identifier.
func (r *SQLiteRepository) FindChannelProperty(ctx context.Context, channelID, identifier string) (*Property, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+propertyColumns+` FROM properties WHERE channel_id = ? AND identifier = ?`,
		channelID, identifier)
	p, err := scanProperty(row)
	if err != nil {
		return nil, notFound(err, ErrPropertyNotFound, "querying channel property")
	}
	return p, nil
}

// ListDeviceProperties retrieves all device-level properties of a device.
func (r *SQLiteRepository) ListDeviceProperties(ctx context.Context, deviceID string) ([]Property, error) {
	return r.queryProperties(ctx,
		`SELECT `+propertyColumns+` FROM properties
		WHERE device_id = ? AND channel_id IS NULL ORDER BY identifier`, deviceID)
}

// ListChannelProperties retrieves all properties of a channel.
func (r *SQLiteRepository) ListChannelProperties(ctx context.Context, channelID string) ([]Property, error) {
	return r.queryProperties(ctx,
		`SELECT `+propertyColumns+` FROM properties WHERE channel_id = ? ORDER BY identifier`, channelID)
}

func (r *SQLiteRepository) queryProperties(ctx context.Context, query string, args ...any) ([]Property, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying properties: %w", err)
	}
	defer rows.Close()

	var props []Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning property row: %w", err)
		}
		props = append(props, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating properties: %w", err)
	}
	return props, nil
}

// SaveProperty inserts or updates a property. An empty ID is generated.
func (r *SQLiteRepository) SaveProperty(ctx context.Context, p *Property) error {
	if p.DeviceID == "" || p.Identifier == "" {
		return fmt.Errorf("%w: device id and identifier are required", ErrInvalidProperty)
	}
	if p.Kind != KindDynamic && p.Kind != KindVariable {
		return fmt.Errorf("%w: kind %q", ErrInvalidProperty, p.Kind)
	}

	now := r.now()
	p.ID = newID(p.ID)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	var format, value, channel any
	if !p.Format.IsZero() {
		b, err := json.Marshal(p.Format)
		if err != nil {
			return fmt.Errorf("marshaling format: %w", err)
		}
		format = string(b)
	}
	if p.Value != nil {
		b, err := json.Marshal(p.Value)
		if err != nil {
			return fmt.Errorf("marshaling value: %w", err)
		}
		value = string(b)
	}
	if p.ChannelID != "" {
		channel = p.ChannelID
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO properties (`+propertyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			identifier = excluded.identifier,
			name = excluded.name,
			kind = excluded.kind,
			data_type = excluded.data_type,
			format = excluded.format,
			settable = excluded.settable,
			queryable = excluded.queryable,
			scale = excluded.scale,
			value = excluded.value,
			updated_at = excluded.updated_at`,
		p.ID, p.DeviceID, channel, p.Identifier, p.Name, p.Kind, p.DataType, format,
		p.Settable, p.Queryable, p.Scale, value, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving property: %w", err)
	}
	return nil
}

// DeleteProperty removes a property by ID.
func (r *SQLiteRepository) DeleteProperty(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM properties WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting property: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrPropertyNotFound
	}
	return nil
}

// notFound maps sql.ErrNoRows to the given sentinel and wraps other errors.
func notFound(err, sentinel error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return fmt.Errorf("%s: %w", op, err)
}
