// Package devicetest provides helpers for tests that need a migrated
// platform database.
package devicetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/FastyBird/sonoff-connector-sub001/internal/device"
	"github.com/FastyBird/sonoff-connector-sub001/internal/infrastructure/database"
	"github.com/FastyBird/sonoff-connector-sub001/migrations"
)

// OpenRepository opens a migrated SQLite database in a temp directory and
// returns a repository backed by it. The database is closed on cleanup.
func OpenRepository(t *testing.T) *device.SQLiteRepository {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}

	return device.NewSQLiteRepository(db.DB)
}

// SeedConnector stores a connector with the given identifier.
func SeedConnector(t *testing.T, repo device.Repository, identifier string) *device.Connector {
	t.Helper()

	c := &device.Connector{Identifier: identifier, Name: identifier, Mode: "auto"}
	if err := repo.SaveConnector(context.Background(), c); err != nil {
		t.Fatalf("seeding connector: %v", err)
	}
	return c
}

// SeedDevice stores a device under connectorID.
func SeedDevice(t *testing.T, repo device.Repository, connectorID, identifier string) *device.Device {
	t.Helper()

	d := &device.Device{ConnectorID: connectorID, Identifier: identifier, Name: identifier}
	if err := repo.SaveDevice(context.Background(), d); err != nil {
		t.Fatalf("seeding device: %v", err)
	}
	return d
}

// SeedChannel stores a channel under deviceID.
func SeedChannel(t *testing.T, repo device.Repository, deviceID, identifier string) *device.Channel {
	t.Helper()

	ch := &device.Channel{DeviceID: deviceID, Identifier: identifier}
	if err := repo.SaveChannel(context.Background(), ch); err != nil {
		t.Fatalf("seeding channel: %v", err)
	}
	return ch
}

// SeedProperty stores p, filling defaults for kind and data type.
func SeedProperty(t *testing.T, repo device.Repository, p *device.Property) *device.Property {
	t.Helper()

	if p.Kind == "" {
		p.Kind = device.KindDynamic
	}
	if p.DataType == "" {
		p.DataType = device.DataTypeString
	}
	if err := repo.SaveProperty(context.Background(), p); err != nil {
		t.Fatalf("seeding property: %v", err)
	}
	return p
}
