// Package database owns the SQLite file behind the connector's platform
// model: connectors, devices, channels and properties.
//
// The file is created 0600 because it stores cloud device keys. Foreign
// keys are always on; WAL is optional.
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql and are
// applied in version order, each in its own transaction.
package database
