// Package db owns the Postgres connection and the read queries over
// the blocks table written by the ingestion pipeline.
package db

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

// Connect opens a pooled connection to the persistent store and
// verifies it with a ping. The caller treats a failure here as fatal.
func Connect(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, db.Ping()
}
