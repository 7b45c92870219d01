////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// sqlite requires cgo, which is not available in wasm
//go:build !js || !wasm

package archive

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store is the durable document store holding conversation metadata and
// archived messages.
type Store struct {
	db *gorm.DB // Stored database connection
}

// NewStore opens the archive at dbFilePath. An empty path uses a temporary
// in-memory database.
func NewStore(dbFilePath string) (*Store, error) {
	if len(dbFilePath) == 0 {
		dbFilePath = fmt.Sprintf(temporaryDbPath, "archive")
		jww.WARN.Printf("[ARCHIVE] No database file path specified! " +
			"Using temporary in-memory database")
		return newStore(dbFilePath, true)
	}
	if !strings.Contains(dbFilePath, "?") {
		dbFilePath += foreignKeysParam
	}
	return newStore(dbFilePath, false)
}

// NewTemporaryStore opens a named in-memory database. Each name is a separate
// database shared by every connection in the process.
func NewTemporaryStore(name string) (*Store, error) {
	return newStore(fmt.Sprintf(temporaryDbPath, name), true)
}

// If useTemporary is set, the pool is pinned to a single connection that is
// never recycled: a shared-cache memory database reports table locks under
// concurrent connections and disappears when its last connection closes.
func newStore(dbFilePath string, useTemporary bool) (*Store, error) {
	// Create the database connection
	db, err := gorm.Open(sqlite.Open(dbFilePath), &gorm.Config{
		Logger: logger.New(jww.TRACE, logger.Config{LogLevel: logger.Info}),
	})
	if err != nil {
		return nil, errors.Errorf(
			"Unable to initialize database backend: %+v", err)
	}

	// Enable foreign keys because they are disabled in SQLite by default. The
	// DSN parameter covers connections opened later by the pool.
	if err = db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, err
	}

	// Enable Write Ahead Logging to enable multiple DB connections
	if err = db.Exec("PRAGMA journal_mode = WAL;").Error; err != nil {
		return nil, err
	}

	// Get and configure the internal database ConnPool
	sqlDb, err := db.DB()
	if err != nil {
		return nil, errors.Errorf(
			"Unable to configure database connection pool: %+v", err)
	}
	if useTemporary {
		sqlDb.SetMaxIdleConns(1)
		sqlDb.SetMaxOpenConns(1)
	} else {
		sqlDb.SetMaxIdleConns(5)
		sqlDb.SetMaxOpenConns(10)
		sqlDb.SetConnMaxIdleTime(5 * time.Minute)
		sqlDb.SetConnMaxLifetime(10 * time.Minute)
	}

	// Initialize the database schema
	// WARNING: Order is important. Do not change without database testing
	err = db.AutoMigrate(&Conversation{}, &Participant{}, &Message{})
	if err != nil {
		return nil, err
	}

	jww.INFO.Println("[ARCHIVE] Database backend initialized successfully!")
	return &Store{db: db}, nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	sqlDb, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDb.Close()
}
