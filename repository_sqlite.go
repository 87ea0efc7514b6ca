package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/gommon/log"
	_ "github.com/mattn/go-sqlite3"
)

type SQLiteRepository struct {
	*sqlPlaylists
}

func NewSQLiteRepository(filePath string) (*SQLiteRepository, error) {
	if filePath == "" {
		filePath = "playlists.sqlite3"
	}
	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	db, err := sqlx.Open("sqlite3", filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db %s: %w", filePath, err)
	}
	// a single connection keeps writers from tripping over each other
	db.SetMaxOpenConns(1)

	playlists, err := newSQLPlaylists(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Infof("using sqlite playlist store at %s", filePath)
	return &SQLiteRepository{playlists}, nil
}
