package main

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/gommon/log"
	_ "github.com/lib/pq"
)

type PostgresRepository struct {
	*sqlPlaylists
}

func NewPostgresRepository(dbURL string) (*PostgresRepository, error) {
	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	log.Info("connected to db. creating new tables")

	playlists, err := newSQLPlaylists(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresRepository{playlists}, nil
}
