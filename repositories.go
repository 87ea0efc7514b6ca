package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/gommon/log"

	"github.com/himanshub16/upnext-karaoke/queue"
)

var ErrPlaylistNotFound = errors.New("playlist not found")

// Playlist is a named snapshot of the queue. Names are matched without
// regard to case.
type Playlist struct {
	Name      string       `json:"name"`
	Songs     []queue.Song `json:"songs"`
	UpdatedAt int64        `json:"updatedAt"`
}

type PlaylistSummary struct {
	Name      string `json:"name" db:"name"`
	UpdatedAt int64  `json:"updatedAt" db:"updated_at"`
	Count     int    `json:"count" db:"song_count"`
}

type PlaylistRepository interface {
	// SavePlaylist creates the playlist or replaces the one with the same name
	SavePlaylist(name string, songs []queue.Song) (*Playlist, error)
	LoadPlaylist(name string) (*Playlist, error)
	ListPlaylists() ([]PlaylistSummary, error)
	close()
}

// OpenPlaylistRepository picks the storage from the scheme of dbURL:
// sqlite://, postgres:// or file://. An empty url means the json file in
// the default location.
func OpenPlaylistRepository(dbURL string) (PlaylistRepository, error) {
	if dbURL == "" {
		dbURL = "file://" + defaultPlaylistPath
	}

	u, err := url.Parse(dbURL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	var repo PlaylistRepository
	switch u.Scheme {
	case "file":
		repo, err = NewFileRepository(u.Host + u.Path)
	case "sqlite", "sqlite3":
		repo, err = NewSQLiteRepository(u.Host + u.Path)
	case "postgres", "postgresql":
		repo, err = NewPostgresRepository(dbURL)
	default:
		return nil, fmt.Errorf("unsupported database scheme %q", u.Scheme)
	}
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func nameKey(name string) string {
	return strings.ToLower(name)
}

func stamp(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

const playlistsTable = `
  create table if not exists playlists (
	name_key text primary key,
	name text not null,
	songs text not null,
	song_count integer not null,
	updated_at bigint not null
  );`

type playlistRow struct {
	Name      string `db:"name"`
	Songs     string `db:"songs"`
	UpdatedAt int64  `db:"updated_at"`
}

// sqlPlaylists holds the queries shared by the sqlite and postgres stores.
// Queries are written with ? and rebound for the driver in use.
type sqlPlaylists struct {
	db  *sqlx.DB
	now func() time.Time
}

func newSQLPlaylists(db *sqlx.DB) (*sqlPlaylists, error) {
	if _, err := db.Exec(playlistsTable); err != nil {
		return nil, fmt.Errorf("failed to create playlists table: %w", err)
	}
	return &sqlPlaylists{db: db, now: time.Now}, nil
}

func (r *sqlPlaylists) SavePlaylist(name string, songs []queue.Song) (*Playlist, error) {
	if songs == nil {
		songs = make([]queue.Song, 0)
	}
	raw, err := json.Marshal(songs)
	if err != nil {
		return nil, err
	}
	p := &Playlist{Name: name, Songs: songs, UpdatedAt: stamp(r.now())}

	query := r.db.Rebind(`
	  insert into playlists (name_key, name, songs, song_count, updated_at)
	  values (?, ?, ?, ?, ?)
	  on conflict(name_key) do update
		 set name = excluded.name,
			 songs = excluded.songs,
			 song_count = excluded.song_count,
			 updated_at = excluded.updated_at;`)

	if _, err := r.db.Exec(query, nameKey(name), p.Name, string(raw), len(songs), p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to save playlist %q: %w", name, err)
	}
	log.Infof("saved playlist %s with %d songs", name, len(songs))
	return p, nil
}

func (r *sqlPlaylists) LoadPlaylist(name string) (*Playlist, error) {
	query := r.db.Rebind(`select name, songs, updated_at from playlists where name_key = ?;`)

	row := playlistRow{}
	err := r.db.Get(&row, query, nameKey(name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlaylistNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load playlist %q: %w", name, err)
	}

	p := &Playlist{Name: row.Name, UpdatedAt: row.UpdatedAt}
	if err := json.Unmarshal([]byte(row.Songs), &p.Songs); err != nil {
		return nil, fmt.Errorf("playlist %q is corrupt: %w", name, err)
	}
	return p, nil
}

func (r *sqlPlaylists) ListPlaylists() ([]PlaylistSummary, error) {
	list := make([]PlaylistSummary, 0)
	err := r.db.Select(&list, `select name, updated_at, song_count from playlists order by name_key;`)
	if err != nil {
		return nil, fmt.Errorf("failed to list playlists: %w", err)
	}
	return list, nil
}

func (r *sqlPlaylists) close() {
	if err := r.db.Close(); err != nil {
		log.Warnf("failed to close database: %v", err)
	}
}
