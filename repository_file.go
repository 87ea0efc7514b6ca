package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/samber/lo"

	"github.com/himanshub16/upnext-karaoke/queue"
)

// FileRepository keeps all playlists in a single json file, in the order
// they were first saved. Listings are sorted by name.
type FileRepository struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func NewFileRepository(path string) (*FileRepository, error) {
	if path == "" {
		path = defaultPlaylistPath
	}
	r := &FileRepository{path: path, now: time.Now}
	if err := r.ensureStore(); err != nil {
		return nil, err
	}
	log.Infof("using playlist file %s", path)
	return r, nil
}

func (r *FileRepository) ensureStore() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("failed to create playlist dir: %w", err)
	}
	if _, err := os.Stat(r.path); errors.Is(err, os.ErrNotExist) {
		return r.write(make([]Playlist, 0))
	}
	return nil
}

func (r *FileRepository) read() ([]Playlist, error) {
	raw, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return make([]Playlist, 0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read playlists: %w", err)
	}

	data := make([]Playlist, 0)
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", r.path, err)
	}
	return data, nil
}

func (r *FileRepository) write(data []Playlist) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("failed to write playlists: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("failed to write playlists: %w", err)
	}
	return nil
}

func (r *FileRepository) SavePlaylist(name string, songs []queue.Song) (*Playlist, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.read()
	if err != nil {
		return nil, err
	}

	if songs == nil {
		songs = make([]queue.Song, 0)
	}
	entry := Playlist{Name: name, Songs: songs, UpdatedAt: stamp(r.now())}

	_, idx, found := lo.FindIndexOf(data, func(p Playlist) bool {
		return nameKey(p.Name) == nameKey(name)
	})
	if found {
		data[idx] = entry
	} else {
		data = append(data, entry)
	}

	if err := r.write(data); err != nil {
		return nil, err
	}
	log.Infof("saved playlist %s with %d songs", name, len(songs))
	return &entry, nil
}

func (r *FileRepository) LoadPlaylist(name string) (*Playlist, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.read()
	if err != nil {
		return nil, err
	}
	p, found := lo.Find(data, func(p Playlist) bool {
		return nameKey(p.Name) == nameKey(name)
	})
	if !found {
		return nil, ErrPlaylistNotFound
	}
	return &p, nil
}

func (r *FileRepository) ListPlaylists() ([]PlaylistSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := r.read()
	if err != nil {
		return nil, err
	}
	list := lo.Map(data, func(p Playlist, _ int) PlaylistSummary {
		return PlaylistSummary{Name: p.Name, UpdatedAt: p.UpdatedAt, Count: len(p.Songs)}
	})
	// same order as the sql stores
	sort.SliceStable(list, func(i, j int) bool {
		return nameKey(list[i].Name) < nameKey(list[j].Name)
	})
	return list, nil
}

func (r *FileRepository) close() {}
