package main

// this file loads config.yml and keeps the youtube api keys rotating

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/labstack/gommon/log"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath   = "config.yml"
	defaultPlaylistPath = "library/playlists.json"
	defaultMaxResults   = 10
)

var ErrNoAPIKeys = errors.New("no youtube api keys configured")

type Config struct {
	YouTube         YouTubeConfig         `yaml:"youtube"`
	Server          ServerConfig          `yaml:"server"`
	App             AppConfig             `yaml:"app"`
	Search          SearchConfig          `yaml:"search"`
	Recommendations RecommendationsConfig `yaml:"recommendations"`
	Database        DatabaseConfig        `yaml:"database"`
	Auth            AuthConfig            `yaml:"auth"`
}

type YouTubeConfig struct {
	APIKeys []string `yaml:"apiKeys"`
	// BaseURL points at the data api, overridable for tests and proxies
	BaseURL    string `yaml:"baseUrl"`
	TimeoutSec int    `yaml:"timeoutSec"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	APIPort  int    `yaml:"apiPort"`
	LogLevel string `yaml:"logLevel"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type SearchConfig struct {
	MaxResults int `yaml:"maxResults"`
	// nil means unembeddable videos are included
	IncludeUnembeddable *bool `yaml:"includeUnembeddable"`
}

type RecommendationsConfig struct {
	Count    int  `yaml:"count"`
	Autoplay bool `yaml:"autoplay"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type AuthConfig struct {
	JWTSecret     string `yaml:"jwtSecret"`
	TokenTTLHours int    `yaml:"tokenTTLHours"`
}

func defaultConfig() *Config {
	return &Config{
		YouTube: YouTubeConfig{
			BaseURL:    "https://www.googleapis.com/youtube/v3",
			TimeoutSec: 10,
		},
		Server: ServerConfig{
			APIPort:  3000,
			LogLevel: "info",
		},
		App: AppConfig{
			Name:    "upnext-karaoke",
			Version: "dev",
		},
		Search: SearchConfig{
			MaxResults: defaultMaxResults,
		},
		Recommendations: RecommendationsConfig{
			Count: 5,
		},
		Auth: AuthConfig{
			JWTSecret:     "secret",
			TokenTTLHours: 72,
		},
	}
}

// LoadConfig reads the yaml file at path on top of the defaults and then
// applies the environment. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Warnf("config file %s not found, using defaults", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if len(cfg.YouTube.APIKeys) == 0 {
		log.Warn("no youtube api keys found, search and recommendations are disabled")
	} else {
		log.Infof("loaded %d youtube api key(s)", len(cfg.YouTube.APIKeys))
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DB_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("YOUTUBE_API_KEY"); v != "" {
		c.YouTube.APIKeys = splitKeys(v)
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.APIPort = port
			c.Server.Addr = ""
		} else {
			log.Warnf("ignoring invalid PORT %q", v)
		}
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

func (c *Config) normalize() {
	c.YouTube.APIKeys = splitKeys(strings.Join(c.YouTube.APIKeys, ","))
	c.YouTube.BaseURL = strings.TrimRight(c.YouTube.BaseURL, "/")
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = defaultMaxResults
	}
	if c.Recommendations.Count <= 0 {
		c.Recommendations.Count = 5
	}
	if c.Auth.TokenTTLHours <= 0 {
		c.Auth.TokenTTLHours = 72
	}
}

func splitKeys(s string) []string {
	keys := make([]string, 0)
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func (s ServerConfig) ListenAddr() string {
	if s.Addr != "" {
		return s.Addr
	}
	return fmt.Sprintf(":%d", s.APIPort)
}

func (s ServerConfig) Level() log.Lvl {
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		return log.DEBUG
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	default:
		return log.INFO
	}
}

// IncludeUnembeddableByDefault reports the search default when the
// request does not say.
func (s SearchConfig) IncludeUnembeddableByDefault() bool {
	return s.IncludeUnembeddable == nil || *s.IncludeUnembeddable
}

// KeyRing hands out api keys round-robin so that the daily quota is spread
// over all of them.
type KeyRing struct {
	mu   sync.Mutex
	keys []string
	next int
}

func NewKeyRing(keys []string) *KeyRing {
	r := &KeyRing{}
	r.Replace(keys)
	return r
}

func (r *KeyRing) Next() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.keys) == 0 {
		return "", ErrNoAPIKeys
	}
	key := r.keys[r.next]
	r.next = (r.next + 1) % len(r.keys)
	return key, nil
}

// First returns the first key without advancing the rotation.
func (r *KeyRing) First() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.keys) == 0 {
		return "", ErrNoAPIKeys
	}
	return r.keys[0], nil
}

func (r *KeyRing) Replace(keys []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.keys = append([]string(nil), keys...)
	r.next = 0
}

func (r *KeyRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

// WatchConfig reloads the config whenever the file at path changes and
// hands the result to onChange. It returns once the watch is set up; the
// watch itself stops with ctx.
func WatchConfig(ctx context.Context, path string, onChange func(*Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	// editors replace files instead of writing them, so watch the directory
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer fsw.Close()
		for {
			select {
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := LoadConfig(abs)
				if err != nil {
					log.Errorf("config reload failed: %v", err)
					continue
				}
				log.Infof("config %s reloaded", path)
				onChange(cfg)

			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Warnf("config watcher: %v", err)

			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
