package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Segment kinds and kv backends accepted in [[segments]].
const (
	KindKV      = "kv"
	KindCompute = "compute"

	BackendHTTP  = "http"
	BackendRedis = "redis"
)

// Config is the segcache configuration.
type Config struct {
	APIBind              string
	RedisAddr            string
	RedisPrefix          string
	SnapshotPath         string
	LogPath              string
	MaxConcurrentFetches int
	RefreshEvery         time.Duration
	Segments             []Segment
	Panels               []Panel
}

// Segment declares one cache segment.
type Segment struct {
	ID       string
	Kind     string
	Backend  string // kv only
	Resource string // kv only; defaults to ID
	Engine   string // compute only; default engine for its panels
}

// Panel declares one query rendered by the panel tree.
type Panel struct {
	Title       string
	Segment     string
	ServerFetch bool
	Query       map[string]string // kv segments
	Expr        string            // compute segments
	Engine      string
	Env         map[string]any
}

const (
	defaultConfigPath    = "~/.config/segcache/config.toml"
	defaultSnapshotPath  = "~/.local/share/segcache/snapshot.json"
	defaultAPIBind       = "127.0.0.1:7487"
	defaultRedisPrefix   = "segcache:"
	defaultMaxConcurrent = 4
)

type rawConfig struct {
	APIBind              string       `toml:"api_bind"`
	RedisAddr            string       `toml:"redis_addr"`
	RedisPrefix          *string      `toml:"redis_prefix"`
	SnapshotPath         string       `toml:"snapshot_path"`
	LogPath              string       `toml:"log_path"`
	MaxConcurrentFetches int          `toml:"max_concurrent_fetches"`
	RefreshSeconds       int          `toml:"refresh_seconds"`
	Segments             []rawSegment `toml:"segments"`
	Panels               []rawPanel   `toml:"panels"`
}

type rawSegment struct {
	ID       string `toml:"id"`
	Kind     string `toml:"kind"`
	Backend  string `toml:"backend"`
	Resource string `toml:"resource"`
	Engine   string `toml:"engine"`
}

type rawPanel struct {
	Title       string            `toml:"title"`
	Segment     string            `toml:"segment"`
	ServerFetch *bool             `toml:"server_fetch"`
	Query       map[string]string `toml:"query"`
	Expr        string            `toml:"expr"`
	Engine      string            `toml:"engine"`
	Env         map[string]any    `toml:"env"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		APIBind:              defaultAPIBind,
		RedisPrefix:          defaultRedisPrefix,
		SnapshotPath:         mustExpand(defaultSnapshotPath),
		MaxConcurrentFetches: defaultMaxConcurrent,
	}
}

// Load locates and parses the config, falling back to defaults when missing.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return raw.normalize(), nil
}

func (raw rawConfig) normalize() Config {
	cfg := Default()

	if v := strings.TrimSpace(raw.APIBind); v != "" {
		cfg.APIBind = v
	}
	cfg.RedisAddr = strings.TrimSpace(raw.RedisAddr)
	if raw.RedisPrefix != nil {
		cfg.RedisPrefix = strings.TrimSpace(*raw.RedisPrefix)
	}
	if v := strings.TrimSpace(raw.SnapshotPath); v != "" {
		cfg.SnapshotPath = mustExpand(v)
	}
	if v := strings.TrimSpace(raw.LogPath); v != "" {
		cfg.LogPath = mustExpand(v)
	}
	if raw.MaxConcurrentFetches > 0 {
		cfg.MaxConcurrentFetches = raw.MaxConcurrentFetches
	}
	if raw.RefreshSeconds > 0 {
		cfg.RefreshEvery = time.Duration(raw.RefreshSeconds) * time.Second
	}

	for _, s := range raw.Segments {
		seg := Segment{
			ID:       strings.TrimSpace(s.ID),
			Kind:     strings.ToLower(strings.TrimSpace(s.Kind)),
			Backend:  strings.ToLower(strings.TrimSpace(s.Backend)),
			Resource: strings.TrimSpace(s.Resource),
			Engine:   strings.ToLower(strings.TrimSpace(s.Engine)),
		}
		if seg.Kind == KindKV && seg.Backend == "" {
			seg.Backend = BackendHTTP
		}
		if seg.Kind == KindKV && seg.Resource == "" {
			seg.Resource = seg.ID
		}
		cfg.Segments = append(cfg.Segments, seg)
	}

	for _, p := range raw.Panels {
		panel := Panel{
			Title:       strings.TrimSpace(p.Title),
			Segment:     strings.TrimSpace(p.Segment),
			ServerFetch: p.ServerFetch == nil || *p.ServerFetch,
			Expr:        strings.TrimSpace(p.Expr),
			Engine:      strings.ToLower(strings.TrimSpace(p.Engine)),
			Env:         p.Env,
		}
		if len(p.Query) > 0 {
			panel.Query = make(map[string]string, len(p.Query))
			for k, v := range p.Query {
				panel.Query[strings.TrimSpace(k)] = strings.TrimSpace(v)
			}
		}
		if panel.Title == "" {
			panel.Title = panel.Segment
		}
		cfg.Panels = append(cfg.Panels, panel)
	}
	return cfg
}

// Segment returns the declared segment with the given ID.
func (c Config) Segment(id string) (Segment, bool) {
	for _, s := range c.Segments {
		if s.ID == id {
			return s, true
		}
	}
	return Segment{}, false
}

// Validate reports every inconsistency in the segment and panel declarations.
func (c Config) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Segments))
	for i, s := range c.Segments {
		switch {
		case s.ID == "":
			errs = append(errs, fmt.Errorf("segments[%d]: id is required", i))
		case seen[s.ID]:
			errs = append(errs, fmt.Errorf("segments[%d]: duplicate id %q", i, s.ID))
		}
		seen[s.ID] = true

		switch s.Kind {
		case KindKV:
			if s.Backend != BackendHTTP && s.Backend != BackendRedis {
				errs = append(errs, fmt.Errorf("segment %q: unknown backend %q", s.ID, s.Backend))
			}
			if s.Backend == BackendRedis && c.RedisAddr == "" {
				errs = append(errs, fmt.Errorf("segment %q: redis backend needs redis_addr", s.ID))
			}
		case KindCompute:
		default:
			errs = append(errs, fmt.Errorf("segment %q: unknown kind %q", s.ID, s.Kind))
		}
	}

	for i, p := range c.Panels {
		seg, ok := c.Segment(p.Segment)
		if !ok {
			errs = append(errs, fmt.Errorf("panels[%d] %q: unknown segment %q", i, p.Title, p.Segment))
			continue
		}
		switch seg.Kind {
		case KindKV:
			if len(p.Query) == 0 {
				errs = append(errs, fmt.Errorf("panels[%d] %q: kv panel needs a query table", i, p.Title))
			}
		case KindCompute:
			if p.Expr == "" {
				errs = append(errs, fmt.Errorf("panels[%d] %q: compute panel needs expr", i, p.Title))
			}
		}
	}
	return errors.Join(errs...)
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}

// ExpandPath resolves a leading ~ and returns an absolute path.
func ExpandPath(path string) (string, error) {
	return expandPath(path)
}
