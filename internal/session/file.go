package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
)

// FileConfig configures the file-backed store.
type FileConfig struct {
	Dir string
	TTL time.Duration
}

// FileStore keeps one JSON file per domain under Dir.
type FileStore struct {
	dir    string
	ttl    time.Duration
	clock  crawler.Clock
	logger *zap.Logger
}

// NewFileStore creates Dir if needed.
func NewFileStore(cfg FileConfig, clock crawler.Clock, logger *zap.Logger) (*FileStore, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("session dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{dir: cfg.Dir, ttl: cfg.TTL, clock: clock, logger: logger}, nil
}

// Save writes the domain's cookies atomically.
func (s *FileStore) Save(_ context.Context, domain string, cookies []crawler.Cookie) error {
	key := domainKey(domain)
	if key == "" {
		return fmt.Errorf("session domain is required")
	}
	payload, err := json.MarshalIndent(newSession(domain, cookies, s.clock.Now(), s.ttl), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename session file: %w", err)
	}
	return nil
}

// Load returns the live cookies for domain. Missing or corrupt files yield an empty set.
func (s *FileStore) Load(_ context.Context, domain string) []crawler.Cookie {
	key := domainKey(domain)
	if key == "" {
		return []crawler.Cookie{}
	}
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("session file unreadable", zap.String("domain", domain), zap.Error(err))
		}
		return []crawler.Cookie{}
	}
	var sess crawler.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		s.logger.Warn("session file corrupt", zap.String("domain", domain), zap.Error(err))
		return []crawler.Cookie{}
	}
	return liveCookies(sess, s.clock.Now())
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}
