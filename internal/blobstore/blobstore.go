// Package blobstore is a filesystem-backed blob store for report
// artifacts and extraction inputs. Writes are atomic, reads by exact key,
// and downloads are authorized by HMAC-signed time-limited tokens.
package blobstore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultURLTTL is how long a signed download link stays valid.
const DefaultURLTTL = time.Hour

var keyRe = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)

type Store struct {
	root   string
	secret []byte
	ttl    time.Duration
}

func NewStore(root, secret string, ttl time.Duration) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("blob root directory is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("blob signing secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Store{root: root, secret: []byte(secret), ttl: ttl}, nil
}

func (s *Store) path(key string) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" || !keyRe.MatchString(key) || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Put writes a blob atomically. Overwriting an existing key is
// intentional: report regeneration is idempotent.
func (s *Store) Put(key string, data []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (s *Store) Get(key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// Exists reports whether a blob is present. Blob existence is the
// completion signal for report generation; callers poll it.
func (s *Store) Exists(key string) bool {
	p, err := s.path(key)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(p)
	return statErr == nil
}

func (s *Store) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s|%d", key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignedQuery issues the query parameters for a time-limited download
// of the given blob key.
func (s *Store) SignedQuery(key string, now time.Time) (string, error) {
	if _, err := s.path(key); err != nil {
		return "", err
	}
	expires := now.Add(s.ttl).Unix()
	sig := s.sign(key, expires)
	return fmt.Sprintf("key=%s&expires=%d&sig=%s", key, expires, sig), nil
}

// Verify checks a presented token against the key and expiry.
func (s *Store) Verify(key, expiresRaw, sig string, now time.Time) bool {
	expires, err := strconv.ParseInt(expiresRaw, 10, 64)
	if err != nil {
		return false
	}
	if now.Unix() > expires {
		return false
	}
	want := s.sign(key, expires)
	return hmac.Equal([]byte(want), []byte(sig))
}
