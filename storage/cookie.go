package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CookieFile keeps cookie-style entries (value plus optional expiry) in a
// single JSON file. It is the primary tier for the client identity.
type CookieFile struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

type cookieEntry struct {
	Value   string    `json:"value"`
	Expires time.Time `json:"expires,omitempty"`
}

func NewCookieFile(path string) *CookieFile {
	return &CookieFile{path: path, now: time.Now}
}

// WithClock replaces the clock used for expiry checks.
func (c *CookieFile) WithClock(now func() time.Time) *CookieFile {
	c.now = now
	return c
}

func (c *CookieFile) Name() string {
	return "cookie"
}

func (c *CookieFile) Get(key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	jar, err := c.read()
	if err != nil {
		return nil, err
	}
	e, ok := jar[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !e.Expires.IsZero() && !c.now().Before(e.Expires) {
		delete(jar, key)
		_ = c.write(jar)
		return nil, ErrNotFound
	}
	return []byte(e.Value), nil
}

func (c *CookieFile) Set(key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	jar, err := c.read()
	if err != nil {
		// A corrupt jar is replaced rather than blocking every write.
		jar = map[string]cookieEntry{}
	}
	e := cookieEntry{Value: string(value)}
	if ttl > 0 {
		e.Expires = c.now().Add(ttl)
	}
	jar[key] = e
	return c.write(jar)
}

func (c *CookieFile) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	jar, err := c.read()
	if err != nil {
		return err
	}
	if _, ok := jar[key]; !ok {
		return nil
	}
	delete(jar, key)
	return c.write(jar)
}

func (c *CookieFile) read() (map[string]cookieEntry, error) {
	b, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]cookieEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cookie file: %w", err)
	}
	jar := map[string]cookieEntry{}
	if len(b) == 0 {
		return jar, nil
	}
	if err := json.Unmarshal(b, &jar); err != nil {
		return nil, fmt.Errorf("decode cookie file: %w", err)
	}
	return jar, nil
}

// write replaces the file through a temp file + rename so a crash never
// leaves a truncated jar behind.
func (c *CookieFile) write(jar map[string]cookieEntry) error {
	b, err := json.Marshal(jar)
	if err != nil {
		return fmt.Errorf("encode cookie file: %w", err)
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create cookie dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".cookies-*")
	if err != nil {
		return fmt.Errorf("create temp cookie file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write cookie file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cookie file: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("replace cookie file: %w", err)
	}
	return nil
}
