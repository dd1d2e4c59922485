package session

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	cookiejar "github.com/juju/persistent-cookiejar"
	"golang.org/x/net/publicsuffix"
)

// SessionCookieLifetime is the expiry given to cookies the server sets
// without one, so they survive into the next process.
const SessionCookieLifetime = 30 * 24 * time.Hour

// Jar is a persistent http.CookieJar for one identity, backed by
// persistent-cookiejar with the public suffix list. Writes go through a
// temporary file and a rename.
type Jar struct {
	mu     sync.Mutex
	inner  *cookiejar.Jar
	path   string
	dirty  bool
	logger *slog.Logger
	now    func() time.Time
}

// NewJar creates an empty jar persisted at path.
func NewJar(path string, logger *slog.Logger) *Jar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Jar{
		inner:  newInnerJar(),
		path:   path,
		logger: logger,
		now:    time.Now,
	}
}

func newInnerJar() *cookiejar.Jar {
	// With NoPersist set nothing is read, so New cannot fail.
	jar, _ := cookiejar.New(&cookiejar.Options{
		PublicSuffixList: publicsuffix.List,
		NoPersist:        true,
	})
	return jar
}

// LoadJar creates a jar and fills it from path. Load failures are logged and
// leave the jar empty.
func LoadJar(path string, logger *slog.Logger) *Jar {
	j := NewJar(path, logger)
	inner, err := cookiejar.New(&cookiejar.Options{
		PublicSuffixList: publicsuffix.List,
		Filename:         path,
	})
	if err != nil {
		j.logger.Warn("Failed to load cookies, starting with an empty jar", "path", path, "error", err)
		return j
	}
	j.inner = inner
	j.logger.Debug("Loaded cookies", "path", path, "count", j.Len())
	return j
}

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	now := j.now()
	kept := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c.MaxAge == 0 && c.Expires.IsZero() {
			cp := *c
			cp.Expires = now.Add(SessionCookieLifetime)
			c = &cp
		}
		kept = append(kept, c)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.inner.SetCookies(u, kept)
	j.dirty = true
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	inner := j.inner
	j.mu.Unlock()
	return inner.Cookies(u)
}

// Value returns the value of the first unexpired cookie called name, in any
// domain.
func (j *Jar) Value(name string) (string, bool) {
	for _, c := range j.all() {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// Len returns the number of stored cookies.
func (j *Jar) Len() int {
	return len(j.all())
}

func (j *Jar) all() []*http.Cookie {
	j.mu.Lock()
	inner := j.inner
	j.mu.Unlock()
	return inner.AllCookies()
}

// Clear discards every cookie and marks the jar for saving.
func (j *Jar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inner = newInnerJar()
	j.dirty = true
}

// Save writes the jar to disk if it changed since the last save.
func (j *Jar) Save() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.dirty {
		return nil
	}

	data, err := j.inner.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal cookies: %w", err)
	}
	if err := writeFileAtomic(j.path, data); err != nil {
		return fmt.Errorf("failed to persist cookies: %w", err)
	}
	j.dirty = false
	return nil
}
