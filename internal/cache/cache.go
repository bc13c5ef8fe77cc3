// Package cache is the content-addressed, filesystem-backed store for
// distribution results. Keys are derived from the canonical form of the
// query and its disclosure modifiers, so the same question asked twice
// within the TTL is answered from disk.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/errs"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/obfuscation"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/rquest"
)

// Cache stores serialised results as <dir>/<key>.json. The zero TTL means
// entries never expire. A disabled cache is valid and does nothing.
type Cache struct {
	dir     string
	ttl     time.Duration
	enabled bool
	log     zerolog.Logger

	// now is a seam for expiry tests.
	now func() time.Time
}

// New opens a cache rooted at dir, creating it if needed.
func New(dir string, ttl time.Duration, log zerolog.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindIO, "cache.new", err)
	}
	return &Cache{dir: dir, ttl: ttl, enabled: true, log: log, now: time.Now}, nil
}

// Disabled returns a cache on which every operation is a no-op.
func Disabled() *Cache {
	return &Cache{now: time.Now}
}

// Enabled reports whether the cache stores anything.
func (c *Cache) Enabled() bool { return c.enabled }

// Key derives the hex SHA-256 of the canonical JSON of {query, modifiers}.
// Canonicalisation round-trips both documents through maps so that object
// keys serialise in sorted order regardless of input formatting.
func (c *Cache) Key(query []byte, filters []obfuscation.Modifier) (string, error) {
	const op = "cache.key"

	var queryDoc interface{}
	if err := json.Unmarshal(query, &queryDoc); err != nil {
		return "", errs.Wrap(errs.KindIO, op, err)
	}
	rawFilters, err := json.Marshal(filters)
	if err != nil {
		return "", errs.Wrap(errs.KindIO, op, err)
	}
	var filterDoc interface{}
	if err := json.Unmarshal(rawFilters, &filterDoc); err != nil {
		return "", errs.Wrap(errs.KindIO, op, err)
	}

	canonical, err := json.Marshal(map[string]interface{}{
		"query":     queryDoc,
		"modifiers": filterDoc,
	})
	if err != nil {
		return "", errs.Wrap(errs.KindIO, op, err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

// Get returns the cached result for key if present and within the TTL.
// Unreadable or malformed files read as a miss.
func (c *Cache) Get(key string) (*rquest.Result, bool) {
	if !c.enabled {
		return nil, false
	}

	path := c.path(key)
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	if c.ttl > 0 && !info.ModTime().Add(c.ttl).After(c.now()) {
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		return nil, false
	}
	var res rquest.Result
	if err := json.Unmarshal(data, &res); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache entry malformed")
		return nil, false
	}
	return &res, true
}

// Set stores a result under key. The entry lands via write-then-rename so
// concurrent readers see either the old file or the complete new one.
func (c *Cache) Set(key string, res *rquest.Result) {
	if !c.enabled {
		return
	}

	data, err := res.Marshal()
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache serialise failed")
		return
	}

	tmp, err := os.CreateTemp(c.dir, key+".*.tmp")
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
		return
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		c.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		c.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
		return
	}
	if err := os.Rename(tmpName, c.path(key)); err != nil {
		os.Remove(tmpName)
		c.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

// Clear best-effort deletes every entry in the cache directory.
func (c *Cache) Clear() {
	if !c.enabled {
		return
	}
	entries, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		c.log.Warn().Err(err).Msg("cache clear failed")
		return
	}
	for _, path := range entries {
		if err := os.Remove(path); err != nil {
			c.log.Warn().Err(err).Str("path", path).Msg("cache entry not removed")
		}
	}
}
