// Package infocache persists resolved media metadata in SQLite so repeat
// lookups are served from disk instead of the extractor.
package infocache

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"vidgrab/internal/extract"
	"vidgrab/internal/task"
)

// Cache stores one VideoInfo per canonical URL. Entries older than the
// TTL are treated as absent and overwritten on the next store.
type Cache struct {
	db  *sql.DB
	ttl time.Duration
}

func New(db *sql.DB, ttl time.Duration) (*Cache, error) {
	c := &Cache{db: db, ttl: ttl}
	if err := c.initTable(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) initTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS video_info (
		url TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		fetched_time DATETIME NOT NULL
	);
	`
	_, err := c.db.Exec(query)
	return err
}

// Get returns the cached info for a URL, or false when absent or stale.
func (c *Cache) Get(rawURL string) (*extract.VideoInfo, bool) {
	query := `SELECT payload, fetched_time FROM video_info WHERE url = ?`

	var payload string
	var fetched time.Time
	err := c.db.QueryRow(query, task.CanonicalURL(rawURL)).Scan(&payload, &fetched)
	if err != nil {
		return nil, false
	}
	if time.Since(fetched) > c.ttl {
		return nil, false
	}

	var info extract.VideoInfo
	if err := json.Unmarshal([]byte(payload), &info); err != nil {
		return nil, false
	}
	return &info, true
}

// Put stores the info for a URL, replacing any previous entry.
func (c *Cache) Put(rawURL string, info *extract.VideoInfo) error {
	payload, err := json.Marshal(info)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO video_info (url, payload, fetched_time) VALUES (?, ?, ?)
	ON CONFLICT(url) DO UPDATE SET payload = excluded.payload, fetched_time = excluded.fetched_time`

	_, err = c.db.Exec(query, task.CanonicalURL(rawURL), string(payload), time.Now())
	return err
}

// Resolver serves lookups cache-first, delegating misses to the wrapped
// resolver and persisting its answers.
type Resolver struct {
	cache *Cache
	next  extract.Resolver
}

func NewResolver(cache *Cache, next extract.Resolver) *Resolver {
	return &Resolver{cache: cache, next: next}
}

func (r *Resolver) Resolve(ctx context.Context, url string) (*extract.VideoInfo, error) {
	if info, ok := r.cache.Get(url); ok {
		return info, nil
	}

	info, err := r.next.Resolve(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Put(url, info); err != nil {
		log.Printf("info cache: store %s: %v", url, err)
	}
	return info, nil
}
