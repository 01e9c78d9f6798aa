// Package cache persists per-method taint analysis results between runs
// and classifies how methods changed since they were last analyzed.
package cache

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"

	"github.com/panbanda/augur/pkg/models"
)

// Cache is the file-backed store behind incremental analysis: one JSON
// record per method, named by the BLAKE3 hash of the method key.
type Cache struct {
	dir     string
	ttl     time.Duration
	enabled bool
}

// Record is the cached state for one method: the hashes change detection
// compares, and the analysis result they validate.
type Record struct {
	SignatureHash string                      `json:"signature_hash"`
	BodyHash      string                      `json:"body_hash"`
	ContentHash   string                      `json:"content_hash"`
	StoredAt      time.Time                   `json:"stored_at"`
	Result        models.MethodAnalysisResult `json:"result"`
}

// New opens a cache rooted at dir. A disabled cache is valid and turns
// every operation into a no-op miss.
func New(dir string, ttlHours int, enabled bool) (*Cache, error) {
	if !enabled {
		return &Cache{enabled: false}, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Cache{
		dir:     dir,
		ttl:     time.Duration(ttlHours) * time.Hour,
		enabled: true,
	}, nil
}

// HashFile computes a BLAKE3 hash of a file's contents.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return HashBytes(data), nil
}

// HashBytes computes a BLAKE3 hash of bytes and returns it as a hex string.
func HashBytes(data []byte) string {
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Get returns the record stored for a method key. A corrupted or expired
// record is removed and reported as a miss, never an error.
func (c *Cache) Get(key string) (*Record, bool) {
	if !c.enabled {
		return nil, false
	}

	path := c.keyPath(key)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil || rec.ContentHash == "" {
		os.Remove(path)
		return nil, false
	}
	if time.Since(rec.StoredAt) > c.ttl {
		os.Remove(path)
		return nil, false
	}
	return &rec, true
}

// Put stores a method's record, stamping it with the write time.
func (c *Cache) Put(key string, rec Record) error {
	if !c.enabled {
		return nil
	}
	rec.StoredAt = time.Now()

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return os.WriteFile(c.keyPath(key), data, 0600)
}

// Invalidate removes the record for a method key.
func (c *Cache) Invalidate(key string) error {
	if !c.enabled {
		return nil
	}
	return os.Remove(c.keyPath(key))
}

// Clear removes all cached records.
func (c *Cache) Clear() error {
	if !c.enabled {
		return nil
	}
	return os.RemoveAll(c.dir)
}

// keyPath converts a method key to a filesystem path. Method keys contain
// path separators and colons, so the filename is a hash of the key.
func (c *Cache) keyPath(key string) string {
	hash := blake3.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(hash[:])+".json")
}

// Stats summarizes the cached method records on disk.
type Stats struct {
	Entries   int           `json:"entries"`
	TotalSize int64         `json:"total_size"`
	OldestAge time.Duration `json:"oldest_age"`
	NewestAge time.Duration `json:"newest_age"`
}

// GetStats walks the cache directory and aggregates record counts and ages.
func (c *Cache) GetStats() (*Stats, error) {
	if !c.enabled {
		return &Stats{}, nil
	}

	stats := &Stats{}
	var oldest, newest time.Time

	err := filepath.Walk(c.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		stats.Entries++
		stats.TotalSize += info.Size()

		modTime := info.ModTime()
		if oldest.IsZero() || modTime.Before(oldest) {
			oldest = modTime
		}
		if newest.IsZero() || modTime.After(newest) {
			newest = modTime
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !oldest.IsZero() {
		stats.OldestAge = time.Since(oldest)
	}
	if !newest.IsZero() {
		stats.NewestAge = time.Since(newest)
	}
	return stats, nil
}
