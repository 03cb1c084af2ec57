package polarhouse

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pierrec/lz4/v4"
)

const (
	cacheEntryVersion = 1
	cacheEntrySuffix  = ".phc"
	cacheDirName      = "gopolarhouse"
)

// cacheKey derives the content-addressable identity of a query: the same
// text against the same connection target always maps to the same key, no
// matter whether it arrived as a string or was read from a file.
func cacheKey(transportKind, address, database, query string) string {
	h := sha256.New()
	for _, part := range []string{transportKind, address, database, strings.TrimSpace(query)} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func defaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, cacheDirName)
}

type cachedResult struct {
	columns []Column
	rows    int
}

// pendingComputation is the shared result cell all concurrent callers of
// one key wait on while the first caller materializes it.
type pendingComputation struct {
	done chan struct{}
	res  cachedResult
	err  error
}

// queryCache stores materialized flat column sets per cache key: an LRU
// memory tier over one file per key on disk. Storage failures degrade to
// misses and are never surfaced as query failures.
type queryCache struct {
	dir string
	mem *lru.Cache

	mu      sync.Mutex
	pending map[string]*pendingComputation
}

func newQueryCache(dir string, memEntries int) (*queryCache, error) {
	if dir == "" {
		dir = defaultCacheDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, cacheError(ErrCodeCacheIO, err, "failed to create cache directory %s", dir)
	}
	mem, err := lru.New(memEntries)
	if err != nil {
		return nil, cacheError(ErrCodeCacheIO, err, "failed to create memory cache")
	}
	return &queryCache{dir: dir, mem: mem, pending: make(map[string]*pendingComputation)}, nil
}

// getOrCompute returns the result for key, running compute at most once per
// key across concurrent callers. All waiters of one in-flight computation
// receive its outcome, success or failure.
func (c *queryCache) getOrCompute(done <-chan struct{}, key string, compute func() ([]Column, int, error)) ([]Column, int, error) {
	c.mu.Lock()
	if p, ok := c.pending[key]; ok {
		c.mu.Unlock()
		select {
		case <-p.done:
			return p.res.columns, p.res.rows, p.err
		case <-done:
			return nil, 0, &Error{
				Kind:    ErrKindConnection,
				Code:    ErrCodeQueryCanceled,
				Message: "abandoned while waiting for an in-flight query",
			}
		}
	}
	p := &pendingComputation{done: make(chan struct{})}
	c.pending[key] = p
	c.mu.Unlock()

	res, ok := c.lookup(key)
	if ok {
		p.res = res
	} else {
		columns, rows, err := compute()
		if err == nil {
			p.res = cachedResult{columns: columns, rows: rows}
			c.store(key, p.res)
		}
		p.err = err
	}

	c.mu.Lock()
	delete(c.pending, key)
	c.mu.Unlock()
	close(p.done)
	return p.res.columns, p.res.rows, p.err
}

func (c *queryCache) lookup(key string) (cachedResult, bool) {
	if v, ok := c.mem.Get(key); ok {
		return v.(cachedResult), true
	}
	res, err := c.loadEntry(key)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WithFields(map[string]any{"key": key}).Warnf("discarding unreadable cache entry: %v", err)
			os.Remove(c.entryPath(key))
		}
		return cachedResult{}, false
	}
	c.mem.Add(key, res)
	return res, true
}

func (c *queryCache) store(key string, res cachedResult) {
	c.mem.Add(key, res)
	if err := c.storeEntry(key, res); err != nil {
		logger.WithFields(map[string]any{"key": key}).Warnf("failed to persist cache entry: %v", err)
	}
}

func (c *queryCache) entryPath(key string) string {
	return filepath.Join(c.dir, key+cacheEntrySuffix)
}

type cacheEntryHeader struct {
	Version int       `json:"version"`
	Key     string    `json:"key"`
	Created time.Time `json:"created"`
	Rows    int       `json:"rows"`
}

// storeEntry persists a result as a JSON metadata line followed by the
// columns re-encoded in native block form, lz4-compressed. The write goes
// to a temporary file first and is renamed into place, so a crash mid-write
// can never leave a falsely present entry.
func (c *queryCache) storeEntry(key string, res cachedResult) error {
	// The directory may have been deleted since the cache was opened;
	// recreating it here keeps that safe.
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return cacheError(ErrCodeCacheIO, err, "failed to create cache directory")
	}
	header, err := json.Marshal(cacheEntryHeader{
		Version: cacheEntryVersion,
		Key:     key,
		Created: time.Now().UTC(),
		Rows:    res.rows,
	})
	if err != nil {
		return cacheError(ErrCodeCacheIO, err, "failed to encode entry header")
	}
	w := &writer{}
	if err := writeBlock(w, &block{columns: res.columns, rows: res.rows}, false); err != nil {
		return cacheError(ErrCodeCacheIO, err, "failed to encode entry payload")
	}

	f, err := os.CreateTemp(c.dir, "entry-*.tmp")
	if err != nil {
		return cacheError(ErrCodeCacheIO, err, "failed to create temporary entry")
	}
	tmp := f.Name()
	cleanup := func() {
		f.Close()
		os.Remove(tmp)
	}
	if _, err := f.Write(append(header, '\n')); err != nil {
		cleanup()
		return cacheError(ErrCodeCacheIO, err, "failed to write entry header")
	}
	zw := lz4.NewWriter(f)
	if _, err := zw.Write(w.buf); err != nil {
		cleanup()
		return cacheError(ErrCodeCacheIO, err, "failed to write entry payload")
	}
	if err := zw.Close(); err != nil {
		cleanup()
		return cacheError(ErrCodeCacheIO, err, "failed to finish entry payload")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return cacheError(ErrCodeCacheIO, err, "failed to close temporary entry")
	}
	if err := os.Rename(tmp, c.entryPath(key)); err != nil {
		os.Remove(tmp)
		return cacheError(ErrCodeCacheIO, err, "failed to move entry into place")
	}
	return nil
}

func (c *queryCache) loadEntry(key string) (cachedResult, error) {
	f, err := os.Open(c.entryPath(key))
	if err != nil {
		return cachedResult{}, err
	}
	defer f.Close()
	br := bufio.NewReader(f)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return cachedResult{}, cacheError(ErrCodeCacheCorrupt, err, "missing entry header")
	}
	var header cacheEntryHeader
	if err := json.Unmarshal(line, &header); err != nil {
		return cachedResult{}, cacheError(ErrCodeCacheCorrupt, err, "malformed entry header")
	}
	if header.Version != cacheEntryVersion || header.Key != key {
		return cachedResult{}, cacheError(ErrCodeCacheCorrupt, nil, "entry header does not match key")
	}
	rd := newReader(lz4.NewReader(br))
	b, err := readBlock(rd, false)
	if err != nil {
		return cachedResult{}, cacheError(ErrCodeCacheCorrupt, err, "malformed entry payload")
	}
	if b.rows != header.Rows {
		return cachedResult{}, cacheError(ErrCodeCacheCorrupt, nil, "entry payload does not match header")
	}
	return cachedResult{columns: b.columns, rows: b.rows}, nil
}
