package polarhouse

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
)

// Client executes queries against one connection target and materializes
// the results as column sets. Methods are safe for concurrent use; on the
// native transport concurrent queries serialize on the single connection.
type Client struct {
	cfg   *Config
	tr    transport
	cache *queryCache
}

// Connect builds a client for the given address. A bare "host:port" (or
// "clickhouse://" URL) selects the native protocol; "http://" and
// "https://" URLs select the HTTP interface.
func Connect(ctx context.Context, address string, opts ...Option) (*Client, error) {
	cfg := &Config{
		Database:        "default",
		User:            "default",
		ConnectTimeout:  defaultConnectTimeout,
		CacheMemEntries: defaultCacheMemEntries,
	}
	if err := parseAddress(address, cfg); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(cfg)
	}
	applyClientConfig(cfg)

	var tr transport
	switch cfg.Transport {
	case TransportHTTP:
		tr = newHTTPTransport(cfg)
	default:
		nc, err := dialNative(ctx, cfg)
		if err != nil {
			return nil, err
		}
		tr = nc
	}

	c := &Client{cfg: cfg, tr: tr}
	if cfg.Caching {
		cache, err := newQueryCache(cfg.CacheDir, cfg.CacheMemEntries)
		if err != nil {
			// The cache is an optimization; a broken cache directory must
			// not prevent queries from running.
			logger.Warnf("disabling query cache: %v", err)
		} else {
			c.cache = cache
		}
	}
	return c, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.tr.close()
}

type queryOptions struct {
	unflatten bool
}

// QueryOption adjusts how one query's result is materialized.
type QueryOption func(*queryOptions)

// WithUnflattenStructs controls whether dotted-path columns are regrouped
// into nested struct columns. The default is true.
func WithUnflattenStructs(enabled bool) QueryOption {
	return func(o *queryOptions) { o.unflatten = enabled }
}

// WithFlatColumns keeps the result in flat dotted-name form, exactly as
// decoded from the wire.
func WithFlatColumns() QueryOption {
	return WithUnflattenStructs(false)
}

// GetDFQuery executes the query and returns its materialized result. With
// caching enabled, a repeated identical query against the same target is
// served from the cache without touching the transport, and concurrent
// callers of the same query share a single execution.
func (c *Client) GetDFQuery(ctx context.Context, query string, opts ...QueryOption) (*Result, error) {
	qo := queryOptions{unflatten: true}
	for _, opt := range opts {
		opt(&qo)
	}
	queryID := uuid.New().String()
	log := logger.WithFields(map[string]any{"queryID": queryID, "transport": c.tr.kind()})

	fetch := func() ([]Column, int, error) {
		start := time.Now()
		blocks, err := c.tr.executeQuery(ctx, queryID, query)
		if err != nil {
			return nil, 0, err
		}
		columns, rows, err := mergeBlocks(blocks)
		if err != nil {
			return nil, 0, err
		}
		log.Debugf("materialized %d rows in %s", rows, time.Since(start))
		return columns, rows, nil
	}

	var (
		columns []Column
		rows    int
		err     error
	)
	if c.cache != nil {
		key := cacheKey(c.tr.kind(), c.tr.address(), c.cfg.Database, query)
		columns, rows, err = c.cache.getOrCompute(ctx.Done(), key, fetch)
	} else {
		columns, rows, err = fetch()
	}
	if err != nil {
		return nil, err
	}
	if qo.unflatten {
		columns = Unflatten(columns)
	}
	return &Result{columns: columns, rows: rows}, nil
}

// GetDFQueryFile reads UTF-8 query text from path and behaves exactly like
// GetDFQuery on that text; in particular both share one cache key when the
// texts are identical.
func (c *Client) GetDFQueryFile(ctx context.Context, path string, opts ...QueryOption) (*Result, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, configError(ErrCodeQueryFileUnreadable, err, "cannot read query file %s", path)
	}
	return c.GetDFQuery(ctx, string(text), opts...)
}

// ColumnSchema is one column of a table schema as reported by the server.
type ColumnSchema struct {
	Name string
	Type *ColumnType
}

// Describe retrieves the schema of a table. The lookup always goes to the
// server; schemas are never served from the query cache.
func (c *Client) Describe(ctx context.Context, table string) ([]ColumnSchema, error) {
	blocks, err := c.tr.executeQuery(ctx, uuid.New().String(), "DESCRIBE TABLE `"+table+"`")
	if err != nil {
		return nil, err
	}
	columns, rows, err := mergeBlocks(blocks)
	if err != nil {
		return nil, err
	}
	var names, types *Column
	for i := range columns {
		switch columns[i].Name {
		case "name":
			names = &columns[i]
		case "type":
			types = &columns[i]
		}
	}
	if names == nil || types == nil {
		return nil, decodeError(ErrCodeMalformedBlock, nil, "unexpected DESCRIBE TABLE shape")
	}
	schema := make([]ColumnSchema, 0, rows)
	for i := 0; i < rows; i++ {
		name, _ := names.Value(i).(string)
		typeStr, _ := types.Value(i).(string)
		t, err := ParseColumnType(typeStr)
		if err != nil {
			return nil, err
		}
		schema = append(schema, ColumnSchema{Name: name, Type: t})
	}
	return schema, nil
}
