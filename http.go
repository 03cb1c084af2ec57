package polarhouse

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// httpTransport speaks the HTTP interface. Requests are independent and may
// run in parallel; there is no handshake state. Responses are requested in
// Native format so they run through the same block decoder as the native
// transport.
type httpTransport struct {
	cfg    *Config
	client *http.Client
	base   url.URL
}

func newHTTPTransport(cfg *Config) *httpTransport {
	scheme := "http"
	if cfg.Secure {
		scheme = "https"
	}
	return &httpTransport{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.ReadTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
				// Compression is negotiated explicitly below.
				DisableCompression: true,
			},
		},
		base: url.URL{Scheme: scheme, Host: cfg.hostPort(), Path: "/"},
	}
}

func (ht *httpTransport) kind() string    { return "http" }
func (ht *httpTransport) address() string { return ht.base.String() }
func (ht *httpTransport) close() error {
	ht.client.CloseIdleConnections()
	return nil
}

func (ht *httpTransport) executeQuery(ctx context.Context, queryID, query string) ([]*block, error) {
	u := ht.base
	params := url.Values{}
	params.Set("default_format", "Native")
	params.Set("query_id", queryID)
	params.Set("enable_http_compression", "1")
	if ht.cfg.Database != "" {
		params.Set("database", ht.cfg.Database)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(query))
	if err != nil {
		return nil, connectionError(ErrCodeDialFailed, err, "failed to build request")
	}
	if ht.cfg.User != "" {
		req.Header.Set("X-ClickHouse-User", ht.cfg.User)
	}
	if ht.cfg.Password != "" {
		req.Header.Set("X-ClickHouse-Key", ht.cfg.Password)
	}
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := ht.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{
				Kind:    ErrKindConnection,
				Code:    ErrCodeQueryCanceled,
				Message: "query abandoned by caller",
				QueryID: queryID,
				cause:   ctx.Err(),
			}
		}
		return nil, connectionError(ErrCodeDialFailed, err, "request to %s failed", ht.base.String())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ht.serverError(resp, queryID)
	}

	body := io.Reader(resp.Body)
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, decodeError(ErrCodeMalformedBlock, err, "malformed gzip response")
		}
		defer gz.Close()
		body = gz
	}

	rd := newReader(body)
	var blocks []*block
	for {
		if _, err := rd.r.Peek(1); err == io.EOF {
			return blocks, nil
		}
		b, err := readBlock(rd, false)
		if err != nil {
			return nil, decodeError(ErrCodeMalformedBlock, err, "malformed response block")
		}
		blocks = append(blocks, b)
	}
}

// serverError maps a non-2xx response to the same error shape the native
// transport produces for an exception frame.
func (ht *httpTransport) serverError(resp *http.Response, queryID string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	message := strings.TrimSpace(string(body))
	if message == "" {
		message = fmt.Sprintf("server returned status %s", resp.Status)
	}
	var code int32
	if h := resp.Header.Get("X-ClickHouse-Exception-Code"); h != "" {
		if v, err := strconv.ParseInt(h, 10, 32); err == nil {
			code = int32(v)
		}
	}
	if code == 0 {
		// Exception bodies open with "Code: NNN.".
		if rest, ok := strings.CutPrefix(message, "Code: "); ok {
			if dot := strings.IndexByte(rest, '.'); dot > 0 {
				if v, err := strconv.ParseInt(rest[:dot], 10, 32); err == nil {
					code = int32(v)
				}
			}
		}
	}
	return queryError(queryID, code, message)
}
