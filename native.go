package polarhouse

import (
	"context"
	"net"
	"sync"
	"time"
)

// transport abstracts how a query reaches the server. Both implementations
// return the same decoded block shape and the same error taxonomy, so the
// client is indifferent to which one it holds.
type transport interface {
	executeQuery(ctx context.Context, queryID, query string) ([]*block, error)
	kind() string
	address() string
	close() error
}

// nativeConn is a persistent connection speaking the binary native
// protocol. One query is in flight at a time; concurrent callers queue on
// the connection mutex so bytes of two queries never interleave.
type nativeConn struct {
	cfg    *Config
	mu     sync.Mutex
	conn   net.Conn
	rd     *reader
	server *serverInfo
	// revision is the negotiated protocol revision, never above our own.
	revision uint64
	closed   bool
}

func dialNative(ctx context.Context, cfg *Config) (*nativeConn, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.hostPort())
	if err != nil {
		return nil, connectionError(ErrCodeDialFailed, err, "failed to connect to %s", cfg.hostPort())
	}
	nc := &nativeConn{cfg: cfg, conn: conn, rd: newReader(conn)}
	if err := nc.handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	logger.WithFields(map[string]any{
		"address":  cfg.hostPort(),
		"server":   nc.server.Name,
		"revision": nc.revision,
	}).Debugf("native handshake complete")
	return nc, nil
}

func (nc *nativeConn) handshake() error {
	w := &writer{}
	writeClientHello(w, nc.cfg.Database, nc.cfg.User, nc.cfg.Password)
	if err := w.writeTo(nc.conn); err != nil {
		return connectionError(ErrCodeHandshakeFailed, err, "failed to send hello")
	}
	if nc.cfg.ConnectTimeout > 0 {
		nc.conn.SetReadDeadline(time.Now().Add(nc.cfg.ConnectTimeout))
		defer nc.conn.SetReadDeadline(time.Time{})
	}
	packet, err := nc.rd.uvarint()
	if err != nil {
		return connectionError(ErrCodeHandshakeFailed, err, "failed to read server hello")
	}
	switch packet {
	case serverHello:
		info, err := readServerHello(nc.rd)
		if err != nil {
			return connectionError(ErrCodeHandshakeFailed, err, "malformed server hello")
		}
		nc.server = info
		nc.revision = negotiated(info.Revision)
		return nil
	case serverException:
		exc, err := readException(nc.rd, "")
		if err != nil {
			return connectionError(ErrCodeHandshakeFailed, err, "malformed exception during handshake")
		}
		return connectionError(ErrCodeHandshakeFailed, exc, "server rejected handshake")
	}
	return connectionError(ErrCodeHandshakeFailed, nil, "unexpected packet %d during handshake", packet)
}

func (nc *nativeConn) kind() string    { return "native" }
func (nc *nativeConn) address() string { return nc.cfg.hostPort() }

func (nc *nativeConn) close() error {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.shutdownLocked()
}

func (nc *nativeConn) shutdownLocked() error {
	if nc.closed {
		return nil
	}
	nc.closed = true
	return nc.conn.Close()
}

func (nc *nativeConn) executeQuery(ctx context.Context, queryID, query string) ([]*block, error) {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	if nc.closed {
		return nil, connectionError(ErrCodeConnClosed, nil, "connection is closed")
	}

	// Unblock any pending read when the caller gives up. A half-read stream
	// has no recovery point, so the connection is discarded.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			nc.conn.SetReadDeadline(time.Unix(1, 0))
		case <-watchDone:
		}
	}()

	w := &writer{}
	writeQuery(w, nc.revision, queryID, query)
	// The query is followed by an empty block terminating external tables.
	if err := writeBlock(w, &block{}, true); err != nil {
		return nil, decodeError(ErrCodeMalformedBlock, err, "failed to encode query")
	}
	if err := w.writeTo(nc.conn); err != nil {
		nc.shutdownLocked()
		return nil, connectionError(ErrCodeDialFailed, err, "failed to send query")
	}

	var blocks []*block
	for {
		if nc.cfg.ReadTimeout > 0 {
			nc.conn.SetReadDeadline(time.Now().Add(nc.cfg.ReadTimeout))
		}
		packet, err := nc.rd.uvarint()
		if err != nil {
			return nil, nc.readFailure(ctx, queryID, err)
		}
		switch packet {
		case serverData:
			b, err := readBlock(nc.rd, true)
			if err != nil {
				nc.shutdownLocked()
				return nil, decodeError(ErrCodeMalformedBlock, err, "malformed data block")
			}
			blocks = append(blocks, b)
		case serverException:
			exc, err := readException(nc.rd, queryID)
			if err != nil {
				nc.shutdownLocked()
				return nil, decodeError(ErrCodeMalformedBlock, err, "malformed exception frame")
			}
			// The exception ends the query but the connection stays usable.
			return nil, exc
		case serverProgress:
			if err := readProgress(nc.rd, nc.revision); err != nil {
				return nil, nc.readFailure(ctx, queryID, err)
			}
		case serverProfileInfo:
			if err := readProfileInfo(nc.rd); err != nil {
				return nil, nc.readFailure(ctx, queryID, err)
			}
		case serverTotals, serverExtremes, serverLog:
			if _, err := readBlock(nc.rd, true); err != nil {
				return nil, nc.readFailure(ctx, queryID, err)
			}
		case serverTableColumns:
			for i := 0; i < 2; i++ {
				if _, err := nc.rd.str(); err != nil {
					return nil, nc.readFailure(ctx, queryID, err)
				}
			}
		case serverEndOfStream:
			return blocks, nil
		default:
			nc.shutdownLocked()
			return nil, decodeError(ErrCodeUnexpectedPacket, nil, "unexpected server packet %d", packet)
		}
	}
}

func (nc *nativeConn) readFailure(ctx context.Context, queryID string, err error) error {
	nc.shutdownLocked()
	if ctx.Err() != nil {
		return &Error{
			Kind:    ErrKindConnection,
			Code:    ErrCodeQueryCanceled,
			Message: "query abandoned by caller",
			QueryID: queryID,
			cause:   ctx.Err(),
		}
	}
	return connectionError(ErrCodeDialFailed, err, "connection lost while reading response")
}
