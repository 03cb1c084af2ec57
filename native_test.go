package polarhouse

import (
	"context"
	"net"
	"testing"
	"time"
)

type fakeNativeServer struct {
	t  *testing.T
	ln net.Listener
	// respond builds the reply for one query; a nil block slice with a
	// non-empty errMsg produces an exception frame.
	respond func(query string) ([]*block, string)
}

func startFakeNativeServer(t *testing.T, respond func(query string) ([]*block, string)) *fakeNativeServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assertNilF(t, err)
	s := &fakeNativeServer{t: t, ln: ln, respond: respond}
	go s.acceptLoop()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeNativeServer) addr() string {
	return s.ln.Addr().String()
}

func (s *fakeNativeServer) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.serve(conn)
	}
}

func (s *fakeNativeServer) serve(conn net.Conn) {
	defer conn.Close()
	rd := newReader(conn)
	if err := s.readHello(rd); err != nil {
		return
	}
	w := &writer{}
	w.uvarint(serverHello)
	w.str("FakeHouse")
	w.uvarint(23)
	w.uvarint(8)
	w.uvarint(protocolRevision)
	w.str("UTC")
	w.str("fakehouse")
	w.uvarint(1)
	if err := w.writeTo(conn); err != nil {
		return
	}
	for {
		query, err := s.readQuery(rd)
		if err != nil {
			return
		}
		blocks, errMsg := s.respond(query)
		w := &writer{}
		if errMsg != "" {
			w.uvarint(serverException)
			writeException(w, 62, "DB::Exception", errMsg)
		} else {
			for _, b := range blocks {
				w.uvarint(serverData)
				if err := writeBlock(w, b, true); err != nil {
					return
				}
			}
			w.uvarint(serverProgress)
			for i := 0; i < 5; i++ {
				w.uvarint(uint64(i))
			}
			w.uvarint(serverEndOfStream)
		}
		if err := w.writeTo(conn); err != nil {
			return
		}
	}
}

func (s *fakeNativeServer) readHello(rd *reader) error {
	if _, err := rd.uvarint(); err != nil { // clientHello
		return err
	}
	if _, err := rd.str(); err != nil { // client name
		return err
	}
	for i := 0; i < 3; i++ { // version major, minor, revision
		if _, err := rd.uvarint(); err != nil {
			return err
		}
	}
	for i := 0; i < 3; i++ { // database, user, password
		if _, err := rd.str(); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeNativeServer) readQuery(rd *reader) (string, error) {
	if _, err := rd.uvarint(); err != nil { // clientQuery
		return "", err
	}
	if _, err := rd.str(); err != nil { // query id
		return "", err
	}
	// Client info.
	if _, err := rd.uint8(); err != nil {
		return "", err
	}
	for i := 0; i < 3; i++ { // initial user, initial query id, address
		if _, err := rd.str(); err != nil {
			return "", err
		}
	}
	if _, err := rd.uint8(); err != nil { // interface
		return "", err
	}
	for i := 0; i < 3; i++ { // os user, hostname, client name
		if _, err := rd.str(); err != nil {
			return "", err
		}
	}
	for i := 0; i < 3; i++ { // version major, minor, revision
		if _, err := rd.uvarint(); err != nil {
			return "", err
		}
	}
	if _, err := rd.str(); err != nil { // quota key
		return "", err
	}
	if _, err := rd.uvarint(); err != nil { // version patch
		return "", err
	}
	for { // settings terminated by an empty name
		name, err := rd.str()
		if err != nil {
			return "", err
		}
		if name == "" {
			break
		}
	}
	if _, err := rd.uvarint(); err != nil { // stage
		return "", err
	}
	if _, err := rd.uvarint(); err != nil { // compression
		return "", err
	}
	query, err := rd.str()
	if err != nil {
		return "", err
	}
	if _, err := rd.uvarint(); err != nil { // clientData terminator block
		return "", err
	}
	if _, err := readBlock(rd, true); err != nil {
		return "", err
	}
	return query, nil
}

func TestNativeQueryRoundTrip(t *testing.T) {
	server := startFakeNativeServer(t, func(query string) ([]*block, string) {
		return []*block{
			{rows: 0, columns: []Column{
				testCol(t, "id", "Int64", int64Vec()),
				testCol(t, "name", "String", strVec()),
			}},
			{rows: 2, columns: []Column{
				testCol(t, "id", "Int64", int64Vec(1, 2)),
				testCol(t, "name", "String", strVec("a", "b")),
			}},
			{rows: 1, columns: []Column{
				testCol(t, "id", "Int64", int64Vec(3)),
				testCol(t, "name", "String", strVec("c")),
			}},
		}, ""
	})

	client, err := Connect(context.Background(), server.addr())
	assertNilF(t, err)
	defer client.Close()

	res, err := client.GetDFQuery(context.Background(), "SELECT id, name FROM t")
	assertNilF(t, err)
	assertEqualF(t, res.NumRows(), 3)
	assertEqualF(t, res.NumColumns(), 2)
	id, _ := res.Column("id")
	assertDeepEqualE(t, id.data, int64Vec(1, 2, 3))
	name, _ := res.Column("name")
	assertDeepEqualE(t, name.data, strVec("a", "b", "c"))
}

func TestNativeServerException(t *testing.T) {
	server := startFakeNativeServer(t, func(query string) ([]*block, string) {
		if query == "invalid" {
			return nil, "Syntax error: failed at position 1"
		}
		return []*block{{rows: 0, columns: []Column{testCol(t, "x", "UInt8", &vec[uint8]{})}}}, ""
	})

	client, err := Connect(context.Background(), server.addr())
	assertNilF(t, err)
	defer client.Close()

	_, err = client.GetDFQuery(context.Background(), "invalid")
	var phErr *Error
	assertErrorsAsF(t, err, &phErr)
	assertEqualE(t, phErr.Kind, ErrKindQuery)
	assertEqualE(t, phErr.ServerCode, int32(62))
	assertStringContainsE(t, phErr.Error(), "Syntax error")

	// An exception ends the query, not the connection.
	res, err := client.GetDFQuery(context.Background(), "SELECT 1")
	assertNilF(t, err)
	assertEqualE(t, res.NumRows(), 0)
}

func TestNativeConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assertNilF(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Connect(context.Background(), addr, WithConnectTimeout(time.Second))
	var phErr *Error
	assertErrorsAsF(t, err, &phErr)
	assertEqualE(t, phErr.Kind, ErrKindConnection)
}

func TestNativeCancellationClosesConnection(t *testing.T) {
	release := make(chan struct{})
	server := startFakeNativeServer(t, func(query string) ([]*block, string) {
		<-release // hold the response until the caller gave up
		return nil, "too late"
	})
	defer close(release)

	client, err := Connect(context.Background(), server.addr())
	assertNilF(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.GetDFQuery(ctx, "SELECT sleep(10)")
	var phErr *Error
	assertErrorsAsF(t, err, &phErr)
	assertEqualE(t, phErr.Code, ErrCodeQueryCanceled)

	// The timed-out connection is discarded, not reused.
	_, err = client.GetDFQuery(context.Background(), "SELECT 1")
	assertErrorsAsF(t, err, &phErr)
	assertEqualE(t, phErr.Code, ErrCodeConnClosed)
}
