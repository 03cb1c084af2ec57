package polarhouse

import (
	"fmt"
	"os"
	"os/user"
	"strings"
)

// Client packet codes of the native protocol.
const (
	clientHello  = 0
	clientQuery  = 1
	clientData   = 2
	clientCancel = 3
	clientPing   = 4
)

// Server packet codes of the native protocol.
const (
	serverHello        = 0
	serverData         = 1
	serverException    = 2
	serverProgress     = 3
	serverPong         = 4
	serverEndOfStream  = 5
	serverProfileInfo  = 6
	serverTotals       = 7
	serverExtremes     = 8
	serverTablesStatus = 9
	serverLog          = 10
	serverTableColumns = 11
)

// protocolRevision is the revision this client announces. 54428 predates
// interserver secrets, custom column serialization prefixes and the
// distributed-depth client info field, which keeps the frame grammar closed.
const (
	protocolRevision = 54428

	minRevisionWithClientInfo       = 54032
	minRevisionWithServerTimezone   = 54058
	minRevisionWithQuotaKey         = 54060
	minRevisionWithTotalRows        = 51554
	minRevisionWithServerDisplay    = 54372
	minRevisionWithClientWriteInfo  = 54372
	minRevisionWithVersionPatch     = 54401
)

const (
	clientName   = "gopolarhouse"
	versionMajor = 1
	versionMinor = 0
	versionPatch = 0

	// queryStageComplete asks the server to run the query to completion.
	queryStageComplete = 2
)

type serverInfo struct {
	Name        string
	Major       uint64
	Minor       uint64
	Patch       uint64
	Revision    uint64
	Timezone    string
	DisplayName string
}

// block is one self-describing unit of a query result: a row count plus the
// decoded columns. A block with zero rows still carries the schema.
type block struct {
	columns []Column
	rows    int
}

func writeClientHello(w *writer, database, username, password string) {
	w.uvarint(clientHello)
	w.str(clientName)
	w.uvarint(versionMajor)
	w.uvarint(versionMinor)
	w.uvarint(protocolRevision)
	w.str(database)
	w.str(username)
	w.str(password)
}

// readServerHello reads the hello payload; the packet code has already been
// consumed by the caller.
func readServerHello(r *reader) (*serverInfo, error) {
	info := &serverInfo{}
	var err error
	if info.Name, err = r.str(); err != nil {
		return nil, err
	}
	if info.Major, err = r.uvarint(); err != nil {
		return nil, err
	}
	if info.Minor, err = r.uvarint(); err != nil {
		return nil, err
	}
	if info.Revision, err = r.uvarint(); err != nil {
		return nil, err
	}
	rev := negotiated(info.Revision)
	if rev >= minRevisionWithServerTimezone {
		if info.Timezone, err = r.str(); err != nil {
			return nil, err
		}
	}
	if rev >= minRevisionWithServerDisplay {
		if info.DisplayName, err = r.str(); err != nil {
			return nil, err
		}
	}
	if rev >= minRevisionWithVersionPatch {
		if info.Patch, err = r.uvarint(); err != nil {
			return nil, err
		}
	}
	return info, nil
}

func negotiated(serverRevision uint64) uint64 {
	if serverRevision < protocolRevision {
		return serverRevision
	}
	return protocolRevision
}

func writeQuery(w *writer, revision uint64, queryID, query string) {
	w.uvarint(clientQuery)
	w.str(queryID)
	if revision >= minRevisionWithClientInfo {
		writeClientInfo(w, revision, queryID)
	}
	// Settings, terminated by an empty name.
	w.str("")
	w.uvarint(queryStageComplete)
	w.uvarint(0) // no compression
	w.str(query)
}

func writeClientInfo(w *writer, revision uint64, queryID string) {
	w.uint8(1) // initial query
	w.str("")  // initial user
	w.str("")  // initial query id
	w.str("0.0.0.0:0")
	w.uint8(1) // TCP interface
	w.str(osUserName())
	hostname, _ := os.Hostname()
	w.str(hostname)
	w.str(clientName)
	w.uvarint(versionMajor)
	w.uvarint(versionMinor)
	w.uvarint(protocolRevision)
	if revision >= minRevisionWithQuotaKey {
		w.str("")
	}
	if revision >= minRevisionWithVersionPatch {
		w.uvarint(versionPatch)
	}
}

func osUserName() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

// writeBlock encodes a data block. With envelope set it carries the native
// connection framing (temporary table name and block info) in front of the
// column payload; without it the layout matches the standalone Native
// format used by the HTTP interface and the cache files.
func writeBlock(w *writer, b *block, envelope bool) error {
	if envelope {
		w.str("")
		w.uvarint(1)
		w.uint8(0) // is_overflows
		w.uvarint(2)
		w.int32(-1) // bucket_num
		w.uvarint(0)
	}
	w.uvarint(uint64(len(b.columns)))
	w.uvarint(uint64(b.rows))
	for i := range b.columns {
		c := &b.columns[i]
		w.str(c.Name)
		w.str(c.Type.String())
		if err := encodeData(w, c.Type, c.data); err != nil {
			return err
		}
	}
	return nil
}

func readBlock(r *reader, envelope bool) (*block, error) {
	if envelope {
		if _, err := r.str(); err != nil { // temporary table name
			return nil, err
		}
		if err := readBlockInfo(r); err != nil {
			return nil, err
		}
	}
	nCols, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	nRows, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if nCols > 1<<20 || nRows > uint64(maxStringLen) {
		return nil, fmt.Errorf("implausible block header: %d columns, %d rows", nCols, nRows)
	}
	b := &block{rows: int(nRows), columns: make([]Column, 0, nCols)}
	for i := uint64(0); i < nCols; i++ {
		name, err := r.str()
		if err != nil {
			return nil, err
		}
		typeStr, err := r.str()
		if err != nil {
			return nil, err
		}
		t, err := ParseColumnType(typeStr)
		if err != nil {
			return nil, err
		}
		data, err := decodeData(r, t, int(nRows))
		if err != nil {
			return nil, fmt.Errorf("column %s (%s): %w", name, typeStr, err)
		}
		b.columns = append(b.columns, Column{Name: name, Type: t, data: data})
	}
	return b, nil
}

// Block info is field-number framed: 1 is is_overflows, 2 is bucket_num,
// 0 terminates.
func readBlockInfo(r *reader) error {
	for {
		field, err := r.uvarint()
		if err != nil {
			return err
		}
		switch field {
		case 0:
			return nil
		case 1:
			if _, err := r.uint8(); err != nil {
				return err
			}
		case 2:
			if _, err := r.int32(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown block info field %d", field)
		}
	}
}

// readException reads a server exception frame, following nested causes.
func readException(r *reader, queryID string) (*Error, error) {
	var code int32
	var messages []string
	for {
		c, err := r.int32()
		if err != nil {
			return nil, err
		}
		name, err := r.str()
		if err != nil {
			return nil, err
		}
		message, err := r.str()
		if err != nil {
			return nil, err
		}
		if _, err := r.str(); err != nil { // stack trace
			return nil, err
		}
		hasNested, err := r.bool()
		if err != nil {
			return nil, err
		}
		if code == 0 {
			code = c
		}
		messages = append(messages, fmt.Sprintf("%s: %s", name, message))
		if !hasNested {
			break
		}
	}
	return queryError(queryID, code, strings.Join(messages, "; ")), nil
}

func writeException(w *writer, code int32, name, message string) {
	w.int32(code)
	w.str(name)
	w.str(message)
	w.str("")
	w.bool(false)
}

func readProgress(r *reader, revision uint64) error {
	n := 2
	if revision >= minRevisionWithTotalRows {
		n++
	}
	if revision >= minRevisionWithClientWriteInfo {
		n += 2
	}
	for i := 0; i < n; i++ {
		if _, err := r.uvarint(); err != nil {
			return err
		}
	}
	return nil
}

func readProfileInfo(r *reader) error {
	for i := 0; i < 3; i++ {
		if _, err := r.uvarint(); err != nil {
			return err
		}
	}
	if _, err := r.uint8(); err != nil { // applied_limit
		return err
	}
	if _, err := r.uvarint(); err != nil { // rows_before_limit
		return err
	}
	_, err := r.uint8() // calculated_rows_before_limit
	return err
}
