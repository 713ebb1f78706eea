package db

import "github.com/jmoiron/sqlx"

// Pool provides separate read and write database connections.
//
// With SQLite in WAL mode this enables concurrent reads while serializing
// writes through a single connection. The writer pool uses MaxOpenConns(1)
// to avoid SQLITE_BUSY on write contention, while the reader pool allows
// multiple concurrent connections for SELECT queries.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewPool creates a Pool from separate writer and reader connections.
func NewPool(writer, reader *sqlx.DB) *Pool {
	return &Pool{writer: writer, reader: reader}
}

// Open opens writer and reader pools for the database at dbPath.
func Open(dbPath string) (*Pool, error) {
	writer, err := OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	reader, err := OpenSQLiteReader(dbPath)
	if err != nil {
		_ = writer.Close()
		return nil, err
	}
	return &Pool{writer: writer, reader: reader}, nil
}

// OpenMemoryPool opens an in-memory pool for tests, sharing one connection
// between reader and writer.
func OpenMemoryPool() (*Pool, error) {
	conn, err := OpenMemory()
	if err != nil {
		return nil, err
	}
	return &Pool{writer: conn, reader: conn}, nil
}

// Writer returns the connection pool used for INSERT, UPDATE, DELETE, and
// transactions. Limited to a single connection.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader returns the connection pool used for SELECT queries. Readers
// operate concurrently with the writer via WAL snapshots.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Close closes both the writer and reader pools.
func (p *Pool) Close() error {
	wErr := p.writer.Close()
	// Avoid double-close when both pools share the same connection.
	if p.reader != p.writer {
		if rErr := p.reader.Close(); rErr != nil && wErr == nil {
			return rErr
		}
	}
	return wErr
}
