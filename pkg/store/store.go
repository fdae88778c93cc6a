// Package store keeps compiled programs in a SQL database, encoded in the
// binary transfer format.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"ai/interpreter-go/pkg/bytecode"
	"ai/interpreter-go/pkg/transfer"
)

// ErrNotFound is returned when no program is stored under a name.
var ErrNotFound = errors.New("store: program not found")

// Entry describes a stored program without decoding it.
type Entry struct {
	Name     string
	Checksum string
	Revision string
	Source   string
	Size     int64
	Updated  time.Time
}

// Store is a program table in one database.
type Store struct {
	db      *sql.DB
	dialect string
}

// Open connects to a sqlite, postgres or mysql database and ensures the
// program table exists.
func Open(dbType, dsn string) (*Store, error) {
	var driverName string
	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3", "":
		driverName = "sqlite"
	case "postgres", "postgresql":
		driverName = "postgres"
	case "mysql":
		driverName = "mysql"
	default:
		return nil, fmt.Errorf("store: unsupported database type: %s", dbType)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: failed to connect: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to ping database: %w", err)
	}
	if driverName == "sqlite" {
		// sqlite allows a single writer.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &Store{db: db, dialect: driverName}
	if _, err := db.ExecContext(ctx, s.schema()); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create table: %w", err)
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) schema() string {
	blob := "BLOB"
	switch s.dialect {
	case "postgres":
		blob = "BYTEA"
	case "mysql":
		blob = "LONGBLOB"
	}
	return `CREATE TABLE IF NOT EXISTS ai_programs (
	name VARCHAR(255) NOT NULL PRIMARY KEY,
	checksum VARCHAR(64) NOT NULL,
	revision VARCHAR(64) NOT NULL,
	source VARCHAR(255) NOT NULL,
	size BIGINT NOT NULL,
	program ` + blob + ` NOT NULL,
	updated_at BIGINT NOT NULL
)`
}

// Put stores prog under name, replacing any previous program.
func (s *Store) Put(ctx context.Context, name string, prog *bytecode.Program) (*Entry, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("store: empty program name")
	}
	data, err := transfer.Encode(prog)
	if err != nil {
		return nil, fmt.Errorf("store: encode %s: %w", name, err)
	}
	sum := sha256.Sum256(data)
	entry := &Entry{
		Name:     name,
		Checksum: hex.EncodeToString(sum[:]),
		Revision: prog.Meta.Revision,
		Source:   prog.Meta.Source,
		Size:     int64(len(data)),
		Updated:  time.Now().UTC(),
	}

	cols := "name, checksum, revision, source, size, program, updated_at"
	var query string
	if s.dialect == "mysql" {
		query = `INSERT INTO ai_programs (` + cols + `) VALUES (?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE checksum = VALUES(checksum), revision = VALUES(revision), source = VALUES(source),
	size = VALUES(size), program = VALUES(program), updated_at = VALUES(updated_at)`
	} else {
		query = `INSERT INTO ai_programs (` + cols + `) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (name) DO UPDATE SET checksum = excluded.checksum, revision = excluded.revision, source = excluded.source,
	size = excluded.size, program = excluded.program, updated_at = excluded.updated_at`
	}
	_, err = s.db.ExecContext(ctx, s.rebind(query),
		entry.Name, entry.Checksum, entry.Revision, entry.Source, entry.Size, data, entry.Updated.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("store: put %s: %w", name, err)
	}
	return entry, nil
}

// Get loads and fully validates the program stored under name.
func (s *Store) Get(ctx context.Context, name string) (*bytecode.Program, *Entry, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT name, checksum, revision, source, size, updated_at, program FROM ai_programs WHERE name = ?`), name)
	var (
		entry Entry
		nanos int64
		data  []byte
	)
	if err := row.Scan(&entry.Name, &entry.Checksum, &entry.Revision, &entry.Source, &entry.Size, &nanos, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, nil, fmt.Errorf("store: get %s: %w", name, err)
	}
	entry.Updated = time.Unix(0, nanos).UTC()
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != entry.Checksum {
		return nil, nil, fmt.Errorf("store: %s: checksum %s does not match recorded %s", name, got, entry.Checksum)
	}
	prog, err := transfer.Decode(data)
	if err != nil {
		return nil, nil, fmt.Errorf("store: decode %s: %w", name, err)
	}
	return prog, &entry, nil
}

// List returns every stored program ordered by name.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, checksum, revision, source, size, updated_at FROM ai_programs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e     Entry
			nanos int64
		)
		if err := rows.Scan(&e.Name, &e.Checksum, &e.Revision, &e.Source, &e.Size, &nanos); err != nil {
			return nil, fmt.Errorf("store: list: %w", err)
		}
		e.Updated = time.Unix(0, nanos).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return out, nil
}

// Delete removes the program stored under name.
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM ai_programs WHERE name = ?`), name)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

// rebind rewrites ? placeholders as $1, $2... for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	return rebindDollar(query)
}

func rebindDollar(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
