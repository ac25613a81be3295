// Package metadata queries the relational store that owns content records.
// The migrator only reads from it.
package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNotFound is returned when no content record exists for an id
var ErrNotFound = errors.New("content record not found")

// Record is the part of a content record the migrator needs
type Record struct {
	ID   uint64
	MD5  string // lowercase hex
	Size int64
}

// Store looks up content records by id
type Store interface {
	// Exists reports whether a record with the id exists.
	Exists(ctx context.Context, id uint64) (bool, error)

	// Lookup returns the record's checksum and size, or ErrNotFound.
	Lookup(ctx context.Context, id uint64) (Record, error)
}

// Schema names the table and columns holding content records
type Schema struct {
	Table      string
	IDColumn   string
	MD5Column  string
	SizeColumn string
}

// DefaultSchema returns the schema used when nothing is configured
func DefaultSchema() Schema {
	return Schema{Table: "content", IDColumn: "id", MD5Column: "md5", SizeColumn: "size"}
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

func (s Schema) validate() error {
	for _, ident := range []string{s.Table, s.IDColumn, s.MD5Column, s.SizeColumn} {
		if !identRe.MatchString(ident) {
			return fmt.Errorf("invalid SQL identifier %q", ident)
		}
	}
	return nil
}

// SQLStore reads content records through database/sql
type SQLStore struct {
	db          *sql.DB
	lookupQuery string
	existsQuery string
}

// NewSQLStore returns a store reading from db using schema. Identifiers are
// validated because they are interpolated into the queries.
func NewSQLStore(db *sql.DB, schema Schema) (*SQLStore, error) {
	if err := schema.validate(); err != nil {
		return nil, err
	}
	return &SQLStore{
		db: db,
		lookupQuery: fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s = $1",
			schema.MD5Column, schema.SizeColumn, schema.Table, schema.IDColumn),
		existsQuery: fmt.Sprintf("SELECT 1 FROM %s WHERE %s = $1 LIMIT 1",
			schema.Table, schema.IDColumn),
	}, nil
}

// Exists reports whether a record with the id exists
func (s *SQLStore) Exists(ctx context.Context, id uint64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.existsQuery, int64(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking content %d: %w", id, err)
	}
	return true, nil
}

// Lookup returns the record's checksum and size
func (s *SQLStore) Lookup(ctx context.Context, id uint64) (Record, error) {
	var (
		sum  sql.NullString
		size sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, s.lookupQuery, int64(id)).Scan(&sum, &size)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("content %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("looking up content %d: %w", id, err)
	}
	if !sum.Valid {
		return Record{}, fmt.Errorf("content %d has no md5", id)
	}
	return Record{
		ID:   id,
		MD5:  strings.ToLower(strings.TrimSpace(sum.String)),
		Size: size.Int64,
	}, nil
}
