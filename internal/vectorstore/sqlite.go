package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	_ "modernc.org/sqlite"

	"docqa/internal/domain"
)

const sqliteHeader = "SQLite format 3\x00"

var sqliteSchema = []string{
	`CREATE TABLE meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
)`,
	`CREATE TABLE entries (
    seq          INTEGER PRIMARY KEY,
    source_id    TEXT    NOT NULL,
    page         INTEGER NOT NULL,
    chunk_index  INTEGER NOT NULL,
    start_offset INTEGER NOT NULL,
    end_offset   INTEGER NOT NULL,
    text         TEXT    NOT NULL,
    vector       BLOB    NOT NULL
)`,
}

// sqliteChecksum hashes the declared header and every entry in seq order,
// using the binary record encoding. SQLite pages carry no checksum of their
// own.
func sqliteChecksum(metric Metric, dim int, entries []domain.Entry) uint64 {
	d := xxhash.New()
	buf := []byte{byte(metric)}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(dim))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(entries)))
	_, _ = d.Write(buf)
	for _, e := range entries {
		buf = appendEntry(buf[:0], e)
		_, _ = d.Write(buf)
	}
	return d.Sum64()
}

// writeSQLite stores the index into a fresh SQLite database file at path.
// seq preserves insertion order.
func (ix *Index) writeSQLite(ctx context.Context, path string) (err error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); err == nil {
			err = cerr
		}
	}()
	for _, ddl := range sqliteSchema {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	meta := map[string]string{
		"format_version": strconv.Itoa(binaryVersion),
		"dimension":      strconv.Itoa(ix.dim),
		"metric":         ix.metric.String(),
		"count":          strconv.Itoa(len(ix.entries)),
		"checksum":       strconv.FormatUint(sqliteChecksum(ix.metric, ix.dim, ix.entries), 16),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES(?, ?)`, k, v); err != nil {
			return err
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entries(seq, source_id, page, chunk_index, start_offset, end_offset, text, vector) VALUES(?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, e := range ix.entries {
		c := e.Chunk
		if _, err := stmt.ExecContext(ctx, i, c.SourceID, c.Page, c.Index, c.Start, c.End, c.Text, encodeVector(e.Vector)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// readSQLite loads an index written by writeSQLite. The returned error
// describes the inconsistency; the caller attaches the path.
func readSQLite(ctx context.Context, path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, err
	}
	meta := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return nil, err
		}
		meta[k] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	dim, err := strconv.Atoi(meta["dimension"])
	if err != nil || dim <= 0 {
		return nil, fmt.Errorf("declared dimension %q is invalid", meta["dimension"])
	}
	count, err := strconv.Atoi(meta["count"])
	if err != nil || count <= 0 {
		return nil, fmt.Errorf("declared entry count %q is invalid", meta["count"])
	}
	metric, err := ParseMetric(meta["metric"])
	if err != nil || meta["metric"] == "" {
		return nil, fmt.Errorf("unknown metric identifier %q", meta["metric"])
	}

	rows, err = db.QueryContext(ctx, `SELECT source_id, page, chunk_index, start_offset, end_offset, text, vector FROM entries ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := make([]domain.Entry, 0, count)
	for rows.Next() {
		var e domain.Entry
		var blob []byte
		if err := rows.Scan(&e.Chunk.SourceID, &e.Chunk.Page, &e.Chunk.Index, &e.Chunk.Start, &e.Chunk.End, &e.Chunk.Text, &blob); err != nil {
			return nil, err
		}
		if len(blob) != 4*dim {
			return nil, fmt.Errorf("record %d holds a %d-byte vector, want %d", len(entries), len(blob), 4*dim)
		}
		if e.Vector, err = decodeVector(blob); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(entries) != count {
		return nil, fmt.Errorf("declared %d entries, artifact holds %d", count, len(entries))
	}
	want, err := strconv.ParseUint(meta["checksum"], 16, 64)
	if err != nil {
		return nil, fmt.Errorf("declared checksum %q is invalid", meta["checksum"])
	}
	if sqliteChecksum(metric, dim, entries) != want {
		return nil, errors.New("checksum mismatch (truncated or corrupted)")
	}
	return Build(metric, entries)
}
