package telemetry

import (
	"database/sql"
	"sort"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const scalarSchema = `
CREATE TABLE IF NOT EXISTS scalars (
	run_id TEXT NOT NULL,
	mode TEXT NOT NULL,
	step INTEGER NOT NULL,
	tag TEXT NOT NULL,
	value DOUBLE NOT NULL,
	timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS scalars_tag ON scalars (mode, tag, step);
`

// SQLiteSink stores scalars in a SQLite database.
type SQLiteSink struct {
	db    *sql.DB
	runID string
}

// NewSQLiteSink opens (or creates) the database at path. Rows are tagged
// with runID so several runs can share one file.
func NewSQLiteSink(path, runID string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	if _, err := db.Exec(scalarSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create scalar schema")
	}
	return &SQLiteSink{db: db, runID: runID}, nil
}

// WriteScalars inserts every scalar in one transaction.
func (s *SQLiteSink) WriteScalars(mode string, step int, scalars map[string]float32) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	stmt, err := tx.Prepare("INSERT INTO scalars (run_id, mode, step, tag, value) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	tags := make([]string, 0, len(scalars))
	for tag := range scalars {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		if _, err := stmt.Exec(s.runID, mode, step, tag, float64(scalars[tag])); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "insert %s", tag)
		}
	}
	return errors.Wrap(tx.Commit(), "commit scalars")
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// Point is one recorded scalar.
type Point struct {
	Step  int
	Value float64
}

// ReadSeries returns the values of tag in mode ordered by step. An empty
// runID reads every run.
func ReadSeries(path, runID, mode, tag string) ([]Point, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer db.Close()

	rows, err := db.Query(`
		SELECT step, value FROM scalars
		WHERE mode = ? AND tag = ? AND (? = '' OR run_id = ?)
		ORDER BY step`, mode, tag, runID, runID)
	if err != nil {
		return nil, errors.Wrap(err, "query scalars")
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.Step, &p.Value); err != nil {
			return nil, errors.Wrap(err, "scan scalar")
		}
		points = append(points, p)
	}
	return points, errors.Wrap(rows.Err(), "read scalars")
}

// Tags returns the distinct tags recorded for mode.
func Tags(path, mode string) ([]string, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer db.Close()

	rows, err := db.Query("SELECT DISTINCT tag FROM scalars WHERE mode = ? ORDER BY tag", mode)
	if err != nil {
		return nil, errors.Wrap(err, "query tags")
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, errors.Wrap(err, "scan tag")
		}
		tags = append(tags, tag)
	}
	return tags, errors.Wrap(rows.Err(), "read tags")
}
