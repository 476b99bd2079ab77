// Package tabular writes job records to a CSV table.
//
// The header is either the key order of the first record (ColumnsFirst) or the
// union of all record keys in first-seen order (ColumnsUnion). Records that do
// not fit the header are handled by the Missing and Extra policies. The table is
// written to a pending file next to the destination and atomically renamed into
// place (renameio), so a failed write never leaves a partial file behind.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Sternrassler/mcf-jobs-export/pkg/record"
	"github.com/google/renameio/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ColumnMode selects how the header is derived.
type ColumnMode string

const (
	// ColumnsFirst takes the keys of the first record, in its key order.
	ColumnsFirst ColumnMode = "first"
	// ColumnsUnion takes every key seen across the records, in first-seen order.
	ColumnsUnion ColumnMode = "union"
)

// MissingPolicy decides what happens when a record lacks a header column.
type MissingPolicy string

const (
	MissingBlank MissingPolicy = "blank"
	MissingError MissingPolicy = "error"
)

// ExtraPolicy decides what happens when a record has keys outside the header.
type ExtraPolicy string

const (
	ExtraDrop  ExtraPolicy = "drop"
	ExtraError ExtraPolicy = "error"
)

// ErrSchemaMismatch is matched by every *SchemaError.
var ErrSchemaMismatch = errors.New("record does not match table columns")

// SchemaError identifies the record that did not fit the header.
type SchemaError struct {
	Row     int // 0-based index into the records
	Missing []string
	Extra   []string
	// NotObject is set when the record is not a JSON object.
	NotObject bool
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "record %d: %s", e.Row, ErrSchemaMismatch)
	if e.NotObject {
		b.WriteString(": not an object")
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing %s", strings.Join(e.Missing, ","))
	}
	if len(e.Extra) > 0 {
		fmt.Fprintf(&b, ": extra %s", strings.Join(e.Extra, ","))
	}
	return b.String()
}

func (e *SchemaError) Is(target error) bool {
	return target == ErrSchemaMismatch
}

var (
	rowsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcf_csv_rows_written_total",
		Help: "Total CSV data rows written",
	})

	writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcf_csv_writes_total",
		Help: "CSV write attempts by outcome",
	}, []string{"outcome"})
)

// Config holds the projection policies.
type Config struct {
	Columns ColumnMode
	Missing MissingPolicy
	Extra   ExtraPolicy
}

// DefaultConfig returns union columns with blank missing fields and dropped extras.
func DefaultConfig() Config {
	return Config{
		Columns: ColumnsUnion,
		Missing: MissingBlank,
		Extra:   ExtraDrop,
	}
}

// Validate rejects unknown policy names.
func (c Config) Validate() error {
	switch c.Columns {
	case ColumnsFirst, ColumnsUnion:
	default:
		return fmt.Errorf("unknown column mode %q (want first or union)", c.Columns)
	}
	switch c.Missing {
	case MissingBlank, MissingError:
	default:
		return fmt.Errorf("unknown missing policy %q (want blank or error)", c.Missing)
	}
	switch c.Extra {
	case ExtraDrop, ExtraError:
	default:
		return fmt.Errorf("unknown extra policy %q (want drop or error)", c.Extra)
	}
	return nil
}

// Result describes a completed Write.
type Result struct {
	Path    string
	Columns []string
	Rows    int
	// Written is false when there was nothing to write.
	Written bool
}

// Writer projects records onto a CSV table.
type Writer struct {
	config Config
	logger zerolog.Logger
}

// NewWriter creates a writer; zero-value policies fall back to DefaultConfig.
func NewWriter(config Config) (*Writer, error) {
	defaults := DefaultConfig()
	if config.Columns == "" {
		config.Columns = defaults.Columns
	}
	if config.Missing == "" {
		config.Missing = defaults.Missing
	}
	if config.Extra == "" {
		config.Extra = defaults.Extra
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Writer{
		config: config,
		logger: log.With().Str("component", "csv-writer").Logger(),
	}, nil
}

// Columns derives the header for records under the writer's column mode.
func (w *Writer) Columns(records []record.Record) []string {
	if len(records) == 0 || !records[0].IsObject() {
		return nil
	}
	if w.config.Columns == ColumnsFirst {
		return records[0].Keys()
	}
	return record.UnionKeys(records)
}

// Write replaces the file at path with the records as CSV.
// Empty input, or a first record that is not an object, writes nothing and
// returns Result{Written: false} with a nil error.
func (w *Writer) Write(records []record.Record, path string) (Result, error) {
	result := Result{Path: path}

	if len(records) == 0 || !records[0].IsObject() {
		writesTotal.WithLabelValues("noop").Inc()
		w.logger.Info().
			Int("records", len(records)).
			Str("path", path).
			Msg("Nothing to write")
		return result, nil
	}

	columns := w.Columns(records)
	rows, err := w.project(records, columns)
	if err != nil {
		writesTotal.WithLabelValues("error").Inc()
		return result, err
	}

	if err := writeAtomic(path, columns, rows); err != nil {
		writesTotal.WithLabelValues("error").Inc()
		return result, err
	}

	writesTotal.WithLabelValues("written").Inc()
	rowsWritten.Add(float64(len(rows)))
	w.logger.Info().
		Str("path", path).
		Int("columns", len(columns)).
		Int("rows", len(rows)).
		Msg("Table written")

	result.Columns = columns
	result.Rows = len(rows)
	result.Written = true
	return result, nil
}

// project turns every record into a row following the header order.
func (w *Writer) project(records []record.Record, columns []string) ([][]string, error) {
	inHeader := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		inHeader[c] = struct{}{}
	}

	rows := make([][]string, 0, len(records))
	for i, r := range records {
		if !r.IsObject() {
			return nil, &SchemaError{Row: i, NotObject: true}
		}

		row := make([]string, len(columns))
		var missing []string
		for j, c := range columns {
			text, ok := r.Text(c)
			if !ok {
				missing = append(missing, c)
				continue
			}
			row[j] = text
		}
		if len(missing) > 0 && w.config.Missing == MissingError {
			return nil, &SchemaError{Row: i, Missing: missing}
		}

		if w.config.Extra == ExtraError && r.Len() > len(columns)-len(missing) {
			var extra []string
			for _, k := range r.Keys() {
				if _, ok := inHeader[k]; !ok {
					extra = append(extra, k)
				}
			}
			return nil, &SchemaError{Row: i, Extra: extra}
		}

		rows = append(rows, row)
	}
	return rows, nil
}

// writeAtomic writes header and rows to a pending file in the destination
// directory and atomically renames it over path.
func writeAtomic(path string, header []string, rows [][]string) error {
	pending, err := renameio.NewPendingFile(path,
		renameio.WithTempDir(filepath.Dir(path)),
		renameio.WithStaticPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending file for %s: %w", path, err)
	}
	defer pending.Cleanup()

	cw := csv.NewWriter(pending)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
