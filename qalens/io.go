package qalens

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"
)

// Format names a supported input encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
)

const (
	defaultChunkSize   = 1000
	defaultConcurrency = 4
)

// LoadOptions tunes file parsing.
type LoadOptions struct {
	// Sheet selects the worksheet of a spreadsheet; empty means the first one.
	Sheet string `json:"sheet,omitempty" yaml:"sheet,omitempty"`
	// ChunkSize is how many rows are read between cancellation checks.
	ChunkSize int `json:"chunkSize,omitempty" yaml:"chunk_size,omitempty"`
	// Concurrency bounds how many files LoadFiles parses at once.
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
}

func (o LoadOptions) withDefaults() LoadOptions {
	if o.ChunkSize <= 0 {
		o.ChunkSize = defaultChunkSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	return o
}

// FormatFromPath infers the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".tsv", ".tab":
		return FormatTSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// LoadFile parses one export into a RawTable named after the file.
func LoadFile(ctx context.Context, path string, opts LoadOptions) (*RawTable, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	return LoadReader(ctx, filepath.Base(path), f, format, opts)
}

// LoadReader parses r in the given format. The table is only returned once every row has
// been read, so no caller ever sees a partial table.
func LoadReader(ctx context.Context, name string, r io.Reader, format Format, opts LoadOptions) (*RawTable, error) {
	opts = opts.withDefaults()
	var (
		header  []string
		records [][]string
		err     error
	)
	switch format {
	case FormatCSV:
		header, records, err = readDelimited(ctx, r, ',', opts.ChunkSize)
	case FormatTSV:
		header, records, err = readDelimited(ctx, r, '\t', opts.ChunkSize)
	case FormatXLSX:
		header, records, err = readSpreadsheet(ctx, r, opts.Sheet, opts.ChunkSize)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return newRawTableFromRecords(name, header, records), nil
}

// LoadFiles parses several exports concurrently. Tables come back in argument order; the
// first failure cancels the remaining parses and is returned.
func LoadFiles(ctx context.Context, paths []string, opts LoadOptions) ([]*RawTable, error) {
	opts = opts.withDefaults()
	tables := make([]*RawTable, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			t, err := LoadFile(gctx, path, opts)
			if err != nil {
				return err
			}
			tables[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tables, nil
}

// ReadHeaders returns only the cleaned header row of a file.
func ReadHeaders(path string) ([]string, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	if format == FormatXLSX {
		t, err := LoadFile(context.Background(), path, LoadOptions{})
		if err != nil {
			return nil, err
		}
		return t.Headers(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	reader := csv.NewReader(f)
	if format == FormatTSV {
		reader.Comma = '\t'
	}
	reader.FieldsPerRecord = -1
	row, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return uniqueHeaders(row), nil
}

func readDelimited(ctx context.Context, r io.Reader, comma rune, chunk int) ([]string, [][]string, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, errors.New("empty file")
		}
		return nil, nil, err
	}
	var records [][]string
	for n := 1; ; n++ {
		if n%chunk == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if blankRecord(record) {
			continue
		}
		records = append(records, record)
	}
	return header, records, nil
}

func readSpreadsheet(ctx context.Context, r io.Reader, sheet string, chunk int) ([]string, [][]string, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, err
	}
	defer book.Close()
	if sheet == "" {
		sheets := book.GetSheetList()
		if len(sheets) == 0 {
			return nil, nil, errors.New("workbook has no sheets")
		}
		sheet = sheets[0]
	}
	rows, err := book.Rows(sheet)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var (
		header  []string
		records [][]string
	)
	for n := 0; rows.Next(); n++ {
		if n > 0 && n%chunk == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
		cols, err := rows.Columns()
		if err != nil {
			return nil, nil, err
		}
		if header == nil {
			header = cols
			continue
		}
		if blankRecord(cols) {
			continue
		}
		records = append(records, cols)
	}
	if err := rows.Error(); err != nil {
		return nil, nil, err
	}
	if header == nil {
		return nil, nil, fmt.Errorf("sheet %s is empty", sheet)
	}
	return header, records, nil
}

func blankRecord(record []string) bool {
	for _, cell := range record {
		if cleanCell(cell) != "" {
			return false
		}
	}
	return true
}
