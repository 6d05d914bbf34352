// Package analysis provides the default pipeline collaborators: CSV
// dataset processing and templated insight generation. The orchestrator
// invokes them through narrow interfaces so tests can substitute fakes.
package analysis

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	// ErrEmptyDataset is returned when the uploaded file has no content
	ErrEmptyDataset = errors.New("dataset is empty")
	// ErrNoDataRows is returned when the file has a header but no rows
	ErrNoDataRows = errors.New("dataset contains no data rows")
)

// CSVProcessor implements the data-quality/parsing stage
type CSVProcessor struct {
	logger *slog.Logger
}

// NewCSVProcessor creates a processor with dependency injection
func NewCSVProcessor(logger *slog.Logger) *CSVProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVProcessor{
		logger: logger.With(slog.String("component", "analysis.processor")),
	}
}

// ProcessFile parses the uploaded dataset and computes quality metrics.
// The returned payload feeds the AI analysis stage.
func (p *CSVProcessor) ProcessFile(ctx context.Context, data []byte, filename, domain string) (map[string]interface{}, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyDataset
	}

	encoding, cleaned := detectEncoding(data)

	reader := csv.NewReader(bytes.NewReader(cleaned))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	columns := make([]string, len(header))
	for i, name := range header {
		columns[i] = strings.TrimSpace(name)
	}

	var (
		rowCount      int
		totalCells    int
		emptyCells    int
		seen          = map[string]struct{}{}
		duplicateRows int
		numericCounts = make([]int, len(columns))
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse row %d: %w", rowCount+2, err)
		}

		rowCount++
		key := strings.Join(record, "\x1f")
		if _, dup := seen[key]; dup {
			duplicateRows++
		} else {
			seen[key] = struct{}{}
		}

		for i, cell := range record {
			totalCells++
			cell = strings.TrimSpace(cell)
			if cell == "" {
				emptyCells++
				continue
			}
			if i < len(numericCounts) {
				if _, err := strconv.ParseFloat(cell, 64); err == nil {
					numericCounts[i]++
				}
			}
		}
	}

	if rowCount == 0 {
		return nil, ErrNoDataRows
	}

	columnTypes := make(map[string]string, len(columns))
	for i, name := range columns {
		// A column is numeric when most of its populated cells parse
		if numericCounts[i]*2 > rowCount {
			columnTypes[name] = "numeric"
		} else {
			columnTypes[name] = "text"
		}
	}

	completeness := 100.0
	if totalCells > 0 {
		completeness = float64(totalCells-emptyCells) / float64(totalCells) * 100
	}

	p.logger.InfoContext(ctx, "dataset processed",
		slog.String("filename", filename),
		slog.String("domain", domain),
		slog.String("encoding", encoding),
		slog.Int("rows", rowCount),
		slog.Int("columns", len(columns)))

	return map[string]interface{}{
		"filename":     filename,
		"domain":       domain,
		"encoding":     encoding,
		"rows":         rowCount,
		"columns":      len(columns),
		"column_names": columns,
		"column_types": columnTypes,
		"quality": map[string]interface{}{
			"total_cells":    totalCells,
			"empty_cells":    emptyCells,
			"completeness":   completeness,
			"duplicate_rows": duplicateRows,
		},
	}, nil
}

// detectEncoding sniffs the byte-order mark and UTF-8 validity. The
// cleaned slice has any BOM stripped so the CSV reader never sees it.
func detectEncoding(data []byte) (string, []byte) {
	if bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
		return "utf-8-sig", data[3:]
	}
	if utf8.Valid(data) {
		return "utf-8", data
	}
	return "latin-1", data
}
