package fetcher

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// Row is one data record of a tabular dataset, keyed by normalized header.
type Row struct {
	// Line is the 1-based record number, counting the header.
	Line   int
	fields map[string]string
}

// NewRow pairs a header with a record. Extra values without a header are dropped.
func NewRow(line int, header, record []string) Row {
	fields := make(map[string]string, len(header))
	for i, h := range header {
		if i < len(record) {
			fields[normalizeHeader(h)] = strings.TrimSpace(record[i])
		}
	}
	return Row{Line: line, fields: fields}
}

// Get returns the first non-empty value among the given column names.
func (r Row) Get(names ...string) string {
	for _, n := range names {
		if v := r.fields[normalizeHeader(n)]; v != "" {
			return v
		}
	}
	return ""
}

// Has reports whether any of the given columns is present in the header.
func (r Row) Has(names ...string) bool {
	for _, n := range names {
		if _, ok := r.fields[normalizeHeader(n)]; ok {
			return true
		}
	}
	return false
}

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(h)
}

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	// Delimiter defaults to whichever of ',', ';' or tab is most common in the header line.
	Delimiter  rune
	Comment    rune
	LazyQuotes bool
}

// StreamCSV reads a CSV dataset whose first record is the header and sends
// each following record as a Row. Both channels are closed when processing
// completes; at most one error is sent.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan Row, <-chan error) {
	rowCh := make(chan Row, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		br := bufio.NewReader(r)
		if opts.Delimiter == 0 {
			opts.Delimiter = sniffDelimiter(br)
		}

		reader := csv.NewReader(br)
		reader.Comma = opts.Delimiter
		reader.Comment = opts.Comment
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1

		var header []string
		for line := 1; ; line++ {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				if header == nil {
					errCh <- eris.New("csv: missing header")
				}
				return
			}
			if err != nil {
				errCh <- eris.Wrapf(err, "csv: read record %d", line)
				return
			}

			if header == nil {
				header = record
				continue
			}

			select {
			case rowCh <- NewRow(line, header, record):
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

func sniffDelimiter(br *bufio.Reader) rune {
	head, _ := br.Peek(4096)
	first := string(head)
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = first[:i]
	}

	best, bestCount := ',', strings.Count(first, ",")
	for _, d := range []rune{';', '\t'} {
		if n := strings.Count(first, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}
