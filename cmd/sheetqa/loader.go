package main

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"unicode/utf8"

	"github.com/jmylchreest/sheetqa/pkg/table"
	"golang.org/x/text/encoding/charmap"
)

const (
	encodingUTF8    = "utf-8"
	encodingUTF8BOM = "utf-8-sig"
	encodingCP1252  = "windows-1252"
)

var utf8BOM = []byte("\xef\xbb\xbf")

// sniffDelimiters are tried in order; the first with the highest count on
// the header line wins.
var sniffDelimiters = []rune{',', ';', '\t', '|'}

var errEmptyFile = errors.New("file has no header row")

// loadCSV reads a delimited file into a grid. The first record is the
// header. Files that are not valid UTF-8 are decoded as Windows-1252.
func loadCSV(path, delimiter string) (*table.Grid, table.Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, table.Meta{}, err
	}
	meta := table.Meta{Source: path, Encoding: encodingUTF8}

	switch {
	case bytes.HasPrefix(data, utf8BOM):
		data = data[len(utf8BOM):]
		meta.Encoding = encodingUTF8BOM
	case !utf8.Valid(data):
		decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
		if err != nil {
			return nil, meta, fmt.Errorf("decode %s: %w", path, err)
		}
		data = decoded
		meta.Encoding = encodingCP1252
	}

	comma, err := pickDelimiter(data, delimiter)
	if err != nil {
		return nil, meta, err
	}
	meta.Delimiter = string(comma)

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, meta, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, meta, fmt.Errorf("%s: %w", path, errEmptyFile)
	}

	header := records[0]
	rows := records[1:]
	for _, row := range rows {
		for len(header) < len(row) {
			header = append(header, "")
		}
	}
	grid, err := table.NewGrid(headerNames(header), rows)
	if err != nil {
		return nil, meta, fmt.Errorf("load %s: %w", path, err)
	}
	return grid, meta, nil
}

func pickDelimiter(data []byte, override string) (rune, error) {
	if override != "" {
		if override == `\t` || override == "tab" {
			return '\t', nil
		}
		r, size := utf8.DecodeRuneInString(override)
		if size != len(override) || r == '"' || r == '\n' || r == '\r' {
			return 0, fmt.Errorf("invalid delimiter %q", override)
		}
		return r, nil
	}
	return sniffDelimiter(data), nil
}

// sniffDelimiter counts candidate delimiters outside quotes on the first
// line.
func sniffDelimiter(data []byte) rune {
	counts := make(map[rune]int, len(sniffDelimiters))
	inQuotes := false
	for _, r := range string(data) {
		if r == '"' {
			inQuotes = !inQuotes
			continue
		}
		if !inQuotes && (r == '\n' || r == '\r') {
			break
		}
		if !inQuotes {
			counts[r]++
		}
	}
	best, bestCount := ',', 0
	for _, d := range sniffDelimiters {
		if counts[d] > bestCount {
			best, bestCount = d, counts[d]
		}
	}
	return best
}

// headerNames makes column names usable as keys: blank names become
// column_N and repeats get a numeric suffix.
func headerNames(raw []string) []string {
	out := make([]string, len(raw))
	used := make(map[string]bool, len(raw))
	for i, name := range raw {
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		candidate := name
		for n := 2; used[candidate]; n++ {
			candidate = name + "_" + strconv.Itoa(n)
		}
		used[candidate] = true
		out[i] = candidate
	}
	return out
}

// writeCSV writes the grid with the delimiter and encoding it was loaded
// with. The file is replaced atomically.
func writeCSV(path string, g *table.Grid, meta table.Meta) error {
	var buf bytes.Buffer
	if meta.Encoding == encodingUTF8BOM {
		buf.Write(utf8BOM)
	}

	w := csv.NewWriter(&buf)
	if meta.Delimiter != "" {
		w.Comma, _ = utf8.DecodeRuneInString(meta.Delimiter)
	}
	if err := w.Write(g.Columns()); err != nil {
		return err
	}
	if err := w.WriteAll(g.Rows()); err != nil {
		return err
	}

	data := buf.Bytes()
	if meta.Encoding == encodingCP1252 {
		encoded, err := charmap.Windows1252.NewEncoder().Bytes(data)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		data = encoded
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".sheetqa-*.csv")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
