package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"golang.org/x/text/encoding/charmap"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func cellValue(t *testing.T, g interface {
	Cell(int, string) (string, bool)
}, row int, col string) string {
	t.Helper()
	v, ok := g.Cell(row, col)
	if !ok {
		t.Fatalf("no cell (%d, %s)", row, col)
	}
	return v
}

func TestLoadCSVSniffsDelimiter(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		delim string
	}{
		{"comma", "id,city\n1,Paris\n", ","},
		{"semicolon", "id;city;note\n1;Paris;\"a, b\"\n", ";"},
		{"tab", "id\tcity\n1\tParis\n", "\t"},
		{"quoted commas ignored", "\"a,b,c\";city\n1;Paris\n", ";"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, meta, err := loadCSV(writeTemp(t, "d.csv", []byte(tt.data)), "")
			if err != nil {
				t.Fatalf("loadCSV: %v", err)
			}
			if meta.Delimiter != tt.delim {
				t.Errorf("delimiter = %q, want %q", meta.Delimiter, tt.delim)
			}
			if got := cellValue(t, g, 0, "city"); got != "Paris" {
				t.Errorf("city = %q", got)
			}
		})
	}
}

func TestLoadCSVEncodings(t *testing.T) {
	bom := append([]byte("\xef\xbb\xbf"), []byte("id,city\n1,Zürich\n")...)
	g, meta, err := loadCSV(writeTemp(t, "bom.csv", bom), "")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Encoding != encodingUTF8BOM {
		t.Errorf("encoding = %q", meta.Encoding)
	}
	if !reflect.DeepEqual(g.Columns(), []string{"id", "city"}) {
		t.Errorf("BOM leaked into header: %q", g.Columns())
	}

	latin, err := charmap.Windows1252.NewEncoder().Bytes([]byte("id,city\n1,Genève\n"))
	if err != nil {
		t.Fatal(err)
	}
	g, meta, err = loadCSV(writeTemp(t, "latin.csv", latin), "")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Encoding != encodingCP1252 {
		t.Errorf("encoding = %q", meta.Encoding)
	}
	if got := cellValue(t, g, 0, "city"); got != "Genève" {
		t.Errorf("city = %q", got)
	}
}

func TestLoadCSVHeaders(t *testing.T) {
	g, _, err := loadCSV(writeTemp(t, "h.csv", []byte("name,,name\na,b,c,d\n")), "")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"name", "column_2", "name_2", "column_4"}
	if !reflect.DeepEqual(g.Columns(), want) {
		t.Errorf("columns = %v, want %v", g.Columns(), want)
	}
	if got := cellValue(t, g, 0, "column_4"); got != "d" {
		t.Errorf("extra cell = %q", got)
	}
}

func TestLoadCSVErrors(t *testing.T) {
	if _, _, err := loadCSV(writeTemp(t, "empty.csv", nil), ""); err == nil {
		t.Error("expected error for empty file")
	}
	if _, _, err := loadCSV(writeTemp(t, "d.csv", []byte("a\n")), `""`); err == nil {
		t.Error("expected error for invalid delimiter")
	}
	if _, _, err := loadCSV(filepath.Join(t.TempDir(), "missing.csv"), ""); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWriteCSVRoundTrip(t *testing.T) {
	latin, err := charmap.Windows1252.NewEncoder().Bytes([]byte("id;city\n1;Genève\n2;\" Lyon \"\n"))
	if err != nil {
		t.Fatal(err)
	}
	path := writeTemp(t, "rt.csv", latin)
	g, meta, err := loadCSV(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := g.SetCell(1, "city", "Lyon"); err != nil {
		t.Fatal(err)
	}
	if err := writeCSV(path, g, meta); err != nil {
		t.Fatalf("writeCSV: %v", err)
	}

	again, meta2, err := loadCSV(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if meta2.Encoding != encodingCP1252 || meta2.Delimiter != ";" {
		t.Errorf("format not preserved: %+v", meta2)
	}
	if !reflect.DeepEqual(again.Rows(), [][]string{{"1", "Genève"}, {"2", "Lyon"}}) {
		t.Errorf("rows = %q", again.Rows())
	}
}
