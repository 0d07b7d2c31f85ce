// Package regions loads the scan plan (regions and their coordinates) from
// CSV or XLSX files.
//
// Both formats use one row per coordinate with a header row:
//
//	region,priority,label,lat,lng
package regions

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"

	"github.com/kosarica/place-service/internal/scanner"
)

var requiredColumns = []string{"region", "lat", "lng"}

// LoadFile reads regions from a .csv or .xlsx file
func LoadFile(path string) ([]scanner.Region, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read regions file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return ParseCSV(content)
	case ".xlsx":
		return ParseXLSX(content)
	default:
		return nil, fmt.Errorf("unsupported regions file type %q", filepath.Ext(path))
	}
}

// ParseCSV parses CSV content. Non UTF-8 input is decoded as Windows-1250
// and the delimiter (comma, semicolon or tab) is detected from the header.
func ParseCSV(content []byte) ([]scanner.Region, error) {
	content = bytes.TrimPrefix(content, []byte{0xEF, 0xBB, 0xBF})
	if !utf8.Valid(content) {
		decoded, err := charmap.Windows1250.NewDecoder().Bytes(content)
		if err != nil {
			return nil, fmt.Errorf("failed to decode regions file: %w", err)
		}
		content = decoded
	}

	r := csv.NewReader(bytes.NewReader(content))
	r.Comma = detectDelimiter(content)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse regions csv: %w", err)
	}
	return parseRows(rows)
}

// ParseXLSX parses the first sheet of a workbook
func ParseXLSX(content []byte) ([]scanner.Region, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse regions workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read worksheet: %w", err)
	}
	return parseRows(rows)
}

func detectDelimiter(content []byte) rune {
	header := content
	if i := bytes.IndexByte(content, '\n'); i >= 0 {
		header = content[:i]
	}

	best, bestCount := ',', 0
	for _, d := range []rune{',', ';', '\t'} {
		if n := strings.Count(string(header), string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

// parseRows turns header+data rows into regions, keeping first-seen region order
func parseRows(rows [][]string) ([]scanner.Region, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("regions file is empty")
	}

	cols := make(map[string]int)
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("regions file missing column %q", c)
		}
	}

	cell := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []scanner.Region
	index := make(map[string]int)

	for n, row := range rows[1:] {
		line := n + 2
		name := cell(row, "region")
		if name == "" {
			continue
		}

		lat, err := strconv.ParseFloat(strings.ReplaceAll(cell(row, "lat"), ",", "."), 64)
		if err != nil || lat < -90 || lat > 90 {
			return nil, fmt.Errorf("row %d: invalid lat %q", line, cell(row, "lat"))
		}
		lng, err := strconv.ParseFloat(strings.ReplaceAll(cell(row, "lng"), ",", "."), 64)
		if err != nil || lng < -180 || lng > 180 {
			return nil, fmt.Errorf("row %d: invalid lng %q", line, cell(row, "lng"))
		}

		i, ok := index[name]
		if !ok {
			priority := 0
			if p := cell(row, "priority"); p != "" {
				if priority, err = strconv.Atoi(p); err != nil {
					return nil, fmt.Errorf("row %d: invalid priority %q", line, p)
				}
			}
			out = append(out, scanner.Region{Name: name, Priority: priority})
			i = len(out) - 1
			index[name] = i
		}

		out[i].Coordinates = append(out[i].Coordinates, scanner.Coordinate{
			Label: cell(row, "label"),
			Lat:   lat,
			Lng:   lng,
		})
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("regions file has no data rows")
	}
	return out, nil
}
