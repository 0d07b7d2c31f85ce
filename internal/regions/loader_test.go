package regions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

func TestParseCSV(t *testing.T) {
	content := []byte("region,priority,label,lat,lng\n" +
		"capital,1,centre,45.81,15.98\n" +
		"capital,1,east,45.80,16.05\n" +
		"coast,2,,43.51,16.44\n")

	regions, err := ParseCSV(content)
	require.NoError(t, err)
	require.Len(t, regions, 2)

	assert.Equal(t, "capital", regions[0].Name)
	assert.Equal(t, 1, regions[0].Priority)
	require.Len(t, regions[0].Coordinates, 2)
	assert.Equal(t, "east", regions[0].Coordinates[1].Label)
	assert.InDelta(t, 16.05, regions[0].Coordinates[1].Lng, 1e-9)

	assert.Equal(t, "coast", regions[1].Name)
	assert.Equal(t, 2, regions[1].Priority)
}

func TestParseCSVSemicolonAndDecimalComma(t *testing.T) {
	content := []byte("Region;Lat;Lng\nsplit;43,51;16,44\n")

	regions, err := ParseCSV(content)
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.InDelta(t, 43.51, regions[0].Coordinates[0].Lat, 1e-9)
	assert.Equal(t, 0, regions[0].Priority)
}

func TestParseCSVWindows1250(t *testing.T) {
	encoded, err := charmap.Windows1250.NewEncoder().String("region,lat,lng\nŠibenik,43.73,15.89\n")
	require.NoError(t, err)

	regions, err := ParseCSV([]byte(encoded))
	require.NoError(t, err)
	assert.Equal(t, "Šibenik", regions[0].Name)
}

func TestParseCSVErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"missing column", "region,lat\ncapital,45.8\n"},
		{"bad lat", "region,lat,lng\ncapital,north,15.9\n"},
		{"lat out of range", "region,lat,lng\ncapital,95,15.9\n"},
		{"bad priority", "region,priority,lat,lng\ncapital,high,45.8,15.9\n"},
		{"no data", "region,lat,lng\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCSV([]byte(tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadFileXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"region", "priority", "label", "lat", "lng"},
		{"capital", 1, "centre", 45.81, 15.98},
		{"coast", 2, "split", 43.51, 16.44},
	}
	for i, row := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cellRef, &row))
	}

	path := filepath.Join(t.TempDir(), "regions.xlsx")
	require.NoError(t, f.SaveAs(path))

	regions, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, regions, 2)
	assert.Equal(t, "coast", regions[1].Name)
	assert.InDelta(t, 43.51, regions[1].Coordinates[0].Lat, 1e-9)
}

func TestLoadFileUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regions.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}
