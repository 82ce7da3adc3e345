package export

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVExporterPadsShortRows(t *testing.T) {
	out, err := NewCSVExporter().Render(Dataset{
		Headers: []string{"id", "status", "note"},
		Rows: [][]string{
			{"1", "APPROVED", "ok, fine"},
			{"2", "REJECTED"},
		},
	})
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"id", "status", "note"}, records[0])
	assert.Equal(t, "ok, fine", records[1][2])
	assert.Equal(t, []string{"2", "REJECTED", ""}, records[2])
}

func TestExportersRequireHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
	_, err = NewPDFExporter().Render(Dataset{})
	assert.Error(t, err)
}

func TestPDFExporterRendersDocument(t *testing.T) {
	rows := make([][]string, 0, 80)
	for i := 0; i < 80; i++ {
		rows = append(rows, []string{"rec", "NEED_REVIEW", "a very long summary that will certainly not fit inside the narrow column of this table"})
	}
	out, err := NewPDFExporter().Render(Dataset{
		Title:   "Moderation records",
		Headers: []string{"id", "status", "summary"},
		Widths:  []float64{1, 1, 0.5},
		Rows:    rows,
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestColumnWidthsSpanPage(t *testing.T) {
	widths := columnWidths(Dataset{Headers: []string{"a", "b"}, Widths: []float64{3}})
	require.Len(t, widths, 2)
	assert.InDelta(t, pageWidth, widths[0]+widths[1], 0.001)
	assert.InDelta(t, widths[0], 3*widths[1], 0.001)
}
