package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDataset() Dataset {
	return Dataset{
		Headers: []string{"Aluno", "Valor"},
		Rows: []map[string]string{
			{"Aluno": "Ana", "Valor": "150.00"},
			{"Aluno": "João", "Valor": "120.50"},
		},
		Numeric: map[string]bool{"Valor": true},
		Footer:  map[string]string{"Aluno": "Total", "Valor": "270.50"},
	}
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter(';').Render(sampleDataset())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Aluno;Valor", lines[0])
	assert.Equal(t, "Total;270.50", lines[3])
}

func TestCSVExporterRequiresHeaders(t *testing.T) {
	_, err := NewCSVExporter(0).Render(Dataset{})
	require.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	out, err := NewPDFExporter("Escola de Dança").Render(sampleDataset(), "Mensalidades", time.Now())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}
