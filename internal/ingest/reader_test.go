package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRawFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"bank_name": "Santander UK", "aer_rate": 4.5},
		{"bank_name": "Barclays", "aer_rate": "oops"},
		["corrupt element kept for downstream validation"]
	]`), 0o644))

	records, err := ReadRawFile(path)
	require.NoError(t, err)
	assert.Len(t, records, 3, "elements pass through unparsed")
}

func TestReadRawFileNotAnArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"bank_name": "Santander UK"}`), 0o644))

	_, err := ReadRawFile(path)
	require.Error(t, err)
}

func TestReadRawFileMissing(t *testing.T) {
	_, err := ReadRawFile(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}
