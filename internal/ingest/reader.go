package ingest

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
)

// ReadRawFile loads one upstream raw file: a JSON array of product
// objects for a single (source, method). Individual elements may still
// be corrupt; each is validated independently downstream.
func ReadRawFile(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read raw file %s", path)
	}

	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, eris.Wrapf(err, "ingest: parse raw file %s", path)
	}
	return records, nil
}
