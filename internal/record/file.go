package record

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadFile reads a JSON array of patient records from path.
func LoadFile(path string) ([]PatientRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("record: read %s: %w", path, err)
	}
	var recs []PatientRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("record: parse %s: %w", path, err)
	}
	return recs, nil
}

// SaveFile writes the records back out as an indented JSON array, matching
// the formatting the web-client tooling produces.
func SaveFile(path string, recs []PatientRecord) error {
	data, err := json.MarshalIndent(recs, "", "    ")
	if err != nil {
		return fmt.Errorf("record: marshal records: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("record: write %s: %w", path, err)
	}
	return nil
}
