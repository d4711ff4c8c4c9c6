package netatmo

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadSources reads a station inventory file: a JSON array of sources, each
// pairing station metadata with its Netatmo device and module identifiers.
func LoadSources(path string) ([]Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading stations file: %w", err)
	}
	var sources []Source
	if err := json.Unmarshal(data, &sources); err != nil {
		return nil, fmt.Errorf("parsing stations file %s: %w", path, err)
	}
	for i, src := range sources {
		if src.Station.ID == "" {
			return nil, fmt.Errorf("stations file %s: entry %d has no station id", path, i)
		}
		if src.DeviceID == "" {
			return nil, fmt.Errorf("stations file %s: station %s has no device_id", path, src.Station.ID)
		}
	}
	return sources, nil
}

// LoadCheckpoint reads a fetch checkpoint written by SaveCheckpoint. A
// missing file means there is nothing to resume.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parsing checkpoint %s: %w", path, err)
	}
	return &cp, nil
}

// SaveCheckpoint persists a checkpoint, or removes the file when the fetch
// completed and there is nothing left to resume.
func SaveCheckpoint(path string, cp *Checkpoint) error {
	if cp == nil {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing checkpoint: %w", err)
		}
		return nil
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
