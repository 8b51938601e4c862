package state

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/AntoniyaJency/railopt/pkg/railway"
)

// LoadTrains reads a JSON array of trains, validating each one. A single bad
// train aborts the whole load.
func LoadTrains(r io.Reader) ([]railway.Train, error) {
	var trains []railway.Train
	dec := json.NewDecoder(r)
	if err := dec.Decode(&trains); err != nil {
		return nil, fmt.Errorf("decoding trains: %w", err)
	}
	for i, t := range trains {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("train %d of %d: %w", i+1, len(trains), err)
		}
	}
	return trains, nil
}

// LoadTrainsFile is LoadTrains over a file path.
func LoadTrainsFile(path string) ([]railway.Train, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening trains file: %w", err)
	}
	defer f.Close()

	trains, err := LoadTrains(f)
	if err != nil {
		return nil, fmt.Errorf("loading trains from %s: %w", path, err)
	}
	return trains, nil
}
