package network

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/AntoniyaJency/railopt/pkg/railway"
)

// FileNetwork is the serialisable input representation of a network.
type FileNetwork struct {
	Stations []railway.Station      `json:"stations"`
	Sections []railway.TrackSection `json:"sections"`
}

// Load builds a Network from JSON. Any topology violation aborts the whole
// load; a partially valid network is worse than none.
func Load(r io.Reader) (*Network, error) {
	var data FileNetwork
	dec := json.NewDecoder(r)
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("decoding network: %w", err)
	}
	return Build(data.Stations, data.Sections)
}

// LoadFile is Load over a file path.
func LoadFile(path string) (*Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening network file: %w", err)
	}
	defer f.Close()

	n, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("loading network from %s: %w", path, err)
	}
	return n, nil
}

// Build assembles a network from already-decoded entities, stations first.
func Build(stations []railway.Station, sections []railway.TrackSection) (*Network, error) {
	n := New()
	for _, s := range stations {
		if err := n.AddStation(s); err != nil {
			return nil, err
		}
	}
	for _, s := range sections {
		if err := n.AddSection(s); err != nil {
			return nil, err
		}
	}
	return n, nil
}
