package timeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Decode reads a timeline from JSON
func Decode(r io.Reader) (*Timeline, error) {
	var tl Timeline
	if err := json.NewDecoder(r).Decode(&tl); err != nil {
		return nil, fmt.Errorf("failed to decode timeline: %w", err)
	}
	return &tl, nil
}

// Encode writes a timeline as indented JSON
func (tl *Timeline) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(tl)
}

// Load reads a timeline file
func Load(path string) (*Timeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Save writes a timeline file
func (tl *Timeline) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := tl.Encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
