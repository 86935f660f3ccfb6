package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// WriteJSON renders the report as indented JSON. HTML escaping is off
// because reports carry UUIDs and issue URLs meant for human eyes.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("report: encoding: %w", err)
	}
	return nil
}

// Save writes the report to path, creating or truncating the file.
func (r *Report) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: creating %s: %w", path, err)
	}
	if err := r.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("report: closing %s: %w", path, err)
	}
	return nil
}
