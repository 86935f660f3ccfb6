package profile

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// Fetch downloads a profile database over HTTP(S), verifies that the
// payload parses as a valid database, and only then atomically replaces
// destPath (write to temp file, rename). A bad download never clobbers a
// working local database. Progress lines go to progress when non-nil and
// the server reports a content length.
func Fetch(ctx context.Context, url, destPath string, progress io.Writer) (*Database, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("profile: building request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile: downloading database: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile: download failed: HTTP %d", resp.StatusCode)
	}

	var src io.Reader = resp.Body
	if progress != nil {
		src = io.TeeReader(resp.Body, &progressWriter{
			out:   progress,
			total: resp.ContentLength,
			label: filepath.Base(destPath),
		})
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, src); err != nil {
		return nil, fmt.Errorf("profile: reading database: %w", err)
	}
	if progress != nil {
		fmt.Fprintln(progress)
	}

	db, err := Parse(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("profile: fetched database invalid: %w", err)
	}

	if dir := filepath.Dir(destPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("profile: creating database dir: %w", err)
		}
	}

	tmpPath := destPath + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0644); err != nil {
		return nil, fmt.Errorf("profile: writing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("profile: moving database: %w", err)
	}
	return db, nil
}

// progressWriter counts bytes flowing through a TeeReader and renders a
// single updating progress line.
type progressWriter struct {
	out     io.Writer
	total   int64
	written int64
	label   string
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	pw.written += int64(len(p))
	if pw.total > 0 {
		pct := float64(pw.written) / float64(pw.total) * 100
		fmt.Fprintf(pw.out, "\r  %s: %.1f KB / %.1f KB (%.0f%%)",
			pw.label,
			float64(pw.written)/1024,
			float64(pw.total)/1024,
			pct)
	} else {
		fmt.Fprintf(pw.out, "\r  %s: %.1f KB downloaded",
			pw.label,
			float64(pw.written)/1024)
	}
	return len(p), nil
}
