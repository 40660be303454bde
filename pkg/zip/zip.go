// Package zip streams generated assets into a single zip archive.
package zip

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
	"time"
)

// Entry is one file of an archive. Open is called only when the entry is written, so large
// archives never hold more than one asset in memory.
type Entry struct {
	Name     string
	Modified time.Time
	Open     func() (io.ReadCloser, error)
}

// Write streams entries into w. Images are already compressed and are stored as is.
// Duplicate names get a numeric suffix.
func Write(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)
	seen := make(map[string]int, len(entries))
	for _, e := range entries {
		name := uniqueName(e.Name, seen)
		hdr := &zip.FileHeader{Name: name, Method: zip.Store, Modified: e.Modified}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("zip: create %s: %w", name, err)
		}
		if err := copyEntry(fw, e); err != nil {
			return fmt.Errorf("zip: write %s: %w", name, err)
		}
	}
	return zw.Close()
}

func copyEntry(dst io.Writer, e Entry) error {
	rc, err := e.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(dst, rc)
	return err
}

func uniqueName(name string, seen map[string]int) string {
	if name == "" {
		name = "asset"
	}
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s-%d%s", name[:len(name)-len(ext)], n, ext)
}
