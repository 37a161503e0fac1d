package download

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

const partSuffix = ".part"

var extensions = map[string]string{
	"image/tiff":       ".tif",
	"image/jpeg":       ".jpg",
	"image/png":        ".png",
	"application/json": ".json",
	"application/xml":  ".xml",
	"text/xml":         ".xml",
	"application/zip":  ".zip",
}

// extFor maps a content type to a file extension, ".bin" when unknown.
func extFor(contentType string) string {
	if contentType == "" {
		return ".bin"
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".bin"
	}
	if ext, ok := extensions[mt]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mt); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// TruncatedError is returned when fewer bytes arrive than were advertised.
type TruncatedError struct {
	Want, Got int64
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("truncated body: got %d of %d bytes", e.Got, e.Want)
}

// ChecksumError is returned when the written file does not match the
// digest the service reported.
type ChecksumError struct {
	Want, Got string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("md5 mismatch: got %s, want %s", e.Got, e.Want)
}

// LocalError wraps a failure writing to the destination directory. It is
// not retried: a full disk stays full.
type LocalError struct {
	Err error
}

func (e *LocalError) Error() string { return e.Err.Error() }
func (e *LocalError) Unwrap() error { return e.Err }

type fileWriter struct {
	f *os.File
}

func (w fileWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		err = &LocalError{Err: err}
	}
	return n, err
}

// writeFile streams r into path via a ".part" sibling that is renamed into
// place only when the copy is complete and verified. On any error the partial
// file is removed. wantSize < 0 and wantMD5 == "" disable the checks.
func writeFile(path string, r io.Reader, wantSize int64, wantMD5 string, onWrite func(int64)) (int64, string, error) {
	tmp := path + partSuffix
	f, err := os.Create(tmp)
	if err != nil {
		return 0, "", &LocalError{Err: err}
	}
	done := false
	defer func() {
		if !done {
			f.Close()
			os.Remove(tmp)
		}
	}()

	h := md5.New()
	var w io.Writer = io.MultiWriter(fileWriter{f}, h)
	if onWrite != nil {
		w = &countingWriter{w: w, fn: onWrite}
	}
	n, err := io.Copy(w, r)
	if err != nil {
		return n, "", err
	}
	if wantSize >= 0 && n != wantSize {
		return n, "", &TruncatedError{Want: wantSize, Got: n}
	}
	sum := hex.EncodeToString(h.Sum(nil))
	if wantMD5 != "" && !strings.EqualFold(sum, wantMD5) {
		return n, sum, &ChecksumError{Want: wantMD5, Got: sum}
	}
	if err := f.Sync(); err != nil {
		return n, sum, &LocalError{Err: err}
	}
	if err := f.Close(); err != nil {
		return n, sum, &LocalError{Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		done = true
		return n, sum, &LocalError{Err: err}
	}
	done = true
	return n, sum, nil
}

type countingWriter struct {
	w  io.Writer
	fn func(int64)
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.fn(int64(n))
	return n, err
}

// fileMD5 hashes the file at path.
func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// indexDir maps item IDs to the names of finished files in dir whose base
// name (extension stripped) is that ID.
func indexDir(dir string) (map[string][]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	idx := make(map[string][]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, partSuffix) || strings.HasPrefix(name, ".") {
			continue
		}
		id := strings.TrimSuffix(name, filepath.Ext(name))
		idx[id] = append(idx[id], filepath.Join(dir, name))
	}
	return idx, nil
}
