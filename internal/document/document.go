// Package document checks PDF inputs before they are uploaded.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	rpdf "rsc.io/pdf"
)

// MaxSize is the largest document accepted for upload.
const MaxSize = 50 * 1024 * 1024

const MIMEType = "application/pdf"

var (
	ErrNotFound   = errors.New("document not found")
	ErrInvalidPDF = errors.New("not a PDF document")
	ErrTooLarge   = errors.New("document too large")
)

// Info describes an inspected document. Pages is zero when the page tree
// could not be read; the remote model still accepts such files.
type Info struct {
	Path  string `json:"path"`
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	Pages int    `json:"pages"`
}

// Inspect validates the file at path and returns its size and page count.
func Inspect(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat document: %w", err)
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrInvalidPDF, path)
	}
	if st.Size() > MaxSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, st.Size(), MaxSize)
	}

	header := make([]byte, 5)
	if _, err := io.ReadFull(f, header); err != nil || !bytes.Equal(header, []byte("%PDF-")) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPDF, filepath.Base(path))
	}

	pages, readable := pageCount(f, st.Size())
	if readable && pages == 0 {
		return nil, fmt.Errorf("%w: %s has no pages", ErrInvalidPDF, filepath.Base(path))
	}

	return &Info{
		Path:  path,
		Name:  filepath.Base(path),
		Size:  st.Size(),
		Pages: pages,
	}, nil
}

// pageCount reads the page tree. readable is false when the cross-reference
// table could not be parsed; rsc.io/pdf panics on some malformed tables.
func pageCount(r io.ReaderAt, size int64) (n int, readable bool) {
	defer func() {
		if recover() != nil {
			n, readable = 0, false
		}
	}()
	doc, err := rpdf.NewReader(r, size)
	if err != nil {
		return 0, false
	}
	return doc.NumPage(), true
}
