// Package source loads the corpus from the local filesystem.
package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ledongthuc/pdf"

	"docqa/internal/domain"
)

// DefaultExtensions lists the file types loaded when none are configured.
var DefaultExtensions = []string{".txt", ".md", ".pdf"}

// Dir supplies every matching file under a root directory, walked in
// lexical order. Text files become one Document each; PDFs become one
// Document per non-empty page.
type Dir struct {
	root       string
	extensions []string
}

// NewDir creates a directory source. Extensions are matched case-insensitively.
func NewDir(root string, extensions []string) *Dir {
	return &Dir{root: root, extensions: normalizeExtensions(extensions)}
}

func (d *Dir) Documents(ctx context.Context) ([]domain.Document, error) {
	info, err := os.Stat(d.root)
	if err != nil {
		return nil, &domain.IOError{Op: "read documents", Path: d.root, Err: err}
	}
	if !info.IsDir() {
		return nil, &domain.IOError{Op: "read documents", Path: d.root, Err: fmt.Errorf("not a directory")}
	}
	var docs []domain.Document
	err = filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() {
			// Skip hidden directories
			if path != d.root && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.matches(path) {
			return nil
		}
		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			rel = path
		}
		fileDocs, err := readFile(path, filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		docs = append(docs, fileDocs...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (d *Dir) matches(path string) bool {
	return slices.Contains(d.extensions, strings.ToLower(filepath.Ext(path)))
}

// Files supplies an explicit list of files in the given order. The file
// path is used as the document ID.
type Files struct {
	paths []string
}

func NewFiles(paths ...string) *Files {
	return &Files{paths: slices.Clone(paths)}
}

func (f *Files) Documents(ctx context.Context) ([]domain.Document, error) {
	var docs []domain.Document
	for _, p := range f.paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fileDocs, err := readFile(p, filepath.ToSlash(p))
		if err != nil {
			return nil, err
		}
		docs = append(docs, fileDocs...)
	}
	return docs, nil
}

func readFile(path, id string) ([]domain.Document, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return readPDF(path, id)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.IOError{Op: "read document", Path: path, Err: err}
	}
	text := sanitize(string(data))
	if len(strings.TrimSpace(text)) == 0 {
		return nil, nil
	}
	return []domain.Document{{ID: id, Text: text}}, nil
}

// sanitize replaces each run of invalid UTF-8 with U+FFFD, so chunk text
// cut from a document is always a substring of the document text.
func sanitize(text string) string {
	return strings.ToValidUTF8(text, "\uFFFD")
}

// readPDF extracts plain text page by page. Pages without text, e.g.
// scanned images, are skipped.
func readPDF(path, id string) (docs []domain.Document, err error) {
	// the pdf reader panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			docs, err = nil, &domain.IOError{Op: "read pdf", Path: path, Err: fmt.Errorf("malformed pdf: %v", r)}
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, &domain.IOError{Op: "read pdf", Path: path, Err: err}
	}
	defer f.Close()

	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, &domain.IOError{Op: "read pdf", Path: path, Err: fmt.Errorf("page %d: %w", i, err)}
		}
		text = sanitize(text)
		if strings.TrimSpace(text) == "" {
			continue
		}
		docs = append(docs, domain.Document{ID: id, Text: text, Page: i})
	}
	return docs, nil
}

func normalizeExtensions(exts []string) []string {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}
