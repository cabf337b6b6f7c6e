// Package staging persists decoded pages for the PDF-assembly stage.
//
// Each conversion session owns its own staging directory, created
// under a configurable root with a unique name, so staging state is
// session-scoped rather than a process-wide singleton. A page is
// stored as three files: page-<index>.width and page-<index>.height
// (decimal text) and page-<index>.rgb (raw RGB24 bytes).
package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/google/uuid"
)

// Area is one session's staging directory.
type Area struct {
	dir string
}

// New creates a fresh session-scoped staging directory under root.
// An empty root uses the system temporary directory.
func New(root string) (*Area, error) {
	if root == "" {
		root = os.TempDir()
	}
	dir := filepath.Join(root, "dangerzone-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("staging: create %s: %w", dir, err)
	}
	return &Area{dir: dir}, nil
}

// Open wraps an existing directory as a staging area, for callers
// that manage the location themselves (tests, the worker harness).
func Open(dir string) *Area { return &Area{dir: dir} }

// Path returns the staging directory.
func (a *Area) Path() string { return a.dir }

// Reset removes every staged page, leaving the directory in place.
// Sessions call it before decoding so stale pages from an aborted run
// can never leak into a new document.
func (a *Area) Reset() error {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return fmt.Errorf("staging: reset %s: %w", a.dir, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(a.dir, e.Name())); err != nil {
			return fmt.Errorf("staging: reset %s: %w", a.dir, err)
		}
	}
	return nil
}

// Remove deletes the staging directory and everything in it.
func (a *Area) Remove() error {
	return os.RemoveAll(a.dir)
}

// WritePage persists one fully received page. The buffer length must
// be exactly width*height*3; anything else means the caller is about
// to persist a partial page, which the store refuses.
func (a *Area) WritePage(index, width, height int, rgb []byte) error {
	if want := width * height * 3; len(rgb) != want {
		return fmt.Errorf("staging: page %d buffer is %d bytes, want %d", index, len(rgb), want)
	}
	if err := os.WriteFile(a.pagePath(index, "width"), []byte(strconv.Itoa(width)), 0o600); err != nil {
		return fmt.Errorf("staging: page %d width: %w", index, err)
	}
	if err := os.WriteFile(a.pagePath(index, "height"), []byte(strconv.Itoa(height)), 0o600); err != nil {
		return fmt.Errorf("staging: page %d height: %w", index, err)
	}
	if err := os.WriteFile(a.pagePath(index, "rgb"), rgb, 0o600); err != nil {
		return fmt.Errorf("staging: page %d pixels: %w", index, err)
	}
	return nil
}

// Page describes one staged page.
type Page struct {
	Index  int
	Width  int
	Height int
	// RGBPath is the raw pixel file; callers stream it rather than
	// holding every page in memory.
	RGBPath string
}

var pageFilePattern = regexp.MustCompile(`^page-(\d+)\.rgb$`)

// Pages lists the staged pages in index order.
func (a *Area) Pages() ([]Page, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("staging: list %s: %w", a.dir, err)
	}
	var pages []Page
	for _, e := range entries {
		m := pageFilePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		index, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		p, err := a.page(index)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Index < pages[j].Index })
	return pages, nil
}

// ReadPage returns the metadata and pixel buffer of one staged page,
// verifying that the stored buffer still matches its dimensions.
func (a *Area) ReadPage(index int) (Page, []byte, error) {
	p, err := a.page(index)
	if err != nil {
		return Page{}, nil, err
	}
	rgb, err := os.ReadFile(p.RGBPath)
	if err != nil {
		return Page{}, nil, fmt.Errorf("staging: page %d pixels: %w", index, err)
	}
	if want := p.Width * p.Height * 3; len(rgb) != want {
		return Page{}, nil, fmt.Errorf("staging: page %d buffer is %d bytes, want %d", index, len(rgb), want)
	}
	return p, rgb, nil
}

func (a *Area) page(index int) (Page, error) {
	width, err := a.readDimension(index, "width")
	if err != nil {
		return Page{}, err
	}
	height, err := a.readDimension(index, "height")
	if err != nil {
		return Page{}, err
	}
	return Page{
		Index:   index,
		Width:   width,
		Height:  height,
		RGBPath: a.pagePath(index, "rgb"),
	}, nil
}

func (a *Area) readDimension(index int, ext string) (int, error) {
	data, err := os.ReadFile(a.pagePath(index, ext))
	if err != nil {
		return 0, fmt.Errorf("staging: page %d %s: %w", index, ext, err)
	}
	v, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("staging: page %d %s: %w", index, ext, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("staging: page %d %s: non-positive value %d", index, ext, v)
	}
	return v, nil
}

func (a *Area) pagePath(index int, ext string) string {
	return filepath.Join(a.dir, fmt.Sprintf("page-%d.%s", index, ext))
}
