// Package storage persists files received by a transfer and loads files to be
// sent.
package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/drunlade/go-xyterm/xymodem"
)

// DefaultName is used when the sender did not supply a usable file name.
const DefaultName = "download.bin"

// Handler is the destination for completed files.
type Handler interface {
	Store(f *xymodem.FileDescriptor) (string, error)
}

// DiskHandler writes files into a download directory without ever
// overwriting an existing file.
type DiskHandler struct {
	dir    string
	logger *slog.Logger
}

var _ Handler = (*DiskHandler)(nil)

// NewDiskHandler returns a handler rooted at dir.
func NewDiskHandler(dir string, logger *slog.Logger) *DiskHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DiskHandler{dir: dir, logger: logger}
}

// Dir returns the download directory.
func (h *DiskHandler) Dir() string { return h.dir }

// Store writes f and returns the path it was written to.
func (h *DiskHandler) Store(f *xymodem.FileDescriptor) (string, error) {
	if err := os.MkdirAll(h.dir, 0755); err != nil {
		return "", errors.Wrapf(err, "create download directory %s", h.dir)
	}

	name := SanitizeName(f.Name)
	for n := 0; ; n++ {
		candidate := name
		if n > 0 {
			candidate = fmt.Sprintf("%s.%d", name, n)
		}
		path := filepath.Join(h.dir, candidate)

		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", errors.Wrapf(err, "create %s", path)
		}

		if _, err := file.Write(f.Data); err != nil {
			file.Close()
			return "", errors.Wrapf(err, "write %s", path)
		}
		if err := file.Close(); err != nil {
			return "", errors.Wrapf(err, "close %s", path)
		}
		h.logger.Info("File stored", "path", path, "size", len(f.Data))
		return path, nil
	}
}

// StoreAll stores every file, stopping at the first failure.
func (h *DiskHandler) StoreAll(files []*xymodem.FileDescriptor) ([]string, error) {
	paths := make([]string, 0, len(files))
	for _, f := range files {
		path, err := h.Store(f)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// SanitizeName reduces a remote-supplied name to a single safe path element.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(filepath.Clean("/" + name))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7F {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "/" || name == "." || name == ".." {
		return DefaultName
	}
	return name
}

// Load reads a local file for sending. The descriptor carries the base name
// only.
func Load(path string) (*xymodem.FileDescriptor, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	if info.IsDir() {
		return nil, errors.Errorf("%s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return xymodem.NewFileDescriptor(filepath.Base(path), data), nil
}

// LoadAll loads every path, stopping at the first failure.
func LoadAll(paths []string) ([]*xymodem.FileDescriptor, error) {
	files := make([]*xymodem.FileDescriptor, 0, len(paths))
	for _, p := range paths {
		f, err := Load(p)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}
