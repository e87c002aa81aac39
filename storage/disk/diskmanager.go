// Package disk implements the external disk manager collaborator: a
// page-indexed file that the buffer pool reads and writes whole pages
// to, plus a monotonic page id allocator.
package disk

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/lattice-db/pagecore/storage/page"
	"go.uber.org/zap"
)

const (
	magic         uint32 = 0x50474352 // "PGCR"
	fileVersion   uint32 = 1
	fileHeaderLen        = 4096 // header occupies one full page, independent of configured page size
)

// Sentinel errors surfaced at the disk manager boundary.
var (
	ErrDBFileExists      = errors.New("database file already exists")
	ErrDBFileNotFound    = errors.New("database file not found")
	ErrShortIO           = errors.New("short read or write against the database file")
	ErrPageSizeMismatch  = errors.New("configured page size does not match the database file's page size")
	ErrFileNotOpen       = errors.New("database file is not open")
)

// fileHeader is the fixed-layout record stored at byte offset 0 of the
// database file, ahead of page 0. All fields are fixed width so
// binary.Write/Read round-trip it without struct padding surprises.
type fileHeader struct {
	Magic      uint32
	Version    uint32
	PageSize   uint32
	_          uint32 // padding to keep 8-byte alignment for the fields below
	NumPages   uint64
	NextFreeID uint64 // unused once free-list persistence lands; kept at 0
}

const fileHeaderStructLen = 4 + 4 + 4 + 4 + 8 + 8

// Manager owns the single on-disk file backing a pool of fixed-size
// pages. It never reasons about frames, pins, or the replacer — those
// are the buffer pool's concerns.
type Manager struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	pageSize int
	numPages uint64
	log      *zap.Logger
}

// Open opens an existing database file, or creates one when create is
// true. pageSize must match the file's recorded page size on open.
func Open(path string, pageSize int, create bool, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("disk")

	_, statErr := os.Stat(path)
	m := &Manager{path: path, pageSize: pageSize, log: log}

	switch {
	case os.IsNotExist(statErr):
		if !create {
			return nil, fmt.Errorf("%w: %s", ErrDBFileNotFound, path)
		}
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return nil, fmt.Errorf("creating database file %s: %w", path, err)
		}
		m.file = f
		hdr := fileHeader{Magic: magic, Version: fileVersion, PageSize: uint32(pageSize), NumPages: 0}
		if err := m.writeHeader(&hdr); err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return nil, err
		}
		m.numPages = 0
		log.Info("created database file", zap.String("path", path), zap.Int("page_size", pageSize))

	case statErr == nil:
		if create {
			return nil, fmt.Errorf("%w: %s", ErrDBFileExists, path)
		}
		f, err := os.OpenFile(path, os.O_RDWR, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening database file %s: %w", path, err)
		}
		m.file = f
		var hdr fileHeader
		if err := m.readHeader(&hdr); err != nil {
			_ = f.Close()
			return nil, err
		}
		if hdr.Magic != magic {
			_ = f.Close()
			return nil, fmt.Errorf("%s: bad magic number 0x%x", path, hdr.Magic)
		}
		if hdr.PageSize != uint32(pageSize) {
			_ = f.Close()
			return nil, fmt.Errorf("%w: file has %d, configured %d", ErrPageSizeMismatch, hdr.PageSize, pageSize)
		}
		m.numPages = hdr.NumPages
		log.Info("opened database file", zap.String("path", path), zap.Uint64("num_pages", m.numPages))

	default:
		return nil, fmt.Errorf("stat %s: %w", path, statErr)
	}

	return m, nil
}

func (m *Manager) writeHeader(h *fileHeader) error {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("encoding file header: %w", err)
	}
	padded := make([]byte, fileHeaderLen)
	copy(padded, buf.Bytes())
	if _, err := m.file.WriteAt(padded, 0); err != nil {
		return fmt.Errorf("writing file header: %w", err)
	}
	return m.file.Sync()
}

func (m *Manager) readHeader(h *fileHeader) error {
	raw := make([]byte, fileHeaderStructLen)
	n, err := m.file.ReadAt(raw, 0)
	if err != nil && !(err == io.EOF && n == fileHeaderStructLen) {
		return fmt.Errorf("reading file header: %w", err)
	}
	if n != fileHeaderStructLen {
		return fmt.Errorf("%w: header", ErrShortIO)
	}
	return binary.Read(bytes.NewReader(raw), binary.LittleEndian, h)
}

// pageOffset places page 0 immediately after the one-page-sized header
// region, so the header and page storage never collide regardless of
// the configured page size.
func (m *Manager) pageOffset(id page.ID) int64 {
	return int64(fileHeaderLen) + int64(id)*int64(m.pageSize)
}

// ReadPage reads page id's bytes into buf, which must be exactly
// pageSize long.
func (m *Manager) ReadPage(id page.ID, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return ErrFileNotOpen
	}
	if len(buf) != m.pageSize {
		return fmt.Errorf("buffer length %d != page size %d", len(buf), m.pageSize)
	}
	n, err := m.file.ReadAt(buf, m.pageOffset(id))
	if err != nil && err != io.EOF {
		return fmt.Errorf("reading page %d: %w", id, err)
	}
	if n != m.pageSize {
		return fmt.Errorf("%w: page %d, got %d bytes", ErrShortIO, id, n)
	}
	return nil
}

// WritePage writes buf to page id's slot. Durability (fsync) is the
// caller's responsibility via Sync, matching the buffer pool's batching.
func (m *Manager) WritePage(id page.ID, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return ErrFileNotOpen
	}
	if len(buf) != m.pageSize {
		return fmt.Errorf("buffer length %d != page size %d", len(buf), m.pageSize)
	}
	if _, err := m.file.WriteAt(buf, m.pageOffset(id)); err != nil {
		return fmt.Errorf("writing page %d: %w", id, err)
	}
	return nil
}

// AllocatePage grows the file by one page and returns its id. The pool
// allocates its own monotonic page ids via this call; the disk manager
// never reuses an id on its own.
func (m *Manager) AllocatePage() (page.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := page.ID(m.numPages)
	empty := make([]byte, m.pageSize)
	if _, err := m.file.WriteAt(empty, m.pageOffset(id)); err != nil {
		return page.InvalidID, fmt.Errorf("allocating page %d: %w", id, err)
	}
	m.numPages++
	m.log.Debug("allocated page", zap.Uint64("page_id", uint64(id)))
	return id, nil
}

// DeallocatePage is a placeholder: free space management (reclaiming a
// deallocated page's slot on a later AllocatePage) is out of scope, so
// this only records the event for observability.
func (m *Manager) DeallocatePage(id page.ID) error {
	m.log.Debug("deallocated page (space not reclaimed)", zap.Uint64("page_id", uint64(id)))
	return nil
}

// Sync flushes the file header and fsyncs the underlying file.
func (m *Manager) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return ErrFileNotOpen
	}
	hdr := fileHeader{Magic: magic, Version: fileVersion, PageSize: uint32(m.pageSize), NumPages: m.numPages}
	if err := m.writeHeader(&hdr); err != nil {
		return err
	}
	return m.file.Sync()
}

// PageSize returns the configured page size.
func (m *Manager) PageSize() int { return m.pageSize }

// Close flushes and closes the database file.
func (m *Manager) Close() error {
	if err := m.Sync(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.file.Close()
	m.file = nil
	return err
}
