// Package wal provides the log-manager hook the buffer pool consults
// before writing back a dirty page: assign each logged mutation a
// monotonic LSN and make sure log records up to a page's LSN are
// durable before that page's data hits disk. Recovery (REDO/UNDO) is
// out of scope at this revision; this only orders writes.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/lattice-db/pagecore/storage/page"
	"go.uber.org/zap"
)

// RecordType distinguishes the kinds of events the buffer pool logs
// through this hook.
type RecordType byte

const (
	RecordUpdate  RecordType = iota + 1 // an existing page's bytes changed
	RecordNewPage                       // a page was allocated
)

// Record is a single WAL entry. It carries no before/after page images:
// this revision only needs enough information to prove ordering, not
// to replay.
type Record struct {
	LSN    page.LSN
	Type   RecordType
	PageID page.ID
}

// Manager appends Records to a single log file and assigns LSNs.
type Manager struct {
	mu         sync.Mutex
	file       *os.File
	writer     *bufio.Writer
	nextLSN    page.LSN
	flushedLSN page.LSN
	log        *zap.Logger
}

// Open creates or appends to the log file at path.
func Open(path string, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening wal file %s: %w", path, err)
	}
	return &Manager{
		file:    f,
		writer:  bufio.NewWriter(f),
		nextLSN: page.LSN(1),
		log:     log.Named("wal"),
	}, nil
}

// Append assigns rec an LSN, buffers it, and returns the assigned LSN.
// The record is not guaranteed durable until Sync is called.
func (m *Manager) Append(rec Record) (page.LSN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lsn := m.nextLSN
	m.nextLSN++

	var hdr [17]byte
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(lsn))
	hdr[8] = byte(rec.Type)
	binary.LittleEndian.PutUint64(hdr[9:17], uint64(rec.PageID))
	if _, err := m.writer.Write(hdr[:]); err != nil {
		return 0, fmt.Errorf("buffering wal record: %w", err)
	}
	return lsn, nil
}

// Sync flushes buffered records to disk and fsyncs the log file. The
// buffer pool calls this before writing back a victim whose LSN is
// newer than what has already been made durable.
func (m *Manager) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writer.Flush(); err != nil {
		return fmt.Errorf("flushing wal buffer: %w", err)
	}
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("fsyncing wal file: %w", err)
	}
	m.flushedLSN = m.nextLSN - 1
	return nil
}

// Flushed reports the highest LSN known to be durable.
func (m *Manager) Flushed() page.LSN {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushedLSN
}

// Close flushes and closes the log file.
func (m *Manager) Close() error {
	if err := m.Sync(); err != nil {
		return err
	}
	return m.file.Close()
}
