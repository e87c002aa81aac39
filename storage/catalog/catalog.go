// Package catalog persists the mapping from index name to root page
// id on the buffer pool's header page, so a process restart can
// reopen every index without rescanning the file. It is the disk
// counterpart of the in-memory root pointer each bptree.BTree keeps.
package catalog

import (
	"encoding/binary"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lattice-db/pagecore/storage/buffer"
	"github.com/lattice-db/pagecore/storage/hash"
	"github.com/lattice-db/pagecore/storage/page"
)

// entry layout on the header page: uint32 count, then per entry a
// uint16 name length, the name bytes, and a uint64 root page id.
const countLen = 4

// Catalog caches the header page's entries in memory and keeps both
// copies in sync on every SetRoot.
type Catalog struct {
	mu    sync.Mutex
	pool  *buffer.Pool
	table *hash.Table[string, page.ID]
	log   *zap.Logger
}

// Open loads the catalog from the header page, creating it (as page
// 0, empty) if this is a fresh database file.
func Open(pool *buffer.Pool, log *zap.Logger) (*Catalog, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Catalog{pool: pool, table: hash.New[string, page.ID](8), log: log.Named("catalog")}

	pg, err := pool.FetchPage(page.HeaderPageID)
	if err != nil {
		pg, id, err := pool.NewPage()
		if err != nil {
			return nil, fmt.Errorf("allocating header page: %w", err)
		}
		if id != page.HeaderPageID {
			return nil, fmt.Errorf("catalog: expected header page id %d, got %d", page.HeaderPageID, id)
		}
		binary.LittleEndian.PutUint32(pg.Data(), 0)
		pool.UnpinPage(id, true)
		return c, nil
	}
	defer pool.UnpinPage(page.HeaderPageID, false)

	if err := c.decode(pg.Data()); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) decode(buf []byte) error {
	if len(buf) < countLen {
		return fmt.Errorf("catalog: header page too small")
	}
	n := binary.LittleEndian.Uint32(buf)
	off := countLen
	for i := uint32(0); i < n; i++ {
		if off+2 > len(buf) {
			return fmt.Errorf("catalog: truncated header page")
		}
		nameLen := int(binary.LittleEndian.Uint16(buf[off:]))
		off += 2
		if off+nameLen+8 > len(buf) {
			return fmt.Errorf("catalog: truncated header page")
		}
		name := string(buf[off : off+nameLen])
		off += nameLen
		id := page.ID(binary.LittleEndian.Uint64(buf[off:]))
		off += 8
		c.table.Insert(name, id)
	}
	return nil
}

// encode writes the given entries into buf in the header-page layout
// and reports how many bytes they occupy.
func (c *Catalog) encode(buf []byte, names []string, ids []page.ID) (int, error) {
	off := countLen
	for i, name := range names {
		need := off + 2 + len(name) + 8
		if need > len(buf) {
			return 0, fmt.Errorf("catalog: header page too small for %d indexes", len(names))
		}
		binary.LittleEndian.PutUint16(buf[off:], uint16(len(name)))
		off += 2
		copy(buf[off:], name)
		off += len(name)
		binary.LittleEndian.PutUint64(buf[off:], uint64(ids[i]))
		off += 8
	}
	binary.LittleEndian.PutUint32(buf, uint32(len(names)))
	return off, nil
}

// RootOf returns the persisted root page id for an index name.
func (c *Catalog) RootOf(name string) (page.ID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.table.Find(name)
}

// SetRoot records name's current root page id, both in memory and on
// the header page. It is called after every operation that can change
// a tree's root: its first insert, a root split, and a root collapse.
func (c *Catalog) SetRoot(name string, id page.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.table.Insert(name, id)

	names := make([]string, 0, c.table.NumBuckets())
	ids := make([]page.ID, 0, c.table.NumBuckets())
	c.table.Range(func(n string, pid page.ID) {
		names = append(names, n)
		ids = append(ids, pid)
	})

	pg, err := c.pool.FetchPage(page.HeaderPageID)
	if err != nil {
		return fmt.Errorf("fetching header page: %w", err)
	}
	defer c.pool.UnpinPage(page.HeaderPageID, true)

	if _, err := c.encode(pg.Data(), names, ids); err != nil {
		return err
	}
	return nil
}

// Names lists every index currently registered in the catalog.
func (c *Catalog) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var names []string
	c.table.Range(func(n string, _ page.ID) { names = append(names, n) })
	return names
}
