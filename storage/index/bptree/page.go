package bptree

import (
	"encoding/binary"

	"github.com/lattice-db/pagecore/storage/page"
)

// pageKind distinguishes leaf from internal B+tree pages.
type pageKind uint8

const (
	kindInvalid pageKind = 0
	kindLeaf    pageKind = 1
	kindInternal pageKind = 2
)

// Every tree page begins with this fixed header: type, current size,
// max size, its own page id, and its parent's page id. Leaf pages
// append a next-leaf pointer right after (see offNextLeaf below).
const (
	offKind     = 0
	offSize     = offKind + 1
	offMaxSize  = offSize + 2
	offPageID   = offMaxSize + 2
	offParentID = offPageID + 8
	commonHeaderLen = offParentID + 8 // 21 bytes

	offNextLeaf = commonHeaderLen
	leafHeaderLen = offNextLeaf + 8 // 29 bytes
)

// header is a thin view over the shared fields of any tree page,
// embedded by both leafPage and internalPage.
type header struct {
	raw []byte
}

func (h header) kind() pageKind { return pageKind(h.raw[offKind]) }
func (h header) setKind(k pageKind) { h.raw[offKind] = byte(k) }

func (h header) size() int { return int(binary.LittleEndian.Uint16(h.raw[offSize:])) }
func (h header) setSize(n int) { binary.LittleEndian.PutUint16(h.raw[offSize:], uint16(n)) }

func (h header) maxSize() int { return int(binary.LittleEndian.Uint16(h.raw[offMaxSize:])) }
func (h header) setMaxSize(n int) { binary.LittleEndian.PutUint16(h.raw[offMaxSize:], uint16(n)) }

func (h header) pageID() page.ID { return page.ID(binary.LittleEndian.Uint64(h.raw[offPageID:])) }
func (h header) setPageID(id page.ID) { binary.LittleEndian.PutUint64(h.raw[offPageID:], uint64(id)) }

func (h header) parentID() page.ID { return page.ID(binary.LittleEndian.Uint64(h.raw[offParentID:])) }
func (h header) setParentID(id page.ID) {
	binary.LittleEndian.PutUint64(h.raw[offParentID:], uint64(id))
}

// isFull reports whether the page cannot absorb one more entry without
// exceeding its configured max size.
func (h header) isFull() bool { return h.size() >= h.maxSize() }

// minSize is the minimum occupancy a non-root page must keep after a
// deletion: ceil(maxSize/2).
func (h header) minSize() int { return (h.maxSize() + 1) / 2 }
