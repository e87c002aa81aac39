package bptree

import (
	"encoding/binary"

	"github.com/lattice-db/pagecore/storage/page"
)

// KeyCodec parameterizes the tree by a fixed-size, comparable key type,
// replacing the source's template instantiation over GenericKey<N>.
type KeyCodec[K any] interface {
	Compare(a, b K) int
	Size() int
	Encode(buf []byte, k K)
	Decode(buf []byte) K
}

// ValueCodec parameterizes the tree by a fixed-size value type. Unlike
// KeyCodec it needs no ordering - values are never compared.
type ValueCodec[V any] interface {
	Size() int
	Encode(buf []byte, v V)
	Decode(buf []byte) V
}

// pageIDCodec encodes page.ID as a fixed 8-byte value; it is always
// used for internal-page child pointers.
type pageIDCodec struct{}

func (pageIDCodec) Size() int { return 8 }
func (pageIDCodec) Encode(buf []byte, v page.ID) {
	binary.LittleEndian.PutUint64(buf, uint64(v))
}
func (pageIDCodec) Decode(buf []byte) page.ID {
	return page.ID(binary.LittleEndian.Uint64(buf))
}

// Int64Key is a ready-made KeyCodec for plain int64 keys.
type Int64Key struct{}

func (Int64Key) Compare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
func (Int64Key) Size() int { return 8 }
func (Int64Key) Encode(buf []byte, k int64) {
	binary.LittleEndian.PutUint64(buf, uint64(k))
}
func (Int64Key) Decode(buf []byte) int64 {
	return int64(binary.LittleEndian.Uint64(buf))
}

// RID is a row identifier, the canonical leaf value in the source:
// the page holding a tuple plus its slot within that page.
type RID struct {
	PageID page.ID
	Slot   uint32
}

// RIDCodec is a ready-made ValueCodec for RID.
type RIDCodec struct{}

func (RIDCodec) Size() int { return 12 }
func (RIDCodec) Encode(buf []byte, v RID) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(v.PageID))
	binary.LittleEndian.PutUint32(buf[8:12], v.Slot)
}
func (RIDCodec) Decode(buf []byte) RID {
	return RID{
		PageID: page.ID(binary.LittleEndian.Uint64(buf[0:8])),
		Slot:   binary.LittleEndian.Uint32(buf[8:12]),
	}
}
