package bptree

import (
	"encoding/binary"

	"github.com/lattice-db/pagecore/storage/page"
)

// leafPage is a typed view over a leaf's raw bytes: a header, a
// next-leaf pointer, and a sorted array of (key, value) slots.
type leafPage[K any, V any] struct {
	header
	keyCodec KeyCodec[K]
	valCodec ValueCodec[V]
}

func newLeafView[K any, V any](raw []byte, kc KeyCodec[K], vc ValueCodec[V]) leafPage[K, V] {
	return leafPage[K, V]{header: header{raw: raw}, keyCodec: kc, valCodec: vc}
}

func (l leafPage[K, V]) slotSize() int { return l.keyCodec.Size() + l.valCodec.Size() }

func (l leafPage[K, V]) slotOffset(i int) int { return leafHeaderLen + i*l.slotSize() }

func (l leafPage[K, V]) init(id, parent page.ID, maxSize int) {
	l.setKind(kindLeaf)
	l.setSize(0)
	l.setMaxSize(maxSize)
	l.setPageID(id)
	l.setParentID(parent)
	l.setNextPageID(page.InvalidID)
}

func (l leafPage[K, V]) nextPageID() page.ID {
	return page.ID(binary.LittleEndian.Uint64(l.raw[offNextLeaf:]))
}
func (l leafPage[K, V]) setNextPageID(id page.ID) {
	binary.LittleEndian.PutUint64(l.raw[offNextLeaf:], uint64(id))
}

func (l leafPage[K, V]) keyAt(i int) K {
	off := l.slotOffset(i)
	return l.keyCodec.Decode(l.raw[off : off+l.keyCodec.Size()])
}

func (l leafPage[K, V]) valueAt(i int) V {
	off := l.slotOffset(i) + l.keyCodec.Size()
	return l.valCodec.Decode(l.raw[off : off+l.valCodec.Size()])
}

func (l leafPage[K, V]) setSlot(i int, k K, v V) {
	off := l.slotOffset(i)
	l.keyCodec.Encode(l.raw[off:], k)
	l.valCodec.Encode(l.raw[off+l.keyCodec.Size():], v)
}

// findIndex returns the lowest index whose key is >= target, and
// whether that slot's key equals target exactly. It is the leaf
// analogue of FindLeaf's internal-page descent, and doubles as
// Begin(key)'s position.
func (l leafPage[K, V]) findIndex(target K) (int, bool) {
	lo, hi := 0, l.size()
	for lo < hi {
		mid := (lo + hi) / 2
		c := l.keyCodec.Compare(l.keyAt(mid), target)
		switch {
		case c < 0:
			lo = mid + 1
		case c > 0:
			hi = mid
		default:
			return mid, true
		}
	}
	return lo, false
}

// insertSorted inserts (k,v) in key order. Caller must have already
// verified the key is absent and the page has room.
func (l leafPage[K, V]) insertSorted(k K, v V) {
	idx, _ := l.findIndex(k)
	n := l.size()
	for i := n; i > idx; i-- {
		prevOff, curOff := l.slotOffset(i-1), l.slotOffset(i)
		copy(l.raw[curOff:curOff+l.slotSize()], l.raw[prevOff:prevOff+l.slotSize()])
	}
	l.setSlot(idx, k, v)
	l.setSize(n + 1)
}

// removeAt deletes the entry at index idx, shifting later entries left.
func (l leafPage[K, V]) removeAt(idx int) {
	n := l.size()
	for i := idx; i < n-1; i++ {
		nextOff, curOff := l.slotOffset(i+1), l.slotOffset(i)
		copy(l.raw[curOff:curOff+l.slotSize()], l.raw[nextOff:nextOff+l.slotSize()])
	}
	l.setSize(n - 1)
}

// moveUpperHalfTo moves this leaf's upper half of entries to sibling,
// leaving both halves at minimum occupancy as required by a split.
func (l leafPage[K, V]) moveUpperHalfTo(sibling leafPage[K, V]) {
	n := l.size()
	mid := n / 2
	for i := mid; i < n; i++ {
		sibling.setSlot(i-mid, l.keyAt(i), l.valueAt(i))
	}
	sibling.setSize(n - mid)
	l.setSize(mid)
}
