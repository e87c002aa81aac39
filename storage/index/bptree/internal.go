package bptree

import "github.com/lattice-db/pagecore/storage/page"

// internalPage is a typed view over an internal node's raw bytes: a
// header followed by size key/child-pointer slots. Slot 0's key is
// never read or compared - only its child pointer is meaningful, per
// the usual B+tree convention that an internal node with n keys has
// n+1 children.
type internalPage[K any] struct {
	header
	keyCodec KeyCodec[K]
	valCodec pageIDCodec
}

func newInternalView[K any](raw []byte, kc KeyCodec[K]) internalPage[K] {
	return internalPage[K]{header: header{raw: raw}, keyCodec: kc, valCodec: pageIDCodec{}}
}

func (n internalPage[K]) slotSize() int { return n.keyCodec.Size() + n.valCodec.Size() }

func (n internalPage[K]) slotOffset(i int) int { return commonHeaderLen + i*n.slotSize() }

func (n internalPage[K]) init(id, parent page.ID, maxSize int) {
	n.setKind(kindInternal)
	n.setSize(0)
	n.setMaxSize(maxSize)
	n.setPageID(id)
	n.setParentID(parent)
}

func (n internalPage[K]) keyAt(i int) K {
	off := n.slotOffset(i)
	return n.keyCodec.Decode(n.raw[off : off+n.keyCodec.Size()])
}

func (n internalPage[K]) setKeyAt(i int, k K) {
	off := n.slotOffset(i)
	n.keyCodec.Encode(n.raw[off:], k)
}

func (n internalPage[K]) valueAt(i int) page.ID {
	off := n.slotOffset(i) + n.keyCodec.Size()
	return n.valCodec.Decode(n.raw[off : off+n.valCodec.Size()])
}

func (n internalPage[K]) setValueAt(i int, v page.ID) {
	off := n.slotOffset(i) + n.keyCodec.Size()
	n.valCodec.Encode(n.raw[off:], v)
}

func (n internalPage[K]) setSlot(i int, k K, v page.ID) {
	n.setKeyAt(i, k)
	n.setValueAt(i, v)
}

// indexOfChild returns the position of child in this node's value
// slots, or -1 if it is not one of them. Used to locate a node's own
// slot within its parent during InsertIntoParent and Remove.
func (n internalPage[K]) indexOfChild(child page.ID) int {
	for i := 0; i < n.size(); i++ {
		if n.valueAt(i) == child {
			return i
		}
	}
	return -1
}

// Lookup returns the child pointer to follow for target: the last
// slot whose key is <= target, or slot 0 if target is smaller than
// every real key. This is the internal-page half of FindLeaf's
// descent.
func (n internalPage[K]) Lookup(target K) page.ID {
	lo, hi := 1, n.size()
	for lo < hi {
		mid := (lo + hi) / 2
		if n.keyCodec.Compare(n.keyAt(mid), target) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return n.valueAt(lo - 1)
}

// populateNewRoot sets this (freshly allocated) page up as a brand
// new root with exactly two children, used both for the tree's very
// first split and for every subsequent root split.
func (n internalPage[K]) populateNewRoot(leftChild page.ID, sepKey K, rightChild page.ID) {
	n.setValueAt(0, leftChild)
	n.setSlot(1, sepKey, rightChild)
	n.setSize(2)
}

// InsertIntoInternal inserts (sepKey, rightChild) immediately after
// the slot holding leftChild, shifting later slots right. Caller must
// have already verified there is room.
func (n internalPage[K]) InsertIntoInternal(leftChild page.ID, sepKey K, rightChild page.ID) {
	at := n.indexOfChild(leftChild)
	size := n.size()
	for i := size; i > at+1; i-- {
		n.setSlot(i, n.keyAt(i-1), n.valueAt(i-1))
	}
	n.setSlot(at+1, sepKey, rightChild)
	n.setSize(size + 1)
}

// removeAt deletes the slot at index idx, shifting later slots left.
func (n internalPage[K]) removeAt(idx int) {
	size := n.size()
	for i := idx; i < size-1; i++ {
		n.setSlot(i, n.keyAt(i+1), n.valueAt(i+1))
	}
	n.setSize(size - 1)
}

// moveUpperHalfTo moves this node's upper half (including the
// midpoint) to sibling for a split, returning the key that becomes
// the separator pushed up to the parent. Slot 0 of sibling receives
// only the value half of the midpoint slot, per the slot-0-value-only
// convention.
func (n internalPage[K]) moveUpperHalfTo(sibling internalPage[K]) K {
	size := n.size()
	mid := size / 2
	sepKey := n.keyAt(mid)
	sibling.setValueAt(0, n.valueAt(mid))
	for i := mid + 1; i < size; i++ {
		sibling.setSlot(i-mid, n.keyAt(i), n.valueAt(i))
	}
	sibling.setSize(size - mid)
	n.setSize(mid)
	return sepKey
}

// moveAllTo appends all of this node's entries onto the end of dst,
// used when merging during Remove. dst already holds dst.size()
// entries; this node's slot-0 value becomes a real (key, value) slot
// in dst, keyed by sepKey (the separator that used to sit between
// them in their shared parent).
func (n internalPage[K]) moveAllTo(dst internalPage[K], sepKey K) {
	base := dst.size()
	dst.setSlot(base, sepKey, n.valueAt(0))
	for i := 1; i < n.size(); i++ {
		dst.setSlot(base+i, n.keyAt(i), n.valueAt(i))
	}
	dst.setSize(base + n.size())
	n.setSize(0)
}

// moveFirstTo moves this node's first entry to the end of dst,
// borrowing during Remove's redistribution path. sepKey is the
// separator that used to precede this node in the shared parent; it
// becomes the key attached to the value being moved. Returns the new
// separator the parent should use in n's place: n's new first key.
func (n internalPage[K]) moveFirstTo(dst internalPage[K], sepKey K) K {
	dst.setSlot(dst.size(), sepKey, n.valueAt(0))
	dst.setSize(dst.size() + 1)
	newSep := n.keyAt(1)
	n.setValueAt(0, n.valueAt(1))
	n.removeAt(1)
	return newSep
}

// moveLastTo moves this node's last entry to the front of dst,
// borrowing in the opposite direction. sepKey is the separator that
// used to follow this node in the shared parent, attached to dst's
// current slot-0 value as it is pushed into a real slot. Returns the
// new separator: n's old last key.
func (n internalPage[K]) moveLastTo(dst internalPage[K], sepKey K) K {
	last := n.size() - 1
	newSep := n.keyAt(last)
	lastVal := n.valueAt(last)
	n.removeAt(last)

	oldFirstVal := dst.valueAt(0)
	for i := dst.size(); i > 1; i-- {
		dst.setSlot(i, dst.keyAt(i-1), dst.valueAt(i-1))
	}
	dst.setSlot(1, sepKey, oldFirstVal)
	dst.setValueAt(0, lastVal)
	dst.setSize(dst.size() + 1)
	return newSep
}
