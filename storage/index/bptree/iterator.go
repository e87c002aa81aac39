package bptree

import "github.com/lattice-db/pagecore/storage/page"

// Iterator walks a tree's leaves in key order. It holds its current
// leaf pinned for the lifetime of the cursor position, replacing the
// stub the source left unimplemented.
type Iterator[K any, V any] struct {
	tree *BTree[K, V]
	leaf *page.Page
	idx  int
}

// Begin opens an iterator positioned at the tree's smallest key.
func (t *BTree[K, V]) Begin() (*Iterator[K, V], error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.rootPageID == page.InvalidID {
		return &Iterator[K, V]{tree: t}, nil
	}
	leaf, err := t.leftmostLeaf()
	if err != nil {
		return nil, err
	}
	return &Iterator[K, V]{tree: t, leaf: leaf, idx: 0}, nil
}

// BeginAt opens an iterator positioned at the first key >= key.
func (t *BTree[K, V]) BeginAt(key K) (*Iterator[K, V], error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.rootPageID == page.InvalidID {
		return &Iterator[K, V]{tree: t}, nil
	}
	leaf, err := t.findLeaf(key)
	if err != nil {
		return nil, err
	}
	idx, _ := t.leafView(leaf).findIndex(key)
	it := &Iterator[K, V]{tree: t, leaf: leaf, idx: idx}
	it.skipToNextNonEmptyLeaf()
	return it, nil
}

func (t *BTree[K, V]) leftmostLeaf() (*page.Page, error) {
	cur, err := t.pool.FetchPage(t.rootPageID)
	if err != nil {
		return nil, err
	}
	for kindOf(cur) == kindInternal {
		child := t.internalView(cur).valueAt(0)
		t.pool.UnpinPage(cur.ID(), false)
		next, err := t.pool.FetchPage(child)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// skipToNextNonEmptyLeaf advances across empty leaf chain links; a
// leaf can only be empty when it is the sole page in the tree.
func (it *Iterator[K, V]) skipToNextNonEmptyLeaf() {
	for it.leaf != nil && it.idx >= it.tree.leafView(it.leaf).size() {
		next := it.tree.leafView(it.leaf).nextPageID()
		it.tree.pool.UnpinPage(it.leaf.ID(), false)
		if next == page.InvalidID {
			it.leaf = nil
			return
		}
		pg, err := it.tree.pool.FetchPage(next)
		if err != nil {
			it.leaf = nil
			return
		}
		it.leaf = pg
		it.idx = 0
	}
}

// Valid reports whether the cursor is positioned at an entry.
func (it *Iterator[K, V]) Valid() bool {
	return it.leaf != nil
}

// Key returns the entry key at the cursor. Valid must be true.
func (it *Iterator[K, V]) Key() K {
	return it.tree.leafView(it.leaf).keyAt(it.idx)
}

// Value returns the entry value at the cursor. Valid must be true.
func (it *Iterator[K, V]) Value() V {
	return it.tree.leafView(it.leaf).valueAt(it.idx)
}

// Next advances the cursor by one entry.
func (it *Iterator[K, V]) Next() {
	if it.leaf == nil {
		return
	}
	it.idx++
	it.skipToNextNonEmptyLeaf()
}

// Close releases the pin held on the iterator's current leaf, if any.
// Callers that run an iterator to exhaustion need not call it, since
// skipToNextNonEmptyLeaf already unpins on the way out; it exists for
// callers that abandon a scan early.
func (it *Iterator[K, V]) Close() {
	if it.leaf != nil {
		it.tree.pool.UnpinPage(it.leaf.ID(), false)
		it.leaf = nil
	}
}
