// Package bptree implements a disk-backed B+tree index on top of a
// buffer.Pool: every node is exactly one page, internal nodes hold
// child pointers rather than tuples, and leaves are chained through
// NextPageID for cheap ordered scans.
package bptree

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/lattice-db/pagecore/storage/buffer"
	"github.com/lattice-db/pagecore/storage/page"
)

// BTree is a generic B+tree index keyed by K with leaf payload V. K
// and V are fixed-size and described by the codecs passed to New,
// standing in for the source's template instantiation over
// GenericKey<N>.
type BTree[K any, V any] struct {
	mu sync.RWMutex

	name            string
	pool            *buffer.Pool
	keyCodec        KeyCodec[K]
	valCodec        ValueCodec[V]
	leafMaxSize     int
	internalMaxSize int
	rootPageID      page.ID
	log             *zap.Logger
}

// New constructs an empty tree. leafMaxSize and internalMaxSize are
// supplied directly rather than derived from the page size, matching
// the source's constructor parameters and letting tests exercise
// splits with small trees.
func New[K any, V any](name string, pool *buffer.Pool, kc KeyCodec[K], vc ValueCodec[V], leafMaxSize, internalMaxSize int, log *zap.Logger) *BTree[K, V] {
	if log == nil {
		log = zap.NewNop()
	}
	return &BTree[K, V]{
		name:            name,
		pool:            pool,
		keyCodec:        kc,
		valCodec:        vc,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
		rootPageID:      page.InvalidID,
		log:             log.Named("bptree").With(zap.String("index", name)),
	}
}

// Adopt points an existing (possibly empty) tree at an already
// allocated root page, used by the catalog when reopening an index
// whose root id was persisted on a previous run.
func (t *BTree[K, V]) Adopt(rootPageID page.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rootPageID = rootPageID
}

// IsEmpty reports whether the tree has no root page yet.
func (t *BTree[K, V]) IsEmpty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rootPageID == page.InvalidID
}

// GetRootPageId returns the tree's current root page id, or
// page.InvalidID if the tree is empty. Unlike the stub this replaces,
// it reflects the live root, including after root splits and merges.
func (t *BTree[K, V]) GetRootPageId() page.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rootPageID
}

func (t *BTree[K, V]) leafView(pg *page.Page) leafPage[K, V] {
	return newLeafView[K, V](pg.Data(), t.keyCodec, t.valCodec)
}
func (t *BTree[K, V]) internalView(pg *page.Page) internalPage[K] {
	return newInternalView[K](pg.Data(), t.keyCodec)
}
func kindOf(pg *page.Page) pageKind {
	return header{raw: pg.Data()}.kind()
}

// findLeaf descends from the root to the leaf that should contain
// key, pinning and unpinning internal pages along the way and
// returning the target leaf still pinned. The caller must Unpin it.
func (t *BTree[K, V]) findLeaf(key K) (*page.Page, error) {
	cur, err := t.pool.FetchPage(t.rootPageID)
	if err != nil {
		return nil, err
	}
	for kindOf(cur) == kindInternal {
		child := t.internalView(cur).Lookup(key)
		t.pool.UnpinPage(cur.ID(), false)
		next, err := t.pool.FetchPage(child)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// GetValue looks up key, returning its value and true on a hit.
func (t *BTree[K, V]) GetValue(key K) (V, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var zero V
	if t.rootPageID == page.InvalidID {
		return zero, false, nil
	}
	leaf, err := t.findLeaf(key)
	if err != nil {
		return zero, false, err
	}
	defer t.pool.UnpinPage(leaf.ID(), false)

	lv := t.leafView(leaf)
	idx, found := lv.findIndex(key)
	if !found {
		return zero, false, nil
	}
	return lv.valueAt(idx), true, nil
}

// newLeafPage allocates a fresh, pinned leaf page with the given
// parent. Caller owns the returned page and must eventually unpin it.
func (t *BTree[K, V]) newLeafPage(parent page.ID) (*page.Page, error) {
	pg, id, err := t.pool.NewPage()
	if err != nil {
		return nil, err
	}
	t.leafView(pg).init(id, parent, t.leafMaxSize)
	return pg, nil
}

func (t *BTree[K, V]) newInternalPage(parent page.ID) (*page.Page, error) {
	pg, id, err := t.pool.NewPage()
	if err != nil {
		return nil, err
	}
	t.internalView(pg).init(id, parent, t.internalMaxSize)
	return pg, nil
}

// Insert adds (key, val). It returns false without modifying the tree
// if key is already present.
func (t *BTree[K, V]) Insert(key K, val V) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rootPageID == page.InvalidID {
		pg, err := t.newLeafPage(page.InvalidID)
		if err != nil {
			return false, err
		}
		t.rootPageID = pg.ID()
		t.leafView(pg).insertSorted(key, val)
		t.pool.UnpinPage(pg.ID(), true)
		return true, nil
	}

	leaf, err := t.findLeaf(key)
	if err != nil {
		return false, err
	}
	lv := t.leafView(leaf)
	if _, found := lv.findIndex(key); found {
		t.pool.UnpinPage(leaf.ID(), false)
		return false, nil
	}

	if !lv.isFull() {
		lv.insertSorted(key, val)
		t.pool.UnpinPage(leaf.ID(), true)
		return true, nil
	}

	// Split: move the upper half to a new sibling leaf, splice it into
	// the leaf chain, then insert a separator into the parent.
	sibling, err := t.newLeafPage(lv.parentID())
	if err != nil {
		t.pool.UnpinPage(leaf.ID(), false)
		return false, err
	}
	sv := t.leafView(sibling)

	// Insert first so the split point accounts for the new entry, then
	// move the upper half across.
	lv.insertSorted(key, val)
	lv.moveUpperHalfTo(sv)
	sv.setNextPageID(lv.nextPageID())
	lv.setNextPageID(sv.pageID())

	sepKey := sv.keyAt(0)
	leftID, rightID := leaf.ID(), sibling.ID()
	t.pool.UnpinPage(leftID, true)
	t.pool.UnpinPage(rightID, true)

	if err := t.insertIntoParent(leftID, sepKey, rightID); err != nil {
		return false, err
	}
	return true, nil
}

// insertIntoParent attaches (sepKey, rightID) to leftID's parent,
// splitting that parent (recursively, up to and including the root)
// if it has no room. This is the corrected version of the source's
// InsertIntoParent, which left the non-root-split branch unfinished.
func (t *BTree[K, V]) insertIntoParent(leftID page.ID, sepKey K, rightID page.ID) error {
	left, err := t.pool.FetchPage(leftID)
	if err != nil {
		return err
	}
	parentID := header{raw: left.Data()}.parentID()
	t.pool.UnpinPage(leftID, false)

	if parentID == page.InvalidID {
		newRoot, err := t.newInternalPage(page.InvalidID)
		if err != nil {
			return err
		}
		t.internalView(newRoot).populateNewRoot(leftID, sepKey, rightID)
		t.rootPageID = newRoot.ID()
		t.pool.UnpinPage(newRoot.ID(), true)

		if err := t.reparent(leftID, newRoot.ID()); err != nil {
			return err
		}
		return t.reparent(rightID, newRoot.ID())
	}

	parent, err := t.pool.FetchPage(parentID)
	if err != nil {
		return err
	}
	pv := t.internalView(parent)

	if !pv.isFull() {
		pv.InsertIntoInternal(leftID, sepKey, rightID)
		t.pool.UnpinPage(parentID, true)
		return nil
	}

	sibling, err := t.newInternalPage(pv.parentID())
	if err != nil {
		t.pool.UnpinPage(parentID, false)
		return err
	}
	sv := t.internalView(sibling)

	pv.InsertIntoInternal(leftID, sepKey, rightID)
	upSep := pv.moveUpperHalfTo(sv)

	parentOldID, siblingID := parentID, sibling.ID()
	t.pool.UnpinPage(parentOldID, true)
	t.pool.UnpinPage(siblingID, true)

	if err := t.reparentAllChildren(siblingID); err != nil {
		return err
	}
	return t.insertIntoParent(parentOldID, upSep, siblingID)
}

// reparent sets childID's parent pointer to newParent.
func (t *BTree[K, V]) reparent(childID, newParent page.ID) error {
	pg, err := t.pool.FetchPage(childID)
	if err != nil {
		return err
	}
	header{raw: pg.Data()}.setParentID(newParent)
	t.pool.UnpinPage(childID, true)
	return nil
}

// reparentAllChildren re-points every child currently listed in
// internal node nodeID back at nodeID, used after entries are moved
// into nodeID by a split, merge, or borrow.
func (t *BTree[K, V]) reparentAllChildren(nodeID page.ID) error {
	pg, err := t.pool.FetchPage(nodeID)
	if err != nil {
		return err
	}
	nv := t.internalView(pg)
	children := make([]page.ID, nv.size())
	for i := range children {
		children[i] = nv.valueAt(i)
	}
	t.pool.UnpinPage(nodeID, false)

	for _, c := range children {
		if err := t.reparent(c, nodeID); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes key if present. It returns false if key was absent.
func (t *BTree[K, V]) Remove(key K) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rootPageID == page.InvalidID {
		return false, nil
	}
	leaf, err := t.findLeaf(key)
	if err != nil {
		return false, err
	}
	lv := t.leafView(leaf)
	idx, found := lv.findIndex(key)
	if !found {
		t.pool.UnpinPage(leaf.ID(), false)
		return false, nil
	}
	lv.removeAt(idx)
	isRoot := leaf.ID() == t.rootPageID
	underflow := lv.size() < lv.minSize() && !isRoot
	emptiedRoot := isRoot && lv.size() == 0
	leafID := leaf.ID()
	t.pool.UnpinPage(leafID, true)

	if underflow {
		if err := t.handleUnderflow(leafID); err != nil {
			return false, err
		}
	} else if emptiedRoot {
		// The root leaf emptied out entirely; the tree is now empty.
		t.pool.DeletePage(leafID)
		t.rootPageID = page.InvalidID
	}
	return true, nil
}

// handleUnderflow restores nodeID's minimum occupancy by borrowing
// from a sibling or, failing that, merging with one. It recurses
// toward the root, since a merge removes an entry from the parent
// which can itself underflow.
func (t *BTree[K, V]) handleUnderflow(nodeID page.ID) error {
	pg, err := t.pool.FetchPage(nodeID)
	if err != nil {
		return err
	}
	parentID := header{raw: pg.Data()}.parentID()
	t.pool.UnpinPage(nodeID, false)

	if parentID == page.InvalidID {
		return t.collapseRootIfNeeded(nodeID)
	}

	parentPg, err := t.pool.FetchPage(parentID)
	if err != nil {
		return err
	}
	pv := t.internalView(parentPg)
	myIdx := pv.indexOfChild(nodeID)
	t.pool.UnpinPage(parentID, false)

	if myIdx > 0 {
		leftID := t.childAt(parentID, myIdx-1)
		if ok, err := t.tryBorrowOrMerge(parentID, leftID, nodeID, myIdx-1); err != nil || ok {
			return err
		}
	}
	if lastIdx := t.siblingCount(parentID) - 1; myIdx < lastIdx {
		rightID := t.childAt(parentID, myIdx+1)
		if ok, err := t.tryBorrowOrMerge(parentID, nodeID, rightID, myIdx); err != nil || ok {
			return err
		}
	}
	return nil
}

func (t *BTree[K, V]) childAt(nodeID page.ID, idx int) page.ID {
	pg, err := t.pool.FetchPage(nodeID)
	if err != nil {
		return page.InvalidID
	}
	defer t.pool.UnpinPage(nodeID, false)
	return t.internalView(pg).valueAt(idx)
}

func (t *BTree[K, V]) siblingCount(parentID page.ID) int {
	pg, err := t.pool.FetchPage(parentID)
	if err != nil {
		return 0
	}
	defer t.pool.UnpinPage(parentID, false)
	return t.internalView(pg).size()
}

// tryBorrowOrMerge handles the (left, right) sibling pair that sit at
// consecutive slots leftIdx, leftIdx+1 in parentID. It borrows a
// single entry from whichever side has surplus, or merges the pair
// and removes the separator from the parent if neither does. It
// returns ok=true once the underflowing node (left or right,
// whichever triggered the call) is resolved.
func (t *BTree[K, V]) tryBorrowOrMerge(parentID, leftID, rightID page.ID, leftIdx int) (bool, error) {
	leftPg, err := t.pool.FetchPage(leftID)
	if err != nil {
		return false, err
	}
	rightPg, err := t.pool.FetchPage(rightID)
	if err != nil {
		t.pool.UnpinPage(leftID, false)
		return false, err
	}
	parentPg, err := t.pool.FetchPage(parentID)
	if err != nil {
		t.pool.UnpinPage(leftID, false)
		t.pool.UnpinPage(rightID, false)
		return false, err
	}
	pv := t.internalView(parentPg)
	sepKey := pv.keyAt(leftIdx + 1)

	if kindOf(leftPg) == kindLeaf {
		lv, rv := t.leafView(leftPg), t.leafView(rightPg)
		switch {
		case rv.size() > rv.minSize():
			k, v := rv.keyAt(0), rv.valueAt(0)
			rv.removeAt(0)
			lv.insertSorted(k, v)
			pv.setKeyAt(leftIdx+1, rv.keyAt(0))
			t.unpinAll(true, leftID, rightID, parentID)
			return true, nil
		case lv.size() > lv.minSize():
			last := lv.size() - 1
			k, v := lv.keyAt(last), lv.valueAt(last)
			lv.removeAt(last)
			rv.insertSorted(k, v)
			pv.setKeyAt(leftIdx+1, k)
			t.unpinAll(true, leftID, rightID, parentID)
			return true, nil
		default:
			for i := 0; i < rv.size(); i++ {
				lv.insertSorted(rv.keyAt(i), rv.valueAt(i))
			}
			lv.setNextPageID(rv.nextPageID())
			pv.removeAt(leftIdx + 1)
			t.pool.UnpinPage(leftID, true)
			t.pool.UnpinPage(parentID, true)
			t.pool.UnpinPage(rightID, false)
			t.pool.DeletePage(rightID)
			return t.afterParentShrink(parentID)
		}
	}

	ln, rn := t.internalView(leftPg), t.internalView(rightPg)
	switch {
	case rn.size() > rn.minSize():
		newSep := rn.moveFirstTo(ln, sepKey)
		pv.setKeyAt(leftIdx+1, newSep)
		movedChild := ln.valueAt(ln.size() - 1)
		t.unpinAll(true, leftID, rightID, parentID)
		return true, t.reparent(movedChild, leftID)
	case ln.size() > ln.minSize():
		newSep := ln.moveLastTo(rn, sepKey)
		pv.setKeyAt(leftIdx+1, newSep)
		movedChild := rn.valueAt(0)
		t.unpinAll(true, leftID, rightID, parentID)
		return true, t.reparent(movedChild, rightID)
	default:
		rn.moveAllTo(ln, sepKey)
		if err := t.reparentAllChildren(leftID); err != nil {
			return false, err
		}
		pv.removeAt(leftIdx + 1)
		t.pool.UnpinPage(leftID, true)
		t.pool.UnpinPage(parentID, true)
		t.pool.UnpinPage(rightID, false)
		t.pool.DeletePage(rightID)
		return t.afterParentShrink(parentID)
	}
}

func (t *BTree[K, V]) unpinAll(dirty bool, ids ...page.ID) {
	for _, id := range ids {
		t.pool.UnpinPage(id, dirty)
	}
}

// afterParentShrink checks whether removing a separator left
// parentID itself underflowing (or, if it is the root, collapsible)
// and recurses if so.
func (t *BTree[K, V]) afterParentShrink(parentID page.ID) (bool, error) {
	pg, err := t.pool.FetchPage(parentID)
	if err != nil {
		return true, err
	}
	pv := t.internalView(pg)
	size, isRoot := pv.size(), parentID == t.rootPageID
	t.pool.UnpinPage(parentID, false)

	if isRoot {
		return true, t.collapseRootIfNeeded(parentID)
	}
	if size < pv.minSize() {
		return true, t.handleUnderflow(parentID)
	}
	return true, nil
}

// collapseRootIfNeeded replaces an internal root left with a single
// child by that child, shrinking the tree's height by one.
func (t *BTree[K, V]) collapseRootIfNeeded(rootID page.ID) error {
	pg, err := t.pool.FetchPage(rootID)
	if err != nil {
		return err
	}
	if kindOf(pg) == kindLeaf {
		t.pool.UnpinPage(rootID, false)
		return nil
	}
	rv := t.internalView(pg)
	if rv.size() != 1 {
		t.pool.UnpinPage(rootID, false)
		return nil
	}
	onlyChild := rv.valueAt(0)
	t.pool.UnpinPage(rootID, false)
	t.pool.DeletePage(rootID)
	t.rootPageID = onlyChild
	return t.reparent(onlyChild, page.InvalidID)
}

// Draw renders the tree's structure as indented text, for debugging
// and tests; it is not part of the index's operational API.
func (t *BTree[K, V]) Draw() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.rootPageID == page.InvalidID {
		return "(empty)"
	}
	var b strings.Builder
	t.draw(&b, t.rootPageID, 0)
	return b.String()
}

func (t *BTree[K, V]) draw(b *strings.Builder, id page.ID, depth int) {
	pg, err := t.pool.FetchPage(id)
	if err != nil {
		fmt.Fprintf(b, "%s<error fetching %d: %v>\n", strings.Repeat("  ", depth), id, err)
		return
	}
	indent := strings.Repeat("  ", depth)
	if kindOf(pg) == kindLeaf {
		lv := t.leafView(pg)
		keys := make([]string, lv.size())
		for i := range keys {
			keys[i] = fmt.Sprintf("%v", lv.keyAt(i))
		}
		fmt.Fprintf(b, "%sleaf(%d) [%s] -> next=%d\n", indent, id, strings.Join(keys, ","), lv.nextPageID())
		t.pool.UnpinPage(id, false)
		return
	}
	nv := t.internalView(pg)
	keys := make([]string, nv.size()-1)
	children := make([]page.ID, nv.size())
	for i := 0; i < nv.size(); i++ {
		children[i] = nv.valueAt(i)
		if i > 0 {
			keys[i-1] = fmt.Sprintf("%v", nv.keyAt(i))
		}
	}
	fmt.Fprintf(b, "%sinternal(%d) [%s]\n", indent, id, strings.Join(keys, ","))
	t.pool.UnpinPage(id, false)
	for _, c := range children {
		t.draw(b, c, depth+1)
	}
}
