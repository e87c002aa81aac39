// Package buffer implements the buffer pool manager: it owns the frame
// array, free list, and page table, and mediates every disk page access
// for the layers above it (the B+tree in particular) through
// NewPage/FetchPage/UnpinPage/FlushPage/DeletePage.
package buffer

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/lattice-db/pagecore/storage/hash"
	"github.com/lattice-db/pagecore/storage/page"
	"github.com/lattice-db/pagecore/storage/replacer"
	"github.com/lattice-db/pagecore/storage/wal"
)

// DiskManager is the subset of disk.Manager the pool depends on,
// expressed as an interface so tests can substitute an in-memory fake.
type DiskManager interface {
	ReadPage(id page.ID, buf []byte) error
	WritePage(id page.ID, buf []byte) error
	AllocatePage() (page.ID, error)
	DeallocatePage(id page.ID) error
	PageSize() int
}

// Metrics are the counters a buffer pool publishes. All fields are
// optional; a zero-value Metrics silently no-ops every call.
type Metrics struct {
	hits      metric.Int64Counter
	misses    metric.Int64Counter
	evictions metric.Int64Counter
}

// NewMetrics registers the buffer pool's counters against meter. Pass a
// noop meter (see pkg/telemetry) to disable collection without branching.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	var m Metrics
	var err error
	if m.hits, err = meter.Int64Counter("bufferpool.page_hits"); err != nil {
		return Metrics{}, err
	}
	if m.misses, err = meter.Int64Counter("bufferpool.page_misses"); err != nil {
		return Metrics{}, err
	}
	if m.evictions, err = meter.Int64Counter("bufferpool.evictions"); err != nil {
		return Metrics{}, err
	}
	return m, nil
}

func (m Metrics) addHit(ctx context.Context) {
	if m.hits != nil {
		m.hits.Add(ctx, 1)
	}
}
func (m Metrics) addMiss(ctx context.Context) {
	if m.misses != nil {
		m.misses.Add(ctx, 1)
	}
}
func (m Metrics) addEviction(ctx context.Context) {
	if m.evictions != nil {
		m.evictions.Add(ctx, 1)
	}
}

// Pool owns a fixed set of frames backed by a disk manager, caching
// pages under an LRU-K replacement policy.
type Pool struct {
	mu sync.Mutex

	disk     DiskManager
	wal      *wal.Manager // optional; nil disables the log-manager hook
	log      *zap.Logger
	metrics  Metrics

	pageSize int
	frames   []*page.Page
	freeList []page.FrameID
	pageTable *hash.Table[page.ID, page.FrameID]
	replacer  *replacer.LRUK
}

// New constructs a pool of poolSize frames, evicting with LRU-K(k).
func New(poolSize, k int, disk DiskManager, walMgr *wal.Manager, log *zap.Logger, metrics Metrics) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{
		disk:      disk,
		wal:       walMgr,
		log:       log.Named("bufferpool"),
		metrics:   metrics,
		pageSize:  disk.PageSize(),
		frames:    make([]*page.Page, poolSize),
		freeList:  make([]page.FrameID, poolSize),
		pageTable: hash.New[page.ID, page.FrameID](4),
		replacer:  replacer.New(poolSize, k),
	}
	for i := range p.frames {
		p.frames[i] = page.New(p.pageSize)
		p.freeList[i] = page.FrameID(i)
	}
	return p
}

// allFramesPinned reports whether every frame currently holds a pinned
// page, i.e. the pool cannot make room for anyone.
func (p *Pool) allFramesPinned() bool {
	for _, fr := range p.frames {
		if fr.PinCount() == 0 {
			return false
		}
	}
	return true
}

// acquireFrame returns a frame ready to host a new page: from the free
// list if one is available, otherwise by evicting the LRU-K victim
// (writing it back first if dirty). Caller holds p.mu.
func (p *Pool) acquireFrame() (page.FrameID, bool) {
	if n := len(p.freeList); n > 0 {
		fid := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		return fid, true
	}

	fid, ok := p.replacer.Evict()
	if !ok {
		return 0, false
	}
	p.metrics.addEviction(context.Background())

	victim := p.frames[fid]
	if victim.ID() != page.InvalidID {
		if victim.IsDirty() {
			p.writeBack(victim)
		}
		p.pageTable.Remove(victim.ID())
	}
	return fid, true
}

// logMutation appends a WAL record for pg's mutation and stamps the
// assigned LSN onto the page, so writeBack later knows whether the log
// has to be synced before this page's bytes can safely hit disk. A nil
// wal.Manager disables the hook entirely.
func (p *Pool) logMutation(pg *page.Page, typ wal.RecordType) {
	if p.wal == nil {
		return
	}
	lsn, err := p.wal.Append(wal.Record{Type: typ, PageID: pg.ID()})
	if err != nil {
		p.log.Error("wal append failed", zap.Error(err), zap.Uint64("page_id", uint64(pg.ID())))
		return
	}
	pg.SetLSN(lsn)
}

// writeBack flushes a page's log records (if a wal.Manager is wired)
// before writing the page itself, so a crash can never observe a dirty
// page on disk whose log record is missing.
func (p *Pool) writeBack(pg *page.Page) {
	if p.wal != nil && pg.LSN() != page.InvalidLSN && pg.LSN() > p.wal.Flushed() {
		if err := p.wal.Sync(); err != nil {
			p.log.Error("wal sync before writeback failed", zap.Error(err), zap.Uint64("page_id", uint64(pg.ID())))
		}
	}
	if err := p.disk.WritePage(pg.ID(), pg.Data()); err != nil {
		p.log.Error("writeback failed", zap.Error(err), zap.Uint64("page_id", uint64(pg.ID())))
	}
	pg.ClearDirty()
}

// NewPage allocates a fresh page id and returns a pinned frame for it.
// It fails when every frame is pinned or when the disk manager cannot
// allocate a page.
func (p *Pool) NewPage() (*page.Page, page.ID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.allFramesPinned() {
		return nil, page.InvalidID, ErrPoolExhausted
	}

	fid, ok := p.acquireFrame()
	if !ok {
		return nil, page.InvalidID, ErrPoolExhausted
	}

	id, err := p.disk.AllocatePage()
	if err != nil {
		p.frames[fid].Reset()
		p.freeList = append(p.freeList, fid)
		return nil, page.InvalidID, err
	}

	pg := p.frames[fid]
	pg.Reset()
	pg.SetID(id)
	p.logMutation(pg, wal.RecordNewPage)
	pg.Pin()

	p.pageTable.Insert(id, fid)
	p.replacer.RecordAccess(fid)
	p.replacer.SetEvictable(fid, false)

	p.log.Debug("new page", zap.Uint64("page_id", uint64(id)), zap.Int("frame_id", int(fid)))
	return pg, id, nil
}

// FetchPage returns a pinned frame for id, reading it from disk on a
// miss. It fails when every frame is pinned or when the disk read
// fails (for example, for a page id the file does not contain yet).
func (p *Pool) FetchPage(id page.ID) (*page.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if fid, ok := p.pageTable.Find(id); ok {
		pg := p.frames[fid]
		pg.Pin()
		p.replacer.RecordAccess(fid)
		p.replacer.SetEvictable(fid, false)
		p.metrics.addHit(context.Background())
		return pg, nil
	}
	p.metrics.addMiss(context.Background())

	if p.allFramesPinned() {
		return nil, ErrPoolExhausted
	}
	fid, ok := p.acquireFrame()
	if !ok {
		return nil, ErrPoolExhausted
	}

	pg := p.frames[fid]
	pg.Reset()
	pg.SetID(id)
	if err := p.disk.ReadPage(id, pg.Data()); err != nil {
		pg.Reset()
		p.freeList = append(p.freeList, fid)
		return nil, err
	}
	pg.Pin()

	p.pageTable.Insert(id, fid)
	p.replacer.RecordAccess(fid)
	p.replacer.SetEvictable(fid, false)

	return pg, nil
}

// UnpinPage decrements id's pin count. isDirty, if true, stickily ORs
// onto the frame's dirty bit so a writer's dirty=true can never be
// masked by a concurrent reader's later dirty=false unpin. The frame
// becomes evictable exactly when the pin count reaches zero.
func (p *Pool) UnpinPage(id page.ID, isDirty bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	fid, ok := p.pageTable.Find(id)
	if !ok {
		return false
	}
	pg := p.frames[fid]
	if pg.PinCount() == 0 {
		return false
	}
	pg.SetDirty(isDirty)
	if isDirty {
		p.logMutation(pg, wal.RecordUpdate)
	}
	if pg.Unpin() {
		p.replacer.SetEvictable(fid, true)
	}
	return true
}

// FlushPage writes id's current content to disk and clears its dirty
// bit. It succeeds iff the page is resident; pin count is unaffected.
func (p *Pool) FlushPage(id page.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	fid, ok := p.pageTable.Find(id)
	if !ok {
		return false
	}
	p.writeBack(p.frames[fid])
	return true
}

// FlushAllPages flushes every resident page.
func (p *Pool) FlushAllPages() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, fr := range p.frames {
		if fr.ID() != page.InvalidID {
			p.writeBack(fr)
		}
	}
}

// DeletePage removes id from the pool and deallocates it on disk. It
// refuses (returns false) only when the page is resident and pinned;
// a page that was never resident is trivially "deleted".
func (p *Pool) DeletePage(id page.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	fid, ok := p.pageTable.Find(id)
	if !ok {
		return true
	}
	pg := p.frames[fid]
	if pg.PinCount() > 0 {
		return false
	}

	p.replacer.Remove(fid)
	pg.Reset()
	p.pageTable.Remove(id)
	p.freeList = append(p.freeList, fid)

	if err := p.disk.DeallocatePage(id); err != nil {
		p.log.Error("deallocate failed", zap.Error(err), zap.Uint64("page_id", uint64(id)))
	}
	return true
}

// PageSize returns the configured page size.
func (p *Pool) PageSize() int { return p.pageSize }

// PoolSize returns the number of frames in this pool.
func (p *Pool) PoolSize() int { return len(p.frames) }
