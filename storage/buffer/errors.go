package buffer

import "errors"

// ErrPoolExhausted is returned by NewPage/FetchPage when every frame is
// pinned and none can be evicted. UnpinPage, FlushPage, and DeletePage
// report their resident/pinned preconditions as a bool return instead
// of a distinct sentinel, matching the buffer pool manager contract
// they are ported from.
var ErrPoolExhausted = errors.New("buffer pool: all frames are pinned")
