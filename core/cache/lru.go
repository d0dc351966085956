package cache

import (
	"container/list"
	"time"
)

type LRUOpts struct {
	// Size bounds the number of entries. Values <= 0 default to 128.
	Size int
}

type entry struct {
	key       string
	val       any
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

type getReq struct {
	key  string
	resp chan getResp
}

type getResp struct {
	val any
	ok  bool
}

type putReq struct {
	key string
	val any
	ttl time.Duration
}

// LRU is a bounded least-recently-used cache. All state is owned by one
// goroutine, so callers need no locking. Operations after Close are no-ops.
type LRU struct {
	getCh chan getReq
	putCh chan putReq
	delCh chan string
	lenCh chan chan int
	done  chan struct{}
	exit  chan struct{}
}

func NewLRU(opts LRUOpts) *LRU {
	if opts.Size <= 0 {
		opts.Size = 128
	}

	l := &LRU{
		getCh: make(chan getReq),
		putCh: make(chan putReq),
		delCh: make(chan string),
		lenCh: make(chan chan int),
		done:  make(chan struct{}),
		exit:  make(chan struct{}),
	}

	go l.run(opts.Size)

	return l
}

func (l *LRU) Get(key string) (any, bool) {
	resp := make(chan getResp, 1)
	select {
	case l.getCh <- getReq{key: key, resp: resp}:
	case <-l.done:
		return nil, false
	}
	r := <-resp
	return r.val, r.ok
}

func (l *LRU) Put(key string, val any, opts ...PutOption) {
	o := PutOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	select {
	case l.putCh <- putReq{key: key, val: val, ttl: o.TTL}:
	case <-l.done:
	}
}

func (l *LRU) Delete(key string) {
	select {
	case l.delCh <- key:
	case <-l.done:
	}
}

// Len returns the number of entries, including expired ones not yet evicted.
func (l *LRU) Len() int {
	resp := make(chan int, 1)
	select {
	case l.lenCh <- resp:
	case <-l.done:
		return 0
	}
	return <-resp
}

// Close stops the cache goroutine and waits for it to exit. It is safe to
// call more than once, but not concurrently.
func (l *LRU) Close() {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
	<-l.exit
}

func (l *LRU) run(size int) {
	defer close(l.exit)

	ll := list.New()
	items := make(map[string]*list.Element)

	remove := func(ele *list.Element) {
		ll.Remove(ele)
		delete(items, ele.Value.(*entry).key)
	}

	for {
		select {
		case <-l.done:
			return

		case req := <-l.getCh:
			ele, ok := items[req.key]
			if ok && ele.Value.(*entry).expired(time.Now()) {
				remove(ele)
				ok = false
			}
			if !ok {
				req.resp <- getResp{}
				continue
			}
			ll.MoveToFront(ele)
			req.resp <- getResp{val: ele.Value.(*entry).val, ok: true}

		case req := <-l.putCh:
			var expiresAt time.Time
			if req.ttl > 0 {
				expiresAt = time.Now().Add(req.ttl)
			}
			if ele, ok := items[req.key]; ok {
				ll.MoveToFront(ele)
				e := ele.Value.(*entry)
				e.val, e.expiresAt = req.val, expiresAt
				continue
			}
			items[req.key] = ll.PushFront(&entry{key: req.key, val: req.val, expiresAt: expiresAt})
			if ll.Len() > size {
				remove(ll.Back())
			}

		case key := <-l.delCh:
			if ele, ok := items[key]; ok {
				remove(ele)
			}

		case resp := <-l.lenCh:
			resp <- ll.Len()
		}
	}
}

var _ Cache = (*LRU)(nil)
