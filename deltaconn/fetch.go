package deltaconn

// maxConcurrentFetches bounds cache-miss requests in flight per Manager.
const maxConcurrentFetches = 4

type refWaiter struct {
	ref  *ForwardMsg
	done func(*ForwardMsg, error)
}

// fetchQueue resolves cache misses through the message fetcher, at most
// limit at a time. Refs to a hash already being fetched wait on that
// request. Owned by the manager loop.
type fetchQueue struct {
	m       *Manager
	limit   int
	active  int
	waiting map[string][]refWaiter
	queue   []string
	spawn   func(func())
}

func newFetchQueue(m *Manager, limit int) *fetchQueue {
	return &fetchQueue{
		m:       m,
		limit:   limit,
		waiting: make(map[string][]refWaiter),
		spawn:   func(fn func()) { go fn() },
	}
}

// request completes done with the original for ref once it is fetched.
func (q *fetchQueue) request(ref *ForwardMsg, done func(*ForwardMsg, error)) {
	hash := ref.RefHash
	_, pending := q.waiting[hash]
	q.waiting[hash] = append(q.waiting[hash], refWaiter{ref: ref, done: done})
	if pending {
		return
	}
	q.queue = append(q.queue, hash)
	q.startNext()
}

// inFlight returns the number of running fetches.
func (q *fetchQueue) inFlight() int { return q.active }

func (q *fetchQueue) startNext() {
	for q.active < q.limit && len(q.queue) > 0 {
		hash := q.queue[0]
		q.queue = q.queue[1:]
		q.active++

		ctx, cache, decode, post := q.m.runCtx, q.m.cache, q.m.decode, q.m.loop.post
		q.spawn(func() {
			msg, err := cache.Fetch(ctx, hash, decode)
			post(func() { q.finish(hash, msg, err) })
		})
	}
}

func (q *fetchQueue) finish(hash string, msg *ForwardMsg, err error) {
	q.active--
	waiters := q.waiting[hash]
	delete(q.waiting, hash)
	if err == nil {
		q.m.cache.Put(msg)
	} else {
		q.m.logger.Warn("message fetch failed", map[string]any{"hash": hash, "error": err.Error()})
	}
	for _, w := range waiters {
		if err != nil {
			w.done(nil, err)
			continue
		}
		w.done(withMetadata(msg, w.ref.Metadata), nil)
	}
	q.startNext()
}
