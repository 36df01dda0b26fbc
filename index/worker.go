package index

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/intellect4all/lstore/common"
)

// OpKind enumerates the batched-request protocol spec.md §4.8 defines for
// an async secondary index: Insert, Delete, Search, SaveIndex, LoadIndex.
type OpKind int

const (
	OpInsert OpKind = iota
	OpDelete
	OpSearch
	OpSaveIndex
	OpLoadIndex
)

// Request carries a monotonically increasing id so responses can be
// matched back to callers even when processed out of submission order
// within a batch.
type Request struct {
	ID    int64
	Kind  OpKind
	Value int64
	RID   common.RID
	Path  string
}

// Response is the batched reply to a Request, keyed by the same ID.
type Response struct {
	ID     int64
	Result []common.RID
	Err    error
}

// Worker runs a secondary index as a single-consumer actor: an in-box of
// batched requests and an out-box of results keyed by request id. Whether
// the actor is a goroutine (here) or a separate OS process (the original's
// mp_secondary.py) is an implementation choice the spec deliberately
// leaves open — only the batched request/response protocol is the
// contract (spec.md §9).
//
// Grounded on the teacher's hashindex.go background-worker-goroutine +
// stop-channel idiom, generalized from a single compaction job to a
// typed request/response queue pair.
type Worker struct {
	sec *Secondary

	reqCh chan Request
	stop  chan struct{}
	wg    sync.WaitGroup

	nextID int64

	mu        sync.Mutex
	pending   map[int64]chan Response
	completed map[int64]Response

	outstanding sync.WaitGroup

	log *logrus.Logger
}

// NewWorker returns a worker wrapping sec, not yet started.
func NewWorker(sec *Secondary, queueDepth int, log *logrus.Logger) *Worker {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Worker{
		sec:       sec,
		reqCh:     make(chan Request, queueDepth),
		stop:      make(chan struct{}),
		pending:   make(map[int64]chan Response),
		completed: make(map[int64]Response),
		log:       log,
	}
}

// Start launches the background consumer goroutine.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
}

// Stop drains the queue and waits for the goroutine to exit, mirroring the
// merger's close contract (spec.md §5: "Async-index workers are stopped via
// their stop event").
func (w *Worker) Stop() {
	close(w.stop)
	w.wg.Wait()
}

func (w *Worker) run() {
	defer w.wg.Done()
	const maxBatch = 64
	for {
		select {
		case req := <-w.reqCh:
			batch := []Request{req}
			for len(batch) < maxBatch {
				select {
				case r := <-w.reqCh:
					batch = append(batch, r)
				default:
					goto processBatch
				}
			}
		processBatch:
			for _, r := range batch {
				w.handle(r)
			}
		case <-w.stop:
			for {
				select {
				case req, ok := <-w.reqCh:
					if !ok {
						return
					}
					w.handle(req)
				default:
					return
				}
			}
		}
	}
}

func (w *Worker) handle(req Request) {
	resp := Response{ID: req.ID}
	switch req.Kind {
	case OpInsert:
		w.sec.Add(req.Value, req.RID)
	case OpDelete:
		w.sec.Delete(req.Value, req.RID)
	case OpSearch:
		resp.Result = w.sec.Search(req.Value)
	case OpSaveIndex:
		resp.Err = w.saveTo(req.Path)
	case OpLoadIndex:
		resp.Err = w.loadFrom(req.Path)
	}

	w.mu.Lock()
	done, hasWaiter := w.pending[req.ID]
	delete(w.pending, req.ID)
	w.completed[req.ID] = resp
	w.mu.Unlock()

	if hasWaiter {
		done <- resp
	}
	w.outstanding.Done()
}

func (w *Worker) saveTo(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "index worker: save %q", path)
	}
	defer f.Close()
	return w.sec.Save(f)
}

func (w *Worker) loadFrom(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "index worker: load %q", path)
	}
	defer f.Close()
	return w.sec.Load(f)
}

// submit posts req, assigning it the next request id, and returns that id.
// Enqueue is synchronous-from-the-caller's-viewpoint everywhere except
// here: the send can block if the queue is momentarily full, matching
// spec.md §5's framing of async-index posting as the one operation that
// "posts a request and returns, leaving completion observable through
// wait_* APIs."
func (w *Worker) submit(kind OpKind, value int64, rid common.RID, path string) int64 {
	id := atomic.AddInt64(&w.nextID, 1)
	done := make(chan Response, 1)

	w.mu.Lock()
	w.pending[id] = done
	w.mu.Unlock()
	w.outstanding.Add(1)

	w.reqCh <- Request{ID: id, Kind: kind, Value: value, RID: rid, Path: path}
	return id
}

// Insert posts an async add and returns its request id.
func (w *Worker) Insert(value int64, rid common.RID) int64 { return w.submit(OpInsert, value, rid, "") }

// Delete posts an async delete and returns its request id.
func (w *Worker) Delete(value int64, rid common.RID) int64 { return w.submit(OpDelete, value, rid, "") }

// Search posts an async search and returns its request id; the result is
// retrieved via WaitFor.
func (w *Worker) Search(value int64) int64 { return w.submit(OpSearch, value, 0, "") }

// SaveIndex posts an async persist-to-disk and returns its request id.
func (w *Worker) SaveIndex(path string) int64 { return w.submit(OpSaveIndex, 0, 0, path) }

// LoadIndex posts an async load-from-disk and returns its request id.
func (w *Worker) LoadIndex(path string) int64 { return w.submit(OpLoadIndex, 0, 0, path) }

// WaitFor blocks until the response for id is available, returning it
// immediately if it already completed (preemptive wait-for-specific-id,
// spec.md §4.8).
func (w *Worker) WaitFor(id int64) Response {
	w.mu.Lock()
	if resp, ok := w.completed[id]; ok {
		delete(w.completed, id)
		w.mu.Unlock()
		return resp
	}
	done, ok := w.pending[id]
	w.mu.Unlock()
	if !ok {
		return Response{ID: id}
	}
	return <-done
}

// WaitAll blocks until every request submitted so far has been processed
// (synchronous wait_all, spec.md §4.8).
func (w *Worker) WaitAll() {
	w.outstanding.Wait()
}
