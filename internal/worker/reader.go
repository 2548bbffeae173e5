package worker

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Sink is the durable append target for discovered domains. A failed Record
// degrades the owning search; the reader stops forwarding but keeps draining
// the stream so the worker never blocks on a full pipe.
type Sink interface {
	Record(ctx context.Context, searchID int64, domain string, discoveredAt time.Time) error
}

// maxLineSize bounds a single output line; certpatrol emits bare domains, so
// anything beyond this is garbage, not data.
const maxLineSize = 64 * 1024

// Reader converts one worker's raw stdout into discrete result records.
// Blank lines and lines carrying a configured diagnostic prefix are dropped;
// everything else is forwarded verbatim. Run exits on stream EOF, which is
// observable via Done independently of process exit.
type Reader struct {
	searchID int64
	src      io.Reader
	sink     Sink
	skip     []string
	logger   *slog.Logger

	count    atomic.Int64
	mu       sync.Mutex
	err      error
	degraded chan struct{}
	done     chan struct{}
}

func NewReader(searchID int64, src io.Reader, sink Sink, skipPrefixes []string, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		searchID: searchID,
		src:      src,
		sink:     sink,
		skip:     skipPrefixes,
		logger:   logger,
		degraded: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run consumes the stream until EOF. A closed pipe is not an error: it means
// the worker is gone, which the supervisor classifies from the process exit.
// An unreadable stream (an oversized line) degrades the reader the same way a
// failed sink does; draining continues either way so the worker never blocks
// on a full pipe.
func (r *Reader) Run(ctx context.Context) {
	defer close(r.done)
	sc := bufio.NewScanner(r.src)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || r.diagnostic(line) {
			continue
		}
		if r.Err() != nil {
			// Degraded: drain without forwarding so the worker can still
			// write until the supervisor tears it down.
			continue
		}
		if err := r.sink.Record(ctx, r.searchID, line, time.Now().UTC()); err != nil {
			r.degrade(err)
			r.logger.Error("result sink rejected record, degrading search",
				"search_id", r.searchID, "error", err)
			continue
		}
		r.count.Add(1)
	}
	if err := sc.Err(); err != nil {
		// An oversized line stops the scanner mid-stream; records after it
		// cannot be attributed reliably. Degrade rather than silently drop
		// them, and keep draining raw bytes until the supervisor tears the
		// worker down.
		r.degrade(err)
		r.logger.Error("worker output stream unreadable, degrading search",
			"search_id", r.searchID, "error", err)
		_, _ = io.Copy(io.Discard, r.src)
	}
}

// degrade records the first failure and signals Degraded exactly once.
func (r *Reader) degrade(err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = err
		close(r.degraded)
	}
	r.mu.Unlock()
}

func (r *Reader) diagnostic(line string) bool {
	for _, p := range r.skip {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// Done is closed when the stream has been fully consumed.
func (r *Reader) Done() <-chan struct{} { return r.done }

// Degraded is closed when the sink has rejected a record or the stream has
// become unreadable; the supervisor uses it to fail the search instead of
// silently losing data.
func (r *Reader) Degraded() <-chan struct{} { return r.degraded }

// Err returns the failure that degraded this reader, if any.
func (r *Reader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Count returns the number of records forwarded so far.
func (r *Reader) Count() int64 { return r.count.Load() }
