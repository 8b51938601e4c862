package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AntoniyaJency/railopt/internal/common/logger"
	"github.com/AntoniyaJency/railopt/pkg/railway"
)

const (
	ringSize      = 4096
	queueSize     = 1024
	writeBatch    = 256
	flushInterval = 2 * time.Second
	writeTimeout  = 5 * time.Second
)

// Recorder fans mutation records into an in-memory ring (always) and a
// durable store (when configured). Record never blocks the caller: when the
// write queue is full the entry is kept in the ring only.
type Recorder struct {
	store Store
	log   logger.Logger
	now   func() time.Time

	mu     sync.Mutex
	ring   []Entry
	closed bool

	ch   chan Entry
	done chan struct{}
}

func NewRecorder(store Store, log logger.Logger) *Recorder {
	r := &Recorder{
		store: store,
		log:   log,
		now:   time.Now,
		ch:    make(chan Entry, queueSize),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Record appends one field mutation.
func (r *Recorder) Record(train railway.TrainID, field, oldValue, newValue string) {
	e := Entry{
		ID:       uuid.NewString(),
		Train:    train,
		Field:    field,
		OldValue: oldValue,
		NewValue: newValue,
		At:       r.now(),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.ring = append(r.ring, e)
	if len(r.ring) > ringSize {
		r.ring = r.ring[len(r.ring)-ringSize:]
	}
	r.mu.Unlock()

	if r.store == nil {
		return
	}
	select {
	case r.ch <- e:
	default:
		r.log.Warn("audit queue full, entry kept in ring only", "train_id", e.Train, "field", e.Field)
	}
}

// Recent returns up to limit entries, newest first.
func (r *Recorder) Recent(limit int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.ring)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, r.ring[i])
	}
	return out
}

// TrainHistory returns the recorded entries for one train, oldest first.
func (r *Recorder) TrainHistory(id railway.TrainID) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Entry
	for _, e := range r.ring {
		if e.Train == id {
			out = append(out, e)
		}
	}
	return out
}

// Snapshot persists a JSON dump of the train set to the durable store.
// A nil store makes it a no-op.
func (r *Recorder) Snapshot(ctx context.Context, trains []railway.Train) error {
	if r.store == nil {
		return nil
	}
	data, err := json.Marshal(trains)
	if err != nil {
		return err
	}
	snap := Snapshot{
		ID:      uuid.NewString(),
		TakenAt: r.now(),
		Trains:  len(trains),
		Data:    data,
	}
	return r.store.SaveSnapshot(ctx, snap)
}

// Close drains the write queue, flushes pending entries and closes the
// underlying store.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.ch)
	<-r.done

	if r.store != nil {
		return r.store.Close()
	}
	return nil
}

// run drains the queue into the store in batches.
func (r *Recorder) run() {
	defer close(r.done)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, writeBatch)
	flush := func() {
		if len(batch) == 0 || r.store == nil {
			batch = batch[:0]
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.store.WriteEntries(ctx, batch); err != nil {
			r.log.Error("writing audit batch failed", "error", err, "entries", len(batch))
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-r.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= writeBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
