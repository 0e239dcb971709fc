// Package journal persists controller decision events in a bbolt database so
// that the operator log survives restarts.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/itohio/pumpctl/pkg/control"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

const (
	bucketEvents = "events"
	queueSize    = 256
)

// Journal appends events asynchronously: Append only enqueues, a background
// writer commits batches. Events that do not fit in the queue are dropped
// and counted.
type Journal struct {
	db  *bolt.DB
	log zerolog.Logger

	queue chan control.Event
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped int
}

type record struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

// Open opens or creates the journal database at path.
func Open(path string, log zerolog.Logger) (*Journal, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketEvents))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal %s: %w", path, err)
	}

	j := &Journal{
		db:    db,
		log:   log.With().Str("journal", path).Logger(),
		queue: make(chan control.Event, queueSize),
		done:  make(chan struct{}),
	}
	go j.run()
	return j, nil
}

// Append enqueues an event. It never blocks.
func (j *Journal) Append(e control.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return
	}
	select {
	case j.queue <- e:
	default:
		j.dropped++
	}
}

// Dropped returns the number of events lost to a full queue.
func (j *Journal) Dropped() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dropped
}

// Recent returns up to n most recent events, oldest first.
func (j *Journal) Recent(n int) ([]control.Event, error) {
	if n <= 0 {
		return nil, nil
	}

	var out []control.Event
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketEvents)).Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("corrupt journal record %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, control.Event{Time: r.Time, Kind: control.EventKind(r.Kind), Message: r.Message})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

// Close flushes queued events and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()

	<-j.done
	return j.db.Close()
}

func (j *Journal) run() {
	defer close(j.done)

	for e := range j.queue {
		batch := []control.Event{e}
	fill:
		for len(batch) < queueSize {
			select {
			case next, ok := <-j.queue:
				if !ok {
					break fill
				}
				batch = append(batch, next)
			default:
				break fill
			}
		}

		if err := j.write(batch); err != nil {
			j.log.Error().Err(err).Int("events", len(batch)).Msg("journal write failed")
		}
	}
}

func (j *Journal) write(batch []control.Event) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketEvents))
		for _, e := range batch {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			v, err := json.Marshal(record{Time: e.Time, Kind: string(e.Kind), Message: e.Message})
			if err != nil {
				return err
			}
			key := make([]byte, 8)
			binary.BigEndian.PutUint64(key, seq)
			if err := b.Put(key, v); err != nil {
				return err
			}
		}
		return nil
	})
}
