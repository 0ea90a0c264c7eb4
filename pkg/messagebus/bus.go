// Package messagebus implements the durable queue of internal messages.
//
// Guarantees: every enqueued message is delivered at least once, and along a
// given sender->receiver edge messages are delivered in send order. There is
// no order across distinct edges. Entries are removed only when the
// receiving transaction acknowledges after commit, so a crash between
// delivery and ack yields redelivery, never loss.
package messagebus

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/emberchain/ember/pkg/address"
	"github.com/emberchain/ember/pkg/metrics"
	"github.com/emberchain/ember/pkg/types"
)

var log = logging.Logger("messagebus")

var (
	entryPrefix   = []byte{'q'}
	counterPrefix = []byte{'c'}
)

// ErrNotInternal is returned when a non-internal message is enqueued.
var ErrNotInternal = errors.New("only internal messages ride the bus")

// Queued is a pending bus entry: an internal message plus its position on
// its sender->receiver edge.
type Queued struct {
	From address.Address
	To   address.Address
	Seq  uint64
	Msg  *types.Message
}

// Bus is the durable per-edge FIFO log. Safe for concurrent access.
type Bus struct {
	mu      sync.Mutex
	db      *leveldb.DB
	pending int64
	notify  chan struct{}
}

// NewBus opens a bus over a leveldb handle. Entries already in the log (from
// a previous run that crashed before ack) become deliverable again.
func NewBus(db *leveldb.DB) (*Bus, error) {
	b := &Bus{
		db:     db,
		notify: make(chan struct{}, 1),
	}

	iter := db.NewIterator(util.BytesPrefix(entryPrefix), nil)
	defer iter.Release()
	for iter.Next() {
		b.pending++
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "failed to scan pending entries")
	}
	if b.pending > 0 {
		log.Infow("recovered pending messages", "count", b.pending)
		b.wake()
	}
	metrics.BusPending.Set(float64(b.pending))
	return b, nil
}

func edgeKey(prefix []byte, from, to address.Address) []byte {
	key := make([]byte, 0, 1+2*address.Length+8)
	key = append(key, prefix...)
	key = append(key, from.Bytes()...)
	key = append(key, to.Bytes()...)
	return key
}

func entryKey(from, to address.Address, seq uint64) []byte {
	key := edgeKey(entryPrefix, from, to)
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], seq)
	return append(key, raw[:]...)
}

// Enqueue appends messages to their edges in one durable write. Sequence
// numbers are contiguous per edge, so FIFO order survives restarts.
func (b *Bus) Enqueue(ctx context.Context, msgs ...*types.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	batch := new(leveldb.Batch)
	next := make(map[string]uint64)
	for _, msg := range msgs {
		if msg.Kind != types.Internal {
			return ErrNotInternal
		}

		ck := edgeKey(counterPrefix, msg.From, msg.To)
		seq, ok := next[string(ck)]
		if !ok {
			var err error
			seq, err = b.readCounter(ck)
			if err != nil {
				return err
			}
		}

		raw, err := msg.Marshal()
		if err != nil {
			return errors.Wrap(err, "failed to encode message")
		}
		batch.Put(entryKey(msg.From, msg.To, seq), raw)

		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], seq+1)
		batch.Put(ck, buf[:])
		next[string(ck)] = seq + 1
	}

	if err := b.db.Write(batch, nil); err != nil {
		return errors.Wrap(err, "bus write failed")
	}
	b.pending += int64(len(msgs))
	metrics.MessagesEnqueued.Add(float64(len(msgs)))
	metrics.BusPending.Set(float64(b.pending))
	b.wake()
	return nil
}

func (b *Bus) readCounter(ck []byte) (uint64, error) {
	raw, err := b.db.Get(ck, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to read edge counter")
	}
	return binary.BigEndian.Uint64(raw), nil
}

// Heads returns the oldest undelivered entry of every edge. Only the head of
// an edge may be processed; the entry behind it becomes deliverable once the
// head is acked.
func (b *Bus) Heads(ctx context.Context) ([]*Queued, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var heads []*Queued
	iter := b.db.NewIterator(util.BytesPrefix(entryPrefix), nil)
	defer iter.Release()

	ok := iter.Next()
	for ok {
		q, err := parseEntry(iter.Key(), iter.Value())
		if err != nil {
			return nil, err
		}
		heads = append(heads, q)

		// Skip the rest of this edge: seek to the largest possible key
		// of the edge, then step once if we landed exactly on it.
		bound := entryKey(q.From, q.To, ^uint64(0))
		ok = iter.Seek(bound)
		if ok && bytes.Equal(iter.Key(), bound) {
			ok = iter.Next()
		}
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "bus scan failed")
	}
	return heads, nil
}

// Ack removes a delivered entry. Call only after the receiving transaction
// has committed (or been definitively absorbed).
func (b *Bus) Ack(ctx context.Context, q *Queued) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.db.Delete(entryKey(q.From, q.To, q.Seq), nil); err != nil {
		return errors.Wrap(err, "bus ack failed")
	}
	if b.pending > 0 {
		b.pending--
	}
	metrics.MessagesAcked.Inc()
	metrics.BusPending.Set(float64(b.pending))
	return nil
}

// Pending returns the number of undelivered entries.
func (b *Bus) Pending() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

// Subscribe returns a channel that receives a tick whenever new entries
// arrive. The channel is buffered and coalescing.
func (b *Bus) Subscribe() <-chan struct{} {
	return b.notify
}

func (b *Bus) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func parseEntry(key, value []byte) (*Queued, error) {
	if len(key) != 1+2*address.Length+8 {
		return nil, errors.Errorf("malformed bus key of length %d", len(key))
	}
	from, err := address.NewFromBytes(key[1 : 1+address.Length])
	if err != nil {
		return nil, err
	}
	to, err := address.NewFromBytes(key[1+address.Length : 1+2*address.Length])
	if err != nil {
		return nil, err
	}
	msg, err := types.UnmarshalMessage(value)
	if err != nil {
		return nil, errors.Wrap(err, "corrupt bus entry")
	}
	return &Queued{
		From: from,
		To:   to,
		Seq:  binary.BigEndian.Uint64(key[len(key)-8:]),
		Msg:  msg,
	}, nil
}
