package ring

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/eapache/queue"
)

var (
	// ErrClosed is returned by blocking calls once the store is closed.
	ErrClosed = errors.New("ring: closed")

	// ErrDrained is returned by TakeNext after Finish once every published
	// index has been taken.
	ErrDrained = errors.New("ring: drained")

	// ErrOverlap is returned when a slot would be read and written at once.
	ErrOverlap = errors.New("ring: slot is the producer's write target")

	// ErrNotWriting is returned by Publish for a slot that was not handed
	// out by NextWritable.
	ErrNotWriting = errors.New("ring: slot not held for writing")
)

// Store is a fixed-capacity ring of frame slots plus the FIFO of published
// slot indices.
//
// Ownership protocol:
//   - the producer calls NextWritable, fills the slot, then Publish
//   - the dispatcher calls TakeNext, Expose, and Release when the round ends
//
// The write cursor never lands on the exposed slot or on a slot that is
// still queued, so a slot is written by one goroutine and read by others
// only while exposed.
type Store struct {
	slots []Slot

	mu       sync.Mutex
	cond     *sync.Cond
	queue    *queue.Queue // published slot indices, FIFO
	cursor   int          // last index handed to the producer
	writing  int          // index held by the producer, -1 if none
	active   int          // exposed index, -1 if none
	finished bool
	closed   bool
}

// New allocates a store of capacity slots, each holding channels×samples
// values.
func New(capacity, channels, samples int) (*Store, error) {
	if capacity < 2 {
		return nil, fmt.Errorf("ring: capacity must be at least 2, got %d", capacity)
	}
	if channels < 1 || samples < 1 {
		return nil, fmt.Errorf("ring: invalid frame shape %dx%d", channels, samples)
	}

	s := &Store{
		slots:   make([]Slot, capacity),
		queue:   queue.New(),
		cursor:  -1,
		writing: -1,
		active:  -1,
	}
	s.cond = sync.NewCond(&s.mu)

	// One backing arena, sliced per slot.
	arena := make([]float32, capacity*channels*samples)
	size := channels * samples
	for i := range s.slots {
		s.slots[i] = Slot{
			Frame: Frame{
				Channels: channels,
				Samples:  samples,
				Data:     arena[i*size : (i+1)*size : (i+1)*size],
			},
			index: i,
		}
	}
	return s, nil
}

// Cap returns the number of slots.
func (s *Store) Cap() int {
	return len(s.slots)
}

// Slot returns slot i. Callers must follow the ownership protocol.
func (s *Store) Slot(i int) *Slot {
	return &s.slots[i]
}

// NextWritable advances the write cursor and returns the slot index the
// producer may fill. It blocks while the candidate is exposed or still
// queued.
func (s *Store) NextWritable(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writing >= 0 {
		return s.writing, nil
	}

	candidate := (s.cursor + 1) % len(s.slots)
	err := s.waitLocked(ctx, func() bool {
		return candidate != s.active && !s.queuedLocked(candidate)
	})
	if err != nil {
		return -1, err
	}
	s.cursor = candidate
	s.writing = candidate
	return candidate, nil
}

// Publish hands slot i to the dispatcher. It blocks while the queue already
// holds every slot.
func (s *Store) Publish(ctx context.Context, i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i != s.writing {
		return fmt.Errorf("%w: %d", ErrNotWriting, i)
	}
	if s.finished {
		return ErrDrained
	}
	err := s.waitLocked(ctx, func() bool {
		return s.queue.Length() < len(s.slots)
	})
	if err != nil {
		return err
	}
	s.queue.Add(i)
	s.writing = -1
	s.cond.Broadcast()
	return nil
}

// TakeNext removes the oldest published index, blocking while none is
// queued. After Finish it returns ErrDrained once the queue is empty.
func (s *Store) TakeNext(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.waitLocked(ctx, func() bool {
		return s.queue.Length() > 0 || s.finished
	})
	if err != nil {
		return -1, err
	}
	if s.queue.Length() == 0 {
		return -1, ErrDrained
	}
	i := s.queue.Remove().(int)
	s.cond.Broadcast()
	return i, nil
}

// Expose marks slot i as the active slot.
func (s *Store) Expose(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i == s.writing {
		return fmt.Errorf("%w: %d", ErrOverlap, i)
	}
	if s.active >= 0 && s.active != i {
		return fmt.Errorf("ring: slot %d exposed while %d is active", i, s.active)
	}
	s.active = i
	return nil
}

// Release clears the active slot and wakes a waiting producer.
func (s *Store) Release() {
	s.mu.Lock()
	s.active = -1
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Active returns the exposed slot index, or -1.
func (s *Store) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Writing returns the slot index held by the producer, or -1.
func (s *Store) Writing() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writing
}

// Len returns the number of queued indices.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Length()
}

// Occupancy returns the queued share of capacity in percent.
func (s *Store) Occupancy() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(s.queue.Length()) * 100 / float64(len(s.slots))
}

// Idle reports whether nothing is queued or exposed.
func (s *Store) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Length() == 0 && s.active < 0
}

// WaitIdle blocks until nothing is queued or exposed.
func (s *Store) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitLocked(ctx, func() bool {
		return s.queue.Length() == 0 && s.active < 0
	})
}

// Finish marks the end of production. Already queued indices can still be
// taken; after that TakeNext reports ErrDrained.
func (s *Store) Finish() {
	s.mu.Lock()
	s.finished = true
	s.writing = -1
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Close wakes every blocked caller with ErrClosed.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Store) queuedLocked(i int) bool {
	for n := 0; n < s.queue.Length(); n++ {
		if s.queue.Get(n).(int) == i {
			return true
		}
	}
	return false
}

// waitLocked waits on the condition variable until ready holds, the store
// is closed, or ctx is done. s.mu must be held.
func (s *Store) waitLocked(ctx context.Context, ready func() bool) error {
	if s.closed {
		return ErrClosed
	}
	if ready() {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	for !ready() {
		if s.closed {
			return ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		s.cond.Wait()
	}
	return nil
}
