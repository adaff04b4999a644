// Package ring implements the fixed arena of frame slots shared by the
// producer and the dispatcher, and the bounded queue of published slot
// indices between them.
package ring

// Frame is one acquired sample set: Channels rows of Samples values stored
// row-major in Data, plus the trigger metadata stamped by the producer.
type Frame struct {
	Seq       uint64  // trigger sequence number, starts at 1
	Timestamp float64 // seconds since run start
	Channels  int
	Samples   int
	Data      []float32
}

// Channel returns the samples of channel ch. The slice aliases Data.
func (f Frame) Channel(ch int) []float32 {
	if ch < 0 || ch >= f.Channels {
		return nil
	}
	return f.Data[ch*f.Samples : (ch+1)*f.Samples]
}

// Clone returns a deep copy of the frame.
func (f Frame) Clone() Frame {
	c := f
	c.Data = make([]float32, len(f.Data))
	copy(c.Data, f.Data)
	return c
}

// Slot is a frame slot owned by a Store. Its buffer is allocated once and
// rewritten in place by the producer.
type Slot struct {
	Frame
	index int
}

// Index returns the slot's position in the store.
func (s *Slot) Index() int {
	return s.index
}

// Stamp sets the trigger metadata.
func (s *Slot) Stamp(seq uint64, timestamp float64) {
	s.Seq = seq
	s.Timestamp = timestamp
}
