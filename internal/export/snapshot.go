// Package export streams frame snapshots to processes outside the manager
// over a unix domain socket.
//
// Each connected client is backed by one external channel, so a slow
// client only ever misses frames and never holds up acquisition.
package export

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"golang.org/x/crypto/sha3"

	"github.com/randomizedcoder/go-daq-bufman/internal/bufman"
)

// ErrDigestMismatch is returned when a received snapshot's samples do not
// hash to the digest sent with it.
var ErrDigestMismatch = errors.New("export: digest mismatch")

// Snapshot is the wire form of one frame.
type Snapshot struct {
	Seq       uint64    `json:"seq"`
	Timestamp float64   `json:"timestamp"`
	Channels  int       `json:"channels"`
	Samples   int       `json:"samples"`
	Digest    string    `json:"digest"`
	Data      []float32 `json:"data,omitempty"`
}

// NewSnapshot copies ev into a Snapshot and computes its digest.
func NewSnapshot(ev bufman.Event) Snapshot {
	data := make([]float32, len(ev.Data))
	copy(data, ev.Data)
	return Snapshot{
		Seq:       ev.Seq,
		Timestamp: ev.Timestamp,
		Channels:  ev.Channels,
		Samples:   ev.Samples,
		Digest:    Digest(data),
		Data:      data,
	}
}

// Digest returns the hex SHA3-256 of data encoded as little-endian float32.
func Digest(data []float32) string {
	sum := sha3.Sum256(encodeSamples(data))
	return hex.EncodeToString(sum[:])
}

// Verify checks the sample count and digest.
func (s Snapshot) Verify() error {
	if want := s.Channels * s.Samples; len(s.Data) != want {
		return fmt.Errorf("export: frame %d has %d samples, want %d", s.Seq, len(s.Data), want)
	}
	if Digest(s.Data) != s.Digest {
		return fmt.Errorf("%w: frame %d", ErrDigestMismatch, s.Seq)
	}
	return nil
}

// Channel returns the samples of channel ch.
func (s Snapshot) Channel(ch int) []float32 {
	if ch < 0 || ch >= s.Channels {
		return nil
	}
	return s.Data[ch*s.Samples : (ch+1)*s.Samples]
}

func encodeSamples(data []float32) []byte {
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeSamples(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return out
}
