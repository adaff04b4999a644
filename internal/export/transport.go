package export

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"net"
	"strconv"

	"github.com/sugawarayuuta/sonnet"
)

// Transport names.
const (
	TransportJSON  = "json"
	TransportMemfd = "memfd"
)

// maxLineSize bounds one JSON encoded snapshot.
const maxLineSize = 64 * 1024 * 1024

// Transport frames snapshots on a connection.
type Transport interface {
	Name() string
	// Network is the net.Listen network the transport needs.
	Network() string
	NewEncoder(conn net.Conn) Encoder
	NewDecoder(conn net.Conn) Decoder
}

// Encoder writes snapshots.
type Encoder interface {
	Encode(s Snapshot) error
}

// Decoder reads snapshots.
type Decoder interface {
	Decode() (Snapshot, error)
}

// Lookup returns the transport called name.
func Lookup(name string) (Transport, error) {
	switch name {
	case "", TransportJSON:
		return JSON{}, nil
	case TransportMemfd:
		return newMemfd()
	default:
		return nil, fmt.Errorf("export: unknown transport %q (want %s or %s)", name, TransportJSON, TransportMemfd)
	}
}

// JSON sends one JSON object per line on a stream socket. Non-finite
// samples are sent as the strings "NaN", "+Inf" and "-Inf"; a NaN is
// decoded as the canonical quiet NaN.
type JSON struct{}

func (JSON) Name() string    { return TransportJSON }
func (JSON) Network() string { return "unix" }

func (JSON) NewEncoder(conn net.Conn) Encoder {
	return &jsonEncoder{w: bufio.NewWriter(conn)}
}

func (JSON) NewDecoder(conn net.Conn) Decoder {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	return &jsonDecoder{scanner: scanner}
}

type jsonEncoder struct {
	w *bufio.Writer
}

func (e *jsonEncoder) Encode(s Snapshot) error {
	line, err := sonnet.Marshal(toJSONSnapshot(s))
	if err != nil {
		return fmt.Errorf("marshal frame %d: %w", s.Seq, err)
	}
	if _, err := e.w.Write(append(line, '\n')); err != nil {
		return err
	}
	return e.w.Flush()
}

type jsonDecoder struct {
	scanner *bufio.Scanner
}

func (d *jsonDecoder) Decode() (Snapshot, error) {
	if !d.scanner.Scan() {
		if err := d.scanner.Err(); err != nil {
			return Snapshot{}, err
		}
		return Snapshot{}, io.EOF
	}
	var js jsonSnapshot
	if err := sonnet.Unmarshal(d.scanner.Bytes(), &js); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return js.snapshot(), nil
}

// jsonSnapshot is Snapshot with samples that survive NaN and ±Inf.
type jsonSnapshot struct {
	Seq       uint64      `json:"seq"`
	Timestamp float64     `json:"timestamp"`
	Channels  int         `json:"channels"`
	Samples   int         `json:"samples"`
	Digest    string      `json:"digest"`
	Data      jsonSamples `json:"data,omitempty"`
}

func toJSONSnapshot(s Snapshot) jsonSnapshot {
	return jsonSnapshot{
		Seq:       s.Seq,
		Timestamp: s.Timestamp,
		Channels:  s.Channels,
		Samples:   s.Samples,
		Digest:    s.Digest,
		Data:      jsonSamples(s.Data),
	}
}

func (js jsonSnapshot) snapshot() Snapshot {
	return Snapshot{
		Seq:       js.Seq,
		Timestamp: js.Timestamp,
		Channels:  js.Channels,
		Samples:   js.Samples,
		Digest:    js.Digest,
		Data:      []float32(js.Data),
	}
}

type jsonSamples []float32

const (
	jsonNaN    = `"NaN"`
	jsonPosInf = `"+Inf"`
	jsonNegInf = `"-Inf"`
)

func (v jsonSamples) MarshalJSON() ([]byte, error) {
	b := make([]byte, 0, 2+len(v)*10)
	b = append(b, '[')
	for i, x := range v {
		if i > 0 {
			b = append(b, ',')
		}
		f := float64(x)
		switch {
		case math.IsNaN(f):
			b = append(b, jsonNaN...)
		case math.IsInf(f, 1):
			b = append(b, jsonPosInf...)
		case math.IsInf(f, -1):
			b = append(b, jsonNegInf...)
		default:
			b = strconv.AppendFloat(b, f, 'g', -1, 32)
		}
	}
	return append(b, ']'), nil
}

func (v *jsonSamples) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		*v = nil
		return nil
	}
	if len(data) < 2 || data[0] != '[' || data[len(data)-1] != ']' {
		return fmt.Errorf("samples: want array, got %.20q", data)
	}
	body := bytes.TrimSpace(data[1 : len(data)-1])
	if len(body) == 0 {
		*v = jsonSamples{}
		return nil
	}
	out := make(jsonSamples, 0, bytes.Count(body, []byte{','})+1)
	for _, tok := range bytes.Split(body, []byte{','}) {
		tok = bytes.TrimSpace(tok)
		switch string(tok) {
		case jsonNaN:
			out = append(out, float32(math.NaN()))
		case jsonPosInf:
			out = append(out, float32(math.Inf(1)))
		case jsonNegInf:
			out = append(out, float32(math.Inf(-1)))
		default:
			f, err := strconv.ParseFloat(string(tok), 32)
			if err != nil {
				return fmt.Errorf("samples[%d]: %w", len(out), err)
			}
			out = append(out, float32(f))
		}
	}
	*v = out
	return nil
}
