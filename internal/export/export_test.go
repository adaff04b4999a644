package export

import (
	"context"
	"errors"
	"math"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/randomizedcoder/go-daq-bufman/internal/bufman"
	"github.com/randomizedcoder/go-daq-bufman/internal/device"
	"github.com/randomizedcoder/go-daq-bufman/internal/logging"
	"github.com/randomizedcoder/go-daq-bufman/internal/ring"
)

// socketPath returns a short path; t.TempDir can exceed sun_path.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "bm")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "x.sock")
}

func testEvent(seq uint64) bufman.Event {
	data := []float32{1, 2, 3, 4, 5, 6}
	return bufman.Event{
		Frame: ring.Frame{Seq: seq, Timestamp: 0.5, Channels: 2, Samples: 3, Data: data},
		Mode:  bufman.DataCopy,
	}
}

func TestSnapshot_Verify(t *testing.T) {
	s := NewSnapshot(testEvent(7))
	if err := s.Verify(); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got := s.Channel(1); len(got) != 3 || got[0] != 4 {
		t.Errorf("Channel(1) = %v, want [4 5 6]", got)
	}
	if s.Channel(2) != nil {
		t.Error("Channel(2) should be nil")
	}

	tampered := s
	tampered.Data = append([]float32(nil), s.Data...)
	tampered.Data[0] = 99
	if err := tampered.Verify(); !errors.Is(err, ErrDigestMismatch) {
		t.Errorf("Verify() tampered error = %v, want ErrDigestMismatch", err)
	}

	short := s
	short.Data = s.Data[:2]
	if err := short.Verify(); err == nil {
		t.Error("Verify() with short data should fail")
	}
}

func TestSnapshot_CopiesData(t *testing.T) {
	ev := testEvent(1)
	s := NewSnapshot(ev)
	ev.Data[0] = 42
	if s.Data[0] != 1 {
		t.Errorf("snapshot aliased event data: %v", s.Data[0])
	}
}

func TestDigest_Stable(t *testing.T) {
	a := Digest([]float32{1, 2, 3})
	b := Digest([]float32{1, 2, 3})
	c := Digest([]float32{1, 2, 4})
	if a != b {
		t.Error("digest not deterministic")
	}
	if a == c {
		t.Error("different data produced the same digest")
	}
	if len(a) != 64 {
		t.Errorf("len(digest) = %d, want 64", len(a))
	}
}

func TestLookup(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"", TransportJSON, false},
		{"json", TransportJSON, false},
		{"carrier-pigeon", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := Lookup(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Lookup(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if err == nil && tr.Name() != tt.want {
				t.Errorf("Lookup(%q).Name() = %q, want %q", tt.name, tr.Name(), tt.want)
			}
		})
	}
}

func TestJSON_RoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	enc := JSON{}.NewEncoder(a)
	dec := JSON{}.NewDecoder(b)

	want := []Snapshot{NewSnapshot(testEvent(1)), NewSnapshot(testEvent(2))}
	go func() {
		for _, s := range want {
			if err := enc.Encode(s); err != nil {
				return
			}
		}
		a.Close()
	}()

	for _, w := range want {
		got, err := dec.Decode()
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if got.Seq != w.Seq || got.Digest != w.Digest {
			t.Errorf("Decode() = seq %d digest %s, want seq %d digest %s", got.Seq, got.Digest, w.Seq, w.Digest)
		}
		if err := got.Verify(); err != nil {
			t.Errorf("Verify() error = %v", err)
		}
	}
	if _, err := dec.Decode(); err == nil {
		t.Error("Decode() after close should fail")
	}
}

func TestJSON_NonFiniteSamples(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	data := []float32{
		float32(math.NaN()), float32(math.Inf(1)), float32(math.Inf(-1)),
		0.1, -1e-30, math.MaxFloat32,
	}
	want := NewSnapshot(bufman.Event{
		Frame: ring.Frame{Seq: 9, Channels: 2, Samples: 3, Data: data},
		Mode:  bufman.DataCopy,
	})

	errc := make(chan error, 1)
	go func() { errc <- JSON{}.NewEncoder(a).Encode(want) }()

	got, err := JSON{}.NewDecoder(b).Decode()
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(got.Data) != len(data) {
		t.Fatalf("len(Data) = %d, want %d", len(got.Data), len(data))
	}
	for i := range data {
		if math.Float32bits(got.Data[i]) != math.Float32bits(data[i]) {
			t.Errorf("Data[%d] = %v, want %v", i, got.Data[i], data[i])
		}
	}
	if err := got.Verify(); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestJSONSamples_UnmarshalErrors(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantLen int
		wantErr bool
	}{
		{"null", `null`, 0, false},
		{"empty", `[]`, 0, false},
		{"spaces", ` [ 1 , "NaN" ] `, 2, false},
		{"not array", `{"a":1}`, 0, true},
		{"bad token", `[1,"Inf"]`, 0, true},
		{"bad number", `[1,x]`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v jsonSamples
			err := v.UnmarshalJSON([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("UnmarshalJSON(%s) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && len(v) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(v), tt.wantLen)
			}
		})
	}
}

func TestNewServer_Validation(t *testing.T) {
	long := "/tmp/" + string(make([]byte, MaxSocketPathLen))
	tests := []struct {
		name string
		path string
	}{
		{"empty", ""},
		{"too_long", long},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewServer(nil, ServerConfig{Path: tt.path}); err == nil {
				t.Errorf("NewServer(%q) should fail", tt.name)
			}
		})
	}
}

func startManager(t *testing.T) *bufman.Manager {
	t.Helper()
	cfg := bufman.DefaultConfig()
	cfg.Buffers = 4
	cfg.Channels = 2
	cfg.Samples = 16
	cfg.StopGrace = 200 * time.Millisecond
	cfg.Device = &device.Counting{Interval: time.Millisecond}
	cfg.Logger = logging.Discard()
	m, err := bufman.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		m.End()
		<-m.Done()
	})
	return m
}

func startServer(t *testing.T, m *bufman.Manager, cfg ServerConfig) *Server {
	t.Helper()
	cfg.Logger = logging.Discard()
	srv, err := NewServer(m, cfg)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Error("server did not stop")
		}
	})

	select {
	case <-srv.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server never listened")
	}
	return srv
}

func TestServer_StreamsFrames(t *testing.T) {
	m := startManager(t)
	path := socketPath(t)
	srv := startServer(t, m, ServerConfig{Path: path, MaxClients: 2})

	c, err := Dial(context.Background(), path, JSON{})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	if err := m.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var last uint64
	for i := 0; i < 5; i++ {
		s, err := c.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if s.Seq <= last {
			t.Errorf("seq %d after %d", s.Seq, last)
		}
		last = s.Seq
		if s.Channels != 2 || s.Samples != 16 {
			t.Errorf("shape = %dx%d, want 2x16", s.Channels, s.Samples)
		}
	}

	if got := srv.Stats(); got.Accepted != 1 || got.Channels != 1 {
		t.Errorf("Stats() = %+v, want 1 accepted on 1 channel", got)
	}
}

func TestServer_RejectsOverLimit(t *testing.T) {
	m := startManager(t)
	path := socketPath(t)
	srv := startServer(t, m, ServerConfig{Path: path, MaxClients: 1})

	first, err := Dial(context.Background(), path, JSON{})
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()

	waitStat(t, "first client active", func() bool { return srv.Stats().Active == 1 })

	second, err := Dial(context.Background(), path, JSON{})
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	if _, err := second.Next(); err == nil {
		t.Error("second client should be closed by the server")
	}
	waitStat(t, "rejection", func() bool { return srv.Stats().Rejected == 1 })
}

func TestServer_ReusesChannels(t *testing.T) {
	m := startManager(t)
	path := socketPath(t)
	srv := startServer(t, m, ServerConfig{Path: path, MaxClients: 1})

	for i := 0; i < 3; i++ {
		c, err := Dial(context.Background(), path, JSON{})
		if err != nil {
			t.Fatal(err)
		}
		waitStat(t, "client active", func() bool { return srv.Stats().Active == 1 })
		c.Close()
		waitStat(t, "client released", func() bool { return srv.Stats().Active == 0 })
	}

	got := srv.Stats()
	if got.Accepted != 3 || got.Rejected != 0 {
		t.Errorf("Stats() = %+v, want 3 accepted 0 rejected", got)
	}
	if _, ext := m.Consumers(); ext != 1 {
		t.Errorf("external registrations = %d, want 1", ext)
	}
}

func waitStat(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
