package bufman

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randomizedcoder/go-daq-bufman/internal/device"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"pointer", PointerRef, false},
		{"0", PointerRef, false},
		{"copy", DataCopy, false},
		{"obligatory-copy", ObligatoryCopy, false},
		{"2", ObligatoryCopy, false},
		{"3", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v", tt.in, err)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidMode) {
				t.Errorf("error = %v, want ErrInvalidMode", err)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseMode(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
	if !PointerRef.Obligatory() || DataCopy.Obligatory() || !ObligatoryCopy.Obligatory() {
		t.Error("Obligatory() wrong")
	}
}

// TestObligatoryPointerRef_EndToEnd delivers 50 frames through a 4-slot
// ring to one pointer consumer and expects 1..50 exactly once each.
func TestObligatoryPointerRef_EndToEnd(t *testing.T) {
	dev := &device.Counting{MaxFrames: 50}
	cfg := testConfig(dev)
	cfg.Buffers = 4
	m, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	id, err := m.Register()
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := m.Request(id, PointerRef); err != nil {
		t.Fatal(err)
	}
	if err := m.Run(); err != nil {
		t.Fatal(err)
	}

	var seqs []uint64
	for {
		ev, err := m.Await(context.Background(), id)
		if errors.Is(err, ErrManagerEnded) {
			break
		}
		if err != nil {
			t.Fatalf("Await() error = %v", err)
		}
		for _, v := range ev.Data {
			if v != float32(ev.Seq) {
				t.Fatalf("frame %d holds %v", ev.Seq, v)
			}
		}
		seqs = append(seqs, ev.Seq)
		if err := m.Request(id, PointerRef); err != nil && !errors.Is(err, ErrManagerEnded) {
			t.Fatalf("Request() error = %v", err)
		}
	}
	waitDone(t, m)

	if len(seqs) != 50 {
		t.Fatalf("delivered %d frames, want 50", len(seqs))
	}
	for i, s := range seqs {
		if s != uint64(i+1) {
			t.Fatalf("seqs[%d] = %d, want %d", i, s, i+1)
		}
	}
	if got := m.Served(id); got != 50 {
		t.Errorf("Served() = %d, want 50", got)
	}
	if m.ConsistencyFaults() != 0 {
		t.Errorf("ConsistencyFaults() = %d", m.ConsistencyFaults())
	}
}

func TestObligatoryCopy_NoGaps(t *testing.T) {
	dev := &device.Counting{MaxFrames: 30}
	m, _ := New(testConfig(dev))
	id, _ := m.Register()
	m.Start(context.Background())
	m.Request(id, ObligatoryCopy)
	m.Run()

	var last uint64
	for {
		ev, err := m.Await(context.Background(), id)
		if err != nil {
			break
		}
		if ev.Seq != last+1 {
			t.Fatalf("seq = %d after %d", ev.Seq, last)
		}
		last = ev.Seq
		m.Request(id, ObligatoryCopy)
	}
	if last != 30 {
		t.Errorf("last seq = %d, want 30", last)
	}
}

func TestDataCopy_IndependentOfRing(t *testing.T) {
	dev := &device.Counting{MaxFrames: 20}
	cfg := testConfig(dev)
	cfg.Buffers = 2
	m, _ := New(cfg)
	id, _ := m.Register()
	m.Start(context.Background())

	m.Request(id, DataCopy)
	m.Run()

	ev, err := m.Await(context.Background(), id)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if ev.Seq != 1 {
		t.Fatalf("first copy seq = %d, want 1", ev.Seq)
	}

	// Production continues without waiting for this consumer.
	waitDone(t, m)

	if got := dev.Frames(); got != 20 {
		t.Fatalf("device produced %d frames, want 20", got)
	}
	for _, v := range ev.Data {
		if v != 1 {
			t.Fatalf("copy mutated: %v", v)
		}
	}
	overwritten := false
	for i := 0; i < m.Store().Cap(); i++ {
		if m.Store().Slot(i).Data[0] != 1 {
			overwritten = true
		}
	}
	if !overwritten {
		t.Error("ring slots were never reused")
	}
}

func TestExternalChannel_NeverBlocksProduction(t *testing.T) {
	const frames = 100
	dev := &device.Counting{MaxFrames: frames}
	m, _ := New(testConfig(dev))

	_, ch, err := m.RegisterExternal()
	if err != nil {
		t.Fatal(err)
	}
	m.Start(context.Background())
	m.Run()

	waitDone(t, m)

	if got := m.Status().Triggers; got != frames {
		t.Errorf("Triggers = %d, want %d", got, frames)
	}
	if got := ch.Stats().Delivered; got != 1 {
		t.Errorf("Delivered = %d, want 1", got)
	}
	if got := ch.Skipped(); got != frames-1 {
		t.Errorf("Skipped() = %d, want %d", got, frames-1)
	}

	// The one pending snapshot is still readable after End.
	ev, ok := ch.TryReceive()
	if !ok || ev.Seq != 1 {
		t.Errorf("TryReceive() = (%d, %v), want (1, true)", ev.Seq, ok)
	}
}

func TestExternalChannel_DrainingConsumerSeesOrderedFrames(t *testing.T) {
	dev := &device.Counting{MaxFrames: 200}
	m, _ := New(testConfig(dev))
	_, ch, _ := m.RegisterExternal()
	m.Start(context.Background())

	var seqs []uint64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			ev, err := ch.Receive(context.Background())
			if err != nil {
				return
			}
			seqs = append(seqs, ev.Seq)
		}
	}()

	m.Run()
	waitDone(t, m)
	<-done

	if len(seqs) == 0 {
		t.Fatal("external consumer received nothing")
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("out of order: %d after %d", seqs[i], seqs[i-1])
		}
	}
}

func TestProducer_BackpressureAndResume(t *testing.T) {
	dev := &device.Counting{}
	cfg := testConfig(dev)
	cfg.Buffers = 2
	m, _ := New(cfg)
	id, _ := m.Register()
	m.Start(context.Background())
	t.Cleanup(func() { m.End() })

	m.Request(id, PointerRef)
	m.Run()

	ev, err := m.Await(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Seq != 1 {
		t.Fatalf("seq = %d, want 1", ev.Seq)
	}

	// Slot 0 is held; slot 1 gets frame 2; then the producer must stall.
	waitFor(t, "second frame", func() bool { return dev.Frames() == 2 })
	time.Sleep(30 * time.Millisecond)
	if got := dev.Frames(); got != 2 {
		t.Fatalf("producer advanced to %d frames while ring saturated", got)
	}
	if got := m.Store().Active(); got != 0 {
		t.Errorf("Active() = %d, want 0", got)
	}

	m.Request(id, PointerRef)
	waitFor(t, "producer resumed", func() bool { return dev.Frames() == 3 })

	ev, err = m.Await(context.Background(), id)
	if err != nil || ev.Seq != 2 {
		t.Fatalf("Await() = (%d, %v), want seq 2", ev.Seq, err)
	}
}

func TestNoConsumers_PassThrough(t *testing.T) {
	dev := &device.Counting{MaxFrames: 64}
	var rounds atomic.Int32
	cfg := testConfig(dev)
	cfg.Callbacks.OnRound = func(info RoundInfo) {
		rounds.Add(1)
		if info.Obligatory != 0 || info.Serviced != 0 {
			t.Errorf("round %d serviced consumers", info.Seq)
		}
	}
	m, _ := New(cfg)
	m.Start(context.Background())
	m.Run()
	waitDone(t, m)

	if got := rounds.Load(); got != 64 {
		t.Errorf("rounds = %d, want 64", got)
	}
	if got := m.Rounds(); got != 64 {
		t.Errorf("Rounds() = %d, want 64", got)
	}
}

func TestRequest_InvalidMode(t *testing.T) {
	m := newStarted(t, testConfig(blockingDevice))
	id, _ := m.Register()

	err := m.Request(id, Mode(7))
	if !errors.Is(err, ErrInvalidMode) {
		t.Errorf("Request() error = %v, want ErrInvalidMode", err)
	}
	if _, err := m.GetEvent(context.Background(), id, Mode(-1)); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("GetEvent() error = %v, want ErrInvalidMode", err)
	}
	// The manager keeps running.
	if m.State() != StateActive {
		t.Errorf("State() = %v, want active", m.State())
	}
}

func TestRequest_UnknownConsumer(t *testing.T) {
	m := newStarted(t, testConfig(blockingDevice))
	if err := m.Request(3, DataCopy); !errors.Is(err, ErrUnknownConsumer) {
		t.Errorf("Request() error = %v, want ErrUnknownConsumer", err)
	}
}

func TestGetEvent_UnblocksOnEnd(t *testing.T) {
	m := newStarted(t, testConfig(blockingDevice))
	id, _ := m.Register()
	m.Run()

	errc := make(chan error, 1)
	go func() {
		_, err := m.GetEvent(context.Background(), id, PointerRef)
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	m.End()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrManagerEnded) {
			t.Errorf("GetEvent() error = %v, want ErrManagerEnded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("GetEvent did not unblock on End")
	}

	if _, err := m.Register(); !errors.Is(err, ErrManagerEnded) {
		t.Errorf("Register() after End error = %v", err)
	}
}

func TestRegister_Concurrent(t *testing.T) {
	cfg := testConfig(blockingDevice)
	cfg.MaxConsumers = 64
	m, _ := New(cfg)

	var wg sync.WaitGroup
	ids := make(chan ConsumerID, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := m.Register()
			if err != nil {
				t.Errorf("Register() error = %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[ConsumerID]bool{}
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate id %d", id)
		}
		seen[id] = true
	}
	if local, _ := m.Consumers(); local != 40 {
		t.Errorf("Consumers() local = %d, want 40", local)
	}
}

func TestRegister_Limit(t *testing.T) {
	cfg := testConfig(blockingDevice)
	cfg.MaxConsumers = 2
	m, _ := New(cfg)
	m.Register()
	m.RegisterExternal()
	if _, err := m.Register(); !errors.Is(err, ErrTooManyConsumers) {
		t.Errorf("Register() error = %v, want ErrTooManyConsumers", err)
	}
}

func TestObligatoryStall_Reported(t *testing.T) {
	dev := &device.Counting{}
	cfg := testConfig(dev)
	cfg.StallTimeout = 20 * time.Millisecond
	m := newStarted(t, cfg)
	id, _ := m.Register()

	m.Request(id, PointerRef)
	m.Run()
	if _, err := m.Await(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "stall warning", func() bool { return m.Stalls() >= 1 })
}

func TestStatusBox_Publishes(t *testing.T) {
	m := newStarted(t, testConfig(blockingDevice))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := m.StatusBox().Take(ctx)
	if err != nil {
		t.Fatalf("Take() error = %v", err)
	}
	if st.State != StateActive || st.Running {
		t.Errorf("status = %+v", st)
	}

	m.Run()
	waitFor(t, "running status", func() bool {
		st, ok := m.StatusBox().TryTake()
		return ok && st.Running
	})
}

func TestStatus_RateAndOccupancy(t *testing.T) {
	dev := &device.Counting{MaxFrames: 40, Interval: time.Millisecond}
	m, _ := New(testConfig(dev))
	m.Start(context.Background())
	m.Run()
	waitDone(t, m)

	st := m.Status()
	if st.Triggers != 40 {
		t.Errorf("Triggers = %d, want 40", st.Triggers)
	}
	if st.LifeTime < 40*time.Millisecond {
		t.Errorf("LifeTime = %v, want >= 40ms", st.LifeTime)
	}
	if st.Occupancy != 0 {
		t.Errorf("Occupancy = %v, want 0 after drain", st.Occupancy)
	}
	if st.State != StateEnded {
		t.Errorf("State = %v", st.State)
	}
}

func TestRateWindow(t *testing.T) {
	start := time.Unix(0, 0)
	w := rateWindow{every: 10}
	w.reset(start)

	var rate, duty float64
	var ok bool
	for i := 1; i <= 10; i++ {
		rate, duty, ok = w.observe(start.Add(time.Duration(i)*100*time.Millisecond), 50*time.Millisecond)
		if i < 10 && ok {
			t.Fatalf("window reported after %d triggers", i)
		}
	}
	if !ok {
		t.Fatal("window did not report after 10 triggers")
	}
	if rate != 10 {
		t.Errorf("rate = %v, want 10", rate)
	}
	if duty != 50 {
		t.Errorf("duty = %v, want 50", duty)
	}
	if w.n != 0 || w.life != 0 {
		t.Error("window not reset")
	}
}

func TestAttach_TaskLifecycle(t *testing.T) {
	m, _ := New(testConfig(blockingDevice))

	started := make(chan struct{})
	stopped := make(chan struct{})
	m.Attach(taskFunc("probe", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(stopped)
		return nil
	}))

	m.Start(context.Background())
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("task not started")
	}
	if len(m.Tasks()) != 1 {
		t.Errorf("Tasks() = %d, want 1", len(m.Tasks()))
	}

	m.End()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("task not stopped by End")
	}
	if err := m.Attach(taskFunc("late", nil)); !errors.Is(err, ErrManagerEnded) {
		t.Errorf("Attach() after End error = %v", err)
	}
}
