package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"helipad-ng/internal/engine"
	"helipad-ng/internal/motion"
	"helipad-ng/internal/vsi"
)

type message struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (f *fakeClient) Publish(topic string, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, message{topic: topic, retained: retained, payload: append([]byte(nil), payload...)})
	return nil
}

func (f *fakeClient) Close() {}

func (f *fakeClient) messages() []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message(nil), f.msgs...)
}

type fakeInstruments struct {
	mu   sync.Mutex
	snap engine.Snapshot
}

func (f *fakeInstruments) Snapshot() engine.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeInstruments) set(s engine.Snapshot) {
	f.mu.Lock()
	f.snap = s
	f.mu.Unlock()
}

type countingObserver struct {
	mu       sync.Mutex
	ok, fail int
}

func (c *countingObserver) ObserveOutput(output string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.fail++
	} else {
		c.ok++
	}
}

func TestPublishOnce_SnapshotAndAlertEdges(t *testing.T) {
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	inst := &fakeInstruments{snap: engine.Snapshot{At: at, VerticalSpeed: vsi.Sample{SmoothedFpm: -200}}}
	client := &fakeClient{}
	p := NewPublisher(inst, client, Config{Topic: "helipad"}, nil)

	if err := p.PublishOnce(); err != nil {
		t.Fatalf("PublishOnce: %v", err)
	}
	msgs := client.messages()
	if len(msgs) != 1 || msgs[0].topic != "helipad/snapshot" || msgs[0].retained {
		t.Fatalf("msgs=%+v", msgs)
	}
	var got engine.Snapshot
	if err := json.Unmarshal(msgs[0].payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.VerticalSpeed.SmoothedFpm != -200 || !got.At.Equal(at) {
		t.Fatalf("snapshot=%+v", got.VerticalSpeed)
	}

	inst.set(engine.Snapshot{At: at, VerticalSpeed: vsi.Sample{SinkRateWarning: true}, Motion: motion.Sample{HardLanding: true}})
	if err := p.PublishOnce(); err != nil {
		t.Fatalf("PublishOnce: %v", err)
	}
	msgs = client.messages()
	if len(msgs) != 4 {
		t.Fatalf("len(msgs)=%d want 4", len(msgs))
	}
	var alerts []Alert
	for _, m := range msgs[2:] {
		if m.topic != "helipad/alert" || !m.retained {
			t.Fatalf("alert msg=%+v", m)
		}
		var a Alert
		if err := json.Unmarshal(m.payload, &a); err != nil {
			t.Fatalf("alert payload: %v", err)
		}
		alerts = append(alerts, a)
	}
	if alerts[0].Kind != "sink_rate" || !alerts[0].Active || alerts[1].Kind != "hard_landing" || !alerts[1].Active {
		t.Fatalf("alerts=%+v", alerts)
	}

	// Unchanged state publishes only the snapshot.
	if err := p.PublishOnce(); err != nil {
		t.Fatalf("PublishOnce: %v", err)
	}
	if n := len(client.messages()); n != 5 {
		t.Fatalf("len(msgs)=%d want 5", n)
	}

	inst.set(engine.Snapshot{At: at})
	if err := p.PublishOnce(); err != nil {
		t.Fatalf("PublishOnce: %v", err)
	}
	msgs = client.messages()
	if len(msgs) != 8 {
		t.Fatalf("len(msgs)=%d want 8", len(msgs))
	}
	var cleared Alert
	_ = json.Unmarshal(msgs[6].payload, &cleared)
	if cleared.Kind != "sink_rate" || cleared.Active {
		t.Fatalf("cleared=%+v", cleared)
	}
}

func TestPublishOnce_ClientErrorKeepsAlertPending(t *testing.T) {
	inst := &fakeInstruments{snap: engine.Snapshot{VerticalSpeed: vsi.Sample{SinkRateWarning: true}}}
	client := &fakeClient{err: errors.New("publish: not connected")}
	p := NewPublisher(inst, client, Config{Topic: "t"}, nil)

	if err := p.PublishOnce(); err == nil {
		t.Fatalf("expected error")
	}
	client.mu.Lock()
	client.err = nil
	client.mu.Unlock()
	if err := p.PublishOnce(); err != nil {
		t.Fatalf("PublishOnce: %v", err)
	}
	msgs := client.messages()
	if len(msgs) != 2 || msgs[1].topic != "t/alert" {
		t.Fatalf("msgs=%+v", msgs)
	}
}

func TestRun_PublishesUntilCancelled(t *testing.T) {
	inst := &fakeInstruments{}
	client := &fakeClient{}
	obs := &countingObserver{}
	p := NewPublisher(inst, client, Config{Topic: "t", Interval: 2 * time.Millisecond}, obs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(client.messages()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out, msgs=%d", len(client.messages()))
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.ok < 3 || obs.fail != 0 {
		t.Fatalf("observer ok=%d fail=%d", obs.ok, obs.fail)
	}
}

func TestRun_RequiresClient(t *testing.T) {
	p := NewPublisher(&fakeInstruments{}, nil, Config{}, nil)
	if err := p.Run(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDial_RequiresBroker(t *testing.T) {
	if _, err := Dial(Config{}); err == nil {
		t.Fatalf("expected error")
	}
}
