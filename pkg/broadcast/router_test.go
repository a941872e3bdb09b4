package broadcast

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
)

type captureDeliverer struct {
	mu       sync.Mutex
	sent     []sentMsg
	failFor  map[string]error
}

type sentMsg struct {
	connectionID string
	text         string
}

func (d *captureDeliverer) Deliver(_ context.Context, connectionID, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failFor[connectionID]; err != nil {
		return err
	}
	d.sent = append(d.sent, sentMsg{connectionID, text})
	return nil
}

func (d *captureDeliverer) texts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.sent))
	for i, m := range d.sent {
		out[i] = m.text
	}
	return out
}

func (d *captureDeliverer) recipients() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.sent))
	for i, m := range d.sent {
		out[i] = m.connectionID
	}
	sort.Strings(out)
	return out
}

func TestParseChannel(t *testing.T) {
	if ch, err := ParseChannel("live"); err != nil || ch != ChannelLive {
		t.Fatalf("expected live channel, got %v %v", ch, err)
	}
	if ch, err := ParseChannel("scam"); err != nil || ch != ChannelScamDetect {
		t.Fatalf("expected scam channel, got %v %v", ch, err)
	}
	if _, err := ParseChannel("weather"); err == nil {
		t.Fatalf("expected error for unknown channel")
	}
}

func TestDispatchDedupsConsecutiveTexts(t *testing.T) {
	d := &captureDeliverer{}
	r := NewRouter(RouterConfig{Deliverer: d})
	if err := r.Subscribe(ChannelLive, "c1"); err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	ctx := context.Background()
	r.Dispatch(ctx, ChannelLive, "hel")
	r.Dispatch(ctx, ChannelLive, "hel")
	r.Dispatch(ctx, ChannelLive, "hello")
	r.Dispatch(ctx, ChannelLive, "hel")

	want := []string{"hel", "hello", "hel"}
	got := d.texts()
	if len(got) != len(want) {
		t.Fatalf("expected %v deliveries, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestDedupIsPerChannel(t *testing.T) {
	d := &captureDeliverer{}
	r := NewRouter(RouterConfig{Deliverer: d})
	_ = r.Subscribe(ChannelLive, "c1")
	_ = r.Subscribe(ChannelScamDetect, "c2")

	ctx := context.Background()
	r.Dispatch(ctx, ChannelLive, "same text")
	r.Dispatch(ctx, ChannelScamDetect, "same text")
	if len(d.texts()) != 2 {
		t.Fatalf("expected both channels delivered, got %v", d.texts())
	}
}

func TestDeliveryFailureIsolated(t *testing.T) {
	d := &captureDeliverer{failFor: map[string]error{"bad": errors.New("gone")}}
	r := NewRouter(RouterConfig{Deliverer: d})
	_ = r.Subscribe(ChannelLive, "bad")
	_ = r.Subscribe(ChannelLive, "good-1")
	_ = r.Subscribe(ChannelLive, "good-2")

	r.Dispatch(context.Background(), ChannelLive, "text")

	got := d.recipients()
	if len(got) != 2 || got[0] != "good-1" || got[1] != "good-2" {
		t.Fatalf("expected delivery to surviving subscribers, got %v", got)
	}
}

func TestDisconnectPurgesEverywhere(t *testing.T) {
	d := &captureDeliverer{}
	r := NewRouter(RouterConfig{Deliverer: d})
	r.Connect("c1")
	_ = r.Subscribe(ChannelLive, "c1")
	_ = r.Subscribe(ChannelScamDetect, "c1")

	r.Disconnect("c1")
	if r.ConnectionCount() != 0 {
		t.Fatalf("expected no connections, got %d", r.ConnectionCount())
	}
	for _, ch := range Channels {
		if r.SubscriberCount(ch) != 0 {
			t.Fatalf("expected channel %s empty", ch)
		}
	}

	r.Dispatch(context.Background(), ChannelLive, "text")
	if len(d.texts()) != 0 {
		t.Fatalf("expected no delivery after disconnect, got %v", d.texts())
	}
}

func TestBroadcastReachesAllConnections(t *testing.T) {
	d := &captureDeliverer{}
	r := NewRouter(RouterConfig{Deliverer: d})
	r.Connect("c1")
	r.Connect("c2")
	_ = r.Subscribe(ChannelLive, "c3")

	r.Broadcast(context.Background(), "announcement")
	got := d.recipients()
	if len(got) != 3 {
		t.Fatalf("expected all 3 connections, got %v", got)
	}
}

func TestSubscribeUnknownChannel(t *testing.T) {
	r := NewRouter(RouterConfig{Deliverer: &captureDeliverer{}})
	if err := r.Subscribe(Channel("bogus"), "c1"); err == nil {
		t.Fatalf("expected error for unknown channel")
	}
}

func TestResetChannelClearsDedup(t *testing.T) {
	d := &captureDeliverer{}
	r := NewRouter(RouterConfig{Deliverer: d})
	_ = r.Subscribe(ChannelLive, "c1")

	ctx := context.Background()
	r.Dispatch(ctx, ChannelLive, "text")
	r.ResetChannel(ChannelLive)
	r.Dispatch(ctx, ChannelLive, "text")
	if len(d.texts()) != 2 {
		t.Fatalf("expected redelivery after reset, got %v", d.texts())
	}
}
