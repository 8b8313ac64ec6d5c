package pionengine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/groupcast/groupcast/internal/media"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

func TestCreateRelayHasOutboundTracks(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	p, err := eng.CreatePipeline(ctx)
	if err != nil {
		t.Fatalf("create pipeline: %v", err)
	}
	rel, err := p.CreateRelay(ctx)
	if err != nil {
		t.Fatalf("create relay: %v", err)
	}

	r := rel.(*relay)
	if len(r.outbound) != 2 {
		t.Fatalf("outbound tracks = %d, want audio+video", len(r.outbound))
	}
	if senders := r.pc.GetSenders(); len(senders) != 2 {
		t.Fatalf("senders = %d, want 2", len(senders))
	}
}

func TestConnectToIsIdempotent(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	p, _ := eng.CreatePipeline(ctx)
	a, err := p.CreateRelay(ctx)
	if err != nil {
		t.Fatalf("create relay: %v", err)
	}
	b, err := p.CreateRelay(ctx)
	if err != nil {
		t.Fatalf("create relay: %v", err)
	}

	if err := a.ConnectTo(b); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := a.ConnectTo(b); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if got := len(a.(*relay).sinks); got != 1 {
		t.Fatalf("sinks = %d, want 1", got)
	}
}

func TestCandidateBeforeRemoteDescriptionBuffers(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	p, _ := eng.CreatePipeline(ctx)
	rel, err := p.CreateRelay(ctx)
	if err != nil {
		t.Fatalf("create relay: %v", err)
	}

	mid := "0"
	var idx uint16
	c := media.ICECandidate{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid, SDPMLineIndex: &idx}
	if err := rel.AddICECandidate(c); err != nil {
		t.Fatalf("buffered candidate rejected: %v", err)
	}
	if got := len(rel.(*relay).pendingCandidates); got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}
}

func TestSubscriptionDelivery(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	p, _ := eng.CreatePipeline(ctx)
	rel, err := p.CreateRelay(ctx)
	if err != nil {
		t.Fatalf("create relay: %v", err)
	}
	r := rel.(*relay)

	var got []media.ICECandidate
	unsub := rel.OnCandidateFound(func(c media.ICECandidate) {
		got = append(got, c)
	})

	r.emitCandidate(media.ICECandidate{Candidate: "candidate:1"})
	if len(got) != 1 || got[0].Candidate != "candidate:1" {
		t.Fatalf("got = %+v", got)
	}

	unsub()
	r.emitCandidate(media.ICECandidate{Candidate: "candidate:2"})
	if len(got) != 1 {
		t.Fatalf("unsubscribed handler still called: %+v", got)
	}
}

func TestReleaseStopsRelay(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	p, _ := eng.CreatePipeline(ctx)
	a, _ := p.CreateRelay(ctx)
	b, _ := p.CreateRelay(ctx)
	if err := a.ConnectTo(b); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := a.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := a.Release(); err != nil {
		t.Fatalf("double release: %v", err)
	}
	if err := a.ConnectTo(b); err == nil {
		t.Fatalf("connect allowed on released relay")
	}
}

func TestEngineCloseRejectsNewPipelines(t *testing.T) {
	eng := newTestEngine(t)
	if err := eng.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := eng.CreatePipeline(context.Background()); err == nil {
		t.Fatalf("pipeline created on closed engine")
	}
}
