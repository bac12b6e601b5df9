package lsproute_test

import (
	"context"
	"testing"
	"time"

	"github.com/loomcode/loom/internal/broker"
	"github.com/loomcode/loom/internal/clock"
	"github.com/loomcode/loom/internal/ids"
	"github.com/loomcode/loom/internal/launcher"
	"github.com/loomcode/loom/internal/lsproute"
	"github.com/loomcode/loom/internal/wire"
)

type fakeSink struct {
	frames chan wire.Frame
}

func newFakeSink() *fakeSink { return &fakeSink{frames: make(chan wire.Frame, 16)} }

func (s *fakeSink) Send(f wire.Frame) error { s.frames <- f; return nil }
func (s *fakeSink) Close() error            { return nil }

func TestStartOrAttachRoutesEchoedNotificationToAttachedSession(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	brk := broker.NewCore(launcher.New(), clock.New())
	go brk.Run(ctx)

	router := lsproute.NewRouter(brk, launcher.New(), nil)

	sid := ids.SessionId(1)
	sink := newFakeSink()
	brk.RegisterSession(sid, sink)

	serverID, err := router.StartOrAttach(ctx, sid, wire.LaunchConfig{Command: "cat"})
	if err != nil {
		t.Fatalf("StartOrAttach: %v", err)
	}

	notif := `{"jsonrpc":"2.0","method":"test/ping","params":{}}`
	if err := router.SendNotification(serverID, sid, notif); err != nil {
		t.Fatalf("SendNotification: %v", err)
	}

	select {
	case f := <-sink.frames:
		if f.Type != wire.EventLspMessage {
			t.Fatalf("expected lsp_message event, got %q", f.Type)
		}
		payload, ok := f.Payload.(wire.LspMessage)
		if !ok {
			t.Fatalf("unexpected payload type %T", f.Payload)
		}
		if payload.Message != notif {
			t.Fatalf("expected echoed message %q, got %q", notif, payload.Message)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for echoed notification")
	}
}

func TestStartOrAttachReusesServerForSameProjectKey(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	brk := broker.NewCore(launcher.New(), clock.New())
	go brk.Run(ctx)
	router := lsproute.NewRouter(brk, launcher.New(), nil)

	sidA, sidB := ids.SessionId(1), ids.SessionId(2)
	brk.RegisterSession(sidA, newFakeSink())
	brk.RegisterSession(sidB, newFakeSink())

	cfg := wire.LaunchConfig{Command: "cat"}
	serverA, err := router.StartOrAttach(ctx, sidA, cfg)
	if err != nil {
		t.Fatalf("StartOrAttach A: %v", err)
	}
	serverB, err := router.StartOrAttach(ctx, sidB, cfg)
	if err != nil {
		t.Fatalf("StartOrAttach B: %v", err)
	}
	if serverA != serverB {
		t.Fatalf("expected the same server for an identical launch config, got %v and %v", serverA, serverB)
	}
}
