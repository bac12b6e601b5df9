package gateway_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/loomcode/loom/internal/broker"
	"github.com/loomcode/loom/internal/clock"
	"github.com/loomcode/loom/internal/gateway"
	"github.com/loomcode/loom/internal/ids"
	"github.com/loomcode/loom/internal/launcher"
	"github.com/loomcode/loom/internal/lsproute"
	"github.com/loomcode/loom/internal/shareddoc"
	"github.com/loomcode/loom/internal/wire"
)

type fakeSink struct {
	frames chan wire.Frame
}

func newFakeSink() *fakeSink { return &fakeSink{frames: make(chan wire.Frame, 32)} }

func (s *fakeSink) Send(f wire.Frame) error { s.frames <- f; return nil }
func (s *fakeSink) Close() error            { return nil }

func newTestGateway(t *testing.T) (*gateway.Gateway, *broker.Core) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	brk := broker.NewCore(launcher.New(), clock.New())
	docs := shareddoc.NewCore(clock.New())
	go brk.Run(ctx)
	go docs.Run(ctx)

	router := lsproute.NewRouter(brk, launcher.New(), nil)
	return gateway.New(nil, brk, docs, router, nil, nil, nil), brk
}

func mustPayload[T any](t *testing.T, frame wire.Frame) T {
	t.Helper()
	raw, err := json.Marshal(frame.Payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return out
}

func TestOpenApplyBroadcastsToSecondParticipant(t *testing.T) {
	gw, brk := newTestGateway(t)

	sidA, sidB := ids.SessionId(1), ids.SessionId(2)
	sinkA, sinkB := newFakeSink(), newFakeSink()
	brk.RegisterSession(sidA, sinkA)
	brk.RegisterSession(sidB, sinkB)

	gw.Dispatch(sidA, wire.Frame{
		Kind: wire.FrameRequest, ID: "1", Type: wire.ReqOpen,
		Payload: wire.OpenRequest{URI: "file:///a.go", InitialText: "package a\n"},
	})
	drain(t, sinkA.frames, wire.FrameResponse, wire.ReqOpen)

	gw.Dispatch(sidB, wire.Frame{
		Kind: wire.FrameRequest, ID: "1", Type: wire.ReqOpen,
		Payload: wire.OpenRequest{URI: "file:///a.go", InitialText: ""},
	})
	openResp := drain(t, sinkB.frames, wire.FrameResponse, wire.ReqOpen)
	joined := mustPayload[wire.OpenResponse](t, openResp)
	if !joined.HasText || joined.Text != "package a\n" {
		t.Fatalf("expected joiner to receive seed text, got %+v", joined)
	}

	// sidA should have been told about the ownership/participant change
	// from sidB's join.
	drain(t, sinkA.frames, wire.FrameEvent, wire.EventSharedOwnerChanged)

	gw.Dispatch(sidA, wire.Frame{
		Kind: wire.FrameRequest, ID: "2", Type: wire.ReqApply,
		Payload: wire.ApplyRequest{
			URI: "file:///a.go", Kind: wire.DeltaEdit,
			BaseEpoch: joined.Snapshot.Epoch, BaseSeq: 0,
			BaseHash64: 0, BaseLenChars: 0,
		},
	})
	// sidA is still the owner, but the apply fails because its zero base
	// fingerprint does not match the document's — either way sidA gets a
	// response.
	drain(t, sinkA.frames, wire.FrameResponse, wire.ReqApply)
}

func drain(t *testing.T, ch chan wire.Frame, kind wire.FrameKind, typ string) wire.Frame {
	t.Helper()
	for {
		select {
		case f := <-ch:
			if f.Kind == kind && f.Type == typ {
				return f
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for kind=%v type=%v", kind, typ)
		}
	}
}
