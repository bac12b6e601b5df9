package gateway

import (
	"context"
	"strconv"

	"github.com/loomcode/loom/internal/ids"
	"github.com/loomcode/loom/internal/wire"
)

func (g *Gateway) handleOpen(sid ids.SessionId, frame wire.Frame) wire.Frame {
	req, err := decode[wire.OpenRequest](frame)
	if err != nil {
		return errorResponse(frame, err)
	}
	result := g.docs.Open(sid, req.URI, req.InitialText)
	g.broadcastJoinIfOwnerChanged(sid, req.URI, result.Snapshot)
	return okResponse(frame, wire.OpenResponse{
		Snapshot: result.Snapshot, Text: result.TextForJoiner, HasText: result.HasTextForJoiner,
	})
}

func (g *Gateway) handleClose(sid ids.SessionId, frame wire.Frame) wire.Frame {
	req, err := decode[wire.CloseRequest](frame)
	if err != nil {
		return errorResponse(frame, err)
	}
	result := g.docs.Close(sid, req.URI)
	if result.Unlocked != nil {
		g.broadcastToParticipants(req.URI, sid, wire.Frame{
			Kind: wire.FrameEvent, Type: wire.EventSharedUnlocked,
			Payload: wire.SharedUnlocked{Snapshot: *result.Unlocked},
		})
	}
	return okResponse(frame, wire.CloseResponse{Destroyed: result.Destroyed, Unlocked: result.Unlocked})
}

func (g *Gateway) handleApply(sid ids.SessionId, frame wire.Frame) wire.Frame {
	req, err := decode[wire.ApplyRequest](frame)
	if err != nil {
		return errorResponse(frame, err)
	}
	result := g.docs.Apply(sid, req.URI, req.Kind, req.BaseEpoch, req.BaseSeq, req.BaseHash64, req.BaseLenChars, req.Tx, req.UndoGroup)
	if result.Err != nil {
		if g.metrics != nil {
			g.metrics.DocApplyRejected.WithLabelValues(wire.CodeOf(result.Err).String()).Inc()
		}
		return errorResponse(frame, result.Err)
	}
	g.broadcastToParticipants(req.URI, sid, wire.Frame{
		Kind: wire.FrameEvent, Type: wire.EventSharedDelta, Payload: result.Delta,
	})
	return okResponse(frame, wire.ApplyResponse{
		Epoch: result.Ack.Epoch, Seq: result.Ack.Seq, Hash64: result.Ack.Hash64, LenChars: result.Ack.LenChars,
	})
}

func (g *Gateway) handleFocus(sid ids.SessionId, frame wire.Frame) wire.Frame {
	req, err := decode[wire.FocusRequest](frame)
	if err != nil {
		return errorResponse(frame, err)
	}
	result := g.docs.Focus(sid, req.URI, req.Focused, req.FocusSeq, req.Nonce, req.ClientHash64, req.ClientLenChars)
	if g.driver != nil {
		g.driver.SetFocus(req.URI, sid, req.Focused)
	}
	if !result.NoOp && result.OwnerChangedOrUnlocked {
		g.broadcastToParticipants(req.URI, sid, wire.Frame{
			Kind: wire.FrameEvent, Type: wire.EventSharedOwnerChanged,
			Payload: wire.SharedOwnerChanged{Snapshot: result.Snapshot},
		})
	} else if !result.NoOp && result.PreferredOwnerChanged {
		g.broadcastToParticipants(req.URI, sid, wire.Frame{
			Kind: wire.FrameEvent, Type: wire.EventSharedPreferredOwner,
			Payload: wire.SharedPreferredOwnerChanged{Snapshot: result.Snapshot},
		})
	}
	return okResponse(frame, wire.FocusResponse{NoOp: result.NoOp, Snapshot: result.Snapshot})
}

func (g *Gateway) handleViewport(sid ids.SessionId, frame wire.Frame) wire.Frame {
	req, err := decode[wire.ViewportRequest](frame)
	if err != nil {
		return errorResponse(frame, err)
	}
	if g.driver != nil {
		g.driver.SetViewport(req.URI, req.Start, req.End)
	}
	return okResponse(frame, wire.ViewportResponse{Ack: true})
}

func (g *Gateway) handleActivity(sid ids.SessionId, frame wire.Frame) {
	req, err := decode[wire.ActivityRequest](frame)
	if err != nil {
		return
	}
	g.docs.Activity(sid, req.URI)
}

func (g *Gateway) handleResync(sid ids.SessionId, frame wire.Frame) wire.Frame {
	req, err := decode[wire.ResyncRequest](frame)
	if err != nil {
		return errorResponse(frame, err)
	}
	result := g.docs.Resync(sid, req.URI, req.Nonce, req.ClientHash64, req.ClientLenChars)
	if !result.Found {
		return errorResponse(frame, wire.Errorf(wire.SyncDocNotFound, "no shared document for %q", req.URI))
	}
	return okResponse(frame, wire.ResyncResponse{Found: result.Found, Matched: result.Matched, FullText: result.FullText})
}

// broadcastJoinIfOwnerChanged sends the post-open snapshot as a
// SharedOwnerChanged event to every other participant of the document. It
// does so on every open, whether or not the join changed the owner or the
// preferred owner; the very first open of a document has no other
// participants, so nothing is sent then.
func (g *Gateway) broadcastJoinIfOwnerChanged(sid ids.SessionId, uri string, snap wire.DocSnapshot) {
	g.broadcastToParticipants(uri, sid, wire.Frame{
		Kind: wire.FrameEvent, Type: wire.EventSharedOwnerChanged,
		Payload: wire.SharedOwnerChanged{Snapshot: snap},
	})
}

func (g *Gateway) handleLspStart(sid ids.SessionId, frame wire.Frame) wire.Frame {
	req, err := decode[wire.LspStartRequest](frame)
	if err != nil {
		return errorResponse(frame, err)
	}
	serverID, err := g.router.StartOrAttach(context.Background(), sid, req.Launch)
	if err != nil {
		return errorResponse(frame, err)
	}
	return okResponse(frame, wire.LspStartResponse{ServerID: uint64(serverID), Status: wire.StatusStarting})
}

func (g *Gateway) handleLspStop(sid ids.SessionId, frame wire.Frame) wire.Frame {
	req, err := decode[wire.LspStopRequest](frame)
	if err != nil {
		return errorResponse(frame, err)
	}
	serverID := ids.ServerId(req.ServerID)
	g.router.Stop(sid, serverID)
	return okResponse(frame, wire.LspStopResponse{Stopped: true})
}

// resolveServerID parses the decimal server id an editor echoes back from
// an earlier lsp_start response. The wire protocol carries it as a string.
// An empty or non-numeric ServerID is rejected; no project-key lookup is
// made.
func (g *Gateway) resolveServerID(sid ids.SessionId, raw string) (ids.ServerId, bool) {
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return ids.ServerId(n), true
}

func (g *Gateway) handleLspSendNotification(sid ids.SessionId, frame wire.Frame) wire.Frame {
	req, err := decode[wire.LspSendNotificationRequest](frame)
	if err != nil {
		return errorResponse(frame, err)
	}
	serverID, ok := g.resolveServerID(sid, req.ServerID)
	if !ok {
		return errorResponse(frame, wire.Errorf(wire.LspServerNotFound, "unknown server %q", req.ServerID))
	}
	if err := g.router.SendNotification(serverID, sid, req.Message); err != nil {
		return errorResponse(frame, err)
	}
	return okResponse(frame, wire.LspAckResponse{Sent: true})
}

func (g *Gateway) handleLspSendRequest(sid ids.SessionId, frame wire.Frame) wire.Frame {
	req, err := decode[wire.LspSendRequestRequest](frame)
	if err != nil {
		return errorResponse(frame, err)
	}
	serverID, ok := g.resolveServerID(sid, req.ServerID)
	if !ok {
		return errorResponse(frame, wire.Errorf(wire.LspServerNotFound, "unknown server %q", req.ServerID))
	}
	if err := g.router.SendRequest(serverID, sid, req.Message); err != nil {
		return errorResponse(frame, err)
	}
	return okResponse(frame, wire.LspAckResponse{Sent: true})
}

func (g *Gateway) handleLspReply(sid ids.SessionId, frame wire.Frame) wire.Frame {
	req, err := decode[wire.LspReply](frame)
	if err != nil {
		return errorResponse(frame, err)
	}
	if err := g.router.Reply(sid, ids.ServerId(req.ServerID), req.WireID, req.Result); err != nil {
		return errorResponse(frame, err)
	}
	return okResponse(frame, wire.LspAckResponse{Sent: true})
}
