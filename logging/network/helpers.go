package network

import (
	"context"

	"rewind/logging"
)

const (
	// EventPeerSynchronizing reports handshake progress with a peer.
	EventPeerSynchronizing logging.EventType = "network.peer_synchronizing"
	// EventPeerSynchronized is emitted once the handshake with a peer completes.
	EventPeerSynchronized logging.EventType = "network.peer_synchronized"
	// EventPeerInterrupted is emitted when a peer has been silent for the notify window.
	EventPeerInterrupted logging.EventType = "network.peer_interrupted"
	// EventPeerResumed is emitted when an interrupted peer sends traffic again.
	EventPeerResumed logging.EventType = "network.peer_resumed"
	// EventPeerDisconnected is emitted when a peer exceeds the disconnect timeout.
	EventPeerDisconnected logging.EventType = "network.peer_disconnected"
	// EventWaitRecommendation is emitted when the session advises skipping frames.
	EventWaitRecommendation logging.EventType = "network.wait_recommendation"
	// EventDesyncDetected is emitted when a peer reports a checksum that differs from ours.
	EventDesyncDetected logging.EventType = "network.desync_detected"
)

// SynchronizingPayload captures handshake progress.
type SynchronizingPayload struct {
	Count int `json:"count"`
	Total int `json:"total"`
}

// InterruptedPayload captures how long until the peer is dropped.
type InterruptedPayload struct {
	DisconnectTimeoutMillis int64 `json:"disconnectTimeoutMillis"`
}

// WaitRecommendationPayload captures how many frames the session suggests idling.
type WaitRecommendationPayload struct {
	SkipFrames int `json:"skipFrames"`
}

// DesyncPayload captures the mismatching checksums for one frame.
type DesyncPayload struct {
	Frame          int32  `json:"frame"`
	LocalChecksum  uint64 `json:"localChecksum"`
	RemoteChecksum uint64 `json:"remoteChecksum"`
}

func peerEvent(typ logging.EventType, severity logging.Severity, frame int64, peer string, payload any, extra map[string]any) logging.Event {
	return logging.Event{
		Type:     typ,
		Frame:    frame,
		Actor:    logging.EntityRef{ID: peer, Kind: logging.EntityKindPeer},
		Severity: severity,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	}
}

// PeerSynchronizing publishes a debug event for handshake progress.
func PeerSynchronizing(ctx context.Context, pub logging.Publisher, frame int64, peer string, payload SynchronizingPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, peerEvent(EventPeerSynchronizing, logging.SeverityDebug, frame, peer, payload, extra))
}

// PeerSynchronized publishes an info event when a peer handshake completes.
func PeerSynchronized(ctx context.Context, pub logging.Publisher, frame int64, peer string, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, peerEvent(EventPeerSynchronized, logging.SeverityInfo, frame, peer, nil, extra))
}

// PeerInterrupted publishes a warning when a peer goes quiet.
func PeerInterrupted(ctx context.Context, pub logging.Publisher, frame int64, peer string, payload InterruptedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, peerEvent(EventPeerInterrupted, logging.SeverityWarn, frame, peer, payload, extra))
}

// PeerResumed publishes an info event when an interrupted peer recovers.
func PeerResumed(ctx context.Context, pub logging.Publisher, frame int64, peer string, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, peerEvent(EventPeerResumed, logging.SeverityInfo, frame, peer, nil, extra))
}

// PeerDisconnected publishes a warning when a peer is dropped.
func PeerDisconnected(ctx context.Context, pub logging.Publisher, frame int64, peer string, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, peerEvent(EventPeerDisconnected, logging.SeverityWarn, frame, peer, nil, extra))
}

// WaitRecommendation publishes an info event suggesting the local client idle.
func WaitRecommendation(ctx context.Context, pub logging.Publisher, frame int64, payload WaitRecommendationPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, peerEvent(EventWaitRecommendation, logging.SeverityInfo, frame, "", payload, extra))
}

// DesyncDetected publishes an error event for a cross-peer checksum mismatch.
func DesyncDetected(ctx context.Context, pub logging.Publisher, frame int64, peer string, payload DesyncPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, peerEvent(EventDesyncDetected, logging.SeverityError, frame, peer, payload, extra))
}
