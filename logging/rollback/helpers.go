package rollback

import (
	"context"

	"rewind/logging"
)

const (
	// EventFrameSkipped is emitted when the session applies backpressure and the
	// driver drops a tick without touching state.
	EventFrameSkipped logging.EventType = "rollback.frame_skipped"
	// EventSessionError is emitted when advancing the session fails for any
	// reason other than backpressure.
	EventSessionError logging.EventType = "rollback.session_error"
	// EventChecksumMismatch is emitted when a sync test observes diverging
	// checksums for a resimulated frame.
	EventChecksumMismatch logging.EventType = "rollback.checksum_mismatch"
	// EventStateLoaded is emitted for every executed load request.
	EventStateLoaded logging.EventType = "rollback.state_loaded"
	// EventStateSaved is emitted for every executed save request.
	EventStateSaved logging.EventType = "rollback.state_saved"
	// EventSessionReset is emitted when the driver drops its session state.
	EventSessionReset logging.EventType = "rollback.session_reset"
)

// FrameSkippedPayload describes why a tick did not advance.
type FrameSkippedPayload struct {
	Reason string `json:"reason"`
}

// SessionErrorPayload carries the rendered session error.
type SessionErrorPayload struct {
	Error string `json:"error"`
}

// ChecksumMismatchPayload lists the frames whose checksums diverged.
type ChecksumMismatchPayload struct {
	CurrentFrame int32   `json:"currentFrame"`
	Frames       []int32 `json:"frames"`
}

// StateLoadedPayload summarises the entity reconciliation performed by a load.
type StateLoadedPayload struct {
	Reused    int `json:"reused"`
	Respawned int `json:"respawned"`
	Despawned int `json:"despawned"`
}

// StateSavedPayload carries the aggregate checksum recorded for a save.
type StateSavedPayload struct {
	Checksum uint64 `json:"checksum"`
	Kinds    int    `json:"kinds"`
}

func driverEvent(typ logging.EventType, severity logging.Severity, frame int64, payload any, extra map[string]any) logging.Event {
	return logging.Event{
		Type:     typ,
		Frame:    frame,
		Actor:    logging.EntityRef{Kind: logging.EntityKindDriver},
		Severity: severity,
		Category: logging.CategoryRollback,
		Payload:  payload,
		Extra:    extra,
	}
}

// FrameSkipped publishes an info event for a tick dropped by backpressure.
func FrameSkipped(ctx context.Context, pub logging.Publisher, frame int64, payload FrameSkippedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, driverEvent(EventFrameSkipped, logging.SeverityInfo, frame, payload, extra))
}

// SessionError publishes a warning for a failed advance.
func SessionError(ctx context.Context, pub logging.Publisher, frame int64, payload SessionErrorPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, driverEvent(EventSessionError, logging.SeverityWarn, frame, payload, extra))
}

// ChecksumMismatch publishes an error for a sync test divergence.
func ChecksumMismatch(ctx context.Context, pub logging.Publisher, frame int64, payload ChecksumMismatchPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, driverEvent(EventChecksumMismatch, logging.SeverityError, frame, payload, extra))
}

// StateLoaded publishes a debug event for an executed load.
func StateLoaded(ctx context.Context, pub logging.Publisher, frame int64, payload StateLoadedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, driverEvent(EventStateLoaded, logging.SeverityDebug, frame, payload, extra))
}

// StateSaved publishes a debug event for an executed save.
func StateSaved(ctx context.Context, pub logging.Publisher, frame int64, payload StateSavedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, driverEvent(EventStateSaved, logging.SeverityDebug, frame, payload, extra))
}

// SessionReset publishes an info event when the driver discards its state.
func SessionReset(ctx context.Context, pub logging.Publisher, frame int64, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, driverEvent(EventSessionReset, logging.SeverityInfo, frame, nil, extra))
}
