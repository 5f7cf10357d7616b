package session

import (
	"fmt"
	"slices"

	"rewind/internal/checksum"
	"rewind/internal/frame"
)

// SyncTestConfig configures a SyncTest session.
type SyncTestConfig struct {
	NumPlayers    int
	MaxPrediction int
	// CheckDistance is how many frames every advance rolls back and
	// resimulates. Zero disables the rollbacks.
	CheckDistance int
	InputDelay    int
}

// DefaultSyncTestConfig returns a two-player configuration that rolls back
// two frames on every advance.
func DefaultSyncTestConfig() SyncTestConfig {
	return SyncTestConfig{
		NumPlayers:    2,
		MaxPrediction: 8,
		CheckDistance: 2,
	}
}

// SyncTest is a local-only session that exercises rollback on every frame.
// Each advance reloads the state from CheckDistance frames ago, resimulates,
// and compares the checksums of the resimulated frames against the ones
// recorded the first time those frames were simulated.
type SyncTest[I comparable] struct {
	cfg       SyncTestConfig
	sync      *syncLayer[I]
	local     []I
	localSet  []bool
	checksums map[frame.Frame]checksum.Checksum
}

// NewSyncTest validates cfg and returns a session in the Running state.
func NewSyncTest[I comparable](cfg SyncTestConfig) (*SyncTest[I], error) {
	switch {
	case cfg.NumPlayers < 1:
		return nil, fmt.Errorf("synctest: need at least one player: %w", ErrInvalidRequest)
	case cfg.MaxPrediction < 1:
		return nil, fmt.Errorf("synctest: max prediction must be positive: %w", ErrInvalidRequest)
	case cfg.CheckDistance < 0 || cfg.CheckDistance >= cfg.MaxPrediction:
		return nil, fmt.Errorf("synctest: check distance %d must be below max prediction %d: %w", cfg.CheckDistance, cfg.MaxPrediction, ErrInvalidRequest)
	case cfg.InputDelay < 0:
		return nil, fmt.Errorf("synctest: negative input delay: %w", ErrInvalidRequest)
	}
	return &SyncTest[I]{
		cfg:       cfg,
		sync:      newSyncLayer[I](cfg.NumPlayers, cfg.MaxPrediction),
		local:     make([]I, cfg.NumPlayers),
		localSet:  make([]bool, cfg.NumPlayers),
		checksums: make(map[frame.Frame]checksum.Checksum),
	}, nil
}

// Poll does nothing; a SyncTest has no peers.
func (s *SyncTest[I]) Poll() {}

// SetInput queues input for handle. Every player of a SyncTest is local.
func (s *SyncTest[I]) SetInput(handle PlayerHandle, input I) error {
	if handle < 0 || int(handle) >= s.cfg.NumPlayers {
		return fmt.Errorf("synctest: handle %d: %w", handle, ErrInvalidHandle)
	}
	s.local[handle] = input
	s.localSet[handle] = true
	return nil
}

// AdvanceFrame returns the requests for the next frame. Once past
// CheckDistance it fails with a *MismatchedChecksumError if a resimulated
// frame hashed differently than before.
func (s *SyncTest[I]) AdvanceFrame() ([]Request[I], error) {
	for handle, set := range s.localSet {
		if !set {
			return nil, fmt.Errorf("synctest: handle %d: %w", handle, ErrMissingInput)
		}
	}

	var requests []Request[I]
	distance := s.cfg.CheckDistance
	if distance > 0 && s.sync.current.After(frame.Frame(distance)) {
		if err := s.compareChecksums(); err != nil {
			return nil, err
		}
		requests = s.sync.rollback(s.sync.current.Add(-distance), requests, nil)
	}

	for handle := range s.local {
		s.sync.addInput(PlayerHandle(handle), s.sync.current.Add(s.cfg.InputDelay), s.local[handle])
		s.localSet[handle] = false
	}

	requests = append(requests, s.sync.saveCurrent())
	requests = append(requests, s.sync.advance(s.sync.inputs(nil)))
	if s.sync.current.After(frame.Frame(distance)) {
		s.sync.setLastConfirmed(s.sync.current.Add(-(distance + 1)))
	}
	return requests, nil
}

func (s *SyncTest[I]) compareChecksums() error {
	current := s.sync.current
	oldest := current.Add(-s.cfg.CheckDistance)
	var mismatched []frame.Frame
	for f := oldest; f.Before(current); f = f.Next() {
		sum, ok := s.sync.checksum(f)
		if !ok {
			continue
		}
		if first, seen := s.checksums[f]; !seen {
			s.checksums[f] = sum
		} else if first != sum {
			mismatched = append(mismatched, f)
		}
	}
	for f := range s.checksums {
		if f.Before(oldest) {
			delete(s.checksums, f)
		}
	}
	if len(mismatched) > 0 {
		slices.Sort(mismatched)
		return &MismatchedChecksumError{CurrentFrame: current, Frames: mismatched}
	}
	return nil
}

// Events always returns nil.
func (s *SyncTest[I]) Events() []Event { return nil }

// FramesAhead is always zero.
func (s *SyncTest[I]) FramesAhead() int { return 0 }

func (s *SyncTest[I]) MaxPredictionWindow() int { return s.cfg.MaxPrediction }

func (s *SyncTest[I]) LocalPlayerHandles() []PlayerHandle {
	handles := make([]PlayerHandle, s.cfg.NumPlayers)
	for i := range handles {
		handles[i] = PlayerHandle(i)
	}
	return handles
}

func (s *SyncTest[I]) NumPlayers() int { return s.cfg.NumPlayers }

func (s *SyncTest[I]) ConfirmedFrame() frame.Frame { return s.sync.lastConfirmed }

func (s *SyncTest[I]) CurrentState() State { return Running }

// CurrentFrame is the next frame the session will advance.
func (s *SyncTest[I]) CurrentFrame() frame.Frame { return s.sync.current }

var _ Session[int] = (*SyncTest[int])(nil)
