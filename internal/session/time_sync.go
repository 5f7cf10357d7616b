package session

import "rewind/internal/frame"

const timeSyncWindow = 40

// timeSync averages frame advantages over a sliding window of frames. The
// local advantage is how far the remote peer appears to be ahead of us; the
// remote advantage is the same figure as reported by the peer.
type timeSync struct {
	local  [timeSyncWindow]int
	remote [timeSyncWindow]int
}

func (t *timeSync) advanceFrame(f frame.Frame, local, remote int) {
	idx := int(uint32(f) % timeSyncWindow)
	t.local[idx] = local
	t.remote[idx] = remote
}

// averageFrameAdvantage is positive when we run ahead of the peer. Both sides
// are expected to meet in the middle, hence the halving.
func (t *timeSync) averageFrameAdvantage() int {
	var localSum, remoteSum int
	for i := range t.local {
		localSum += t.local[i]
		remoteSum += t.remote[i]
	}
	localAvg := float64(localSum) / timeSyncWindow
	remoteAvg := float64(remoteSum) / timeSyncWindow
	return int((remoteAvg - localAvg) / 2)
}
