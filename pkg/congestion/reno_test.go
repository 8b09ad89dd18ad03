package congestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const mss = uint32(1000)

func TestNewControllerInitialState(t *testing.T) {
	c := NewController(mss)
	assert.Equal(t, mss, c.Cwnd())
	assert.Equal(t, uint32(InitialSsthresh), c.Ssthresh())
	assert.False(t, c.InFastRecovery())
	assert.Equal(t, 0, c.DupAck())
}

func TestSlowStartAddsOneMSSPerAckedSegment(t *testing.T) {
	c := NewController(mss)
	c.OnNewACK(1, 0)
	assert.Equal(t, 2*mss, c.Cwnd())
	c.OnNewACK(1, 0)
	assert.Equal(t, 3*mss, c.Cwnd())
}

func TestSlowStartCreditsMultipleAckedSegments(t *testing.T) {
	c := NewController(mss)
	c.OnNewACK(3, 0)
	assert.Equal(t, 4*mss, c.Cwnd())
}

func TestCongestionAvoidanceGrowsSublinearly(t *testing.T) {
	c := NewController(mss)
	c.cwnd = 2 * float64(mss)
	c.ssthresh = c.cwnd // force straight into CA on the next ACK
	before := c.cwnd
	c.OnNewACK(1, 0)
	want := before + float64(mss)*(float64(mss)/before)
	assert.InDelta(t, want, c.cwnd, 0.001)
	assert.Less(t, c.cwnd, before+float64(mss))
}

func TestDuplicateAckBelowThresholdDoesNothing(t *testing.T) {
	c := NewController(mss)
	assert.False(t, c.OnDuplicateAck(true))
	assert.False(t, c.OnDuplicateAck(true))
	assert.Equal(t, 2, c.DupAck())
	assert.False(t, c.InFastRecovery())
}

func TestThirdDuplicateAckEntersFastRecovery(t *testing.T) {
	c := NewController(mss)
	c.cwnd = 10000
	c.OnDuplicateAck(true)
	c.OnDuplicateAck(true)
	entered := c.OnDuplicateAck(true)

	assert.True(t, entered)
	assert.True(t, c.InFastRecovery())
	assert.Equal(t, uint32(5000), c.Ssthresh())
	assert.Equal(t, uint32(8000), c.Cwnd())
	assert.Equal(t, 0, c.DupAck())
}

func TestThirdDuplicateAckWithNoOutstandingDataDoesNotEnter(t *testing.T) {
	c := NewController(mss)
	c.OnDuplicateAck(false)
	c.OnDuplicateAck(false)
	entered := c.OnDuplicateAck(false)
	assert.False(t, entered)
	assert.False(t, c.InFastRecovery())
}

func TestFastRecoveryInflatesByOneMSSPerDupAck(t *testing.T) {
	c := NewController(mss)
	c.cwnd = 10000
	c.OnDuplicateAck(true)
	c.OnDuplicateAck(true)
	c.OnDuplicateAck(true)
	cwndAfterEntry := c.Cwnd()

	c.OnDuplicateAck(true)
	assert.Equal(t, cwndAfterEntry+mss, c.Cwnd())
}

func TestNewAckExitsFastRecovery(t *testing.T) {
	c := NewController(mss)
	c.cwnd = 10000
	c.OnDuplicateAck(true)
	c.OnDuplicateAck(true)
	c.OnDuplicateAck(true)
	ssthreshAtEntry := c.ssthresh

	// Exit with no other segments still in flight unacked.
	c.OnNewACK(1, 0)
	assert.False(t, c.InFastRecovery())
	assert.Equal(t, 0, c.DupAck())
	assert.GreaterOrEqual(t, c.cwnd, ssthreshAtEntry)
}

func TestTimeoutResetsToOneMSS(t *testing.T) {
	c := NewController(mss)
	c.cwnd = 20000
	c.ssthresh = 16000
	c.inFastRecovery = true
	c.dupAck = 2

	c.OnTimeout()
	assert.Equal(t, mss, c.Cwnd())
	assert.Equal(t, uint32(10000), c.Ssthresh())
	assert.False(t, c.InFastRecovery())
	assert.Equal(t, 0, c.DupAck())
}

func TestTimeoutFloorsSsthreshAtTwiceMSS(t *testing.T) {
	c := NewController(mss)
	c.cwnd = 1500 // cwnd/2 = 750, below mss

	c.OnTimeout()
	assert.Equal(t, 2*mss, c.Ssthresh())
	assert.Equal(t, mss, c.Cwnd())
}

func TestCanAdmitRespectsFloorOfCwnd(t *testing.T) {
	c := NewController(mss)
	c.cwnd = 1500.9
	assert.True(t, c.CanAdmit(1000))
	assert.False(t, c.CanAdmit(1500))
	assert.False(t, c.CanAdmit(1600))
}

func TestBoundsNeverDropBelowMSS(t *testing.T) {
	c := NewController(mss)
	for i := 0; i < 50; i++ {
		c.OnDuplicateAck(true)
		c.OnTimeout()
		c.OnNewACK(1, 0)
		assert.GreaterOrEqual(t, c.Cwnd(), mss)
		assert.GreaterOrEqual(t, c.Ssthresh(), mss)
	}
}
