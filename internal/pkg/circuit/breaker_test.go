package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAndRecovers(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b := New("binance", 2, time.Minute)
	b.now = func() time.Time { return now }

	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())

	now = now.Add(time.Minute)
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
	// 试探失败重新熔断
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())

	now = now.Add(2 * time.Minute)
	assert.True(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New("x", 2, time.Minute)
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
}

func TestNilBreakerAlwaysAllows(t *testing.T) {
	b := New("off", 0, time.Minute)
	assert.Nil(t, b)
	assert.True(t, b.Allow())
	b.RecordFailure()
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "HALF-OPEN", StateHalfOpen.String())
}

func TestStateChangeCallback(t *testing.T) {
	b := New("cb", 1, time.Hour)
	changes := make(chan State, 1)
	b.OnStateChange(func(_ string, _, to State) { changes <- to })
	b.RecordFailure()
	select {
	case got := <-changes:
		assert.Equal(t, StateOpen, got)
	case <-time.After(time.Second):
		t.Fatal("state change not reported")
	}
}
