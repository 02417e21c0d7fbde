package reconnect

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentbe/agentbe-go/pkg/agentbe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cfg() agentbe.ReconnectionConfig {
	return agentbe.ReconnectionConfig{
		Enabled:           true,
		MaxRetries:        0,
		InitialDelayMs:    100,
		MaxDelayMs:        1000,
		BackoffMultiplier: 2,
	}
}

func TestNextDelay_Sequence(t *testing.T) {
	c := cfg()
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1000 * time.Millisecond,
	}
	for i, w := range want {
		got := NextDelay(c, i)
		assert.Equal(t, w, got, "retryCount=%d", i)
	}
}

func TestShouldSchedule_Disabled(t *testing.T) {
	c := cfg()
	c.Enabled = false
	assert.False(t, ShouldSchedule(c, 0))
}

func TestShouldSchedule_MaxRetriesBound(t *testing.T) {
	c := cfg()
	c.MaxRetries = 3

	assert.True(t, ShouldSchedule(c, 0))
	assert.True(t, ShouldSchedule(c, 2))
	assert.False(t, ShouldSchedule(c, 3))
	assert.False(t, ShouldSchedule(c, 10))
}

func TestController_StopsAfterMaxRetries(t *testing.T) {
	c := cfg()
	c.MaxRetries = 3
	c.InitialDelayMs = 1
	c.MaxDelayMs = 2

	var attempts int32
	var armed int32
	done := make(chan struct{})

	var ctrl *Controller
	ctrl = New(c, func() error {
		n := atomic.AddInt32(&attempts, 1)
		if n == int32(c.MaxRetries) {
			close(done)
		}
		return errors.New("still down")
	}, func(time.Duration) {
		atomic.AddInt32(&armed, 1)
	})

	ctrl.ScheduleReconnect()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for retries to exhaust")
	}

	// give the final (failed) scheduling decision time to settle
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, int32(c.MaxRetries), atomic.LoadInt32(&attempts))
	assert.Equal(t, int32(c.MaxRetries), atomic.LoadInt32(&armed))
}

func TestController_ResetsRetryCountOnSuccess(t *testing.T) {
	c := cfg()
	c.InitialDelayMs = 1
	c.MaxDelayMs = 2

	var mu sync.Mutex
	succeed := false
	done := make(chan struct{})

	ctrl := New(c, func() error {
		mu.Lock()
		defer mu.Unlock()
		if succeed {
			close(done)
			return nil
		}
		succeed = true
		return errors.New("first attempt fails")
	}, nil)

	ctrl.ScheduleReconnect()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, ctrl.RetryCount())
}

func TestController_DestroyCancelsTimerAndStopsReconnect(t *testing.T) {
	c := cfg()
	c.InitialDelayMs = 20
	c.MaxDelayMs = 20

	var attempts int32
	ctrl := New(c, func() error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("down")
	}, nil)

	ctrl.ScheduleReconnect()
	ctrl.Destroy()

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&attempts))
}
