package clock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/heavyforge/heavyforge/internal/clock"
)

func TestRealClockNowAdvances(t *testing.T) {
	var c clock.Real
	first := c.Now()
	time.Sleep(time.Millisecond)
	second := c.Now()
	assert.True(t, second.After(first))
}

func TestRealClockAfterFires(t *testing.T) {
	var c clock.Real
	select {
	case <-c.After(time.Millisecond):
	case <-time.After(time.Second):
		t.Fatal("clock.Real.After did not fire")
	}
}

func TestSystemClockIsReal(t *testing.T) {
	assert.IsType(t, clock.Real{}, clock.System)
}
