package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentToCode(t *testing.T) {
	tests := []struct {
		mA   uint32
		code uint16
	}{
		{0, ZeroCurrentCode},
		{1000, 61086},
		{10000, 47733},
		{42000, 258},
		{50000, 0},
	}
	for _, tt := range tests {
		if got := CurrentToCode(tt.mA); got != tt.code {
			t.Errorf("CurrentToCode(%d): expected %d, got %d", tt.mA, tt.code, got)
		}
	}

	if got := CodeToCurrent(47733); got != 10000 {
		t.Errorf("Expected 10000 mA, got %d", got)
	}
	if got := CodeToCurrent(0xFFFF); got != 0 {
		t.Errorf("Expected 0 mA above zero-current code, got %d", got)
	}
}

func TestDACImmediateWrite(t *testing.T) {
	drv := &fakeDAC{}
	d := NewDAC(drv, 20, 1)

	d.SetCurrent(1000, false)
	assert.Equal(t, []uint16{61086}, drv.Writes())
	assert.False(t, d.InTransient())
	assert.Equal(t, uint16(61086), d.Code())
}

func TestDACRamp(t *testing.T) {
	drv := &fakeDAC{}
	d := NewDAC(drv, 20, 1)

	d.SetCurrent(1000, true)
	assert.True(t, d.InTransient())
	assert.Empty(t, drv.Writes(), "slewed set must not write before the first tick")

	ticks := 1
	for d.Tick() {
		ticks++
	}
	// 1483 codes at 29 codes per tick
	assert.Equal(t, 52, ticks)
	assert.Equal(t, uint16(61086), drv.Last())
	assert.False(t, d.InTransient())
	assert.False(t, d.Tick(), "idle tick must not write")
	assert.Len(t, drv.Writes(), 52)
}

func TestDACRampRedirect(t *testing.T) {
	drv := &fakeDAC{}
	d := NewDAC(drv, 20, 1)

	d.SetCurrent(10000, true)
	for i := 0; i < 10; i++ {
		require.True(t, d.Tick())
	}
	mid := d.Code()

	// Back down toward zero current: codes now rise
	d.SetCurrent(0, true)
	d.Tick()
	assert.Equal(t, mid+29, d.Code())

	for d.Tick() {
	}
	assert.Equal(t, uint16(ZeroCurrentCode), d.Code())
}

func TestDACWriteCancelsRamp(t *testing.T) {
	drv := &fakeDAC{}
	d := NewDAC(drv, 20, 1)

	d.SetCurrent(10000, true)
	d.Tick()
	d.WriteCode(ZeroCurrentCode)

	assert.False(t, d.InTransient())
	assert.False(t, d.Tick())
	assert.Equal(t, uint16(ZeroCurrentCode), drv.Last())
}

func TestDACNonBlockingDropsWhenBusy(t *testing.T) {
	drv := &fakeDAC{}
	d := NewDAC(drv, 20, 1)

	d.busMu.Lock()
	assert.False(t, d.WriteCodeNonBlocking(50000))
	d.busMu.Unlock()
	assert.Empty(t, drv.Writes())

	assert.True(t, d.WriteCodeNonBlocking(50000))
	assert.Equal(t, uint16(50000), d.Code())
}

func TestDACDriverErrors(t *testing.T) {
	drv := &fakeDAC{failed: true}
	d := NewDAC(drv, 20, 1)

	d.WriteCode(40000)
	assert.Equal(t, uint32(1), d.WriteErrors())
	assert.Equal(t, uint16(ZeroCurrentCode), d.Code(), "failed write must not update the code")
}

func TestDACTryWriteCodeCondition(t *testing.T) {
	drv := &fakeDAC{}
	d := NewDAC(drv, 20, 1)

	assert.False(t, d.TryWriteCode(50000, func() bool { return false }))
	assert.Empty(t, drv.Writes())

	assert.True(t, d.TryWriteCode(50000, func() bool { return true }))
	assert.Equal(t, uint16(50000), drv.Last())
}
