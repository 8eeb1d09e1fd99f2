package protocol

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	exchanges []Exchange
}

func (r *recorder) Observe(ex Exchange) {
	r.exchanges = append(r.exchanges, ex)
}

func newLinkedPair(t *testing.T) (*Master, *RegisterTable, *CommandQueue) {
	t.Helper()

	slaveConn, masterConn := net.Pipe()
	table := NewRegisterTable()
	queue := NewCommandQueue()
	link := NewLink(NewEngine(table, queue), slaveConn)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = link.Serve(ctx)
	}()

	m := NewMaster(masterConn)
	m.SetTimeout(time.Second)
	t.Cleanup(func() {
		cancel()
		_ = m.Close()
		_ = slaveConn.Close()
		<-done
	})
	return m, table, queue
}

func TestMasterReadRegister(t *testing.T) {
	m, table, _ := newLinkedPair(t)
	table.Publish(RegID, IDCode)

	rec := &recorder{}
	m.SetObserver(rec)

	v, err := m.ReadRegister(context.Background(), RegID)
	require.NoError(t, err)
	assert.Equal(t, IDCode, v)

	require.Len(t, rec.exchanges, 1)
	assert.Equal(t, DirRead, rec.exchanges[0].Direction)
	assert.NoError(t, rec.exchanges[0].Err)
}

func TestMasterWriteRegisterReachesQueue(t *testing.T) {
	m, _, queue := newLinkedPair(t)

	require.NoError(t, m.WriteRegister(RegCCLevel, 2500))

	// A read after the write guarantees the slave consumed the write bytes
	_, err := m.ReadRegister(context.Background(), RegStatus)
	require.NoError(t, err)

	f, ok := queue.Pop()
	require.True(t, ok)
	assert.Equal(t, RegCCLevel, f.Address())
	assert.Equal(t, uint16(2500), f.Data)
	assert.True(t, f.Valid())
}

func TestMasterRead32(t *testing.T) {
	m, table, _ := newLinkedPair(t)
	table.Publish32(RegTotalTimeL, RegTotalTimeH, 90061)

	v, err := m.ReadRegister32(context.Background(), RegTotalTimeL, RegTotalTimeH)
	require.NoError(t, err)
	assert.Equal(t, uint32(90061), v)
}

func TestMasterReadTimeout(t *testing.T) {
	slaveConn, masterConn := net.Pipe()
	defer slaveConn.Close()

	// Swallow requests without answering
	go func() {
		buf := make([]byte, 16)
		for {
			if _, err := slaveConn.Read(buf); err != nil {
				return
			}
		}
	}()

	m := NewMaster(masterConn)
	defer m.Close()
	m.SetTimeout(20 * time.Millisecond)

	_, err := m.ReadRegister(context.Background(), RegStatus)
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)
}

func TestMasterRejectsBadReplyChecksum(t *testing.T) {
	slaveConn, masterConn := net.Pipe()
	defer slaveConn.Close()

	go func() {
		buf := make([]byte, ReadFrameLen)
		if _, err := slaveConn.Read(buf); err != nil {
			return
		}
		_, _ = slaveConn.Write([]byte{0x12, 0x34, 0x00})
	}()

	m := NewMaster(masterConn)
	defer m.Close()

	_, err := m.ReadRegister(context.Background(), RegStatus)
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestMasterRejectsOutOfRangeAddress(t *testing.T) {
	m, _, _ := newLinkedPair(t)

	err := m.WriteRegister(0x80, 1)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}
