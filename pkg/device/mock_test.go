package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gocapmeter/pkg/command"
	"github.com/itohio/gocapmeter/pkg/config"
)

func fastMock(t *testing.T) *Mock {
	t.Helper()
	cfg := config.Default()
	cfg.Mock.Tick = 10 * time.Millisecond
	cfg.Mock.Speedup = 50 // half a second of board time per tick

	m, err := NewMock(cfg)
	require.NoError(t, err)
	require.NoError(t, m.Connect())
	t.Cleanup(func() { m.Close() })
	return m
}

func TestMock_SendBeforeConnect(t *testing.T) {
	m, err := NewMock(nil)
	require.NoError(t, err)
	_, err = m.Send(command.Command{Op: command.OpPing})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestMock_Commands(t *testing.T) {
	m := fastMock(t)
	assert.ErrorIs(t, m.Connect(), ErrAlreadyConnected)

	r, err := m.Send(command.Command{Op: command.OpBias, Mv: 3000})
	require.NoError(t, err)
	assert.Equal(t, "reached", r.Arg(0))

	r, err = m.Send(command.Command{Op: command.OpQuench})
	require.NoError(t, err)
	assert.Equal(t, "quenched", r.Arg(0))

	r, err = m.Send(command.Command{Op: command.OpRange, Range: 7})
	assert.Error(t, err)
	assert.False(t, r.OK)
}

func TestMock_Reports(t *testing.T) {
	m := fastMock(t)
	m.SetCapacitance(47e-9)

	_, err := m.Send(command.Command{Op: command.OpCapacitance, Verbose: true})
	require.NoError(t, err)

	var last Report
	deadline := time.After(5 * time.Second)
	for n := 0; n < 8; n++ {
		select {
		case last = <-m.Reports():
		case <-deadline:
			t.Fatalf("got %d reports", n)
		}
	}
	assert.InEpsilon(t, 47e-9, last.Capacitance(32e6), 0.02)
}

// TestMock_GracefulShutdown tests that the reports channel is closed when
// Close is called while reports are flowing.
func TestMock_GracefulShutdown(t *testing.T) {
	m := fastMock(t)
	_, err := m.Send(command.Command{Op: command.OpCapacitance, Verbose: true})
	require.NoError(t, err)

	reports := m.Reports()
	received := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range reports {
			received++
			if received == 2 {
				m.Close()
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Reports channel did not close within timeout")
	}

	assert.GreaterOrEqual(t, received, 2)
	assert.False(t, m.IsConnected())
	assert.ErrorIs(t, m.Connect(), ErrClosed)
}
