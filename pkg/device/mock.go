package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/itohio/gocapmeter/pkg/capture"
	"github.com/itohio/gocapmeter/pkg/command"
	"github.com/itohio/gocapmeter/pkg/config"
	"github.com/itohio/gocapmeter/pkg/instrument"
	"github.com/itohio/gocapmeter/pkg/report"
	"github.com/itohio/gocapmeter/pkg/sim"
)

// Mock runs the meter firmware engine over a simulated board in-process.
type Mock struct {
	tick time.Duration
	step time.Duration

	board *sim.Board
	inst  *instrument.Instrument

	reports   chan Report
	mu        sync.Mutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
}

// NewMock creates a mock device from cfg. A nil cfg uses the defaults.
func NewMock(cfg *config.Config) (*Mock, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	cal := cfg.Calibration
	board := sim.New(cfg.Sim, &cal)
	acc := capture.New(board.Polarity)
	board.Attach(acc)

	inst, err := instrument.New(board, acc, &cal, cfg.Instrument)
	if err != nil {
		return nil, fmt.Errorf("failed to create mock instrument: %w", err)
	}

	tick := cfg.Mock.Tick
	if tick <= 0 {
		tick = 50 * time.Millisecond
	}
	speedup := cfg.Mock.Speedup
	if speedup <= 0 {
		speedup = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Mock{
		tick:    tick,
		step:    time.Duration(float64(tick) * speedup),
		board:   board,
		inst:    inst,
		reports: make(chan Report, DefaultBufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	inst.OnReport(m.emit)
	return m, nil
}

// Connect starts the simulation.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return ErrAlreadyConnected
	}
	if m.ctx.Err() != nil {
		return ErrClosed
	}
	m.connected = true

	m.wg.Add(1)
	go m.run()

	return nil
}

// Close stops the simulation and closes the reports channel.
func (m *Mock) Close() error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return nil
	}
	m.cancel()
	m.connected = false
	m.mu.Unlock()

	m.wg.Wait()
	close(m.reports)
	return nil
}

// Reports returns the channel for reading capacitance reports.
func (m *Mock) Reports() <-chan Report {
	return m.reports
}

// IsConnected returns whether the simulation is running.
func (m *Mock) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Send executes cmd on the simulated instrument.
func (m *Mock) Send(cmd command.Command) (command.Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return command.Reply{}, ErrNotConnected
	}
	r := m.inst.Handle(cmd)
	return r, r.Failure()
}

// SetCapacitance changes the simulated device under test.
func (m *Mock) SetCapacitance(farads float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.board.SetCapacitance(farads)
}

// SetLeakage changes the simulated leakage resistance.
func (m *Mock) SetLeakage(ohms float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.board.SetLeakage(ohms)
}

func (m *Mock) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			m.board.Advance(m.step)
			m.inst.Poll()
			m.mu.Unlock()
		}
	}
}

// emit runs inside Poll with m.mu held.
func (m *Mock) emit(r report.Report) {
	select {
	case m.reports <- Report{Timestamp: time.Now(), Report: r}:
	default:
		// Channel full, skip
	}
}
