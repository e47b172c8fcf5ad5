// Package device connects the host to a meter, either over a serial port or
// to an in-process simulation.
package device

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/itohio/gocapmeter/pkg/command"
	"github.com/itohio/gocapmeter/pkg/report"
)

const (
	// DefaultBaudRate is the standard baud rate for XIAO SAMD21.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the default size for the reports channel buffer.
	DefaultBufferSize = 100
	// DefaultReplyTimeout bounds the wait for a command reply.
	DefaultReplyTimeout = 10 * time.Second
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// opener opens the named port. Tests replace it with an in-memory pipe.
type opener func(name string, baud int) (io.ReadWriteCloser, error)

func openSerial(name string, baud int) (io.ReadWriteCloser, error) {
	return serial.Open(name, &serial.Mode{BaudRate: baud})
}

// Serial represents a connection to the meter MCU.
type Serial struct {
	port     string
	baudRate int
	bufSize  int
	timeout  time.Duration
	open     opener

	conn      io.ReadWriteCloser
	reports   chan Report
	replies   chan command.Reply
	done      chan struct{}
	sendMu    sync.Mutex
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
}

// New creates a new Serial device with the specified port, baud rate, and
// buffer size. Zero values select the defaults.
func New(port string, baudRate int, bufSize int) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Serial{
		port:     port,
		baudRate: baudRate,
		bufSize:  bufSize,
		timeout:  DefaultReplyTimeout,
		open:     openSerial,
		reports:  make(chan Report, bufSize),
		replies:  make(chan command.Reply, 4),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetReplyTimeout changes how long Send waits for a reply.
func (d *Serial) SetReplyTimeout(t time.Duration) {
	if t > 0 {
		d.timeout = t
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Connect opens the serial port and starts reading replies and reports.
// A Serial cannot be reconnected after Close.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return ErrAlreadyConnected
	}
	if d.ctx.Err() != nil {
		return ErrClosed
	}

	conn, err := d.open(d.port, d.baudRate)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	d.conn = conn
	d.connected = true

	go d.readLoop(conn)

	return nil
}

// Close closes the port and waits for the reader to finish. The reports
// channel is closed once the reader has exited.
func (d *Serial) Close() error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return nil
	}

	d.cancel()

	if err := d.conn.Close(); err != nil {
		log.Printf("Error closing serial port: %v", err)
	}
	d.conn = nil
	d.connected = false
	d.mu.Unlock()

	<-d.done
	return nil
}

// Reports returns the channel for reading capacitance reports.
func (d *Serial) Reports() <-chan Report {
	return d.reports
}

// IsConnected returns whether the device is currently connected.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// Send writes cmd and waits for the matching reply. Commands are serialized:
// the meter answers strictly in order.
func (d *Serial) Send(cmd command.Command) (command.Reply, error) {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	d.mu.RLock()
	conn, connected := d.conn, d.connected
	d.mu.RUnlock()
	if !connected {
		return command.Reply{}, ErrNotConnected
	}

	// Drop replies left over from a command that timed out.
	for drained := false; !drained; {
		select {
		case <-d.replies:
		default:
			drained = true
		}
	}

	if _, err := conn.Write(cmd.AppendTo(nil)); err != nil {
		return command.Reply{}, fmt.Errorf("failed to send %s: %w", cmd.Op, err)
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case r, ok := <-d.replies:
		if !ok {
			return command.Reply{}, ErrClosed
		}
		if r.OK && r.Op != cmd.Op {
			return r, fmt.Errorf("%w: %s to %s", ErrUnexpectedReply, r.Op, cmd.Op)
		}
		return r, r.Failure()
	case <-timer.C:
		return command.Reply{}, fmt.Errorf("%w: %s", ErrTimeout, cmd.Op)
	case <-d.ctx.Done():
		return command.Reply{}, ErrClosed
	}
}

// readLoop splits the stream into replies and report blocks.
func (d *Serial) readLoop(conn io.Reader) {
	defer close(d.done)
	defer close(d.reports)
	defer close(d.replies)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic in readLoop: %v", r)
		}
	}()

	var asm report.Assembler
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if command.IsReply(line) {
			if asm.Active() {
				log.Printf("Reply inside report block, block dropped")
				asm = report.Assembler{}
			}
			d.dispatchReply(line)
			continue
		}

		rep, done, err := asm.Feed(line)
		if err != nil {
			log.Printf("Failed to parse report: %v", err)
			continue
		}
		if !done {
			continue
		}

		select {
		case d.reports <- Report{Timestamp: time.Now(), Report: rep}:
		case <-d.ctx.Done():
			return
		default:
			log.Printf("Reports channel full, dropping report")
		}
	}

	if err := scanner.Err(); err != nil && d.ctx.Err() == nil {
		log.Printf("Error reading from serial port: %v", err)
	}
}

func (d *Serial) dispatchReply(line string) {
	r, err := command.ParseReply(line)
	if err != nil {
		log.Printf("Failed to parse reply '%s': %v", line, err)
		return
	}
	select {
	case d.replies <- r:
	default:
		log.Printf("Unclaimed reply dropped: %s", line)
	}
}
