package device

import (
	"errors"
	"time"

	"github.com/itohio/gocapmeter/pkg/command"
	"github.com/itohio/gocapmeter/pkg/report"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrTimeout          = errors.New("reply timeout")
	ErrClosed           = errors.New("device closed")
	ErrUnexpectedReply  = errors.New("unexpected reply")
)

// Report is one capacitance report stamped with its host arrival time.
type Report struct {
	Timestamp time.Time
	report.Report
}

// Device defines the interface for meter connections (real or mocked).
type Device interface {
	Connect() error
	Close() error
	Reports() <-chan Report
	// Send executes one command and waits for its reply. An ERR reply is
	// returned together with its failure.
	Send(cmd command.Command) (command.Reply, error)
	IsConnected() bool
}

var _ Device = (*Serial)(nil)

var _ Device = (*Mock)(nil)
