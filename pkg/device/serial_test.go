package device

import (
	"bufio"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gocapmeter/pkg/command"
	"github.com/itohio/gocapmeter/pkg/report"
)

// pipeSerial connects a Serial to the returned in-memory MCU end.
func pipeSerial(t *testing.T) (*Serial, net.Conn) {
	t.Helper()
	host, mcu := net.Pipe()
	d := New("test", 0, 0)
	d.open = func(string, int) (io.ReadWriteCloser, error) { return host, nil }
	require.NoError(t, d.Connect())
	t.Cleanup(func() {
		d.Close()
		mcu.Close()
	})
	return d, mcu
}

// answer reads one command line on the MCU end and writes resp.
func answer(t *testing.T, mcu net.Conn, resp string) <-chan string {
	t.Helper()
	got := make(chan string, 1)
	go func() {
		sc := bufio.NewScanner(mcu)
		if !sc.Scan() {
			close(got)
			return
		}
		got <- sc.Text()
		if resp != "" {
			mcu.Write([]byte(resp))
		}
	}()
	return got
}

func sampleReport() report.Report {
	return report.Report{
		CounterDivider:   1,
		FallAccumulated:  197357,
		FrequencyCount:   100,
		ResistorHalfOhms: 5000,
		SecondThreshold:  3574,
		FirstThreshold:   1929,
		MeasurementHz:    1,
	}
}

func TestNew(t *testing.T) {
	dev := New("COM3", 115200, 10)
	assert.NotNil(t, dev)
	assert.Equal(t, "COM3", dev.port)
	assert.Equal(t, 115200, dev.baudRate)
	assert.Equal(t, 10, cap(dev.reports))
	assert.False(t, dev.IsConnected())
}

func TestNew_Defaults(t *testing.T) {
	dev := New("COM3", 0, 0)
	assert.Equal(t, DefaultBaudRate, dev.baudRate)
	assert.Equal(t, DefaultBufferSize, dev.bufSize)
	assert.Equal(t, DefaultReplyTimeout, dev.timeout)
}

func TestSerial_NotConnected(t *testing.T) {
	dev := New("COM3", 0, 0)
	_, err := dev.Send(command.Command{Op: command.OpPing})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, dev.Close())
}

func TestSerial_OpenFailure(t *testing.T) {
	dev := New("nowhere", 0, 0)
	boom := errors.New("boom")
	dev.open = func(string, int) (io.ReadWriteCloser, error) { return nil, boom }
	err := dev.Connect()
	assert.ErrorIs(t, err, boom)
	assert.False(t, dev.IsConnected())
}

func TestSerial_Send(t *testing.T) {
	tests := []struct {
		name    string
		cmd     command.Command
		resp    string
		wantErr error
		wantArg string
	}{
		{name: "ping", cmd: command.Command{Op: command.OpPing}, resp: "OK P\r\n"},
		{name: "noise before reply", cmd: command.Command{Op: command.OpBias, Mv: 4500},
			resp: "hello\r\nOK B reached 4496\r\n", wantArg: "reached"},
		{name: "mismatched reply", cmd: command.Command{Op: command.OpPing}, resp: "OK X\r\n",
			wantErr: ErrUnexpectedReply},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, mcu := pipeSerial(t)
			got := answer(t, mcu, tt.resp)

			r, err := d.Send(tt.cmd)
			assert.Equal(t, tt.cmd.String(), <-got)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, r.OK)
			assert.Equal(t, tt.cmd.Op, r.Op)
			assert.Equal(t, tt.wantArg, r.Arg(0))
		})
	}
}

func TestSerial_ErrReply(t *testing.T) {
	d, mcu := pipeSerial(t)
	answer(t, mcu, "ERR bias servo not enabled\r\n")

	r, err := d.Send(command.Command{Op: command.OpRange, Range: 9})
	assert.Error(t, err)
	assert.False(t, r.OK)
	assert.Contains(t, err.Error(), "bias servo not enabled")
}

func TestSerial_Timeout(t *testing.T) {
	d, mcu := pipeSerial(t)
	d.SetReplyTimeout(50 * time.Millisecond)
	answer(t, mcu, "")

	_, err := d.Send(command.Command{Op: command.OpPing})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSerial_Reports(t *testing.T) {
	d, mcu := pipeSerial(t)
	want := sampleReport()

	go func() {
		var b []byte
		b = append(b, "boot\r\n"...)
		b = want.AppendTo(b)
		b = append(b, "SYNC\r\n1\r\n"...) // abandoned by the next marker
		b = want.AppendTo(b)
		mcu.Write(b)
	}()

	for range 2 {
		select {
		case r := <-d.Reports():
			assert.Equal(t, want, r.Report)
			assert.False(t, r.Timestamp.IsZero())
		case <-time.After(2 * time.Second):
			t.Fatal("report not received")
		}
	}
}

func TestSerial_CloseClosesReports(t *testing.T) {
	d, _ := pipeSerial(t)
	assert.ErrorIs(t, d.Connect(), ErrAlreadyConnected)

	require.NoError(t, d.Close())
	assert.False(t, d.IsConnected())

	_, ok := <-d.Reports()
	assert.False(t, ok, "Channel should be closed")
	assert.ErrorIs(t, d.Connect(), ErrClosed)
}
