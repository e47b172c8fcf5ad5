//go:build tinygo

//go:generate tinygo flash -target=xiao

package main

import (
	"machine"
	"time"

	"github.com/itohio/gocapmeter/pkg/capture"
	"github.com/itohio/gocapmeter/pkg/command"
	"github.com/itohio/gocapmeter/pkg/hal"
	"github.com/itohio/gocapmeter/pkg/instrument"
	"github.com/itohio/gocapmeter/pkg/report"
)

var (
	serial = machine.Serial

	// Serial buffer for reading lines
	lineBuffer [LINE_BUFFER_SIZE]byte
	linePos    int
	overlong   bool

	// Output buffer shared by replies and reports
	out []byte
)

func main() {
	serial.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})

	var board *xiao
	acc := capture.New(func() bool { return board.polarity() })
	board = newBoard(acc)

	inst, err := instrument.New(board, acc, hal.DefaultCalibration(), instrument.DefaultConfig())
	if err != nil {
		for {
			println("init failed:", err.Error())
			time.Sleep(time.Second)
		}
	}
	inst.OnReport(func(r report.Report) {
		out = r.AppendTo(out[:0])
		serial.Write(out)
	})

	// Main loop
	for {
		processSerial(inst)
		board.tick()
		inst.Poll()
	}
}

// processSerial executes every complete command line received so far.
func processSerial(inst *instrument.Instrument) {
	for serial.Buffered() > 0 {
		data, err := serial.ReadByte()
		if err != nil {
			break
		}

		if data == '\n' || data == '\r' {
			if overlong {
				reply(command.Err(command.ErrArgument))
			} else if linePos > 0 {
				reply(inst.HandleLine(string(lineBuffer[:linePos])))
			}
			linePos = 0
			overlong = false
			continue
		}

		if linePos < len(lineBuffer) {
			lineBuffer[linePos] = data
			linePos++
		} else {
			overlong = true
		}
	}
}

func reply(r command.Reply) {
	out = r.AppendTo(out[:0])
	serial.Write(out)
}
