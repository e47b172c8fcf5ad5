//go:build tinygo

package main

import "machine"

const (
	// ADC configuration
	ADC_REFERENCE_MV = 3300 // Reference voltage in millivolts (3.3V)
	ADC_RESOLUTION   = 12   // ADC resolution in bits (12-bit = 0-4095)

	// DAC code range used by the bias servo (12-bit)
	DAC_BITS = 12

	// Pulse capture timer clock before the counter divider
	CAPTURE_TIMER_HZ = 32_000_000

	// Command line buffer
	LINE_BUFFER_SIZE = 32

	// Bias regulator reference
	PIN_DAC = machine.A0

	// ADC inputs
	PIN_VBIAS_ADC   = machine.A1
	PIN_CURRENT_ADC = machine.A2

	// Comparator output of the RC oscillator
	PIN_COMPARATOR = machine.D3

	// Bias generation
	PIN_LDO_EN     = machine.D4
	PIN_STEPUP_EN  = machine.D5
	PIN_QUENCH     = machine.D6
	PIN_SENSE_EN   = machine.D7
	PIN_FEEDBACK   = machine.D8
	PIN_RANGE_EN   = machine.D9
	PIN_RANGE_SEL0 = machine.D10

	// Range select bits 1 and 2 share the SWD header pads
	PIN_RANGE_SEL1 = machine.D1
	PIN_RANGE_SEL2 = machine.D2

	// Serial configuration
	// A report block is 10 lines of at most 11 bytes; at 10 windows per second
	// that is ~1,100 bytes/sec, well inside 115200 baud.
	UART_BAUD_RATE = 115200
)
