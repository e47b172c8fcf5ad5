package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/itohio/gocapmeter/pkg/command"
)

func TestDescribeReply(t *testing.T) {
	tests := []struct {
		reply command.Reply
		want  string
	}{
		{reply: command.OK(command.OpPing), want: "Connected"},
		{reply: command.OK(command.OpBias, "reached", "4996"), want: "Bias reached, 4996 mV"},
		{reply: command.OK(command.OpQuench, "quenched", "12"), want: "Bias quenched, 12 mV"},
		{reply: command.OK(command.OpCapacitance), want: "Measuring capacitance"},
		{reply: command.OK(command.OpRange, "2"), want: "OK R 2"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, describeReply(tt.reply))
		})
	}
}
