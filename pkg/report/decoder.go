package report

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Assembler rebuilds reports from individual lines. Lines outside a block
// are ignored, so it can sit on a stream that also carries command replies.
type Assembler struct {
	active bool
	n      int
	values [NumFields]uint32
}

// Active reports whether a block is being assembled.
func (a *Assembler) Active() bool {
	return a.active
}

// Feed consumes one line. done is true when line completed a report. A
// malformed value abandons the block and returns an error wrapping
// ErrMalformed.
func (a *Assembler) Feed(line string) (r Report, done bool, err error) {
	line = strings.TrimSpace(line)
	if line == SyncMarker {
		a.active = true
		a.n = 0
		return Report{}, false, nil
	}
	if !a.active {
		return Report{}, false, nil
	}

	v, err := strconv.ParseUint(line, 10, 32)
	if err != nil {
		a.active = false
		return Report{}, false, fmt.Errorf("%w: field %d %q: %v", ErrMalformed, a.n, line, err)
	}
	a.values[a.n] = uint32(v)
	a.n++
	if a.n < NumFields {
		return Report{}, false, nil
	}
	a.active = false
	return fromFields(a.values), true, nil
}

// Decoder reads reports from a stream.
type Decoder struct {
	sc  *bufio.Scanner
	asm Assembler
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{sc: bufio.NewScanner(r)}
}

// Decode returns the next complete report. Noise between blocks is skipped.
// It returns io.EOF at a clean end of stream and ErrTruncated if the stream
// ends inside a block.
func (d *Decoder) Decode() (Report, error) {
	for d.sc.Scan() {
		r, done, err := d.asm.Feed(d.sc.Text())
		if err != nil {
			return Report{}, err
		}
		if done {
			return r, nil
		}
	}
	if err := d.sc.Err(); err != nil {
		return Report{}, fmt.Errorf("failed to read reports: %w", err)
	}
	if d.asm.Active() {
		return Report{}, ErrTruncated
	}
	return Report{}, io.EOF
}
