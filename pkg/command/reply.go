package command

import (
	"fmt"
	"strconv"
	"strings"
)

// Reply answers one command.
type Reply struct {
	OK   bool
	Op   Op       // zero for ERR replies
	Args []string // reply values, or the error text words
}

// OK builds a successful reply to op.
func OK(op Op, args ...string) Reply {
	return Reply{OK: true, Op: op, Args: args}
}

// Err builds a failure reply.
func Err(err error) Reply {
	return Reply{Args: []string{sanitize(err.Error())}}
}

// sanitize keeps an error text on one line.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, s)
}

// Uint formats v as a reply value.
func Uint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// IsReply reports whether line is a reply rather than report data.
func IsReply(line string) bool {
	line = strings.TrimSpace(line)
	return hasToken(line, "OK") || hasToken(line, "ERR")
}

func hasToken(line, tok string) bool {
	return line == tok || strings.HasPrefix(line, tok+" ")
}

// AppendTo appends the wire form of r, with its line terminator.
func (r Reply) AppendTo(b []byte) []byte {
	if r.OK {
		b = append(b, "OK "...)
		b = append(b, r.Op.String()...)
	} else {
		b = append(b, "ERR"...)
	}
	for _, a := range r.Args {
		b = append(b, ' ')
		b = append(b, a...)
	}
	return append(b, '\r', '\n')
}

func (r Reply) String() string {
	return strings.TrimSpace(string(r.AppendTo(nil)))
}

// Failure returns the failure of an ERR reply, or nil.
func (r Reply) Failure() error {
	if r.OK {
		return nil
	}
	return fmt.Errorf("device error: %s", strings.Join(r.Args, " "))
}

// Uint returns argument i as an unsigned number.
func (r Reply) Uint(i int) (uint64, error) {
	if i >= len(r.Args) {
		return 0, fmt.Errorf("%w: %s has no argument %d", ErrReply, r.Op, i)
	}
	v, err := strconv.ParseUint(r.Args[i], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrReply, r.Args[i])
	}
	return v, nil
}

// Arg returns argument i or an empty string.
func (r Reply) Arg(i int) string {
	if i >= len(r.Args) {
		return ""
	}
	return r.Args[i]
}

// ParseReply parses one reply line.
func ParseReply(line string) (Reply, error) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return Reply{}, fmt.Errorf("%w: empty line", ErrReply)
	}
	switch f[0] {
	case "ERR":
		return Reply{Args: f[1:]}, nil
	case "OK":
		if len(f) < 2 {
			return Reply{}, fmt.Errorf("%w: %q", ErrReply, line)
		}
		op, ok := lookupOp(f[1])
		if !ok {
			return Reply{}, fmt.Errorf("%w: unknown op %q", ErrReply, f[1])
		}
		return Reply{OK: true, Op: op, Args: f[2:]}, nil
	default:
		return Reply{}, fmt.Errorf("%w: %q", ErrReply, line)
	}
}
