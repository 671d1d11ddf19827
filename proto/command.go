package proto

import (
	"errors"
	"strings"
)

var errEmptyCommand = errors.New("empty command")

// Command is a client request: an array of bulk strings.
type Command struct {
	Args []string
}

// NewCommand builds a command from its arguments.
func NewCommand(args ...string) (*Command, error) {
	if len(args) == 0 {
		return nil, errEmptyCommand
	}
	return &Command{Args: args}, nil
}

// Name is the upper-cased verb.
func (c *Command) Name() string {
	return strings.ToUpper(c.Args[0])
}

// Value returns argument i, or the empty string when absent.
func (c *Command) Value(i int) string {
	if i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// Format encodes the command as an array of bulk strings.
func (c *Command) Format() []byte {
	d := &Data{T: T_Array, Array: make([]*Data, 0, len(c.Args))}
	for _, arg := range c.Args {
		d.Array = append(d.Array, &Data{T: T_BulkString, String: []byte(arg)})
	}
	return d.Format()
}
