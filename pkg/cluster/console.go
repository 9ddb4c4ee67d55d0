package cluster

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Console serializes multi-line output from concurrent workers so blocks
// never interleave.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole wraps w
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Block writes lines as one uninterrupted block
func (c *Console) Block(lines ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	io.WriteString(c.w, strings.Join(lines, "\n")+"\n")
}

// Printf writes one formatted line
func (c *Console) Printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format+"\n", args...)
}
