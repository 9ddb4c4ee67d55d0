package cluster

import "fmt"

// StatusEvent is a progress report from a running encode
type StatusEvent struct {
	Host  string
	File  string
	Speed float64
	Comp  int // compression so far, percent
	Done  int // percent of the runtime encoded
}

func (e StatusEvent) String() string {
	return fmt.Sprintf("%s: %s speed: %.2fx, comp: %d%%, done: %3d%%", e.Host, e.File, e.Speed, e.Comp, e.Done)
}
