package console

import (
	"fmt"
	"time"

	"github.com/fatih/color"

	"github.com/ericogr/pulsestim/pkg/control"
	"github.com/ericogr/pulsestim/pkg/output"
)

var (
	flagged = color.New(color.FgRed).SprintFunc()
	normal  = fmt.Sprint
)

type ConsoleOutput struct{}

func NewConsole() output.Output { return &ConsoleOutput{} }

// Publish prints one line per snapshot. Fields that have no effect in the
// current mode are printed in red, stale ones are suffixed with '*'.
func (c *ConsoleOutput) Publish(s control.Snapshot) error {
	state := s.Mode.String()
	if s.Undefined {
		state += " (undefined switch)"
	}
	fmt.Printf("%s state=%s amplitude=%s on_time=%s delay=%s\n",
		s.Timestamp.Format(time.RFC3339), state,
		field(s.Amplitude+"V", s.Flagged.Amplitude, s.Stale.Amplitude),
		field(s.OnTime+"ms", s.Flagged.OnTime, s.Stale.OnTime),
		field(s.Delay+"s", s.Flagged.Delay, s.Stale.Delay))
	return nil
}

func field(v string, isFlagged, isStale bool) string {
	if isStale {
		v += "*"
	}
	if isFlagged {
		return flagged(v)
	}
	return normal(v)
}

func (c *ConsoleOutput) Close() error { return nil }
