package monitor

import "time"

// TickSource drives the loop's cycle cadence. Tests substitute a manual
// source; production uses NewIntervalTicker.
type TickSource interface {
	C() <-chan time.Time
	Stop()
}

type intervalTicker struct {
	t *time.Ticker
}

// NewIntervalTicker returns a TickSource firing every interval.
func NewIntervalTicker(interval time.Duration) TickSource {
	return &intervalTicker{t: time.NewTicker(interval)}
}

func (it *intervalTicker) C() <-chan time.Time { return it.t.C }
func (it *intervalTicker) Stop()               { it.t.Stop() }
