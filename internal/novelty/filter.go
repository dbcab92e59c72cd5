// Package novelty decides which fetched events have not been delivered yet.
package novelty

import "github.com/HerbHall/zbxrelay/internal/zabbix"

// Filter tracks a watermark: the newest event id already handed out. It is
// not safe for concurrent use; the relay loop is its only owner.
type Filter struct {
	watermark int64
	set       bool
	monotonic bool

	// OnRegression, when set, is called whenever a batch's newest id is
	// below the current watermark.
	OnRegression func(previous, latest int64)
}

// Option configures a Filter.
type Option func(*Filter)

// WithMonotonicWatermark keeps the watermark from ever moving backwards.
// Without it a batch whose newest id is lower than the watermark lowers
// the watermark to that id.
func WithMonotonicWatermark() Option {
	return func(f *Filter) { f.monotonic = true }
}

// New returns a Filter with an unset watermark.
func New(opts ...Option) *Filter {
	f := &Filter{}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Watermark returns the current watermark and whether it has been set.
func (f *Filter) Watermark() (int64, bool) {
	return f.watermark, f.set
}

// Restore seeds the watermark from a previous run so the first batch is
// filtered instead of being absorbed as a baseline.
func (f *Filter) Restore(id int64) {
	f.watermark = id
	f.set = true
}

// SelectNew returns the events newer than the watermark, preserving input
// order, and moves the watermark to the id of the first event. events must
// be sorted by id, descending.
//
// The first non-empty batch only establishes the baseline and yields nothing.
func (f *Filter) SelectNew(events []zabbix.Event) []zabbix.Event {
	if len(events) == 0 {
		return nil
	}
	latest := events[0].ID

	if !f.set {
		f.watermark = latest
		f.set = true
		return nil
	}

	var fresh []zabbix.Event
	for _, evt := range events {
		if evt.ID > f.watermark {
			fresh = append(fresh, evt)
		}
	}

	if latest < f.watermark {
		if f.OnRegression != nil {
			f.OnRegression(f.watermark, latest)
		}
		if f.monotonic {
			return fresh
		}
	}
	f.watermark = latest
	return fresh
}
