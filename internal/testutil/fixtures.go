// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"time"

	"github.com/HerbHall/zbxrelay/internal/zabbix"
)

// NewEvent returns an Event with sensible defaults, suitable for test fixtures.
func NewEvent(opts ...func(*zabbix.Event)) zabbix.Event {
	e := zabbix.NewEvent(1, zabbix.SeverityHigh, "High CPU utilization", "web-01",
		time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	e.TriggerID = "13491"
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// WithID sets the event id.
func WithID(id int64) func(*zabbix.Event) {
	return func(e *zabbix.Event) { e.ID = id }
}

// WithSeverity sets the event severity.
func WithSeverity(s zabbix.Severity) func(*zabbix.Event) {
	return func(e *zabbix.Event) { e.Severity = s }
}

// WithHost sets the host name.
func WithHost(host string) func(*zabbix.Event) {
	return func(e *zabbix.Event) { e.Host = host }
}

// WithName sets the problem name.
func WithName(name string) func(*zabbix.Event) {
	return func(e *zabbix.Event) { e.Name = name }
}

// WithClock sets when the problem started.
func WithClock(t time.Time) func(*zabbix.Event) {
	return func(e *zabbix.Event) { e.Clock = t }
}

// WithTags sets the event tags.
func WithTags(tags ...zabbix.Tag) func(*zabbix.Event) {
	return func(e *zabbix.Event) { e.Tags = tags }
}

// Acknowledged marks the event as acknowledged.
func Acknowledged() func(*zabbix.Event) {
	return func(e *zabbix.Event) { e.Acknowledged = true }
}

// Batch returns one default event per id, in the order given. Pass ids
// newest first to mimic problem.get.
func Batch(ids ...int64) []zabbix.Event {
	events := make([]zabbix.Event, 0, len(ids))
	for _, id := range ids {
		events = append(events, NewEvent(WithID(id)))
	}
	return events
}
