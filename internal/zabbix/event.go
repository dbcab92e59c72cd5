package zabbix

import (
	"strconv"
	"strings"
	"time"
)

// Severity is the ordinal importance Zabbix assigns to a problem.
type Severity int

const (
	SeverityNotClassified Severity = iota
	SeverityInformation
	SeverityWarning
	SeverityAverage
	SeverityHigh
	SeverityDisaster
)

// UnknownHost is substituted when the originating host cannot be resolved.
const UnknownHost = "unknown"

var severityNames = [...]string{
	SeverityNotClassified: "Not classified",
	SeverityInformation:   "Information",
	SeverityWarning:       "Warning",
	SeverityAverage:       "Average",
	SeverityHigh:          "High",
	SeverityDisaster:      "Disaster",
}

// Valid reports whether s is one of the six defined severities.
func (s Severity) Valid() bool {
	return s >= SeverityNotClassified && s <= SeverityDisaster
}

func (s Severity) String() string {
	if !s.Valid() {
		return severityNames[SeverityNotClassified]
	}
	return severityNames[s]
}

// ParseSeverity converts the API's string-encoded severity. Anything that is
// not a known ordinal maps to SeverityNotClassified.
func ParseSeverity(raw string) Severity {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return SeverityNotClassified
	}
	s := Severity(n)
	if !s.Valid() {
		return SeverityNotClassified
	}
	return s
}

// Tag is a problem tag as returned by selectTags.
type Tag struct {
	Tag   string `json:"tag"`
	Value string `json:"value"`
}

// Event is one active problem observed during a poll cycle.
type Event struct {
	ID           int64
	Severity     Severity
	Name         string
	Host         string
	Clock        time.Time
	TriggerID    string
	Acknowledged bool
	Suppressed   bool
	Tags         []Tag
}

// NewEvent builds an Event and applies the defaulting rules: an empty host
// becomes UnknownHost and an out-of-range severity becomes SeverityNotClassified.
func NewEvent(id int64, severity Severity, name, host string, clock time.Time) Event {
	if !severity.Valid() {
		severity = SeverityNotClassified
	}
	host = strings.TrimSpace(host)
	if host == "" {
		host = UnknownHost
	}
	return Event{
		ID:       id,
		Severity: severity,
		Name:     name,
		Host:     host,
		Clock:    clock,
	}
}

// problem is the wire representation of a problem.get result row.
// Zabbix encodes every scalar as a JSON string.
type problem struct {
	EventID      string `json:"eventid"`
	Source       string `json:"source"`
	Object       string `json:"object"`
	ObjectID     string `json:"objectid"`
	Clock        string `json:"clock"`
	Name         string `json:"name"`
	Severity     string `json:"severity"`
	Acknowledged string `json:"acknowledged"`
	Suppressed   string `json:"suppressed"`
	Tags         []Tag  `json:"tags"`
}

// isTrigger reports whether the problem originates from a trigger, in which
// case objectid is a trigger id that can be resolved to hosts.
func (p problem) isTrigger() bool {
	return (p.Source == "" || p.Source == "0") && (p.Object == "" || p.Object == "0") && p.ObjectID != ""
}

func (p problem) toEvent(host string) (Event, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(p.EventID), 10, 64)
	if err != nil {
		return Event{}, err
	}
	var clock time.Time
	if secs, err := strconv.ParseInt(strings.TrimSpace(p.Clock), 10, 64); err == nil {
		clock = time.Unix(secs, 0)
	}
	evt := NewEvent(id, ParseSeverity(p.Severity), p.Name, host, clock)
	evt.TriggerID = p.ObjectID
	evt.Acknowledged = p.Acknowledged == "1"
	evt.Suppressed = p.Suppressed == "1"
	evt.Tags = p.Tags
	return evt, nil
}
