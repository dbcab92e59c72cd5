package format

import (
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/HerbHall/zbxrelay/internal/zabbix"
)

var fixedNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func newTestFormatter(cfg Config) *Formatter {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	f := New(cfg)
	f.now = func() time.Time { return fixedNow }
	return f
}

func TestFormat_EmptyIsAbsent(t *testing.T) {
	f := newTestFormatter(Config{})
	if text, ok := f.Format(nil); ok || text != "" {
		t.Errorf("Format(nil) = %q, %v; want absent", text, ok)
	}
	if _, ok := f.Format([]zabbix.Event{}); ok {
		t.Error("Format([]) should be absent")
	}
}

func TestFormat_BelowMinimumIsAbsent(t *testing.T) {
	f := newTestFormatter(Config{MinLength: 10000})
	evt := zabbix.NewEvent(1, zabbix.SeverityHigh, "x", "h", fixedNow)
	if _, ok := f.Format([]zabbix.Event{evt}); ok {
		t.Error("expected absent for text below minimum length")
	}
}

func TestFormat_RendersBlocks(t *testing.T) {
	f := newTestFormatter(Config{})
	events := []zabbix.Event{
		zabbix.NewEvent(108, zabbix.SeverityDisaster, "Service down", "web-01", time.Date(2026, 10, 19, 11, 58, 0, 0, time.UTC)),
		zabbix.NewEvent(107, zabbix.SeverityWarning, "Disk 85%", "", time.Time{}),
	}

	text, ok := f.Format(events)
	if !ok {
		t.Fatal("Format returned absent")
	}

	for _, want := range []string{
		"<b>Zabbix Alert</b>",
		"2026-10-19 12:00:00 UTC",
		Icon(zabbix.SeverityDisaster) + " <b>Disaster</b>",
		"Host: <code>web-01</code>",
		"Problem: Service down",
		"Started: 2026-10-19 11:58:00 UTC",
		"Event ID: 108",
		Icon(zabbix.SeverityWarning) + " <b>Warning</b>",
		"Host: <code>unknown</code>",
		"Started: unknown",
		"Event ID: 107",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("message missing %q:\n%s", want, text)
		}
	}
	if strings.Index(text, "Event ID: 108") > strings.Index(text, "Event ID: 107") {
		t.Error("events rendered out of order")
	}
}

func TestFormat_UnknownSeverityAndHost(t *testing.T) {
	f := newTestFormatter(Config{})
	evt := zabbix.Event{ID: 5, Severity: zabbix.Severity(99), Name: "odd"}

	text, ok := f.Format([]zabbix.Event{evt})
	if !ok {
		t.Fatal("Format returned absent")
	}
	if !strings.Contains(text, Icon(zabbix.SeverityNotClassified)+" <b>Not classified</b>") {
		t.Errorf("unknown severity not mapped to not classified:\n%s", text)
	}
	if !strings.Contains(text, "<code>unknown</code>") {
		t.Errorf("missing host placeholder:\n%s", text)
	}
}

func TestFormat_EscapesHTML(t *testing.T) {
	f := newTestFormatter(Config{Title: "Ops <prod>"})
	evt := zabbix.NewEvent(1, zabbix.SeverityHigh, "Load > 5 & <rising>", "db<1>", fixedNow)
	evt.Tags = []zabbix.Tag{{Tag: "team", Value: "a&b"}, {Tag: "bare"}}

	text, _ := f.Format([]zabbix.Event{evt})
	for _, want := range []string{"Ops &lt;prod&gt;", "Load &gt; 5 &amp; &lt;rising&gt;", "db&lt;1&gt;", "Tags: team:a&amp;b, bare"} {
		if !strings.Contains(text, want) {
			t.Errorf("message missing %q:\n%s", want, text)
		}
	}
}

func TestFormat_AcknowledgedMarker(t *testing.T) {
	f := newTestFormatter(Config{})
	evt := zabbix.NewEvent(1, zabbix.SeverityAverage, "x", "h", fixedNow)
	evt.Acknowledged = true

	text, _ := f.Format([]zabbix.Event{evt})
	if !strings.Contains(text, "(acknowledged)") {
		t.Errorf("missing acknowledged marker:\n%s", text)
	}
}

func TestFormat_TimezoneApplied(t *testing.T) {
	loc := time.FixedZone("MSK", 3*60*60)
	f := newTestFormatter(Config{Location: loc})
	evt := zabbix.NewEvent(1, zabbix.SeverityHigh, "x", "h", time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC))

	text, _ := f.Format([]zabbix.Event{evt})
	if !strings.Contains(text, "Started: 2026-10-19 12:00:00 MSK") {
		t.Errorf("occurrence time not converted:\n%s", text)
	}
}

func TestFormat_CapsLength(t *testing.T) {
	f := newTestFormatter(Config{MaxLength: 600})
	var events []zabbix.Event
	for i := 50; i > 0; i-- {
		events = append(events, zabbix.NewEvent(int64(i), zabbix.SeverityHigh, strings.Repeat("n", 40), "host", fixedNow))
	}

	text, ok := f.Format(events)
	if !ok {
		t.Fatal("Format returned absent")
	}
	if n := utf8.RuneCountInString(text); n > 600 {
		t.Errorf("length = %d, want <= 600", n)
	}
	if !strings.Contains(text, "more") || !strings.Contains(text, "Event ID: 50") {
		t.Errorf("expected first block and overflow line:\n%s", text)
	}
	if strings.Contains(text, fmt.Sprintf("Event ID: %d\n", 1)) {
		t.Error("last event should have been cut")
	}
}

func TestFormat_OversizedSingleEvent(t *testing.T) {
	f := newTestFormatter(Config{})
	evt := zabbix.NewEvent(4242, zabbix.SeverityDisaster, strings.Repeat("<disk>", 1000), "db-01", fixedNow)
	for i := 0; i < 40; i++ {
		evt.Tags = append(evt.Tags, zabbix.Tag{Tag: fmt.Sprintf("tag%d", i), Value: strings.Repeat("v", 100)})
	}

	text, ok := f.Format([]zabbix.Event{evt})
	if !ok {
		t.Fatal("Format returned absent")
	}
	if n := utf8.RuneCountInString(text); n > MaxMessageLength {
		t.Errorf("length = %d, want <= %d", n, MaxMessageLength)
	}
	for _, want := range []string{"Event ID: 4242", "Host: <code>db-01</code>", "Problem: &lt;disk&gt;", "...", "Disaster"} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in:\n%.300s", want, text)
		}
	}
	if strings.Contains(text, "more") {
		t.Error("a single event must not be reported as overflow")
	}
}

func TestFormat_OversizedFirstEventOverflowsRest(t *testing.T) {
	f := newTestFormatter(Config{MaxLength: 600})
	events := []zabbix.Event{
		zabbix.NewEvent(9, zabbix.SeverityHigh, strings.Repeat("n", 2000), "host", fixedNow),
		zabbix.NewEvent(8, zabbix.SeverityHigh, "short", "host", fixedNow),
	}

	text, ok := f.Format(events)
	if !ok {
		t.Fatal("Format returned absent")
	}
	if n := utf8.RuneCountInString(text); n > 600 {
		t.Errorf("length = %d, want <= 600", n)
	}
	if !strings.Contains(text, "Event ID: 9") || !strings.Contains(text, "... and 1 more") {
		t.Errorf("expected shortened first block and overflow line:\n%s", text)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"disk full on /var", 10, "disk fu..."},
		{"ёжик в тумане", 6, "ёжи..."},
		{"a<b>c", 7, "a..."},
		{"abcdef", 2, ""},
		{"abcdef", -4, ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestIcon_Distinct(t *testing.T) {
	seen := make(map[string]zabbix.Severity)
	for s := zabbix.SeverityNotClassified; s <= zabbix.SeverityDisaster; s++ {
		icon := Icon(s)
		if prev, dup := seen[icon]; dup {
			t.Errorf("severity %v and %v share icon %q", prev, s, icon)
		}
		seen[icon] = s
	}
}
