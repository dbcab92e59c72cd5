// Package format renders batches of problems as Telegram HTML messages.
package format

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/HerbHall/zbxrelay/internal/zabbix"
)

const (
	// DefaultTitle heads every message.
	DefaultTitle = "Zabbix Alert"
	// DefaultMinLength is the shortest message worth sending.
	DefaultMinLength = 20
	// MaxMessageLength is Telegram's limit for one message.
	MaxMessageLength = 4096

	timeLayout = "2006-01-02 15:04:05 MST"
)

// Config controls rendering. Zero values fall back to the defaults.
type Config struct {
	Title     string
	Location  *time.Location
	MinLength int
	MaxLength int
}

// Formatter turns a batch of events into one message.
type Formatter struct {
	cfg Config
	now func() time.Time
}

// New creates a Formatter.
func New(cfg Config) *Formatter {
	if cfg.Title == "" {
		cfg.Title = DefaultTitle
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultMinLength
	}
	if cfg.MaxLength <= 0 || cfg.MaxLength > MaxMessageLength {
		cfg.MaxLength = MaxMessageLength
	}
	return &Formatter{cfg: cfg, now: time.Now}
}

// Icon returns the emoji shown for a severity.
func Icon(s zabbix.Severity) string {
	switch s {
	case zabbix.SeverityInformation:
		return "\U0001F535" // blue circle
	case zabbix.SeverityWarning:
		return "\U0001F7E1" // yellow circle
	case zabbix.SeverityAverage:
		return "\U0001F7E0" // orange circle
	case zabbix.SeverityHigh:
		return "\U0001F534" // red circle
	case zabbix.SeverityDisaster:
		return "\U0001F4A5" // collision
	default:
		return "\u26AA" // white circle
	}
}

// Format renders events. It returns false when there is nothing worth
// sending: no events, or a result shorter than the configured minimum.
func (f *Formatter) Format(events []zabbix.Event) (string, bool) {
	if len(events) == 0 {
		return "", false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\U0001F6A8 <b>%s</b>\n", html.EscapeString(f.cfg.Title))
	fmt.Fprintf(&b, "<i>%s</i>\n", f.now().In(f.cfg.Location).Format(timeLayout))

	// Leave room for the overflow line.
	budget := f.cfg.MaxLength - 64
	for i, evt := range events {
		block := f.block(evt)
		room := budget - utf8.RuneCountInString(b.String())
		if utf8.RuneCountInString(block) > room {
			if i > 0 {
				fmt.Fprintf(&b, "\n... and %d more", len(events)-i)
				break
			}
			// The first event is always sent, shortened if need be.
			block = f.fitBlock(evt, room)
		}
		b.WriteString(block)
	}

	text := strings.TrimRight(b.String(), "\n")
	if utf8.RuneCountInString(text) < f.cfg.MinLength {
		return "", false
	}
	return text, true
}

func (f *Formatter) block(evt zabbix.Event) string {
	host := evt.Host
	if host == "" {
		host = zabbix.UnknownHost
	}
	sev := evt.Severity
	if !sev.Valid() {
		sev = zabbix.SeverityNotClassified
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n%s <b>%s</b>", Icon(sev), html.EscapeString(sev.String()))
	if evt.Acknowledged {
		b.WriteString(" (acknowledged)")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Host: <code>%s</code>\n", html.EscapeString(host))
	fmt.Fprintf(&b, "Problem: %s\n", html.EscapeString(evt.Name))
	fmt.Fprintf(&b, "Started: %s\n", f.clock(evt.Clock))
	if len(evt.Tags) > 0 {
		tags := make([]string, 0, len(evt.Tags))
		for _, t := range evt.Tags {
			if t.Value == "" {
				tags = append(tags, html.EscapeString(t.Tag))
				continue
			}
			tags = append(tags, html.EscapeString(t.Tag+":"+t.Value))
		}
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(tags, ", "))
	}
	fmt.Fprintf(&b, "Event ID: %d\n", evt.ID)
	return b.String()
}

// fitBlock renders evt within room runes. Tags go first, then the
// problem name and host are cut.
func (f *Formatter) fitBlock(evt zabbix.Event, room int) string {
	evt.Tags = nil
	block := f.block(evt)
	for _, field := range []*string{&evt.Name, &evt.Host} {
		excess := utf8.RuneCountInString(block) - room
		if excess <= 0 {
			break
		}
		*field = truncate(*field, utf8.RuneCountInString(html.EscapeString(*field))-excess)
		block = f.block(evt)
	}
	return block
}

// truncate returns the longest prefix of s, marked with "...", whose
// HTML-escaped form is at most n runes. An entity is never split.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(html.EscapeString(s)) <= n {
		return s
	}
	if n < 3 {
		return ""
	}
	used := 0
	for i, r := range s {
		w := utf8.RuneCountInString(html.EscapeString(string(r)))
		if used+w > n-3 {
			return s[:i] + "..."
		}
		used += w
	}
	return s
}

func (f *Formatter) clock(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.In(f.cfg.Location).Format(timeLayout)
}
