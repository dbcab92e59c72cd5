package zabbix

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// DefaultProblemLimit caps how many problems one fetch returns.
const DefaultProblemLimit = 10

type problemGetParams struct {
	Output                string   `json:"output"`
	SelectAcknowledges    string   `json:"selectAcknowledges"`
	SelectTags            string   `json:"selectTags"`
	SelectSuppressionData string   `json:"selectSuppressionData"`
	SortField             []string `json:"sortfield"`
	SortOrder             string   `json:"sortorder"`
	Limit                 int      `json:"limit"`
}

type triggerGetParams struct {
	TriggerIDs  []string `json:"triggerids"`
	Output      []string `json:"output"`
	SelectHosts []string `json:"selectHosts"`
}

type triggerHosts struct {
	TriggerID string `json:"triggerid"`
	Hosts     []struct {
		Host string `json:"host"`
		Name string `json:"name"`
	} `json:"hosts"`
}

// Fetcher retrieves the newest active problems using a Session.
type Fetcher struct {
	client  *Client
	session *Session
	limit   int
	logger  *zap.Logger
}

// NewFetcher creates a fetcher. A non-positive limit uses DefaultProblemLimit.
func NewFetcher(client *Client, session *Session, limit int, logger *zap.Logger) *Fetcher {
	if limit <= 0 {
		limit = DefaultProblemLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		client:  client,
		session: session,
		limit:   limit,
		logger:  logger,
	}
}

// FetchActiveProblems returns the newest active problems ordered by event id,
// descending. Every failure yields an empty result; a failed problem.get also
// invalidates the session so the next call logs in again.
func (f *Fetcher) FetchActiveProblems(ctx context.Context) []Event {
	events, err := f.fetch(ctx)
	if err != nil {
		f.logger.Warn("fetch active problems failed",
			zap.Bool("auth_error", IsAuthError(err)),
			zap.Error(err),
		)
		return nil
	}
	return events
}

func (f *Fetcher) fetch(ctx context.Context) ([]Event, error) {
	if !f.session.Valid() {
		if err := f.session.Authenticate(ctx); err != nil {
			return nil, fmt.Errorf("authenticate: %w", err)
		}
	}

	var rows []problem
	err := f.client.Call(ctx, "problem.get", problemGetParams{
		Output:                "extend",
		SelectAcknowledges:    "extend",
		SelectTags:            "extend",
		SelectSuppressionData: "extend",
		SortField:             []string{"eventid"},
		SortOrder:             "DESC",
		Limit:                 f.limit,
	}, f.session.Token(), &rows)
	if err != nil {
		f.session.Invalidate()
		return nil, fmt.Errorf("problem.get: %w", err)
	}

	hosts := f.resolveHosts(ctx, rows)

	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		evt, err := row.toEvent(hosts[row.ObjectID])
		if err != nil {
			f.logger.Warn("skipping problem with invalid event id",
				zap.String("eventid", row.EventID),
				zap.Error(err),
			)
			continue
		}
		events = append(events, evt)
	}

	f.logger.Debug("fetched active problems", zap.Int("count", len(events)))
	return events, nil
}

// resolveHosts maps trigger ids to a display host name with one trigger.get
// call. A failure only costs host names, never the batch.
func (f *Fetcher) resolveHosts(ctx context.Context, rows []problem) map[string]string {
	ids := make([]string, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		if row.isTrigger() && !seen[row.ObjectID] {
			seen[row.ObjectID] = true
			ids = append(ids, row.ObjectID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	var triggers []triggerHosts
	err := f.client.Call(ctx, "trigger.get", triggerGetParams{
		TriggerIDs:  ids,
		Output:      []string{"triggerid"},
		SelectHosts: []string{"host", "name"},
	}, f.session.Token(), &triggers)
	if err != nil {
		f.logger.Warn("resolve problem hosts failed", zap.Error(err))
		return nil
	}

	hosts := make(map[string]string, len(triggers))
	for _, t := range triggers {
		if len(t.Hosts) == 0 {
			continue
		}
		name := t.Hosts[0].Name
		if name == "" {
			name = t.Hosts[0].Host
		}
		hosts[t.TriggerID] = name
	}
	return hosts
}
