package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"
)

// PollState is the polling client's display state.
type PollState int

const (
	// PollIdle means no fetch has completed yet.
	PollIdle PollState = iota
	// PollPolling means the last fetch succeeded and fields are current.
	PollPolling
	// PollOffline means the last fetch failed; fields are blanked.  The
	// state is not terminal: the next success returns to PollPolling.
	PollOffline
)

func (s PollState) String() string {
	switch s {
	case PollPolling:
		return "online"
	case PollOffline:
		return "offline"
	default:
		return "idle"
	}
}

// FailReason distinguishes why a poll cycle failed.  The display treats
// them all as offline, but keeping them separate makes true server-side
// problems diagnosable instead of indistinguishable from "agent not
// started yet".
type FailReason string

const (
	ReasonNone     FailReason = ""
	ReasonTimeout  FailReason = "timeout"
	ReasonNotFound FailReason = "not-found"
	ReasonStatus   FailReason = "bad-status"
	ReasonParse    FailReason = "parse-error"
	// ReasonStale marks a response carrying a timestamp older than the
	// newest displayed sample; the update is discarded, state unchanged.
	ReasonStale FailReason = "stale"
)

// PollUpdate is the outcome of one poll cycle.
type PollUpdate struct {
	State  PollState
	Fields map[string]string // parsed document fields; empty when offline
	Stamp  time.Time         // document timestamp, zero if absent
	Reason FailReason
	Err    string // parse error text, preserved verbatim for display
}

// fetchFunc performs one request and returns the HTTP status and body.
// Injected so the state machine is testable without a server.
type fetchFunc func(ctx context.Context) (int, []byte, error)

// Poller is the polling client: an Idle/Polling/Offline state machine over
// a fixed-interval fetch of a dynamic data document.  The loop is
// synchronous, so a new poll is never issued while one is in flight.
type Poller struct {
	interval time.Duration
	timeout  time.Duration
	fetch    fetchFunc

	state PollState
	last  time.Time // newest displayed sample timestamp
}

// NewPoller builds a poller for a data document URL.  A fetch that has not
// completed within the timeout counts as failed for that cycle; the
// underlying request is cancelled.
func NewPoller(url string, interval, timeout time.Duration) *Poller {
	client := &http.Client{}
	return &Poller{
		interval: interval,
		timeout:  timeout,
		fetch: func(ctx context.Context) (int, []byte, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return 0, nil, err
			}
			resp, err := client.Do(req)
			if err != nil {
				return 0, nil, err
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return 0, nil, err
			}
			return resp.StatusCode, body, nil
		},
	}
}

// State returns the current display state.
func (p *Poller) State() PollState {
	return p.state
}

// Poll runs a single cycle and returns the resulting update.
func (p *Poller) Poll(ctx context.Context) PollUpdate {
	fctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	status, body, err := p.fetch(fctx)
	if err != nil {
		reason := ReasonStatus
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(fctx.Err(), context.DeadlineExceeded) {
			reason = ReasonTimeout
		}
		return p.offline(reason, err.Error())
	}
	switch {
	case status == http.StatusNotFound:
		return p.offline(ReasonNotFound, "")
	case status != http.StatusOK:
		return p.offline(ReasonStatus, fmt.Sprintf("status %d", status))
	}

	fields, stamp, err := parseDocument(body)
	if err != nil {
		// Parse failures stay visible: the error text is carried to
		// the display instead of being defaulted away.
		return p.offline(ReasonParse, err.Error())
	}

	// A response issued before a state transition can arrive late and out
	// of order.  The document's own timestamp decides: anything older
	// than the newest displayed sample is discarded.
	if !stamp.IsZero() && !p.last.IsZero() && stamp.Before(p.last) {
		return PollUpdate{State: p.state, Reason: ReasonStale, Stamp: stamp}
	}

	if !stamp.IsZero() {
		p.last = stamp
	}
	p.state = PollPolling
	return PollUpdate{State: PollPolling, Fields: fields, Stamp: stamp}
}

func (p *Poller) offline(reason FailReason, errText string) PollUpdate {
	p.state = PollOffline
	return PollUpdate{
		State:  PollOffline,
		Fields: map[string]string{}, // blank every displayed field
		Reason: reason,
		Err:    errText,
	}
}

// Run polls immediately, then at the fixed interval until the context is
// cancelled, delivering each update to fn.  Because cycles run one at a
// time on this goroutine, overlapping requests cannot occur; a cycle that
// outlasts the interval simply delays the next tick.
func (p *Poller) Run(ctx context.Context, fn func(PollUpdate)) {
	fn(p.Poll(ctx))
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(p.Poll(ctx))
		}
	}
}

// parseDocument decodes a dynamic data document (a JSON array with one
// object) into display fields and extracts its timestamp.  Numbers are
// rendered without exponent notation so the display matches the agents'
// own formatting.
func parseDocument(body []byte) (map[string]string, time.Time, error) {
	var docs []map[string]any
	if err := json.Unmarshal(body, &docs); err != nil {
		return nil, time.Time{}, err
	}
	if len(docs) == 0 {
		return nil, time.Time{}, errors.New("empty data document")
	}
	doc := docs[0]

	fields := make(map[string]string, len(doc))
	for k, v := range doc {
		switch t := v.(type) {
		case string:
			fields[k] = t
		case float64:
			fields[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			fields[k] = strconv.FormatBool(t)
		default:
			b, _ := json.Marshal(v)
			fields[k] = string(b)
		}
	}

	var stamp time.Time
	for _, key := range []string{"time", "date"} {
		if s, ok := fields[key]; ok {
			if t, err := time.ParseInLocation(stampLayout, s, time.Local); err == nil {
				stamp = t
			}
			break
		}
	}
	return fields, stamp, nil
}

// fieldKeys returns a document's field names in stable order, timestamp
// first, for rendering.
func fieldKeys(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "time" || k == "date" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, ts := range []string{"date", "time"} {
		if _, ok := fields[ts]; ok {
			keys = append([]string{ts}, keys...)
		}
	}
	return keys
}
