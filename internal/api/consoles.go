package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-xbox/internal/audit"
	"github.com/nerrad567/gray-logic-xbox/internal/consoles"
)

// Upper bounds for synchronous console operations.
const (
	powerRequestTimeout   = 60 * time.Second
	commandRequestTimeout = 15 * time.Second
)

// powerRequest is the body for POST /consoles/{id}/power.
type powerRequest struct {
	// State is "on" or "off".
	State string `json:"state"`
}

// commandRequest is the body for POST /consoles/{id}/commands.
type commandRequest struct {
	Channel string   `json:"channel"`
	Code    string   `json:"code"`
	Args    []uint64 `json:"args,omitempty"`
}

// actionRequest is the body for POST /consoles/{id}/actions.
type actionRequest struct {
	Action string `json:"action"`
}

// commandResponse reports a completed console operation.
type commandResponse struct {
	ConsoleID string `json:"console_id"`
	Status    string `json:"status"`
}

// handleListConsoles returns every configured console.
func (s *Server) handleListConsoles(w http.ResponseWriter, _ *http.Request) {
	list := s.consoles.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"consoles": list,
		"count":    len(list),
	})
}

// handleGetConsole returns one console. Device info reported before this
// process started is filled in from the store.
func (s *Server) handleGetConsole(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := s.consoles.Status(id)
	if err != nil {
		writeConsoleError(w, err)
		return
	}

	if st.DeviceInfo == nil && s.history != nil {
		stored, err := s.history.DeviceInfo(r.Context(), id)
		switch {
		case err == nil:
			st.DeviceInfo = &stored.Info
		case !errors.Is(err, consoles.ErrNoDeviceInfo):
			s.logger.Warn("failed to read stored device info", "console_id", id, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, st)
}

// handleGetConsoleState returns the session state and latest snapshot.
func (s *Server) handleGetConsoleState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := s.consoles.Status(id)
	if err != nil {
		writeConsoleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"console_id": st.ID,
		"state":      st.State,
		"power":      st.Power,
		"terminal":   st.Terminal,
		"snapshot":   st.Snapshot,
	})
}

// handleConsoleHistory returns stored snapshots, newest first.
//
// Query parameters:
//   - since, until: RFC3339 bounds on recorded_at
//   - limit: max results (default 50, max 500)
func (s *Server) handleConsoleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.consoles.Status(id); err != nil {
		writeConsoleError(w, err)
		return
	}
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "state history not configured")
		return
	}

	q := r.URL.Query()
	var query consoles.HistoryQuery
	for _, bound := range []struct {
		name string
		dst  *time.Time
	}{{"since", &query.Since}, {"until", &query.Until}} {
		v := q.Get(bound.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, bound.name+" must be an RFC3339 timestamp")
			return
		}
		*bound.dst = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		query.Limit = n
	}

	entries, err := s.history.History(r.Context(), id, query)
	if err != nil {
		s.logger.Error("failed to read state history", "console_id", id, "error", err)
		writeInternalError(w, "failed to read state history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"console_id": id,
		"entries":    entries,
		"count":      len(entries),
	})
}

// handleConsoleDiagnostics returns the session counters.
func (s *Server) handleConsoleDiagnostics(w http.ResponseWriter, r *http.Request) {
	d, err := s.consoles.Diagnostics(chi.URLParam(r, "id"))
	if err != nil {
		writeConsoleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleConsolePower powers a console on or off. Power on answers once the
// console is connected or the power-on timeout expired.
func (s *Server) handleConsolePower(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req powerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var (
		action string
		run    func(ctx context.Context) error
	)
	switch req.State {
	case "on":
		action = audit.ActionPowerOn
		run = func(ctx context.Context) error { return s.consoles.PowerOn(ctx, id) }
	case "off":
		action = audit.ActionPowerOff
		run = func(ctx context.Context) error { return s.consoles.PowerOff(ctx, id) }
	default:
		writeBadRequest(w, `state must be "on" or "off"`)
		return
	}

	s.execute(w, r, id, action, nil, powerRequestTimeout, run)
}

// handleConsoleCommand sends one vocabulary command on a channel.
func (s *Server) handleConsoleCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Channel == "" || req.Code == "" {
		writeBadRequest(w, "channel and code are required")
		return
	}

	details := map[string]any{"channel": req.Channel, "code": req.Code}
	if len(req.Args) > 0 {
		details["args"] = req.Args
	}
	s.execute(w, r, id, audit.ActionCommand, details, commandRequestTimeout, func(ctx context.Context) error {
		return s.consoles.SendCommand(ctx, id, req.Channel, req.Code, req.Args...)
	})
}

// handleConsoleAction triggers a special action such as record_game_dvr.
func (s *Server) handleConsoleAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Action == "" {
		writeBadRequest(w, "action is required")
		return
	}

	s.execute(w, r, id, audit.ActionSpecial, map[string]any{"action": req.Action}, commandRequestTimeout,
		func(ctx context.Context) error {
			return s.consoles.SpecialAction(ctx, id, req.Action)
		})
}

// execute runs one console operation, audits it and writes the response.
// Unknown consoles are rejected before anything is audited.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, id, action string,
	details map[string]any, timeout time.Duration, run func(ctx context.Context) error) {
	if _, err := s.consoles.Status(id); err != nil {
		writeConsoleError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	err := run(ctx)

	username, _ := caller(r)
	entry := &audit.Entry{
		Action:    action,
		ConsoleID: id,
		Actor:     username,
		Source:    audit.SourceAPI,
		Details:   details,
		Result:    audit.ResultOK,
	}
	if err != nil {
		entry.Result = audit.ResultFailed
		if entry.Details == nil {
			entry.Details = make(map[string]any, 1)
		}
		entry.Details["error"] = consoles.ErrorCode(err)
	}
	s.auditLog(entry)

	if err != nil {
		s.logger.Info("console operation failed",
			"console_id", id,
			"action", action,
			"code", consoles.ErrorCode(err),
			"error", err,
		)
		writeConsoleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{ConsoleID: id, Status: "completed"})
}
