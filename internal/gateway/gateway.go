// Package gateway serves the supervisor verbs over HTTP, using the JSON
// reply envelope of application framework binders.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"gosupervisor/internal/rpc"
	"gosupervisor/internal/session"
	"gosupervisor/internal/supervisor"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const (
	mimeJson = "application/json; charset=UTF-8"

	// SessionHeader and SessionCookie carry the caller session id.
	SessionHeader = "X-Supervisor-Session"
	SessionCookie = "x-supervisor-session"

	maxBody = 1 << 20
)

// Status values that are not verb error names.
const (
	statusSuccess         = "success"
	statusTimeout         = "timeout"
	statusTooManySessions = "too-many-sessions"
)

type requestStatus struct {
	Status string `json:"status"`
	Info   string `json:"info,omitempty"`
	UUID   string `json:"uuid,omitempty"`
}

type envelope struct {
	JType    string        `json:"jtype"`
	Request  requestStatus `json:"request"`
	Response any           `json:"response,omitempty"`
}

// Handler routes HTTP requests to an endpoint.
type Handler struct {
	ep     *supervisor.Endpoint
	r      *mux.Router
	logger zerolog.Logger
}

// NewHandler mounts the supervisor api under root, for instance "/api".
func NewHandler(ep *supervisor.Endpoint, root string, logger zerolog.Logger) *Handler {
	r := mux.NewRouter()
	h := &Handler{ep: ep, r: r, logger: logger}
	api := r.PathPrefix(strings.TrimSuffix(root, "/") + "/" + supervisor.APIName).Subrouter()
	api.HandleFunc("", h.listVerbs).Methods("GET")
	api.HandleFunc("/events", h.events).Methods("GET")
	api.HandleFunc("/{verb}", h.call).Methods("GET", "POST")
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.r.ServeHTTP(w, req)
}

func (h *Handler) writeJson(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn().Err(err).Msg("reply not encodable")
		code = http.StatusInternalServerError
		b, _ = json.Marshal(envelope{JType: "afb-reply", Request: requestStatus{Status: rpc.ErrGeneric, Info: err.Error()}})
	}
	w.Header().Set("Content-Type", mimeJson)
	w.WriteHeader(code)
	w.Write(b)
}

func (h *Handler) fail(w http.ResponseWriter, code int, status, info string) {
	h.writeJson(w, code, envelope{JType: "afb-reply", Request: requestStatus{Status: status, Info: info}})
}

func (h *Handler) listVerbs(w http.ResponseWriter, r *http.Request) {
	h.writeJson(w, http.StatusOK, envelope{
		JType:    "afb-reply",
		Request:  requestStatus{Status: statusSuccess},
		Response: h.ep.Verbs(),
	})
}

func (h *Handler) call(w http.ResponseWriter, r *http.Request) {
	verb := mux.Vars(r)["verb"]
	args, err := requestArgs(r)
	if err != nil {
		h.fail(w, http.StatusBadRequest, rpc.ErrInvalidRequest, err.Error())
		return
	}

	rep, sid, err := h.ep.Call(r.Context(), requestSession(r), verb, args)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrTooManySessions):
			h.fail(w, http.StatusTooManyRequests, statusTooManySessions, "")
		case errors.Is(err, context.DeadlineExceeded):
			h.fail(w, http.StatusGatewayTimeout, statusTimeout, "")
		default:
			h.fail(w, http.StatusInternalServerError, rpc.ErrGeneric, err.Error())
		}
		return
	}

	setSession(w, sid)
	st := requestStatus{Status: statusSuccess, Info: rep.Info, UUID: sid}
	if !rep.OK() {
		st.Status = rep.Error
	}
	h.writeJson(w, http.StatusOK, envelope{JType: "afb-reply", Request: st, Response: rep.Data})
}

// events streams the session's notifications as server-sent events.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.fail(w, http.StatusInternalServerError, rpc.ErrGeneric, "streaming unsupported")
		return
	}
	sess, detach, err := h.ep.Attach(requestSession(r))
	if err != nil {
		if errors.Is(err, session.ErrTooManySessions) {
			h.fail(w, http.StatusTooManyRequests, statusTooManySessions, "")
			return
		}
		h.fail(w, http.StatusInternalServerError, rpc.ErrGeneric, err.Error())
		return
	}
	defer detach()

	setSession(w, sess.ID())
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case n, ok := <-sess.Notifications():
			if !ok {
				return
			}
			data, err := json.Marshal(n.Data)
			if err != nil {
				h.logger.Warn().Err(err).Str("event", n.Event).Msg("notification dropped")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Event, data)
			flusher.Flush()
		}
	}
}

// requestArgs reads the verb arguments from a JSON body, from the "args"
// query parameter, or from the other query parameters as an object.
func requestArgs(r *http.Request) (any, error) {
	if r.Method == http.MethodPost && r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
		if err != nil {
			return nil, err
		}
		if len(strings.TrimSpace(string(body))) > 0 {
			return decodeJSON(body)
		}
	}

	q := r.URL.Query()
	if raw := q.Get("args"); raw != "" {
		return decodeJSON([]byte(raw))
	}
	if len(q) == 0 {
		return nil, nil
	}
	obj := make(map[string]any, len(q))
	for k, v := range q {
		obj[k] = v[0]
	}
	return obj, nil
}

func decodeJSON(b []byte) (any, error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("arguments are not JSON: %w", err)
	}
	return v, nil
}

func requestSession(r *http.Request) string {
	if v := r.Header.Get(SessionHeader); v != "" {
		return v
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

func setSession(w http.ResponseWriter, sid string) {
	if sid == "" {
		return
	}
	w.Header().Set(SessionHeader, sid)
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: sid, Path: "/", HttpOnly: true})
}
