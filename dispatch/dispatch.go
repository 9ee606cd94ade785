package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"

	"github.com/creachadair/otpslot/record"
	"github.com/creachadair/otpslot/slot"
	"github.com/creachadair/otpslot/slotstore"
)

// maxBodyBytes bounds the size of a request body.
const maxBodyBytes = 1 << 16

// A Response reports the outcome of an instantiate or execute message.
type Response struct {
	Attributes []Attribute `json:"attributes,omitempty"`
}

// An Attribute is a labelled value attached to a Response.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func actionResponse(action string) Response {
	return Response{Attributes: []Attribute{{Key: "action", Value: action}}}
}

// Handler dispatches messages to a slot machine.
type Handler struct {
	// Machine is the slot that messages are delivered to (required).
	Machine *slot.Machine

	// If set, this function is called with each inbound HTTP request. If it
	// reports an error, the request is refused with http.StatusForbidden.
	// If nil, all requests are accepted.
	CheckAllow func(*http.Request) error
}

// Instantiate handles an instantiate message.
func (h Handler) Instantiate(ctx context.Context, _ InstantiateMsg) (Response, error) {
	if err := h.Machine.Instantiate(ctx); err != nil {
		return Response{}, err
	}
	return actionResponse("instantiate"), nil
}

// Execute handles an execute message.
func (h Handler) Execute(ctx context.Context, msg ExecuteMsg) (Response, error) {
	switch {
	case msg.SubmitSecret != nil:
		if err := h.Machine.SubmitSecret(ctx, msg.SubmitSecret.Name, msg.SubmitSecret.Secret); err != nil {
			return Response{}, err
		}
		return actionResponse("submit secret"), nil
	case msg.Reset != nil:
		if err := h.Machine.Reset(ctx); err != nil {
			return Response{}, err
		}
		return actionResponse("reset state"), nil
	}
	return Response{}, fmt.Errorf("%w: no operation", ErrBadMessage)
}

// Query handles a query message. The result is a slot.Token for get_token,
// or a slot.Status for get_status.
func (h Handler) Query(ctx context.Context, msg QueryMsg) (any, error) {
	switch {
	case msg.GetToken != nil:
		return h.Machine.Token(ctx)
	case msg.GetStatus != nil:
		return h.Machine.Status(ctx)
	}
	return nil, fmt.Errorf("%w: no operation", ErrBadMessage)
}

// ServeMux returns a router for the dispatch endpoints:
//
//	POST /instantiate -- handle an instantiate message
//	POST /execute     -- handle an execute message
//	POST /query       -- handle a query message
//	GET  /token       -- shorthand for the get_token query
//	GET  /status      -- shorthand for the get_status query
//
// Results are JSON. Errors are reported as {"error":"...","kind":"..."}
// with a status code chosen by ErrorStatus.
func (h Handler) ServeMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /instantiate", h.checked(h.instantiate))
	mux.HandleFunc("POST /execute", h.checked(h.execute))
	mux.HandleFunc("POST /query", h.checked(h.query))
	mux.HandleFunc("GET /token", h.checked(func(r *http.Request) (any, error) {
		return h.Machine.Token(r.Context())
	}))
	mux.HandleFunc("GET /status", h.checked(func(r *http.Request) (any, error) {
		return h.Machine.Status(r.Context())
	}))
	return mux
}

func (h Handler) instantiate(r *http.Request) (any, error) {
	// The message has no content, but if one is given it must be an object.
	data, err := readBody(r)
	if err != nil {
		return nil, err
	}
	var msg InstantiateMsg
	if len(data) != 0 {
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
		}
	}
	return h.Instantiate(r.Context(), msg)
}

func (h Handler) execute(r *http.Request) (any, error) {
	data, err := readBody(r)
	if err != nil {
		return nil, err
	}
	msg, err := DecodeExecute(data)
	if err != nil {
		return nil, err
	}
	return h.Execute(r.Context(), msg)
}

func (h Handler) query(r *http.Request) (any, error) {
	data, err := readBody(r)
	if err != nil {
		return nil, err
	}
	msg, err := DecodeQuery(data)
	if err != nil {
		return nil, err
	}
	return h.Query(r.Context(), msg)
}

// checked wraps a handler function with the allow check and JSON encoding
// of results and errors.
func (h Handler) checked(f func(*http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.CheckAllow != nil {
			if err := h.CheckAllow(r); err != nil {
				writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error(), Kind: "forbidden"})
				return
			}
		}
		v, err := f(r)
		if err != nil {
			code, kind := ErrorStatus(err)
			if code == http.StatusInternalServerError {
				log.Printf("WARNING: %s %s: %v", r.Method, r.URL.Path, err)
			}
			writeJSON(w, code, errorBody{Error: err.Error(), Kind: kind})
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// ErrorStatus reports the HTTP status code and error kind label for err.
func ErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, slot.ErrAlreadyHasSecret):
		return http.StatusConflict, "already_has_secret"
	case errors.Is(err, slot.ErrSecretNotReady):
		return http.StatusPreconditionFailed, "secret_not_ready"
	case errors.Is(err, slot.ErrEmptySecret), errors.Is(err, ErrBadMessage):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, record.ErrNotFound):
		return http.StatusNotFound, "not_instantiated"
	case errors.Is(err, slotstore.ErrConflict):
		return http.StatusConflict, "conflict"
	}
	var se *slot.StoreError
	if errors.As(err, &se) {
		return http.StatusInternalServerError, "store_error"
	}
	return http.StatusInternalServerError, "internal"
}

func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrBadMessage, err)
	} else if len(data) > maxBodyBytes {
		return nil, fmt.Errorf("%w: body too large", ErrBadMessage)
	}
	return data, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	w.Write(append(data, '\n'))
}

// A HostFilter is a slice of CIDR masks defining a set of addresses allowed to
// make requests of the service.
type HostFilter []*net.IPNet

// NewHostFilter constructs a host filter from the specified CIDR strings.
func NewHostFilter(masks []string) (HostFilter, error) {
	m := make(HostFilter, len(masks))
	for i, cidr := range masks {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, err
		}
		m[i] = ipnet
	}
	return m, nil
}

// Contains reports whether any of the masks in the filter covers host, which
// must be an IPv4 or IPv6 address without a port. If the filter is empty,
// this is true by default.
func (h HostFilter) Contains(host string) bool {
	if len(h) == 0 {
		return true
	}
	ip := net.ParseIP(host)
	for _, m := range h {
		if m.Contains(ip) {
			return true
		}
	}
	return false
}

// CheckAllow reports an error if the host from req.RemoteAddr is invalid or
// does not match any of the masks in h.
func (h HostFilter) CheckAllow(req *http.Request) error {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return errors.New("invalid host address")
	} else if h.Contains(host) {
		return nil
	}
	return errors.New("caller is not allowed")
}
