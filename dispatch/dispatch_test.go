package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/creachadair/otpslot/dispatch"
	"github.com/creachadair/otpslot/record"
	"github.com/creachadair/otpslot/slot"
	"github.com/creachadair/otpslot/slotstore"
	"github.com/creachadair/otpslot/totp"
	gocmp "github.com/google/go-cmp/cmp"
)

func TestDecodeExecute(t *testing.T) {
	tests := []struct {
		input string
		want  dispatch.ExecuteMsg
		ok    bool
	}{
		{`{"submit_secret":{"name":"Gmail","secret":"S1"}}`,
			dispatch.ExecuteMsg{SubmitSecret: &dispatch.SubmitSecret{Name: "Gmail", Secret: "S1"}}, true},
		{`{"reset":{}}`, dispatch.ExecuteMsg{Reset: &dispatch.Reset{}}, true},
		{`{}`, dispatch.ExecuteMsg{}, false},
		{`{"reset":{},"submit_secret":{}}`, dispatch.ExecuteMsg{}, false},
		{`{"get_token":{}}`, dispatch.ExecuteMsg{}, false},
		{`{"submit_secret":{"name":"Gmail","worth":5}}`, dispatch.ExecuteMsg{}, false},
		{`[1,2,3]`, dispatch.ExecuteMsg{}, false},
	}
	for _, tc := range tests {
		got, err := dispatch.DecodeExecute([]byte(tc.input))
		if ok := err == nil; ok != tc.ok {
			t.Errorf("DecodeExecute %s: got err=%v, want ok=%v", tc.input, err, tc.ok)
			continue
		} else if err != nil && !errors.Is(err, dispatch.ErrBadMessage) {
			t.Errorf("DecodeExecute %s: got %v, want %v", tc.input, err, dispatch.ErrBadMessage)
		}
		if diff := gocmp.Diff(got, tc.want); diff != "" {
			t.Errorf("DecodeExecute %s (-got, +want):\n%s", tc.input, diff)
		}
	}
}

func TestDecodeQuery(t *testing.T) {
	if got, err := dispatch.DecodeQuery([]byte(`{"get_token":{}}`)); err != nil || got.GetToken == nil {
		t.Errorf("DecodeQuery get_token: got (%+v, %v)", got, err)
	}
	if got, err := dispatch.DecodeQuery([]byte(`{"get_status":{}}`)); err != nil || got.GetStatus == nil {
		t.Errorf("DecodeQuery get_status: got (%+v, %v)", got, err)
	}
	if _, err := dispatch.DecodeQuery([]byte(`{"reset":{}}`)); !errors.Is(err, dispatch.ErrBadMessage) {
		t.Errorf("DecodeQuery reset: got %v, want %v", err, dispatch.ErrBadMessage)
	}
}

var fixedTime = time.Unix(1700000012, 0)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	m := slot.New(new(slotstore.Memory), &slot.Options{
		Now: func() time.Time { return fixedTime },
	})
	srv := httptest.NewServer(dispatch.Handler{Machine: m}.ServeMux())
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	rsp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer rsp.Body.Close()
	data, err := io.ReadAll(rsp.Body)
	if err != nil {
		t.Fatalf("Read body: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Decode %s %s: %v\n%s", method, path, err, data)
	}
	return rsp.StatusCode, out
}

func TestServer(t *testing.T) {
	srv := newServer(t)

	// Before instantiation there is no record.
	if code, out := call(t, srv, "GET", "/status", ""); code != http.StatusNotFound || out["kind"] != "not_instantiated" {
		t.Errorf("GET /status: got %d %v, want 404 not_instantiated", code, out)
	}

	steps := []struct {
		method, path, body string
		code               int
		kind               string
	}{
		{"POST", "/instantiate", "{}", http.StatusOK, ""},
		{"POST", "/query", `{"get_token":{}}`, http.StatusPreconditionFailed, "secret_not_ready"},
		{"GET", "/token", "", http.StatusPreconditionFailed, "secret_not_ready"},
		{"POST", "/execute", `{"submit_secret":{"name":"Gmail","secret":""}}`, http.StatusBadRequest, "bad_request"},
		{"POST", "/execute", `{"submit_secret":{"name":"Gmail","secret":"S1"}}`, http.StatusOK, ""},
		{"POST", "/execute", `{"submit_secret":{"name":"Gmail","secret":"S2"}}`, http.StatusConflict, "already_has_secret"},
		{"POST", "/execute", `{"bogus":{}}`, http.StatusBadRequest, "bad_request"},
		{"POST", "/execute", `{"reset":{}}`, http.StatusOK, ""},
		{"POST", "/execute", `{"submit_secret":{"name":"Outlook","secret":"S2"}}`, http.StatusOK, ""},
	}
	for _, s := range steps {
		code, out := call(t, srv, s.method, s.path, s.body)
		if code != s.code {
			t.Errorf("%s %s %s: got status %d, want %d (%v)", s.method, s.path, s.body, code, s.code, out)
		}
		if s.kind != "" && out["kind"] != s.kind {
			t.Errorf("%s %s %s: got kind %v, want %q", s.method, s.path, s.body, out["kind"], s.kind)
		}
	}

	want, err := totp.Derive([]byte("S2"), fixedTime)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	for _, q := range []struct{ method, path, body string }{
		{"GET", "/token", ""},
		{"POST", "/query", `{"get_token":{}}`},
	} {
		code, out := call(t, srv, q.method, q.path, q.body)
		if code != http.StatusOK {
			t.Fatalf("%s %s: got status %d, want 200 (%v)", q.method, q.path, code, out)
		}
		if out["token"] != want {
			t.Errorf("%s %s: got token %v, want %q", q.method, q.path, out["token"], want)
		}
	}

	code, out := call(t, srv, "POST", "/query", `{"get_status":{}}`)
	if code != http.StatusOK {
		t.Fatalf("get_status: got status %d", code)
	}
	if diff := gocmp.Diff(out, map[string]any{"phase": "done", "name": "Outlook"}); diff != "" {
		t.Errorf("get_status (-got, +want):\n%s", diff)
	}
}

func TestResetAttributes(t *testing.T) {
	ctx := context.Background()
	m := slot.New(slotstore.NewMemory(record.New()), nil)
	h := dispatch.Handler{Machine: m}

	rsp, err := h.Execute(ctx, dispatch.ExecuteMsg{Reset: &dispatch.Reset{}})
	if err != nil {
		t.Fatalf("Execute reset: unexpected error: %v", err)
	}
	want := dispatch.Response{Attributes: []dispatch.Attribute{{Key: "action", Value: "reset state"}}}
	if diff := gocmp.Diff(rsp, want); diff != "" {
		t.Errorf("Reset response (-got, +want):\n%s", diff)
	}
	if _, err := h.Execute(ctx, dispatch.ExecuteMsg{}); !errors.Is(err, dispatch.ErrBadMessage) {
		t.Errorf("Execute empty: got %v, want %v", err, dispatch.ErrBadMessage)
	}
}

func TestHostFilter(t *testing.T) {
	hf, err := dispatch.NewHostFilter([]string{"127.0.0.0/8", "10.1.0.0/16"})
	if err != nil {
		t.Fatalf("NewHostFilter: unexpected error: %v", err)
	}
	tests := []struct {
		addr string
		ok   bool
	}{
		{"127.0.0.1:5000", true},
		{"10.1.2.3:80", true},
		{"10.2.0.1:80", false},
		{"192.168.1.1:443", false},
		{"garbage", false},
	}
	for _, tc := range tests {
		req := httptest.NewRequest("GET", "/status", nil)
		req.RemoteAddr = tc.addr
		if err := hf.CheckAllow(req); (err == nil) != tc.ok {
			t.Errorf("CheckAllow(%q): got %v, want ok=%v", tc.addr, err, tc.ok)
		}
	}

	if _, err := dispatch.NewHostFilter([]string{"not-a-cidr"}); err == nil {
		t.Error("NewHostFilter invalid: got nil, want error")
	}

	// A handler with a filter that excludes the test client refuses requests.
	m := slot.New(slotstore.NewMemory(record.New()), nil)
	deny, _ := dispatch.NewHostFilter([]string{"203.0.113.0/24"})
	srv := httptest.NewServer(dispatch.Handler{Machine: m, CheckAllow: deny.CheckAllow}.ServeMux())
	defer srv.Close()
	if code, out := call(t, srv, "GET", "/status", ""); code != http.StatusForbidden || out["kind"] != "forbidden" {
		t.Errorf("GET /status: got %d %v, want 403 forbidden", code, out)
	}
}
