package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func echo(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(name + ":" + Param(r.Context(), "id") + ":" + Param(r.Context(), "action")))
	})
}

func TestSimpleRouter(t *testing.T) {
	mux := New()
	mux.Handle("GET", "/api/state", echo("state"))
	mux.Handle("POST", "/api/notes", echo("add"))
	mux.Handle("DELETE", "/api/notes/{id}", echo("delete"))
	mux.Handle("POST", "/api/notes/{id}/actions/{action}", echo("act"))
	mux.HandlePrefix("GET", "/media", echo("media"))

	tests := []struct {
		method string
		path   string
		status int
		body   string
	}{
		{"GET", "/api/state", 200, "state::"},
		{"GET", "/api/state/", 200, "state::"},
		{"POST", "/api/notes", 200, "add::"},
		{"DELETE", "/api/notes/42", 200, "delete:42:"},
		{"POST", "/api/notes/7/actions/explain", 200, "act:7:explain"},
		{"GET", "/media/a/b.mp4", 200, "media::"},
		{"GET", "/api/notes", 405, ""},
		{"PUT", "/api/notes/42", 405, ""},
		{"GET", "/api/unknown", 404, ""},
		{"DELETE", "/api/notes/42/extra", 404, ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.body != "" && rec.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestParamWithoutRoute(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	if got := Param(r.Context(), "id"); got != "" {
		t.Errorf("Param = %q", got)
	}
}
