package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRegisterRespectsToggle(t *testing.T) {
	cases := []struct {
		name   string
		cfg    Config
		status int
	}{
		{name: "disabled", cfg: Config{}, status: http.StatusNotFound},
		{name: "enabled", cfg: Config{EnablePprofTrace: true}, status: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux := http.NewServeMux()
			tc.cfg.Register(mux)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rec.Code)
			}
		})
	}
}
