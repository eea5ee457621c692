package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okChecker(name string) Checker {
	return Checker{Name: name, Check: func(_ context.Context) (Status, string) {
		return StatusOK, ""
	}}
}

func downChecker(name, detail string) Checker {
	return Checker{Name: name, Check: func(_ context.Context) (Status, string) {
		return StatusDown, detail
	}}
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New()

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != StatusOK {
		t.Errorf("status = %q, want %q", body.Status, StatusOK)
	}
}

func TestHealthz_ContentType(t *testing.T) {
	h := New()
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	ct := rec.Header().Get("Content-Type")
	if ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestHealth_AllServicesOK(t *testing.T) {
	h := New(okChecker("ollama"), okChecker("postgres"), okChecker("redis"))

	req := httptest.NewRequest("GET", "/api/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != StatusOK {
		t.Errorf("status = %q, want %q", body.Status, StatusOK)
	}
	for _, name := range []string{"ollama", "postgres", "redis"} {
		if body.Services[name].Status != StatusOK {
			t.Errorf("%s status = %q, want ok", name, body.Services[name].Status)
		}
	}
}

func TestHealth_OneServiceDownIsDegraded(t *testing.T) {
	h := New(okChecker("ollama"), downChecker("redis", "connection refused"), okChecker("postgres"))

	req := httptest.NewRequest("GET", "/api/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	// A partially working system still serves requests.
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != StatusDegraded {
		t.Errorf("status = %q, want %q", body.Status, StatusDegraded)
	}
	if body.Services["redis"].Status != StatusDown || body.Services["redis"].Detail != "connection refused" {
		t.Errorf("redis entry = %+v", body.Services["redis"])
	}
}

func TestHealth_DegradedServiceIsDegraded(t *testing.T) {
	h := New(
		okChecker("postgres"),
		Checker{Name: "ollama", Check: func(_ context.Context) (Status, string) {
			return StatusDegraded, "model gpt-oss:120b not pulled"
		}},
	)

	req := httptest.NewRequest("GET", "/api/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != StatusDegraded {
		t.Errorf("status = %q, want %q", body.Status, StatusDegraded)
	}
}

func TestHealth_AllServicesDown(t *testing.T) {
	h := New(downChecker("ollama", "timeout"), downChecker("postgres", "refused"))

	req := httptest.NewRequest("GET", "/api/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != StatusDown {
		t.Errorf("status = %q, want %q", body.Status, StatusDown)
	}
}

func TestHealth_NoCheckers(t *testing.T) {
	h := New()

	req := httptest.NewRequest("GET", "/api/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestPingChecker(t *testing.T) {
	ok := PingChecker("postgres", func(_ context.Context) error { return nil })
	if status, _ := ok.Check(context.Background()); status != StatusOK {
		t.Errorf("status = %q, want ok", status)
	}

	bad := PingChecker("postgres", func(_ context.Context) error { return errors.New("refused") })
	status, detail := bad.Check(context.Background())
	if status != StatusDown || detail != "refused" {
		t.Errorf("got %q/%q, want down/refused", status, detail)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	h := New(okChecker("test"))

	mux := http.NewServeMux()
	h.Register(mux)

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/healthz", http.StatusOK},
		{"/api/health", http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestHealth_RespectsContextCancellation(t *testing.T) {
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) (Status, string) {
		<-ctx.Done()
		return StatusDown, ctx.Err().Error()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest("GET", "/api/health", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
