package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) (*HTTPProvider, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	p := NewHTTPProvider("test", srv.URL, "/send", 2000, 3, 1000)
	return p, srv.Close
}

func TestHTTPProviderSend(t *testing.T) {
	var gotReq sendRequest
	p, cleanup := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/send" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(sendResponse{MessageID: "msg-42", Status: "queued"})
	})
	defer cleanup()

	res, err := p.Send(context.Background(), "+15550001111", "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.ProviderMessageID != "msg-42" {
		t.Errorf("ProviderMessageID = %q", res.ProviderMessageID)
	}
	if gotReq.To != "+15550001111" || gotReq.Text != "hello" {
		t.Errorf("request = %+v", gotReq)
	}
}

func TestHTTPProviderErrorBodyPreserved(t *testing.T) {
	p, cleanup := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(sendResponse{Error: "invalid destination"})
	})
	defer cleanup()

	_, err := p.Send(context.Background(), "+1555", "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "invalid destination") {
		t.Errorf("err = %v, want the provider error verbatim", err)
	}
}

func TestHTTPProviderStatusFallback(t *testing.T) {
	p, cleanup := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	defer cleanup()

	_, err := p.Send(context.Background(), "+1555", "hi")
	if err == nil || !strings.Contains(err.Error(), "status=502") {
		t.Errorf("err = %v, want status fallback", err)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	p, cleanup := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer cleanup()

	for i := 0; i < 3; i++ {
		if !p.Ready() {
			t.Fatalf("provider not ready before threshold (attempt %d)", i)
		}
		p.Acquire()
		if _, err := p.Send(context.Background(), "+1555", "hi"); err == nil {
			t.Fatal("expected failure")
		}
	}
	if p.Ready() {
		t.Error("breaker should be open after 3 consecutive failures")
	}
}

type stubProvider struct {
	name  string
	ready bool
	err   error
	sent  int
}

func (s *stubProvider) Name() string  { return s.name }
func (s *stubProvider) Ready() bool   { return s.ready }
func (s *stubProvider) Acquire() bool { return s.ready }
func (s *stubProvider) Send(ctx context.Context, to, text string) (SendResult, error) {
	s.sent++
	if s.err != nil {
		return SendResult{}, s.err
	}
	return SendResult{ProviderMessageID: s.name + "-msg"}, nil
}

func TestMultiProviderSkipsUnhealthy(t *testing.T) {
	down := &stubProvider{name: "down", ready: false}
	up := &stubProvider{name: "up", ready: true}
	g := NewMultiProvider([]Provider{down, up}, 2)

	res, err := g.Send(context.Background(), "+1555", "hi")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.ProviderMessageID != "up-msg" {
		t.Errorf("ProviderMessageID = %q", res.ProviderMessageID)
	}
	if down.sent != 0 {
		t.Error("unhealthy provider must not be called")
	}
}

func TestMultiProviderNoHealthy(t *testing.T) {
	g := NewMultiProvider([]Provider{&stubProvider{name: "a"}, &stubProvider{name: "b"}}, 2)
	if _, err := g.Send(context.Background(), "+1555", "hi"); err != ErrNoHealthy {
		t.Errorf("err = %v, want ErrNoHealthy", err)
	}
}

func TestMultiProviderRoundRobin(t *testing.T) {
	a := &stubProvider{name: "a", ready: true}
	b := &stubProvider{name: "b", ready: true}
	g := NewMultiProvider([]Provider{a, b}, 1)

	for i := 0; i < 4; i++ {
		if _, err := g.Send(context.Background(), "+1555", "hi"); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	if a.sent != 2 || b.sent != 2 {
		t.Errorf("sent a=%d b=%d, want even split", a.sent, b.sent)
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	br := NewMicroBreaker(1, 10*time.Millisecond)
	br.OnFailure()
	if br.Ready() {
		t.Fatal("breaker should be open")
	}
	time.Sleep(20 * time.Millisecond)
	if !br.TryAcquire() {
		t.Fatal("breaker should allow a probe after open window")
	}
	// probe in flight: no second acquire
	if br.TryAcquire() {
		t.Error("only one probe may be in flight")
	}
	br.OnSuccess()
	if !br.Ready() {
		t.Error("breaker should close after a successful probe")
	}
}
