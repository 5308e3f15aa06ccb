package hmacauth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

const caller = "0x00000000000000000000000000000000000000a1"

func newVerifier(now time.Time) *Verifier {
	return &Verifier{
		Secret:  "secret",
		MaxSkew: time.Minute,
		Now: func() time.Time {
			return now
		},
	}
}

func signedRequest(t *testing.T, now time.Time, body, identity string) *http.Request {
	t.Helper()
	ts := strconv.FormatInt(now.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transfers", strings.NewReader(body))
	req.Header.Set(SignatureHeader, Sign("secret", ts, http.MethodPost, "/api/v1/transfers", identity, []byte(body)))
	req.Header.Set(TimestampHeader, ts)
	req.Header.Set(IdentityHeader, identity)
	return req
}

func TestMiddleware_AllowsValidSignature(t *testing.T) {
	body := `{"hello":"world"}`
	now := time.Unix(1_700_000_000, 0)
	req := signedRequest(t, now, body, caller)
	rec := httptest.NewRecorder()

	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		got, _ := io.ReadAll(r.Body)
		if string(got) != body {
			t.Fatalf("body not restored: %q", got)
		}
		w.WriteHeader(http.StatusOK)
	})

	newVerifier(now).Middleware(handler).ServeHTTP(rec, req)

	if !called {
		t.Fatalf("handler was not called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMiddleware_RejectsInvalidSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	req := signedRequest(t, now, `{"foo":"bar"}`, caller)
	req.Header.Set(SignatureHeader, "deadbeef")
	rec := httptest.NewRecorder()

	newVerifier(now).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_RejectsSwappedIdentity(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	req := signedRequest(t, now, `{"amount":"5"}`, caller)
	req.Header.Set(IdentityHeader, "0x00000000000000000000000000000000000000b0")

	if err := newVerifier(now).verify(req); err != ErrInvalidSignature {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestMiddleware_RejectsStaleTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	req := signedRequest(t, now.Add(-2*time.Minute), `{}`, caller)

	if err := newVerifier(now).verify(req); err != ErrStaleTimestamp {
		t.Fatalf("expected ErrStaleTimestamp, got %v", err)
	}
}

func TestMiddleware_MissingHeaders(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := newVerifier(now)

	req := signedRequest(t, now, `{}`, caller)
	req.Header.Del(SignatureHeader)
	if err := v.verify(req); err != ErrMissingSignature {
		t.Fatalf("expected ErrMissingSignature, got %v", err)
	}

	req = signedRequest(t, now, `{}`, caller)
	req.Header.Set(TimestampHeader, "soon")
	if err := v.verify(req); err != ErrMissingTimestamp {
		t.Fatalf("expected ErrMissingTimestamp, got %v", err)
	}
}

func TestMiddleware_DisabledWithoutSecret(t *testing.T) {
	v := &Verifier{}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if err := v.verify(req); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestMiddleware_RejectsOversizedBody(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := strings.Repeat("a", 64)
	req := signedRequest(t, now, body, caller)
	rec := httptest.NewRecorder()
	req.Body = http.MaxBytesReader(rec, req.Body, 16)

	newVerifier(now).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}
