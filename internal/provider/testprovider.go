package provider

import (
	"crypto/md5"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
)

// TestProvider is a deterministic HTTP test double standing in for a real
// provider endpoint. Outcomes derive from a hash of the request body rather
// than a live RNG, so a test can assert an exact attempt sequence. It is an
// actual httptest.Server because dispatch always calls through
// provider.Client over HTTP.
type TestProvider struct {
	Server *httptest.Server

	// outcome overrides the hash-derived outcome when set, letting a test
	// force a provider to misbehave deterministically (e.g. always 503
	// until flipped back to success).
	outcome atomic.Value // stores string: "", "success", "temp_fail", "perm_fail"

	requests atomic.Int64
}

// NewTestProvider starts an httptest.Server whose responses are derived from
// a hash of the request body unless an outcome override is set.
func NewTestProvider() *TestProvider {
	tp := &TestProvider{}
	tp.outcome.Store("")
	tp.Server = httptest.NewServer(http.HandlerFunc(tp.handle))
	return tp
}

// SetOutcome forces every subsequent request to resolve to outcome
// ("success", "temp_fail", "perm_fail"). Passing "" reverts to hash-derived
// behavior.
func (tp *TestProvider) SetOutcome(outcome string) {
	tp.outcome.Store(outcome)
}

// RequestCount returns how many requests this provider has received.
func (tp *TestProvider) RequestCount() int64 {
	return tp.requests.Load()
}

// Close stops the underlying server.
func (tp *TestProvider) Close() {
	tp.Server.Close()
}

// URL is the endpoint to configure as this provider's domain.Provider.URL.
func (tp *TestProvider) URL() string {
	return tp.Server.URL
}

func (tp *TestProvider) handle(w http.ResponseWriter, r *http.Request) {
	tp.requests.Add(1)
	body, _ := io.ReadAll(r.Body)

	outcome, _ := tp.outcome.Load().(string)
	if outcome == "" {
		outcome = hashOutcome(body)
	}

	switch outcome {
	case "temp_fail":
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "temporary failure"})
	case "perm_fail":
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid phone number"})
	default:
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
	}
}

// hashOutcome: 95% success, 3% transient, 2% permanent, keyed off the
// request body so the same (phone, text) pair always resolves the same way
// within a test run.
func hashOutcome(body []byte) string {
	sum := md5.Sum(body)
	v := float64(sum[0]) / 255.0
	switch {
	case v < 0.95:
		return "success"
	case v < 0.98:
		return "temp_fail"
	default:
		return "perm_fail"
	}
}
