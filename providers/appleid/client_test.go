package appleid

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/goliatone/go-identity-transfer/core"
	"github.com/goliatone/go-identity-transfer/ratelimit"
)

type recordedRequest struct {
	path          string
	authorization string
	form          url.Values
}

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, req recordedRequest)) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		req := recordedRequest{path: r.URL.Path, authorization: r.Header.Get("Authorization"), form: r.PostForm}
		requests = append(requests, req)
		handler(w, req)
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := New(Config{
		BaseURL:      server.URL + "/",
		ClientID:     "com.example.app",
		TargetTeamID: "TEAM2",
		Now:          func() time.Time { return time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC) },
	}, server.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

var testCreds = core.Credentials{AccessToken: "access-1", ClientSecret: "secret-jwt"}

func TestIssueAccessToken(t *testing.T) {
	server, requests := newTestServer(t, func(w http.ResponseWriter, _ recordedRequest) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"access-1","token_type":"Bearer","expires_in":3600}`))
	})
	client := newTestClient(t, server)

	token, err := client.IssueAccessToken(context.Background(), "secret-jwt")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if token.Value != "access-1" || token.TokenType != "bearer" {
		t.Fatalf("unexpected token %#v", token)
	}
	if token.ExpiresAt == nil || !token.ExpiresAt.Equal(time.Date(2023, 5, 1, 13, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected expiry %v", token.ExpiresAt)
	}

	got := (*requests)[0]
	if got.path != TokenPath {
		t.Fatalf("expected token path, got %q", got.path)
	}
	want := map[string]string{
		"grant_type":    "client_credentials",
		"scope":         "user.migration",
		"client_id":     "com.example.app",
		"client_secret": "secret-jwt",
	}
	for key, value := range want {
		if got.form.Get(key) != value {
			t.Fatalf("expected form %s=%q, got %q", key, value, got.form.Get(key))
		}
	}
}

func TestIssueAccessToken_MissingTokenIsAuthFailure(t *testing.T) {
	server, _ := newTestServer(t, func(w http.ResponseWriter, _ recordedRequest) {
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	})
	_, err := newTestClient(t, server).IssueAccessToken(context.Background(), "secret-jwt")
	if core.FailureKindOf(err) != core.FailureAuth {
		t.Fatalf("expected auth failure, got %v", err)
	}
}

func TestIssueAccessToken_ErrorStatusIsAuthFailure(t *testing.T) {
	server, _ := newTestServer(t, func(w http.ResponseWriter, _ recordedRequest) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	})
	_, err := newTestClient(t, server).IssueAccessToken(context.Background(), "secret-jwt")
	var failure *core.ProviderFailure
	if !errors.As(err, &failure) || failure.Kind != core.FailureAuth {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if failure.StatusCode != http.StatusBadRequest || failure.Body != `{"error":"invalid_client"}` {
		t.Fatalf("expected status and body on failure, got %#v", failure)
	}
}

func TestResolveTransferSub(t *testing.T) {
	server, requests := newTestServer(t, func(w http.ResponseWriter, _ recordedRequest) {
		_, _ = w.Write([]byte(`{"transfer_sub":"T1"}`))
	})
	transferSub, err := newTestClient(t, server).ResolveTransferSub(context.Background(), testCreds, "S1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if transferSub != "T1" {
		t.Fatalf("expected T1, got %q", transferSub)
	}

	got := (*requests)[0]
	if got.path != MigrationPath || got.authorization != "Bearer access-1" {
		t.Fatalf("unexpected request %#v", got)
	}
	if got.form.Get("sub") != "S1" || got.form.Get("target") != "TEAM2" ||
		got.form.Get("client_id") != "com.example.app" || got.form.Get("client_secret") != "secret-jwt" {
		t.Fatalf("unexpected form %v", got.form)
	}
}

func TestResolveTransferSub_ErrorStatusCarriesBody(t *testing.T) {
	server, _ := newTestServer(t, func(w http.ResponseWriter, _ recordedRequest) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_request"}`))
	})
	_, err := newTestClient(t, server).ResolveTransferSub(context.Background(), testCreds, "S1")
	var failure *core.ProviderFailure
	if !errors.As(err, &failure) || failure.Kind != core.FailureResolution {
		t.Fatalf("expected resolution failure, got %v", err)
	}
	if failure.StatusCode != http.StatusBadRequest || failure.Body != `{"error":"invalid_request"}` {
		t.Fatalf("unexpected failure details %#v", failure)
	}
	if !core.IsRecordLevel(err) {
		t.Fatalf("expected resolution failure to be record level")
	}
}

func TestResolveTransferSub_MissingFieldIsResolutionFailure(t *testing.T) {
	for name, body := range map[string]string{
		"absent":    `{}`,
		"blank":     `{"transfer_sub":"  "}`,
		"malformed": `not json`,
		"empty":     ``,
	} {
		t.Run(name, func(t *testing.T) {
			server, _ := newTestServer(t, func(w http.ResponseWriter, _ recordedRequest) {
				_, _ = w.Write([]byte(body))
			})
			_, err := newTestClient(t, server).ResolveTransferSub(context.Background(), testCreds, "S1")
			if core.FailureKindOf(err) != core.FailureResolution {
				t.Fatalf("expected resolution failure, got %v", err)
			}
		})
	}
}

func TestExchangeTransferSub(t *testing.T) {
	cases := map[string]bool{
		`{"sub":"S2","email":"e2@example.com","is_private_email":true}`:    true,
		`{"sub":"S2","email":"e2@example.com","is_private_email":"true"}`:  true,
		`{"sub":"S2","email":"e2@example.com","is_private_email":"false"}`: false,
		`{"sub":"S2","email":"e2@example.com"}`:                            false,
	}
	for body, private := range cases {
		server, requests := newTestServer(t, func(w http.ResponseWriter, _ recordedRequest) {
			_, _ = w.Write([]byte(body))
		})
		identity, err := newTestClient(t, server).ExchangeTransferSub(context.Background(), testCreds, "T1")
		if err != nil {
			t.Fatalf("exchange %s: %v", body, err)
		}
		if identity.Sub != "S2" || identity.Email != "e2@example.com" || identity.IsPrivateEmail != private {
			t.Fatalf("body %s: unexpected identity %#v", body, identity)
		}
		got := (*requests)[0]
		if got.form.Get("transfer_sub") != "T1" || got.form.Get("sub") != "" || got.form.Get("target") != "" {
			t.Fatalf("unexpected form %v", got.form)
		}
		if got.authorization != "Bearer access-1" {
			t.Fatalf("expected bearer auth, got %q", got.authorization)
		}
	}
}

func TestExchangeTransferSub_IncompleteIdentity(t *testing.T) {
	server, _ := newTestServer(t, func(w http.ResponseWriter, _ recordedRequest) {
		_, _ = w.Write([]byte(`{"sub":"S2"}`))
	})
	_, err := newTestClient(t, server).ExchangeTransferSub(context.Background(), testCreds, "T1")
	if core.FailureKindOf(err) != core.FailureResolution || !errors.Is(err, core.ErrIncompleteIdentity) {
		t.Fatalf("expected incomplete identity resolution failure, got %v", err)
	}
}

func TestExchangeTransferSub_InvalidPrivateEmailFlag(t *testing.T) {
	server, _ := newTestServer(t, func(w http.ResponseWriter, _ recordedRequest) {
		_, _ = w.Write([]byte(`{"sub":"S2","email":"e2@example.com","is_private_email":"maybe"}`))
	})
	_, err := newTestClient(t, server).ExchangeTransferSub(context.Background(), testCreds, "T1")
	if core.FailureKindOf(err) != core.FailureResolution {
		t.Fatalf("expected resolution failure, got %v", err)
	}
}

func TestMigrationInfo_WithoutTokenIsAuthFailure(t *testing.T) {
	server, requests := newTestServer(t, func(w http.ResponseWriter, _ recordedRequest) {
		w.WriteHeader(http.StatusOK)
	})
	_, err := newTestClient(t, server).ResolveTransferSub(context.Background(), core.Credentials{}, "S1")
	if core.FailureKindOf(err) != core.FailureAuth {
		t.Fatalf("expected auth failure, got %v", err)
	}
	if len(*requests) != 0 {
		t.Fatalf("expected no request without a token")
	}
}

func TestNew_RequiresClientID(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Fatalf("expected client id requirement")
	}
	client, err := New(Config{ClientID: "com.example.app"}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if client.endpoint(TokenPath) != "https://appleid.apple.com/auth/token" {
		t.Fatalf("unexpected default endpoint %q", client.endpoint(TokenPath))
	}
}

func TestMigrationInfo_ThrottleWindowFromRetryAfter(t *testing.T) {
	calls := 0
	server, requests := newTestServer(t, func(w http.ResponseWriter, _ recordedRequest) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"transfer_sub":"T1"}`))
	})

	now := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	policy := ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore())
	policy.Now = func() time.Time { return now }
	var slept time.Duration
	policy.Sleep = func(_ context.Context, d time.Duration) error {
		slept += d
		now = now.Add(d)
		return nil
	}

	client, err := New(Config{
		BaseURL:      server.URL,
		ClientID:     "com.example.app",
		TargetTeamID: "TEAM2",
		Limiter:      policy,
	}, server.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.ResolveTransferSub(context.Background(), testCreds, "S1")
	var failure *core.ProviderFailure
	if !errors.As(err, &failure) || failure.StatusCode != http.StatusTooManyRequests || !failure.Retryable() {
		t.Fatalf("expected retryable 429 failure, got %v", err)
	}

	transferSub, err := client.ResolveTransferSub(context.Background(), testCreds, "S2")
	if err != nil {
		t.Fatalf("resolve after throttle: %v", err)
	}
	if transferSub != "T1" {
		t.Fatalf("expected T1, got %q", transferSub)
	}
	if slept != 30*time.Second {
		t.Fatalf("expected to wait out the 30s window, got %s", slept)
	}
	if len(*requests) != 2 {
		t.Fatalf("expected two requests, got %d", len(*requests))
	}
}

type refusingLimiter struct{}

func (refusingLimiter) Wait(context.Context, ratelimit.Key) error {
	return ratelimit.ThrottledError{ProviderID: ProviderID, Endpoint: MigrationPath, RetryAfter: time.Hour}
}

func (refusingLimiter) AfterCall(context.Context, ratelimit.Key, ratelimit.Response) error {
	return nil
}

func TestMigrationInfo_LongThrottleFailsRecordWithoutCalling(t *testing.T) {
	server, requests := newTestServer(t, func(w http.ResponseWriter, _ recordedRequest) {
		_, _ = w.Write([]byte(`{"transfer_sub":"T1"}`))
	})
	client, err := New(Config{BaseURL: server.URL, ClientID: "com.example.app", TargetTeamID: "TEAM2", Limiter: refusingLimiter{}}, server.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.ResolveTransferSub(context.Background(), testCreds, "S1")
	if !core.IsRecordLevel(err) {
		t.Fatalf("expected record level failure, got %v", err)
	}
	if len(*requests) != 0 {
		t.Fatalf("expected no request while throttled")
	}
}
