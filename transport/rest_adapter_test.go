package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity-transfer/core"
)

func TestRESTAdapter_PostsFormWithBearer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Content-Type"); got != contentTypeForm {
			t.Errorf("expected form content type, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer access-1" {
			t.Errorf("expected bearer header, got %q", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("sub") != "S1" || r.PostForm.Get("target") != "TEAM2" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"transfer_sub":"T1"}`))
	}))
	defer server.Close()

	adapter := NewRESTAdapter(server.Client())
	res, err := adapter.Do(context.Background(), Request{
		URL:         server.URL + "/auth/usermigrationinfo",
		Form:        url.Values{"sub": {"S1"}, "target": {"TEAM2"}},
		BearerToken: "access-1",
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if !res.OK() || string(res.Body) != `{"transfer_sub":"T1"}` {
		t.Fatalf("unexpected response %d %s", res.StatusCode, res.Body)
	}
	if res.Headers["Content-Type"] != "application/json" {
		t.Fatalf("expected flattened headers, got %#v", res.Headers)
	}
}

func TestRESTAdapter_ErrorStatusIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_request"}`))
	}))
	defer server.Close()

	res, err := NewRESTAdapter(server.Client()).Do(context.Background(), Request{URL: server.URL, Form: url.Values{}})
	if err != nil {
		t.Fatalf("expected status to be left to the caller, got %v", err)
	}
	if res.OK() || res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", res.StatusCode)
	}
}

func TestRESTAdapter_ResponseLimitReturnsTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("12345"))
	}))
	defer server.Close()

	adapter := NewRESTAdapter(server.Client())
	adapter.MaxResponseBodyBytes = 4

	_, err := adapter.Do(context.Background(), Request{URL: server.URL})
	if core.FailureKindOf(err) != core.FailureTransport {
		t.Fatalf("expected transport failure, got %v", err)
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryExternal {
		t.Fatalf("expected external category, got %q", rich.Category)
	}
	if rich.TextCode != core.ErrorTransportFailed {
		t.Fatalf("expected %q text code, got %q", core.ErrorTransportFailed, rich.TextCode)
	}
	if rich.Code != http.StatusBadGateway {
		t.Fatalf("expected %d code, got %d", http.StatusBadGateway, rich.Code)
	}
}

type failingDoer struct {
	err error
}

func (d failingDoer) Do(*http.Request) (*http.Response, error) {
	return nil, d.err
}

func TestRESTAdapter_NetworkErrorIsTransportFailure(t *testing.T) {
	cause := errors.New("connection reset by peer")
	_, err := NewRESTAdapter(failingDoer{err: cause}).Do(context.Background(), Request{URL: "https://appleid.apple.com/auth/token"})
	if core.FailureKindOf(err) != core.FailureTransport {
		t.Fatalf("expected transport failure, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to stay reachable")
	}
}

func TestRESTAdapter_CanceledContextIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRESTAdapter(failingDoer{err: context.Canceled}).Do(ctx, Request{URL: "https://appleid.apple.com/auth/token"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if core.FailureKindOf(err) != core.FailureNone {
		t.Fatalf("expected cancellation to stay unclassified")
	}
}

func TestRESTAdapter_TimeoutIsTransportFailure(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	adapter := NewRESTAdapter(server.Client())
	adapter.Timeout = 20 * time.Millisecond
	_, err := adapter.Do(context.Background(), Request{URL: server.URL})
	if core.FailureKindOf(err) != core.FailureTransport {
		t.Fatalf("expected transport failure on timeout, got %v", err)
	}
}

func TestRESTAdapter_RejectsRelativeURL(t *testing.T) {
	_, err := NewRESTAdapter(nil).Do(context.Background(), Request{URL: "/auth/token"})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.ErrorBadInput {
		t.Fatalf("expected bad input error, got %v", err)
	}
	if core.IsRecordLevel(err) {
		t.Fatalf("expected configuration errors to stop the run")
	}
}

func TestRESTAdapter_NilReturnsRichError(t *testing.T) {
	var adapter *RESTAdapter
	_, err := adapter.Do(context.Background(), Request{})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal || rich.TextCode != core.ErrorInternal {
		t.Fatalf("unexpected envelope %q/%q", rich.Category, rich.TextCode)
	}
}
