package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/Sternrassler/legacy-adapter/internal/testutil"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	cfg := DefaultConfig(baseURL, "LegacyAdapterTest/1.0")
	cfg.Timeout = 2 * time.Second
	cfg.Headers = map[string]string{"X-Api-Key": "secret"}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid config",
			config: DefaultConfig("https://legacy.example.com/api", "TestApp/1.0.0"),
		},
		{
			name:        "missing base url",
			config:      DefaultConfig("", "TestApp/1.0.0"),
			expectError: true,
			errorMsg:    "base url is required",
		},
		{
			name:        "unsupported scheme",
			config:      DefaultConfig("ftp://legacy.example.com", "TestApp/1.0.0"),
			expectError: true,
			errorMsg:    `base url must use http or https (got "ftp")`,
		},
		{
			name:        "empty user agent",
			config:      DefaultConfig("https://legacy.example.com", ""),
			expectError: true,
			errorMsg:    "user-agent is required",
		},
		{
			name: "zero timeout",
			config: Config{
				BaseURL:   "https://legacy.example.com",
				UserAgent: "TestApp/1.0.0",
			},
			expectError: true,
			errorMsg:    "timeout must be > 0 (got 0s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config)

			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got nil")
				}
				if tt.errorMsg != "" && err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if client == nil {
				t.Error("Client is nil")
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("https://legacy.example.com", "TestApp/1.0.0")

	if cfg.UserAgent != "TestApp/1.0.0" {
		t.Errorf("UserAgent = %q, want TestApp/1.0.0", cfg.UserAgent)
	}
	if cfg.Timeout <= 0 {
		t.Errorf("Timeout = %v, should be > 0", cfg.Timeout)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status   int
		expected ErrorClass
	}{
		{400, ErrorClassClient},
		{403, ErrorClassClient},
		{404, ErrorClassClient},
		{429, ErrorClassRateLimit},
		{500, ErrorClassServer},
		{502, ErrorClassServer},
		{503, ErrorClassServer},
	}

	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.expected {
			t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.expected)
		}
	}
}

func TestGet_HeadersAndQuery(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()

	var gotQuery url.Values
	mock.SetHandler("/api/customers", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[]`))
	})

	c := newTestClient(t, mock.URL()+"/api/")
	resp, err := c.Get(context.Background(), Request{
		Route: "/customers",
		Path:  "/customers",
		Query: url.Values{"status": []string{"A"}},
	})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if string(resp.Body) != `[]` {
		t.Errorf("Body = %q", resp.Body)
	}

	h := mock.LastRequestHeader()
	if h.Get("User-Agent") != "LegacyAdapterTest/1.0" {
		t.Errorf("User-Agent = %q", h.Get("User-Agent"))
	}
	if h.Get("X-Api-Key") != "secret" {
		t.Errorf("X-Api-Key = %q, want secret", h.Get("X-Api-Key"))
	}
	if h.Get("Accept") != "application/json" {
		t.Errorf("Accept = %q", h.Get("Accept"))
	}
	if gotQuery.Get("status") != "A" {
		t.Errorf("query status = %q, want A", gotQuery.Get("status"))
	}
}

func TestGet_StatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		response  testutil.MockResponse
		wantClass ErrorClass
		wantCode  int
	}{
		{"not found", testutil.NewNotFoundResponse(), ErrorClassClient, 404},
		{"rate limited", testutil.NewRateLimitResponse(), ErrorClassRateLimit, 429},
		{"server error", testutil.NewServerErrorResponse(), ErrorClassServer, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockUpstream()
			defer mock.Close()
			mock.SetResponse("/customers/C1", tt.response)

			c := newTestClient(t, mock.URL())
			_, err := c.Get(context.Background(), Request{Path: "/customers/C1"})

			var upErr *UpstreamError
			if !errors.As(err, &upErr) {
				t.Fatalf("expected *UpstreamError, got %T (%v)", err, err)
			}
			if upErr.Class != tt.wantClass {
				t.Errorf("Class = %q, want %q", upErr.Class, tt.wantClass)
			}
			if upErr.StatusCode != tt.wantCode {
				t.Errorf("StatusCode = %d, want %d", upErr.StatusCode, tt.wantCode)
			}
			if upErr.Endpoint != "/customers/C1" {
				t.Errorf("Endpoint = %q", upErr.Endpoint)
			}
		})
	}
}

func TestGet_NetworkError(t *testing.T) {
	mock := testutil.NewMockUpstream()
	baseURL := mock.URL()
	mock.Close() // nothing listens any more

	c := newTestClient(t, baseURL)
	_, err := c.Get(context.Background(), Request{Path: "/customers/C1"})

	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected *UpstreamError, got %T (%v)", err, err)
	}
	if upErr.Class != ErrorClassNetwork {
		t.Errorf("Class = %q, want network", upErr.Class)
	}
	if !IsRetryable(err) {
		t.Error("network errors should be retryable")
	}
}

func TestGet_AttemptTimeoutIsNetworkError(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse("/slow", testutil.MockResponse{StatusCode: 200, Body: `{}`, Delay: time.Second})

	cfg := DefaultConfig(mock.URL(), "LegacyAdapterTest/1.0")
	cfg.Timeout = 20 * time.Millisecond
	c, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.Get(context.Background(), Request{Path: "/slow"})
	if ClassOf(err) != ErrorClassNetwork {
		t.Errorf("attempt timeout class = %q, want network (err %v)", ClassOf(err), err)
	}
}

func TestGet_CallerCancellation(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse("/slow", testutil.MockResponse{StatusCode: 200, Body: `{}`, Delay: 5 * time.Second})

	c := newTestClient(t, mock.URL())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Get(ctx, Request{Path: "/slow"})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		t.Error("caller cancellation must not be reported as an upstream failure")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("cancellation should abort the in-flight call promptly")
	}
}

func TestGetJSON(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse("/customers/C1", testutil.NewHealthyResponse(`{"CUST_ID":"C1","EXTRA":1}`))
	mock.SetResponse("/customers/BAD", testutil.NewMalformedResponse())

	c := newTestClient(t, mock.URL())

	var out struct {
		ID string `json:"CUST_ID"`
	}
	if _, err := c.GetJSON(context.Background(), Request{Path: "/customers/C1"}, &out); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if out.ID != "C1" {
		t.Errorf("ID = %q, want C1", out.ID)
	}

	_, err := c.GetJSON(context.Background(), Request{Path: "/customers/BAD"}, &out)
	if ClassOf(err) != ErrorClassDecode {
		t.Errorf("malformed body class = %q, want decode", ClassOf(err))
	}
	if IsRetryable(err) {
		t.Error("decode errors must not be retried")
	}
}

func TestResponse_Pages(t *testing.T) {
	tests := []struct {
		header string
		want   int
	}{
		{"", 1},
		{"3", 3},
		{"0", 1},
		{"abc", 1},
	}
	for _, tt := range tests {
		resp := &Response{Header: http.Header{}}
		if tt.header != "" {
			resp.Header.Set(HeaderPages, tt.header)
		}
		if got := resp.Pages(); got != tt.want {
			t.Errorf("Pages() with %q = %d, want %d", tt.header, got, tt.want)
		}
	}
}

func TestResolve(t *testing.T) {
	c := newTestClient(t, "https://legacy.example.com/api/v1/")

	got := c.resolve("/customers/C1", url.Values{"x": []string{"1"}})
	if want := "https://legacy.example.com/api/v1/customers/C1?x=1"; got != want {
		t.Errorf("resolve() = %q, want %q", got, want)
	}

	got = c.resolve("/customers/"+url.PathEscape("a b/c"), nil)
	if want := "https://legacy.example.com/api/v1/customers/a%20b%2Fc"; got != want {
		t.Errorf("resolve() escaped = %q, want %q", got, want)
	}
}
