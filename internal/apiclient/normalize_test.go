package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/mcnielsen/nepal-core/internal/config"
	"github.com/mcnielsen/nepal-core/internal/domain"
	"github.com/mcnielsen/nepal-core/internal/location"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func integrationMatrix() *location.Matrix {
	return location.NewMatrix(location.Context{Environment: location.Integration, Residency: location.ResidencyUS})
}

func newTestClient(t *testing.T, matrix *location.Matrix, opts ...Option) *Client {
	t.Helper()
	if matrix == nil {
		matrix = integrationMatrix()
	}
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	c, err := New(matrix, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func noResolution() *config.Runtime {
	return config.NewRuntime(config.RuntimeOptions{DisableEndpointsResolution: true})
}

func TestNormalize_AssemblesServiceURL(t *testing.T) {
	c := newTestClient(t, nil, WithRuntime(noResolution()))

	req := &Request{Service: &ServiceTarget{
		Stack:     location.InsightAPI,
		Name:      "cargo",
		Version:   VersionLiteral("v2"),
		AccountID: "67108880",
	}}
	if _, err := c.Normalize(context.Background(), req); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := "https://api.product.dev.alertlogic.com/cargo/v2/67108880"
	if req.URL != want {
		t.Errorf("URL = %s, want %s", req.URL, want)
	}
}

func TestNormalize_VersionSegments(t *testing.T) {
	c := newTestClient(t, nil, WithRuntime(noResolution()))

	tests := []struct {
		name    string
		version Version
		want    string
	}{
		{"unset", Version{}, "https://api.product.dev.alertlogic.com/cargo"},
		{"number zero", VersionNumber(0), "https://api.product.dev.alertlogic.com/cargo"},
		{"empty literal", VersionLiteral(""), "https://api.product.dev.alertlogic.com/cargo"},
		{"literal", VersionLiteral("v4"), "https://api.product.dev.alertlogic.com/cargo/v4"},
		{"number", VersionNumber(4), "https://api.product.dev.alertlogic.com/cargo/v4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &Request{Service: &ServiceTarget{Stack: location.InsightAPI, Name: "cargo", Version: tt.version}}
			if _, err := c.Normalize(context.Background(), req); err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if req.URL != tt.want {
				t.Errorf("URL = %s, want %s", req.URL, tt.want)
			}
		})
	}
}

func TestNormalize_AccountAndPath(t *testing.T) {
	c := newTestClient(t, nil, WithRuntime(noResolution()), WithContextAccount("2"))

	tests := []struct {
		name   string
		target ServiceTarget
		want   string
	}{
		{
			name:   "account zero omitted",
			target: ServiceTarget{Stack: location.InsightAPI, Name: "aims", Version: VersionNumber(1), AccountID: "0", Path: "/users"},
			want:   "https://api.product.dev.alertlogic.com/aims/v1/users",
		},
		{
			name:   "context account",
			target: ServiceTarget{Stack: location.InsightAPI, Name: "aims", Version: VersionNumber(1), ContextAccount: true, Path: "account"},
			want:   "https://api.product.dev.alertlogic.com/aims/v1/2/account",
		},
		{
			name:   "prefix",
			target: ServiceTarget{Stack: location.InsightAPI, Prefix: "/internal/", Name: "search", Version: VersionNumber(2), AccountID: "5"},
			want:   "https://api.product.dev.alertlogic.com/internal/search/v2/5",
		},
		{
			name:   "service placeholder",
			target: ServiceTarget{Stack: location.IntegrationsAPI, Name: "connectors", Version: VersionNumber(1), AccountID: "5", Path: "list"},
			want:   "https://connectors.mdr.product.dev.alertlogic.com/v1/5/list",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := tt.target
			req := &Request{Service: &target}
			if _, err := c.Normalize(context.Background(), req); err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if req.URL != tt.want {
				t.Errorf("URL = %s, want %s", req.URL, tt.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	c := newTestClient(t, nil, WithRuntime(noResolution()))

	req := &Request{Service: &ServiceTarget{Stack: location.InsightAPI, Name: "cargo", Version: VersionNumber(2), AccountID: "1"}}
	if _, err := c.Normalize(context.Background(), req); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	first := req.URL
	if _, err := c.Normalize(context.Background(), req); err != nil {
		t.Fatalf("second Normalize: %v", err)
	}
	if req.URL != first {
		t.Errorf("URL changed on second normalization: %s -> %s", first, req.URL)
	}
}

func TestNormalize_ExplicitURLSkipsResolution(t *testing.T) {
	c := newTestClient(t, nil)

	req := &Request{URL: "https://example.com/raw", Service: &ServiceTarget{Stack: location.InsightAPI, Name: "cargo"}}
	if _, err := c.Normalize(context.Background(), req); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if req.URL != "https://example.com/raw" {
		t.Errorf("URL = %s", req.URL)
	}
	if c.Resolver().Len() != 0 {
		t.Error("explicit URL triggered endpoint resolution")
	}
}

func TestNormalize_UnidentifiedRequestIsUsageWarning(t *testing.T) {
	c := newTestClient(t, nil)

	req := &Request{Service: &ServiceTarget{Path: "/orphan"}}
	if _, err := c.Normalize(context.Background(), req); err != nil {
		t.Fatalf("Normalize returned error for usage problem: %v", err)
	}
	if req.URL != "" {
		t.Errorf("URL = %s, want empty", req.URL)
	}
	if _, err := c.Do(context.Background(), req); !errors.Is(err, domain.ErrNoURL) {
		t.Errorf("Do err = %v, want ErrNoURL", err)
	}
}

func TestNormalize_MergesDefaultsCallerWins(t *testing.T) {
	c := newTestClient(t, nil, WithRuntime(noResolution()), WithDefaults(Defaults{
		Headers:    http.Header{"X-Client": []string{"sdk"}, "X-Trace": []string{"default"}},
		Params:     map[string][]string{"limit": {"10"}},
		TTL:        DefaultTTL,
		RetryCount: 2,
	}))

	req := &Request{
		Headers: http.Header{"X-Trace": []string{"caller"}},
		Service: &ServiceTarget{Stack: location.InsightAPI, Name: "search"},
	}
	if _, err := c.Normalize(context.Background(), req); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got := req.Headers.Get("X-Trace"); got != "caller" {
		t.Errorf("X-Trace = %s, caller value must win", got)
	}
	if got := req.Headers.Get("X-Client"); got != "sdk" {
		t.Errorf("X-Client = %s", got)
	}
	if req.Params.Get("limit") != "10" || req.TTL != DefaultTTL || req.RetryCount != 2 {
		t.Errorf("defaults not merged: params=%v ttl=%v retries=%d", req.Params, req.TTL, req.RetryCount)
	}
}

func TestNormalize_TranslatesDeprecatedFields(t *testing.T) {
	c := newTestClient(t, nil)

	req := &Request{URL: "https://example.com/x", AcceptHeader: "text/plain", ResponseType: "text"}
	if _, err := c.Normalize(context.Background(), req); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if req.Headers.Get("Accept") != "text/plain" || req.Format != "text" {
		t.Errorf("translation failed: accept=%q format=%q", req.Headers.Get("Accept"), req.Format)
	}
	if req.AcceptHeader != "" || req.ResponseType != "" {
		t.Error("deprecated fields were not cleared")
	}
}

// endpointServer 模拟全局端点服务，对默认驻留区域接口返回 hosts
func endpointServer(t *testing.T, hosts map[string]string, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hosts)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestNormalize_UsesResolvedEndpoint(t *testing.T) {
	srv, calls := endpointServer(t, map[string]string{"cargo": "cargo.us.alertlogic.com"}, http.StatusOK)
	m := integrationMatrix()
	m.Remap(location.GlobalAPI, srv.URL, "", "")
	c := newTestClient(t, m)

	req := &Request{Service: &ServiceTarget{Stack: location.InsightAPI, Name: "cargo", Version: VersionNumber(2), AccountID: "67108880"}}
	if _, err := c.Normalize(context.Background(), req); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if req.URL != "https://cargo.us.alertlogic.com/cargo/v2/67108880" {
		t.Errorf("URL = %s", req.URL)
	}

	// 同一账号的其他服务由缓存或同一批次结果提供
	req2 := &Request{Service: &ServiceTarget{Stack: location.InsightAPI, Name: "cargo", AccountID: "67108880", Path: "schedules"}}
	if _, err := c.Normalize(context.Background(), req2); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("endpoint service called %d times, want 1", calls.Load())
	}
}

func TestNormalize_EndpointFailureFallsBackToDefault(t *testing.T) {
	srv, _ := endpointServer(t, nil, http.StatusInternalServerError)
	m := integrationMatrix()
	m.Remap(location.GlobalAPI, srv.URL, "", "")
	c := newTestClient(t, m)

	req := &Request{Service: &ServiceTarget{Stack: location.InsightAPI, Name: "kalm", Version: VersionNumber(1), AccountID: "2"}}
	if _, err := c.Normalize(context.Background(), req); err != nil {
		t.Fatalf("endpoint failure escaped to caller: %v", err)
	}
	if req.URL != "https://api.product.dev.alertlogic.com/kalm/v1/2" {
		t.Errorf("URL = %s", req.URL)
	}
}

func TestNormalize_RuntimeToggleReadAtCallTime(t *testing.T) {
	srv, calls := endpointServer(t, map[string]string{"search": "search.alertlogic.com"}, http.StatusOK)
	m := integrationMatrix()
	m.Remap(location.GlobalAPI, srv.URL, "", "")
	rt := noResolution()
	c := newTestClient(t, m, WithRuntime(rt))

	req := &Request{Service: &ServiceTarget{Stack: location.InsightAPI, Name: "search", AccountID: "3"}}
	_, _ = c.Normalize(context.Background(), req)
	if calls.Load() != 0 || req.URL != "https://api.product.dev.alertlogic.com/search/3" {
		t.Fatalf("resolution ran while disabled: calls=%d url=%s", calls.Load(), req.URL)
	}

	rt.SetDisableEndpointsResolution(false)
	req = &Request{Service: &ServiceTarget{Stack: location.InsightAPI, Name: "search", AccountID: "3"}}
	_, _ = c.Normalize(context.Background(), req)
	if calls.Load() != 1 || req.URL != "https://search.alertlogic.com/search/3" {
		t.Errorf("resolution did not run once enabled: calls=%d url=%s", calls.Load(), req.URL)
	}
}
