package endpoints

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mcnielsen/nepal-core/internal/location"
)

type postCall struct {
	url  string
	body []string
}

// stubPoster 记录调用并返回预设响应
type stubPoster struct {
	mu       sync.Mutex
	calls    []postCall
	response any
	err      error
	release  chan struct{}
	count    atomic.Int32
}

func (p *stubPoster) PostJSON(_ context.Context, url string, body, out any) error {
	p.count.Add(1)
	services, _ := body.([]string)
	p.mu.Lock()
	p.calls = append(p.calls, postCall{url: url, body: services})
	p.mu.Unlock()

	if p.release != nil {
		<-p.release
	}
	if p.err != nil {
		return p.err
	}
	data, err := json.Marshal(p.response)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestResolver(env string, p *stubPoster) *Resolver {
	m := location.NewMatrix(location.Context{Environment: env, Residency: location.ResidencyUS})
	return NewResolver(m, p, WithLogger(quietLogger()))
}

func TestResolve_AsyncHostUsesSecureWebsocket(t *testing.T) {
	p := &stubPoster{response: map[string]string{"bryan": "async.bryan.alertlogic.com"}}
	r := newTestResolver(location.Integration, p)

	got := r.Resolve(context.Background(), Query{AccountID: "10101010", Service: "bryan"})
	if got != "wss://async.bryan.alertlogic.com" {
		t.Fatalf("base URL = %s", got)
	}

	if len(p.calls) != 1 {
		t.Fatalf("expected 1 endpoint call, got %d", len(p.calls))
	}
	wantURL := "https://api.global-integration.product.dev.alertlogic.com/endpoints/v1/10101010/residency/default/endpoints"
	if p.calls[0].url != wantURL {
		t.Errorf("url = %s, want %s", p.calls[0].url, wantURL)
	}
	if last := p.calls[0].body[len(p.calls[0].body)-1]; last != "bryan" {
		t.Errorf("unclassified service not appended to batch, last = %s", last)
	}

	// 第二次解析命中缓存
	r.Resolve(context.Background(), Query{AccountID: "10101010", Service: "bryan"})
	if p.count.Load() != 1 {
		t.Errorf("expected cached result, calls = %d", p.count.Load())
	}
}

func TestResolve_UnclassifiedServiceJoinsLaterBatches(t *testing.T) {
	p := &stubPoster{response: map[string]string{"bryan": "bryan.example.com", "cargo": "cargo.example.com"}}
	r := newTestResolver(location.Production, p)

	r.Resolve(context.Background(), Query{AccountID: "1", Service: "bryan"})
	r.Resolve(context.Background(), Query{AccountID: "2", Service: "cargo"})

	if len(p.calls) != 2 {
		t.Fatalf("calls = %d", len(p.calls))
	}
	found := false
	for _, s := range p.calls[1].body {
		if s == "bryan" {
			found = true
		}
	}
	if !found {
		t.Error("second batch does not include previously seen service")
	}
}

func TestResolve_FallbackOnError(t *testing.T) {
	p := &stubPoster{err: errors.New("connection refused")}
	r := newTestResolver(location.Production, p)

	got := r.Resolve(context.Background(), Query{AccountID: "2", Service: "cargo", Residency: location.ResidencyEMEA})
	if got != "https://api.cloudinsight.alertlogic.co.uk" {
		t.Fatalf("fallback = %s", got)
	}

	// 同一批次中的其他服务也被映射到默认地址
	if v, ok := r.Lookup(location.Production, "2", "aims", location.ResidencyEMEA, ""); !ok || v != got {
		t.Errorf("aims lookup = %q, %v", v, ok)
	}

	r.Resolve(context.Background(), Query{AccountID: "2", Service: "search", Residency: location.ResidencyEMEA})
	if p.count.Load() != 1 {
		t.Errorf("fallback should be cached, calls = %d", p.count.Load())
	}
}

func TestResolve_AccountGateSerializesCalls(t *testing.T) {
	p := &stubPoster{
		response: map[string]string{"aims": "aims.example.com", "search": "search.example.com", "cargo": "cargo.example.com"},
		release:  make(chan struct{}),
	}
	r := newTestResolver(location.Production, p)

	services := []string{"aims", "search", "cargo", "aims", "search", "cargo"}
	results := make([]string, len(services))
	var wg sync.WaitGroup
	for i, svc := range services {
		wg.Add(1)
		go func(i int, svc string) {
			defer wg.Done()
			results[i] = r.Resolve(context.Background(), Query{AccountID: "42", Service: svc})
		}(i, svc)
	}

	time.Sleep(50 * time.Millisecond)
	close(p.release)
	wg.Wait()

	if n := p.count.Load(); n != 1 {
		t.Fatalf("expected exactly 1 in-flight resolution per account, got %d", n)
	}
	for i, svc := range services {
		if want := "https://" + svc + ".example.com"; results[i] != want {
			t.Errorf("results[%d] = %s, want %s", i, results[i], want)
		}
	}
}

func TestResolve_ResidencyAware(t *testing.T) {
	p := &stubPoster{response: map[string]map[string]map[string]string{
		"ingest": {
			"US": {
				"defender-us-denver":  "ingest.us-denver.example.com",
				"defender-us-ashburn": "ingest.us-ashburn.example.com",
			},
			"EMEA": {"defender-uk-newport": "https://ingest.uk.example.com"},
		},
	}}
	r := newTestResolver(location.Production, p)
	ctx := context.Background()

	tests := []struct {
		name string
		q    Query
		want string
	}{
		{"exact datacenter", Query{AccountID: "7", Service: "ingest", Datacenter: "defender-us-denver"}, "https://ingest.us-denver.example.com"},
		{"lowest datacenter of residency", Query{AccountID: "7", Service: "ingest"}, "https://ingest.us-ashburn.example.com"},
		{"other residency", Query{AccountID: "7", Service: "ingest", Residency: "EMEA"}, "https://ingest.uk.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Resolve(ctx, tt.q); got != tt.want {
				t.Errorf("Resolve = %s, want %s", got, tt.want)
			}
		})
	}

	if p.count.Load() != 1 {
		t.Errorf("all combinations should be cached from one call, calls = %d", p.count.Load())
	}
	if want := "https://api.global-services.global.alertlogic.com/endpoints/v1/7/endpoints"; p.calls[0].url != want {
		t.Errorf("url = %s", p.calls[0].url)
	}
}

func TestReset(t *testing.T) {
	p := &stubPoster{response: map[string]string{"aims": "aims.example.com"}}
	r := newTestResolver(location.Production, p)

	r.Resolve(context.Background(), Query{AccountID: "1", Service: "aims"})
	if r.Len() == 0 {
		t.Fatal("expected cached entries")
	}
	r.Reset()
	if _, ok := r.Lookup(location.Production, "1", "aims", "US", ""); ok {
		t.Error("entry survived reset")
	}
	r.Resolve(context.Background(), Query{AccountID: "1", Service: "aims"})
	if p.count.Load() != 2 {
		t.Errorf("calls after reset = %d, want 2", p.count.Load())
	}
}

func TestNormalizeHost(t *testing.T) {
	tests := map[string]string{
		"async.bryan.alertlogic.com": "wss://async.bryan.alertlogic.com",
		"api.example.com":            "https://api.example.com",
		"http://localhost:8080/":     "http://localhost:8080",
		" cargo.example.com ":        "https://cargo.example.com",
	}
	for in, want := range tests {
		if got := NormalizeHost(in); got != want {
			t.Errorf("NormalizeHost(%q) = %s, want %s", in, got, want)
		}
	}
}
