package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/mcnielsen/nepal-core/internal/apiclient"
	"github.com/mcnielsen/nepal-core/internal/config"
	"github.com/mcnielsen/nepal-core/internal/location"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := &Claims{
		AccountID: "2",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(exp.Add(-time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func newClient(t *testing.T, m *location.Matrix, rt *config.Runtime) *apiclient.Client {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	if m == nil {
		m = location.NewMatrix(location.Context{Environment: location.Integration, Residency: location.ResidencyUS})
	}
	c, err := apiclient.New(m, apiclient.WithLogger(logger), apiclient.WithRuntime(rt))
	if err != nil {
		t.Fatalf("apiclient.New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSession_Expired(t *testing.T) {
	now := time.Now()
	s := New(newClient(t, nil, nil), signedToken(t, now.Add(time.Hour)))

	if s.Expired(now) {
		t.Error("fresh token reported expired")
	}
	if !s.Expired(now.Add(2 * time.Hour)) {
		t.Error("token not expired after exp")
	}

	claims, err := s.Claims()
	if err != nil {
		t.Fatalf("Claims: %v", err)
	}
	if claims.AccountID != "2" {
		t.Errorf("AccountID = %s", claims.AccountID)
	}

	s.SetToken("not-a-jwt")
	if !s.Expired(now) {
		t.Error("unparseable token must count as expired")
	}
	s.SetToken("")
	if _, err := s.Claims(); err != ErrNoToken {
		t.Errorf("err = %v, want ErrNoToken", err)
	}
}

func TestSession_HookInjectsHeaderByAuthMode(t *testing.T) {
	type seen struct{ aims, bearer string }
	got := make(chan seen, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- seen{r.Header.Get(HeaderAIMSToken), r.Header.Get(HeaderAuthorization)}
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c := newClient(t, nil, nil)
	New(c, "tok")

	tests := []struct {
		name string
		mode apiclient.AuthMode
		want seen
	}{
		{"default", apiclient.AuthDefault, seen{aims: "tok"}},
		{"bearer", apiclient.AuthBearer, seen{bearer: "Bearer tok"}},
		{"none", apiclient.AuthNone, seen{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Get(context.Background(), &apiclient.Request{URL: srv.URL, Auth: tt.mode}); err != nil {
				t.Fatalf("GET: %v", err)
			}
			if s := <-got; s != tt.want {
				t.Errorf("headers = %+v, want %+v", s, tt.want)
			}
		})
	}
}

func TestSession_SetActingAccountWithoutMetadata(t *testing.T) {
	c := newClient(t, nil, config.NewRuntime(config.RuntimeOptions{}))
	s := New(c, "tok")

	acct, err := s.SetActingAccount(context.Background(), "134")
	if err != nil {
		t.Fatalf("SetActingAccount: %v", err)
	}
	if acct.ID != "134" || c.ContextAccount() != "134" {
		t.Errorf("account = %+v, context = %s", acct, c.ContextAccount())
	}
}

// The location's declared residency wins over the caller's residency preference.
func TestSession_SetActingAccountAppliesDefaultLocation(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/aims/v1/67000001/account" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"id":"67000001","name":"Acme","default_location":"insight-eu-ireland","accessible_locations":["defender-uk-newport"]}`)
	}))
	defer srv.Close()

	m := location.NewMatrix(location.Context{Environment: location.Integration, Residency: location.ResidencyUS})
	m.Remap(location.InsightAPI, srv.URL, "", "")
	rt := config.NewRuntime(config.RuntimeOptions{DisableEndpointsResolution: true, ResolveAccountMetadata: true})
	s := New(newClient(t, m, rt), "tok")

	acct, err := s.SetActingAccount(context.Background(), "67000001")
	if err != nil {
		t.Fatalf("SetActingAccount: %v", err)
	}
	if acct.Name != "Acme" || s.Account() == nil {
		t.Errorf("account = %+v", acct)
	}

	acting := m.Context()
	if acting.InsightLocationID != "defender-uk-newport" {
		t.Errorf("insight location = %s, want defender-uk-newport", acting.InsightLocationID)
	}
	if acting.Residency != location.ResidencyEMEA {
		t.Errorf("residency = %s, want EMEA", acting.Residency)
	}

	// 账号元数据带 TTL 缓存
	if _, err := s.SetActingAccount(context.Background(), "67000001"); err != nil {
		t.Fatalf("second SetActingAccount: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("account metadata fetched %d times, want 1", hits.Load())
	}
}
