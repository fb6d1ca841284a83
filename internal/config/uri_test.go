package config

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/kailas-cloud/holodex/internal/db/retry"
	"github.com/kailas-cloud/holodex/internal/domain"
)

func mapEnv(m map[string]string) Env {
	return func(k string) string { return m[k] }
}

func TestParseURI_Cloud(t *testing.T) {
	env := mapEnv(map[string]string{EnvAPIKey: "holo_key", EnvRegion: "cn-shanghai"})

	res, err := ParseURI("holo://analytics", env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != KindCloud {
		t.Fatalf("expected cloud, got %s", res.Kind)
	}
	c := res.Credentials
	if c.Database != "analytics" || c.APIKey != "holo_key" || c.Region != "cn-shanghai" {
		t.Errorf("unexpected credentials %+v", c)
	}
	if c.Port != DefaultPort {
		t.Errorf("expected default port, got %d", c.Port)
	}
	if c.BaseURL() != "" {
		t.Errorf("expected regional endpoint, got %q", c.BaseURL())
	}
}

func TestParseURI_CloudQueryOverridesEnv(t *testing.T) {
	env := mapEnv(map[string]string{EnvRegion: "cn-shanghai", EnvHost: "env-host"})

	res, err := ParseURI("holo://db?region=cn-beijing&host=http://127.0.0.1:9000/", env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Credentials.Region != "cn-beijing" {
		t.Errorf("expected query region, got %q", res.Credentials.Region)
	}
	if got := res.Credentials.BaseURL(); got != "http://127.0.0.1:9000" {
		t.Errorf("unexpected base url %q", got)
	}
}

func TestCredentials_BaseURL(t *testing.T) {
	tests := []struct {
		creds Credentials
		want  string
	}{
		{Credentials{}, ""},
		{Credentials{Host: "gw.local", Port: 80}, "http://gw.local:80"},
		{Credentials{Host: "gw.local", Port: 8080}, "http://gw.local:8080"},
		{Credentials{Host: "gw.local", Port: 443}, "https://gw.local"},
		{Credentials{Host: "https://gw.example.com/"}, "https://gw.example.com"},
	}
	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			if got := tc.creds.BaseURL(); got != tc.want {
				t.Errorf("BaseURL() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseURI_CloudDefaults(t *testing.T) {
	res, err := ParseURI("holo://", mapEnv(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Credentials.Database != DefaultDatabase || res.Credentials.Region != DefaultRegion {
		t.Errorf("unexpected defaults %+v", res.Credentials)
	}
}

func TestParseURI_Local(t *testing.T) {
	res, err := ParseURI(
		"postgresql://alice:pw@db.internal:5432/shop?sslmode=disable&max_conns=8&min_conns=2&max_conn_idle_time=1m&retries=5&backoff=fixed&retry_delay=200ms",
		mapEnv(nil),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != KindLocal {
		t.Fatalf("expected local, got %s", res.Kind)
	}
	c := res.Credentials
	if c.Username != "alice" || c.Password != "pw" || c.Host != "db.internal" || c.Port != 5432 || c.Database != "shop" {
		t.Errorf("unexpected credentials %+v", c)
	}

	dsn, err := url.Parse(c.DSN)
	if err != nil {
		t.Fatalf("dsn does not parse: %v", err)
	}
	q := dsn.Query()
	if q.Get("sslmode") != "disable" {
		t.Errorf("pgx parameter dropped from %q", c.DSN)
	}
	for _, k := range []string{"max_conns", "min_conns", "max_conn_idle_time", "retries", "backoff", "retry_delay"} {
		if q.Has(k) {
			t.Errorf("holodex parameter %q leaked into dsn %q", k, c.DSN)
		}
	}

	if res.Pool != (Pool{MaxConns: 8, MinConns: 2, MaxConnIdleTime: time.Minute}) {
		t.Errorf("unexpected pool %+v", res.Pool)
	}
	p := res.Retry.Policy()
	if p.MaxRetries != 5 || p.Backoff != retry.BackoffFixed || p.BaseDelay != 200*time.Millisecond {
		t.Errorf("unexpected retry policy %+v", p)
	}
	if res.URI == c.DSN {
		t.Error("resolved uri should redact the password")
	}
}

func TestParseURI_LocalFillsFromEnv(t *testing.T) {
	env := mapEnv(map[string]string{
		EnvHost:     "pg",
		EnvPort:     "6432",
		EnvUsername: "bob",
		EnvPassword: "secret",
		EnvDatabase: "warehouse",
	})
	res, err := ParseURI("postgres://", env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := res.Credentials
	if c.Host != "pg" || c.Port != 6432 || c.Username != "bob" || c.Password != "secret" || c.Database != "warehouse" {
		t.Errorf("unexpected credentials %+v", c)
	}
}

func TestParseURI_EnvFallbacks(t *testing.T) {
	t.Run("HOLOGRES_URI", func(t *testing.T) {
		res, err := ParseURI("", mapEnv(map[string]string{EnvURI: "memory://fromenv"}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Kind != KindMemory || res.Credentials.Database != "fromenv" {
			t.Errorf("unexpected resolution %+v", res)
		}
	})
	t.Run("assembled DSN", func(t *testing.T) {
		res, err := ParseURI("", mapEnv(map[string]string{EnvHost: "10.0.0.5", EnvUsername: "u"}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Kind != KindLocal {
			t.Fatalf("expected local, got %s", res.Kind)
		}
		if res.Credentials.Port != DefaultPort || res.Credentials.Database != DefaultDatabase {
			t.Errorf("unexpected credentials %+v", res.Credentials)
		}
	})
	t.Run("nothing configured", func(t *testing.T) {
		_, err := ParseURI("", mapEnv(nil))
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})
}

func TestParseURI_Memory(t *testing.T) {
	for uri, want := range map[string]string{
		"memory://":       DefaultDatabase,
		"memory://scratch": "scratch",
	} {
		res, err := ParseURI(uri, mapEnv(nil))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", uri, err)
		}
		if res.Kind != KindMemory || res.Credentials.Database != want {
			t.Errorf("%s: unexpected resolution %+v", uri, res)
		}
	}
}

func TestParseURI_Invalid(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		env  map[string]string
	}{
		{"unsupported scheme", "mysql://localhost/db", nil},
		{"no scheme", "localhost:5432", nil},
		{"bad port env", "postgres://", map[string]string{EnvHost: "pg", EnvPort: "eighty"}},
		{"bad max_conns", "postgres://h/db?max_conns=0", nil},
		{"min above max", "postgres://h/db?max_conns=2&min_conns=4", nil},
		{"bad idle", "postgres://h/db?max_conn_idle_time=soon", nil},
		{"bad retries", "postgres://h/db?retries=-1", nil},
		{"bad backoff", "postgres://h/db?backoff=random", nil},
		{"bad delay", "postgres://h/db?retry_delay=0s", nil},
		{"nested database", "holo://db/extra", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseURI(tc.uri, mapEnv(tc.env))
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestRetry_PolicyDefaults(t *testing.T) {
	res, err := ParseURI("memory://x", mapEnv(nil))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := res.Retry.Policy(), retry.Default(); got.MaxRetries != want.MaxRetries || got.BaseDelay != want.BaseDelay {
		t.Errorf("expected default policy, got %+v", got)
	}
}
