package config

import (
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/holodex/internal/db/retry"
	"github.com/kailas-cloud/holodex/internal/domain"
)

// Kind is the transport variant a URI selects.
type Kind string

// Transport kinds.
const (
	KindCloud  Kind = "cloud"
	KindLocal  Kind = "local"
	KindMemory Kind = "memory"
)

// Connection defaults.
const (
	DefaultPort     = 80
	DefaultRegion   = "cn-hangzhou"
	DefaultDatabase = "default"
)

// Environment variables consulted by ParseURI.
const (
	EnvURI      = "HOLOGRES_URI"
	EnvAPIKey   = "HOLOGRES_API_KEY"
	EnvRegion   = "HOLOGRES_REGION"
	EnvHost     = "HOLOGRES_HOST"
	EnvPort     = "HOLOGRES_PORT"
	EnvUsername = "HOLOGRES_USERNAME"
	EnvPassword = "HOLOGRES_PASSWORD"
	EnvDatabase = "HOLOGRES_DATABASE"
)

// Env looks up an environment variable; "" means unset.
type Env func(key string) string

// OSEnv reads the process environment.
var OSEnv Env = os.Getenv

func noEnv(string) string { return "" }

// Credentials identify the backend and authenticate to it.
type Credentials struct {
	APIKey string
	Region string
	// Host is the server host for Local and the endpoint override for Cloud.
	Host     string
	Port     int
	Database string
	Username string
	Password string
	// DSN is the pgx connection string for Local, without holodex parameters.
	DSN string
}

// BaseURL returns the Cloud endpoint override, or "" for the regional endpoint.
func (c Credentials) BaseURL() string {
	switch {
	case c.Host == "":
		return ""
	case strings.Contains(c.Host, "://"):
		return strings.TrimRight(c.Host, "/")
	case c.Port == 443:
		return "https://" + c.Host
	default:
		return "http://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	}
}

// Pool sizes the Local connection pool. Zero fields keep pgx defaults.
type Pool struct {
	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
}

// Retry is the transport retry budget a URI asked for.
type Retry struct {
	MaxRetries int
	Backoff    retry.Backoff
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Set reports whether the URI carried any retry parameter.
	Set bool
}

// Policy returns the default policy with the URI overrides applied.
func (r Retry) Policy() retry.Policy {
	p := retry.Default()
	if !r.Set {
		return p
	}
	if r.MaxRetries >= 0 {
		p.MaxRetries = r.MaxRetries
	}
	if r.Backoff != "" {
		p.Backoff = r.Backoff
	}
	if r.BaseDelay > 0 {
		p.BaseDelay = r.BaseDelay
	}
	if r.MaxDelay > 0 {
		p.MaxDelay = r.MaxDelay
	}
	return p
}

// Resolved is a connection target with every fallback applied.
type Resolved struct {
	Kind        Kind
	URI         string
	Credentials Credentials
	Pool        Pool
	Retry       Retry
}

// Query parameters ParseURI consumes. They never reach pgx.
const (
	paramMaxConns   = "max_conns"
	paramMinConns   = "min_conns"
	paramMaxIdle    = "max_conn_idle_time"
	paramRetries    = "retries"
	paramBackoff    = "backoff"
	paramRetryDelay = "retry_delay"
	paramRetryMax   = "retry_max_delay"
	paramRegion     = "region"
	paramHost       = "host"
)

// ParseURI resolves uri into a connection target:
//
//	holo://<database>[?region=&host=]   Cloud
//	postgres://... or postgresql://...   Local
//	memory://<name>                      in-process
//
// An empty uri falls back to HOLOGRES_URI, then to a Local DSN assembled
// from HOLOGRES_HOST, HOLOGRES_PORT, HOLOGRES_USERNAME, HOLOGRES_PASSWORD
// and HOLOGRES_DATABASE. A nil env reads the process environment.
func ParseURI(uri string, env Env) (Resolved, error) {
	if env == nil {
		env = OSEnv
	}
	if uri == "" {
		uri = env(EnvURI)
	}
	if uri == "" {
		dsn, err := assembleDSN(env)
		if err != nil {
			return Resolved{}, err
		}
		uri = dsn
	}

	u, err := url.Parse(uri)
	if err != nil {
		return Resolved{}, domain.NewValidation("uri", "malformed uri: %v", err)
	}
	q := u.Query()
	retryCfg, err := parseRetry(q)
	if err != nil {
		return Resolved{}, err
	}

	switch u.Scheme {
	case "holo":
		return parseCloud(u, q, retryCfg, env)
	case "postgres", "postgresql":
		return parseLocal(u, q, retryCfg, env)
	case "memory":
		name := strings.Trim(u.Host+u.Path, "/")
		if name == "" {
			name = DefaultDatabase
		}
		return Resolved{
			Kind:        KindMemory,
			URI:         "memory://" + name,
			Credentials: Credentials{Database: name},
			Retry:       retryCfg,
		}, nil
	case "":
		return Resolved{}, domain.NewValidation("uri", "missing scheme in %q", u.Redacted())
	default:
		return Resolved{}, domain.NewValidation("uri", "unsupported scheme %q", u.Scheme)
	}
}

func parseCloud(u *url.URL, q url.Values, r Retry, env Env) (Resolved, error) {
	creds := Credentials{
		APIKey:   env(EnvAPIKey),
		Region:   first(q.Get(paramRegion), env(EnvRegion), DefaultRegion),
		Host:     first(q.Get(paramHost), env(EnvHost)),
		Database: first(strings.Trim(u.Host+u.Path, "/"), env(EnvDatabase), DefaultDatabase),
		Username: env(EnvUsername),
		Password: env(EnvPassword),
	}
	port, err := envPort(env)
	if err != nil {
		return Resolved{}, err
	}
	creds.Port = port
	if u.User != nil {
		creds.Username = u.User.Username()
		if p, ok := u.User.Password(); ok {
			creds.Password = p
		}
	}
	if strings.Contains(creds.Database, "/") {
		return Resolved{}, domain.NewValidation("uri", "database name %q must not contain '/'", creds.Database)
	}
	return Resolved{Kind: KindCloud, URI: "holo://" + creds.Database, Credentials: creds, Retry: r}, nil
}

func parseLocal(u *url.URL, q url.Values, r Retry, env Env) (Resolved, error) {
	pool, err := parsePool(q)
	if err != nil {
		return Resolved{}, err
	}
	for _, k := range []string{
		paramMaxConns, paramMinConns, paramMaxIdle,
		paramRetries, paramBackoff, paramRetryDelay, paramRetryMax,
	} {
		q.Del(k)
	}

	if u.User == nil && env(EnvUsername) != "" {
		if pw := env(EnvPassword); pw != "" {
			u.User = url.UserPassword(env(EnvUsername), pw)
		} else {
			u.User = url.User(env(EnvUsername))
		}
	}
	if u.Host == "" && env(EnvHost) != "" {
		port, err := envPort(env)
		if err != nil {
			return Resolved{}, err
		}
		u.Host = net.JoinHostPort(env(EnvHost), strconv.Itoa(port))
	}
	if strings.Trim(u.Path, "/") == "" && env(EnvDatabase) != "" {
		u.Path = "/" + env(EnvDatabase)
	}
	u.RawQuery = q.Encode()

	creds := Credentials{
		Host:     u.Hostname(),
		Database: strings.Trim(u.Path, "/"),
		DSN:      u.String(),
	}
	if u.User != nil {
		creds.Username = u.User.Username()
		creds.Password, _ = u.User.Password()
	}
	if p := u.Port(); p != "" {
		creds.Port, _ = strconv.Atoi(p)
	}
	return Resolved{Kind: KindLocal, URI: u.Redacted(), Credentials: creds, Pool: pool, Retry: r}, nil
}

func assembleDSN(env Env) (string, error) {
	host := env(EnvHost)
	if host == "" {
		return "", domain.NewValidation("uri", "uri is required: pass one or set %s or %s", EnvURI, EnvHost)
	}
	port, err := envPort(env)
	if err != nil {
		return "", err
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + first(env(EnvDatabase), DefaultDatabase),
	}
	if user := env(EnvUsername); user != "" {
		if pw := env(EnvPassword); pw != "" {
			u.User = url.UserPassword(user, pw)
		} else {
			u.User = url.User(user)
		}
	}
	return u.String(), nil
}

func envPort(env Env) (int, error) {
	v := env(EnvPort)
	if v == "" {
		return DefaultPort, nil
	}
	port, err := strconv.Atoi(v)
	if err != nil || port <= 0 || port > 65535 {
		return 0, domain.NewValidation(EnvPort, "invalid port %q", v)
	}
	return port, nil
}

func parsePool(q url.Values) (Pool, error) {
	var p Pool
	if v := q.Get(paramMaxConns); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n <= 0 {
			return Pool{}, domain.NewValidation(paramMaxConns, "must be a positive integer, got %q", v)
		}
		p.MaxConns = int32(n)
	}
	if v := q.Get(paramMinConns); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n < 0 {
			return Pool{}, domain.NewValidation(paramMinConns, "must be a non-negative integer, got %q", v)
		}
		p.MinConns = int32(n)
	}
	if p.MaxConns > 0 && p.MinConns > p.MaxConns {
		return Pool{}, domain.NewValidation(paramMinConns, "%d exceeds %s %d", p.MinConns, paramMaxConns, p.MaxConns)
	}
	if v := q.Get(paramMaxIdle); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Pool{}, domain.NewValidation(paramMaxIdle, "must be a positive duration, got %q", v)
		}
		p.MaxConnIdleTime = d
	}
	return p, nil
}

func parseRetry(q url.Values) (Retry, error) {
	r := Retry{MaxRetries: -1}
	if v := q.Get(paramRetries); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Retry{}, domain.NewValidation(paramRetries, "must be a non-negative integer, got %q", v)
		}
		r.MaxRetries, r.Set = n, true
	}
	if v := q.Get(paramBackoff); v != "" {
		b := retry.Backoff(v)
		if b != retry.BackoffFixed && b != retry.BackoffExponential {
			return Retry{}, domain.NewValidation(paramBackoff, "must be %q or %q, got %q",
				retry.BackoffFixed, retry.BackoffExponential, v)
		}
		r.Backoff, r.Set = b, true
	}
	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{paramRetryDelay, &r.BaseDelay},
		{paramRetryMax, &r.MaxDelay},
	} {
		v := q.Get(d.key)
		if v == "" {
			continue
		}
		dur, err := time.ParseDuration(v)
		if err != nil || dur <= 0 {
			return Retry{}, domain.NewValidation(d.key, "must be a positive duration, got %q", v)
		}
		*d.dst, r.Set = dur, true
	}
	return r, nil
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
