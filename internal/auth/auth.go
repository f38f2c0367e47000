// Package auth guards the collector's ingest endpoint and signs the
// reporter's outgoing requests.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

var rejectedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pagewatch_auth_rejected_total",
		Help: "Requests rejected by ingest authentication",
	},
	[]string{"reason"},
)

func init() {
	prometheus.MustRegister(rejectedTotal)
	for _, r := range []string{"missing", "format", "credentials"} {
		rejectedTotal.WithLabelValues(r).Add(0)
	}
}

// ServerConfig selects the accepted credentials. A bearer token wins over
// basic auth. With neither set every request passes.
type ServerConfig struct {
	BearerToken       string
	BasicAuthUsername string
	BasicAuthPassword string
}

// Enabled reports whether credentials are required.
func (c ServerConfig) Enabled() bool {
	return c.BearerToken != "" || (c.BasicAuthUsername != "" && c.BasicAuthPassword != "")
}

// ClientConfig holds the credentials and extra headers sent with every
// outgoing request.
type ClientConfig struct {
	BearerToken       string
	BasicAuthUsername string
	BasicAuthPassword string
	Headers           map[string]string
}

// Enabled reports whether the transport changes requests at all.
func (c ClientConfig) Enabled() bool {
	return c.BearerToken != "" || c.BasicAuthUsername != "" || len(c.Headers) > 0
}

// HTTPMiddleware rejects requests without the configured credentials with
// 401. CORS preflights pass unauthenticated since browsers never send
// credentials on them.
func HTTPMiddleware(cfg ServerConfig, next http.Handler) http.Handler {
	if !cfg.Enabled() {
		return next
	}
	var expected, scheme string
	if cfg.BearerToken != "" {
		scheme, expected = "Bearer ", cfg.BearerToken
	} else {
		scheme, expected = "Basic ", basicAuthEncoded(cfg.BasicAuthUsername, cfg.BasicAuthPassword)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		switch {
		case header == "":
			reject(w, "missing", "missing authorization header")
		case !strings.HasPrefix(header, scheme):
			reject(w, "format", "invalid authorization header format")
		case subtle.ConstantTimeCompare([]byte(header[len(scheme):]), []byte(expected)) != 1:
			reject(w, "credentials", "invalid credentials")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func reject(w http.ResponseWriter, reason, msg string) {
	rejectedTotal.WithLabelValues(reason).Inc()
	w.Header().Set("WWW-Authenticate", `Bearer realm="pagewatch"`)
	http.Error(w, msg, http.StatusUnauthorized)
}

// HTTPTransport wraps base so every request carries cfg's credentials and
// headers. A nil base means http.DefaultTransport.
func HTTPTransport(cfg ClientConfig, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if !cfg.Enabled() {
		return base
	}
	return &authTransport{base: base, cfg: cfg}
}

type authTransport struct {
	base http.RoundTripper
	cfg  ClientConfig
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range t.cfg.Headers {
		clone.Header.Set(k, v)
	}
	switch {
	case t.cfg.BearerToken != "":
		clone.Header.Set("Authorization", "Bearer "+t.cfg.BearerToken)
	case t.cfg.BasicAuthUsername != "":
		clone.SetBasicAuth(t.cfg.BasicAuthUsername, t.cfg.BasicAuthPassword)
	}
	return t.base.RoundTrip(clone)
}

// CloseIdleConnections forwards to the wrapped transport.
func (t *authTransport) CloseIdleConnections() {
	if c, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}

func basicAuthEncoded(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}
