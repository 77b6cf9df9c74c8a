package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LoginTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secure_auth_login_total",
			Help: "Login attempts by result",
		},
		[]string{"result"},
	)

	TokensIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secure_auth_tokens_issued_total",
			Help: "Issued tokens by kind",
		},
		[]string{"kind"},
	)

	RegistrationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "secure_auth_registrations_total",
			Help: "Successful local registrations",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secure_auth_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "secure_auth_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Resultados de login usados como etiqueta.
const (
	LoginSuccess      = "success"
	LoginInvalid      = "invalid_credentials"
	LoginUnconfirmed  = "email_not_confirmed"
	LoginLocked       = "locked"
	LoginFederated    = "federated"
	TokenSession      = "session"
	TokenEmailConfirm = "email_confirm"
	TokenReset        = "password_reset"
)
