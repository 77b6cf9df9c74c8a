package federation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	ProviderGoogle     = "google"
	googleCertsURL     = "https://www.googleapis.com/oauth2/v3/certs"
	googleIssuer       = "accounts.google.com"
	googleIssuerScheme = "https://accounts.google.com"
)

// GoogleVerifier valida ID tokens de Google contra su JWKS publicado.
// Un kid desconocido dispara como mucho un refresco por unknownKIDEvery.
type GoogleVerifier struct {
	clientID string
	logger   *zap.Logger
	now      func() time.Time
	keys     keyfunc.Keyfunc
}

type googleOptions struct {
	certsURL        string
	client          *http.Client
	now             func() time.Time
	refreshInterval time.Duration
	unknownKIDEvery time.Duration
}

type GoogleOption func(*googleOptions)

func WithCertsURL(url string) GoogleOption {
	return func(o *googleOptions) { o.certsURL = url }
}

func WithHTTPClient(c *http.Client) GoogleOption {
	return func(o *googleOptions) {
		if c != nil {
			o.client = c
		}
	}
}

func WithGoogleClock(now func() time.Time) GoogleOption {
	return func(o *googleOptions) { o.now = now }
}

// WithUnknownKIDRefresh fija el intervalo mínimo entre refrescos por kid desconocido.
func WithUnknownKIDRefresh(every time.Duration) GoogleOption {
	return func(o *googleOptions) {
		if every > 0 {
			o.unknownKIDEvery = every
		}
	}
}

// NewGoogleVerifier descarga el JWKS y lo mantiene fresco en segundo plano hasta que ctx termine.
func NewGoogleVerifier(ctx context.Context, clientID string, logger *zap.Logger, opts ...GoogleOption) (*GoogleVerifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, errors.New("google client id is required")
	}
	o := googleOptions{
		certsURL:        googleCertsURL,
		client:          &http.Client{Timeout: 10 * time.Second},
		now:             time.Now,
		refreshInterval: time.Hour,
		unknownKIDEvery: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(&o)
	}

	kf, err := keyfunc.NewDefaultOverrideCtx(ctx, []string{o.certsURL}, keyfunc.Override{
		Client:            o.client,
		HTTPTimeout:       10 * time.Second,
		RefreshInterval:   o.refreshInterval,
		RefreshUnknownKID: rate.NewLimiter(rate.Every(o.unknownKIDEvery), 1),
		RateLimitWaitMax:  time.Millisecond,
		RefreshErrorHandlerFunc: func(u string) func(ctx context.Context, err error) {
			return func(_ context.Context, err error) {
				logger.Warn("google certs refresh failed", zap.String("url", u), zap.Error(err))
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("load google certs: %w", err)
	}
	return &GoogleVerifier{clientID: clientID, logger: logger, now: o.now, keys: kf}, nil
}

type googleClaims struct {
	Email         string       `json:"email"`
	EmailVerified flexibleBool `json:"email_verified"`
	Name          string       `json:"name"`
	jwt.RegisteredClaims
}

// flexibleBool acepta true y "true"; Google ha usado ambos.
type flexibleBool bool

func (b *flexibleBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*b = flexibleBool(v)
	return nil
}

func (v *GoogleVerifier) Verify(ctx context.Context, rawToken string) (Assertion, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return Assertion{}, ErrVerificationFailed
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	var claims googleClaims
	_, err := parser.ParseWithClaims(rawToken, &claims, v.keys.KeyfuncCtx(ctx))
	if err != nil {
		v.logger.Warn("google id token rejected", zap.Error(err))
		return Assertion{}, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if claims.Issuer != googleIssuer && claims.Issuer != googleIssuerScheme {
		return Assertion{}, fmt.Errorf("%w: unexpected issuer %q", ErrVerificationFailed, claims.Issuer)
	}
	if strings.TrimSpace(claims.Email) == "" || !bool(claims.EmailVerified) {
		return Assertion{}, fmt.Errorf("%w: email not verified", ErrVerificationFailed)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Assertion{}, fmt.Errorf("%w: missing subject", ErrVerificationFailed)
	}
	return Assertion{
		Provider:    ProviderGoogle,
		Subject:     claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
	}, nil
}
