package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"secure-auth/internal/domain"
	"secure-auth/internal/email"
	"secure-auth/internal/federation"
	"secure-auth/internal/lockout"
	"secure-auth/internal/password"
	"secure-auth/internal/repository"
	"secure-auth/internal/session"
	"secure-auth/internal/telemetry"
	"secure-auth/internal/token"
)

// errUnchanged aborta un Modify que no tiene nada que escribir.
var errUnchanged = errors.New("account unchanged")

// AuthDeps son los colaboradores del orquestador.
type AuthDeps struct {
	Accounts      repository.AccountRepository
	Hasher        password.Hasher
	Policy        password.Policy
	Lockout       lockout.Policy
	PurposeTokens *token.Issuer
	Sessions      *session.Issuer
	Verifier      federation.Verifier
	Notifier      email.Notifier
	Limiter       RequestLimiter
	PublicBaseURL string
	Now           func() time.Time
}

// AuthService coordina registro, login, confirmación, reseteo y login federado.
type AuthService struct {
	logger     *zap.Logger
	accounts   repository.AccountRepository
	hasher     password.Hasher
	policy     password.Policy
	lockout    lockout.Policy
	purpose    *token.Issuer
	sessions   *session.Issuer
	verifier   federation.Verifier
	reconciler *federation.Reconciler
	notifier   email.Notifier
	limiter    RequestLimiter
	baseURL    string
	now        func() time.Time
	tracer     trace.Tracer
}

func NewAuthService(logger *zap.Logger, deps AuthDeps) (*AuthService, error) {
	if deps.Accounts == nil || deps.Hasher == nil || deps.PurposeTokens == nil || deps.Sessions == nil {
		return nil, errors.New("auth service not configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Policy == (password.Policy{}) {
		deps.Policy = password.DefaultPolicy()
	}
	if deps.Lockout == (lockout.Policy{}) {
		deps.Lockout = lockout.DefaultPolicy()
	}
	if deps.Notifier == nil {
		deps.Notifier = email.NewLogSender(logger)
	}
	if deps.Limiter == nil {
		deps.Limiter = NewRequestLimiter(10*time.Minute, 3)
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &AuthService{
		logger:     logger,
		accounts:   deps.Accounts,
		hasher:     deps.Hasher,
		policy:     deps.Policy,
		lockout:    deps.Lockout,
		purpose:    deps.PurposeTokens,
		sessions:   deps.Sessions,
		verifier:   deps.Verifier,
		reconciler: federation.NewReconciler(logger, deps.Accounts),
		notifier:   deps.Notifier,
		limiter:    deps.Limiter,
		baseURL:    strings.TrimRight(deps.PublicBaseURL, "/"),
		now:        deps.Now,
		tracer:     telemetry.Tracer(),
	}, nil
}

// Identity es la identidad autenticada que el middleware extrae del token de sesión.
type Identity struct {
	AccountID string
	Email     string
}

type RegisterInput struct {
	Email           string `validate:"required,email,max=254"`
	FullName        string `validate:"required,max=200"`
	Password        string `validate:"required"`
	ConfirmPassword string `validate:"required,eqfield=Password"`
}

type LoginResult struct {
	Account domain.Account
	Session session.Token
}

type ResetPasswordInput struct {
	Email           string `validate:"required,email,max=254"`
	Token           string `validate:"required"`
	NewPassword     string `validate:"required"`
	ConfirmPassword string `validate:"required,eqfield=NewPassword"`
}

type ChangePasswordInput struct {
	CurrentPassword string
	NewPassword     string `validate:"required"`
	ConfirmPassword string `validate:"required,eqfield=NewPassword"`
}

// Register crea la cuenta sin confirmar y envía el enlace de confirmación. No emite sesión.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (domain.Account, error) {
	ctx, span := s.tracer.Start(ctx, "auth.Register")
	defer span.End()

	in.Email = strings.TrimSpace(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
	verr := checkStruct(in)
	if !verr.has("password") {
		verr.addPolicy("password", s.policy.Validate(in.Password))
	}
	if err := verr.orNil(); err != nil {
		return domain.Account{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return domain.Account{}, err
	}
	stamp, err := domain.NewSecurityStamp()
	if err != nil {
		return domain.Account{}, err
	}
	now := s.now()
	account, err := s.accounts.Create(ctx, domain.Account{
		ID:            uuid.NewString(),
		Email:         in.Email,
		DisplayName:   in.FullName,
		PasswordHash:  &hash,
		SecurityStamp: stamp,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return domain.Account{}, ErrDuplicateEmail
		}
		return domain.Account{}, s.fail(span, persistence("create account", err))
	}
	telemetry.RegistrationsTotal.Inc()
	span.SetAttributes(attribute.String("account.id", account.ID))
	s.logger.Info("account registered", zap.String("account_id", account.ID))

	s.sendConfirmation(ctx, account)
	return account, nil
}

// ConfirmEmail es idempotente para cuentas ya confirmadas, pero cada token se usa una sola vez.
// El token se consume después de escribir, así un fallo de persistencia no quema el enlace.
func (s *AuthService) ConfirmEmail(ctx context.Context, accountID, rawToken string) error {
	ctx, span := s.tracer.Start(ctx, "auth.ConfirmEmail")
	defer span.End()

	verr := &ValidationError{}
	accountID, rawToken = strings.TrimSpace(accountID), strings.TrimSpace(rawToken)
	if accountID == "" {
		verr.add("userId", "is required")
	}
	if rawToken == "" {
		verr.add("token", "is required")
	}
	if err := verr.orNil(); err != nil {
		return err
	}

	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return s.fail(span, persistence("find account", err))
	}
	if err := s.checkToken(ctx, rawToken, token.EmailConfirm, account); err != nil {
		return err
	}
	if account.EmailConfirmed {
		return s.consume(ctx, rawToken, account.ID)
	}

	_, err = s.accounts.Modify(ctx, account.ID, func(a *domain.Account) error {
		if a.SecurityStamp != account.SecurityStamp {
			return ErrTokenInvalid
		}
		a.EmailConfirmed = true
		a.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			return err
		}
		return s.fail(span, persistence("confirm email", err))
	}
	if err := s.consume(ctx, rawToken, account.ID); err != nil {
		return err
	}
	s.logger.Info("email confirmed", zap.String("account_id", account.ID))
	return nil
}

// ResendConfirmation responde igual exista o no la cuenta.
func (s *AuthService) ResendConfirmation(ctx context.Context, emailAddr string) error {
	ctx, span := s.tracer.Start(ctx, "auth.ResendConfirmation")
	defer span.End()

	emailAddr = strings.TrimSpace(emailAddr)
	if err := checkEmail(emailAddr).orNil(); err != nil {
		return err
	}
	normalized := domain.NormalizeEmail(emailAddr)
	if !s.limiter.Allow(ctx, "confirm:"+normalized) {
		s.logger.Info("confirmation resend throttled")
		return nil
	}
	account, err := s.accounts.FindByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return s.fail(span, persistence("find account", err))
	}
	if account.EmailConfirmed {
		return nil
	}
	s.sendConfirmation(ctx, account)
	return nil
}

// Login aplica el orden: existencia, confirmación, bloqueo, contraseña.
func (s *AuthService) Login(ctx context.Context, emailAddr, pw string) (LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "auth.Login")
	defer span.End()

	normalized := domain.NormalizeEmail(emailAddr)
	if normalized == "" || pw == "" {
		telemetry.LoginTotal.WithLabelValues(telemetry.LoginInvalid).Inc()
		return LoginResult{}, ErrInvalidCredentials
	}

	account, err := s.accounts.FindByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.hasher.Verify(pw, nil)
			telemetry.LoginTotal.WithLabelValues(telemetry.LoginInvalid).Inc()
			s.logger.Warn("login failed", zap.String("reason", "unknown email"))
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, s.fail(span, persistence("find account", err))
	}
	span.SetAttributes(attribute.String("account.id", account.ID))

	if !account.EmailConfirmed {
		telemetry.LoginTotal.WithLabelValues(telemetry.LoginUnconfirmed).Inc()
		s.logger.Warn("login failed", zap.String("account_id", account.ID), zap.String("reason", "email not confirmed"))
		return LoginResult{}, ErrEmailNotConfirmed
	}

	now := s.now()
	if s.lockout.Locked(lockoutState(account), now) {
		telemetry.LoginTotal.WithLabelValues(telemetry.LoginLocked).Inc()
		s.logger.Warn("login failed", zap.String("account_id", account.ID), zap.String("reason", "locked"))
		return LoginResult{}, &LockedError{Until: *account.LockoutEndsAt}
	}

	if !s.hasher.Verify(pw, account.PasswordHash) {
		return LoginResult{}, s.recordFailure(ctx, span, account, now)
	}

	done, err := s.completeLogin(ctx, account, pw, now)
	if err != nil {
		var locked *LockedError
		switch {
		case errors.As(err, &locked):
			telemetry.LoginTotal.WithLabelValues(telemetry.LoginLocked).Inc()
			s.logger.Warn("login failed", zap.String("account_id", account.ID), zap.String("reason", "locked concurrently"))
			return LoginResult{}, err
		case errors.Is(err, ErrInvalidCredentials):
			telemetry.LoginTotal.WithLabelValues(telemetry.LoginInvalid).Inc()
			s.logger.Warn("login failed", zap.String("account_id", account.ID), zap.String("reason", "credentials changed"))
			return LoginResult{}, err
		default:
			return LoginResult{}, s.fail(span, persistence("complete login", err))
		}
	}

	tok, err := s.issueSession(done)
	if err != nil {
		return LoginResult{}, s.fail(span, err)
	}
	telemetry.LoginTotal.WithLabelValues(telemetry.LoginSuccess).Inc()
	s.logger.Info("login succeeded", zap.String("account_id", done.ID))
	return LoginResult{Account: done, Session: tok}, nil
}

// completeLogin vuelve a evaluar el bloqueo dentro de la escritura: un fallo
// concurrente que bloqueó la cuenta después de la lectura gana sobre este éxito.
func (s *AuthService) completeLogin(ctx context.Context, read domain.Account, pw string, now time.Time) (domain.Account, error) {
	var upgraded *string
	if read.HasPassword() && s.hasher.NeedsRehash(*read.PasswordHash) {
		if h, err := s.hasher.Hash(pw); err == nil {
			upgraded = &h
		} else {
			s.logger.Warn("password rehash failed", zap.String("account_id", read.ID), zap.Error(err))
		}
	}

	var current domain.Account
	updated, err := s.accounts.Modify(ctx, read.ID, func(a *domain.Account) error {
		if s.lockout.Locked(lockoutState(*a), now) {
			return &LockedError{Until: *a.LockoutEndsAt}
		}
		if a.SecurityStamp != read.SecurityStamp {
			return ErrInvalidCredentials
		}
		rehash := upgraded != nil && samePointerValue(a.PasswordHash, read.PasswordHash)
		if a.FailedAttemptCount == 0 && a.LockoutEndsAt == nil && !rehash {
			current = *a
			return errUnchanged
		}
		st := s.lockout.RegisterSuccess(lockoutState(*a))
		a.FailedAttemptCount, a.LockoutEndsAt = st.FailedAttempts, st.LockoutEndsAt
		if rehash {
			a.PasswordHash = upgraded
		}
		a.UpdatedAt = now
		return nil
	})
	switch {
	case errors.Is(err, errUnchanged):
		return current, nil
	case err != nil:
		return domain.Account{}, err
	}
	if upgraded != nil && samePointerValue(updated.PasswordHash, upgraded) {
		s.logger.Info("password hash upgraded", zap.String("account_id", updated.ID))
	}
	return updated, nil
}

// recordFailure cuenta el intento dentro de la escritura. Si la cuenta quedó
// bloqueada, por este intento o por otro concurrente, responde igual que un
// intento contra una cuenta ya bloqueada.
func (s *AuthService) recordFailure(ctx context.Context, span trace.Span, account domain.Account, now time.Time) error {
	var current domain.Account
	updated, err := s.accounts.Modify(ctx, account.ID, func(a *domain.Account) error {
		st := lockoutState(*a)
		if s.lockout.Locked(st, now) {
			current = *a
			return errUnchanged
		}
		st = s.lockout.RegisterFailure(st, now)
		a.FailedAttemptCount, a.LockoutEndsAt = st.FailedAttempts, st.LockoutEndsAt
		a.UpdatedAt = now
		return nil
	})
	switch {
	case errors.Is(err, errUnchanged):
		updated = current
	case err != nil:
		return s.fail(span, persistence("record failed login", err))
	}

	if s.lockout.Locked(lockoutState(updated), now) {
		telemetry.LoginTotal.WithLabelValues(telemetry.LoginLocked).Inc()
		s.logger.Warn("account locked",
			zap.String("account_id", account.ID),
			zap.Time("until", *updated.LockoutEndsAt),
		)
		return &LockedError{Until: *updated.LockoutEndsAt}
	}
	telemetry.LoginTotal.WithLabelValues(telemetry.LoginInvalid).Inc()
	s.logger.Warn("login failed",
		zap.String("account_id", account.ID),
		zap.String("reason", "wrong password"),
		zap.Int("failed_attempts", updated.FailedAttemptCount),
	)
	return ErrInvalidCredentials
}

// ForgotPassword siempre responde éxito; solo envía si la cuenta existe y está confirmada.
func (s *AuthService) ForgotPassword(ctx context.Context, emailAddr string) error {
	ctx, span := s.tracer.Start(ctx, "auth.ForgotPassword")
	defer span.End()

	emailAddr = strings.TrimSpace(emailAddr)
	if err := checkEmail(emailAddr).orNil(); err != nil {
		return err
	}
	normalized := domain.NormalizeEmail(emailAddr)
	if !s.limiter.Allow(ctx, "forgot:"+normalized) {
		s.logger.Info("password reset request throttled")
		return nil
	}

	account, err := s.accounts.FindByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Info("password reset requested for unknown email")
			return nil
		}
		return s.fail(span, persistence("find account", err))
	}
	if !account.EmailConfirmed {
		s.logger.Info("password reset requested for unconfirmed account", zap.String("account_id", account.ID))
		return nil
	}

	raw, err := s.purpose.Issue(account, token.PasswordReset)
	if err != nil {
		return s.fail(span, err)
	}
	telemetry.TokensIssuedTotal.WithLabelValues(telemetry.TokenReset).Inc()
	link := s.link("/account/resetpassword", url.Values{"email": {account.Email}, "token": {raw}})
	subject, body := email.PasswordResetMessage(link)
	if err := s.notifier.Send(ctx, account.Email, subject, body); err != nil {
		s.logger.Warn("send password reset failed", zap.String("account_id", account.ID), zap.Error(err))
	}
	return nil
}

// ResetPassword rota el security stamp, lo que invalida cualquier otro token pendiente.
func (s *AuthService) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	ctx, span := s.tracer.Start(ctx, "auth.ResetPassword")
	defer span.End()

	in.Email, in.Token = strings.TrimSpace(in.Email), strings.TrimSpace(in.Token)
	if err := checkStruct(in).orNil(); err != nil {
		return err
	}

	account, err := s.accounts.FindByEmail(ctx, domain.NormalizeEmail(in.Email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("password reset rejected", zap.String("reason", "unknown email"))
			return ErrTokenInvalid
		}
		return s.fail(span, persistence("find account", err))
	}
	if err := s.checkToken(ctx, in.Token, token.PasswordReset, account); err != nil {
		return err
	}
	verr := &ValidationError{}
	verr.addPolicy("newPassword", s.policy.Validate(in.NewPassword))
	if err := verr.orNil(); err != nil {
		return err
	}

	if err := s.setPassword(ctx, account, in.NewPassword, true, ErrTokenInvalid); err != nil {
		return s.fail(span, err)
	}
	if err := s.purpose.Consume(ctx, in.Token); err != nil {
		s.logger.Warn("consume reset token failed", zap.String("account_id", account.ID), zap.Error(err))
	}
	s.logger.Info("password reset", zap.String("account_id", account.ID))
	return nil
}

// ChangePassword exige la contraseña actual salvo que la cuenta no tenga credencial local.
func (s *AuthService) ChangePassword(ctx context.Context, id Identity, in ChangePasswordInput) error {
	ctx, span := s.tracer.Start(ctx, "auth.ChangePassword")
	defer span.End()

	account, err := s.accounts.FindByID(ctx, id.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return s.fail(span, persistence("find account", err))
	}
	if account.HasPassword() && !s.hasher.Verify(in.CurrentPassword, account.PasswordHash) {
		s.logger.Warn("change password rejected", zap.String("account_id", account.ID), zap.String("reason", "wrong current password"))
		return ErrInvalidCredentials
	}

	verr := checkStruct(in)
	if !verr.has("newPassword") {
		verr.addPolicy("newPassword", s.policy.Validate(in.NewPassword))
	}
	if err := verr.orNil(); err != nil {
		return err
	}
	if err := s.setPassword(ctx, account, in.NewPassword, false, ErrInvalidCredentials); err != nil {
		return s.fail(span, err)
	}
	s.logger.Info("password changed", zap.String("account_id", account.ID))
	return nil
}

// GoogleLogin verifica el ID token, concilia la cuenta y emite sesión.
func (s *AuthService) GoogleLogin(ctx context.Context, idToken string) (LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "auth.GoogleLogin")
	defer span.End()

	if s.verifier == nil || strings.TrimSpace(idToken) == "" {
		return LoginResult{}, ErrExternalVerificationFailed
	}
	assertion, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		s.logger.Warn("external token rejected", zap.Error(err))
		return LoginResult{}, ErrExternalVerificationFailed
	}
	account, created, err := s.reconciler.Reconcile(ctx, assertion)
	if err != nil {
		if errors.Is(err, federation.ErrVerificationFailed) {
			return LoginResult{}, ErrExternalVerificationFailed
		}
		return LoginResult{}, s.fail(span, persistence("reconcile account", err))
	}
	span.SetAttributes(attribute.String("account.id", account.ID), attribute.Bool("account.created", created))

	tok, err := s.issueSession(account)
	if err != nil {
		return LoginResult{}, s.fail(span, err)
	}
	telemetry.LoginTotal.WithLabelValues(telemetry.LoginFederated).Inc()
	s.logger.Info("federated login succeeded",
		zap.String("account_id", account.ID),
		zap.String("provider", assertion.Provider),
		zap.Bool("created", created),
	)
	return LoginResult{Account: account, Session: tok}, nil
}

// Me devuelve el perfil de la identidad autenticada.
func (s *AuthService) Me(ctx context.Context, id Identity) (domain.Account, error) {
	account, err := s.accounts.FindByID(ctx, id.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Account{}, ErrNotFound
		}
		return domain.Account{}, persistence("find account", err)
	}
	return account, nil
}

// setPassword guarda el nuevo hash y rota el stamp en una única escritura.
// Si el stamp cambió desde la lectura devuelve conflict.
func (s *AuthService) setPassword(ctx context.Context, account domain.Account, pw string, clearLockout bool, conflict error) error {
	hash, err := s.hasher.Hash(pw)
	if err != nil {
		return err
	}
	stamp, err := domain.NewSecurityStamp()
	if err != nil {
		return err
	}
	_, err = s.accounts.Modify(ctx, account.ID, func(a *domain.Account) error {
		if a.SecurityStamp != account.SecurityStamp {
			return conflict
		}
		a.PasswordHash = &hash
		a.SecurityStamp = stamp
		if clearLockout {
			a.FailedAttemptCount = 0
			a.LockoutEndsAt = nil
		}
		a.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		if errors.Is(err, conflict) {
			return err
		}
		return persistence("set password", err)
	}
	return nil
}

func (s *AuthService) sendConfirmation(ctx context.Context, account domain.Account) {
	raw, err := s.purpose.Issue(account, token.EmailConfirm)
	if err != nil {
		s.logger.Error("issue confirmation token failed", zap.String("account_id", account.ID), zap.Error(err))
		return
	}
	telemetry.TokensIssuedTotal.WithLabelValues(telemetry.TokenEmailConfirm).Inc()
	link := s.link("/account/confirm-email", url.Values{"userId": {account.ID}, "token": {raw}})
	subject, body := email.ConfirmationMessage(account.DisplayName, link)
	if err := s.notifier.Send(ctx, account.Email, subject, body); err != nil {
		s.logger.Warn("send confirmation failed", zap.String("account_id", account.ID), zap.Error(err))
	}
}

func (s *AuthService) checkToken(ctx context.Context, raw string, purpose token.Purpose, account domain.Account) error {
	err := s.purpose.Validate(ctx, raw, purpose, account)
	if err == nil {
		return nil
	}
	if errors.Is(err, token.ErrInvalid) {
		s.logger.Warn("purpose token rejected",
			zap.String("account_id", account.ID),
			zap.String("purpose", string(purpose)),
			zap.String("reason", err.Error()),
		)
		return ErrTokenInvalid
	}
	return persistence("validate token", err)
}

func (s *AuthService) consume(ctx context.Context, raw, accountID string) error {
	err := s.purpose.Consume(ctx, raw)
	if err == nil {
		return nil
	}
	if errors.Is(err, token.ErrInvalid) {
		s.logger.Warn("purpose token reused", zap.String("account_id", accountID))
		return ErrTokenInvalid
	}
	return persistence("consume token", err)
}

func (s *AuthService) issueSession(account domain.Account) (session.Token, error) {
	tok, err := s.sessions.Issue(account)
	if err != nil {
		return session.Token{}, err
	}
	telemetry.TokensIssuedTotal.WithLabelValues(telemetry.TokenSession).Inc()
	return tok, nil
}

func (s *AuthService) link(path string, q url.Values) string {
	return s.baseURL + path + "?" + q.Encode()
}

func (s *AuthService) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger.Error("auth operation failed", zap.Error(err))
	return err
}

func lockoutState(a domain.Account) lockout.State {
	return lockout.State{FailedAttempts: a.FailedAttemptCount, LockoutEndsAt: a.LockoutEndsAt}
}

func samePointerValue(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
