package email

import (
	"context"
	"errors"
	"regexp"

	"go.uber.org/zap"
)

// Notifier entrega mensajes transaccionales a un destinatario.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

type disabledSender struct {
	reason string
}

func NewDisabledSender(reason string) Notifier {
	return &disabledSender{reason: reason}
}

func (s *disabledSender) Send(_ context.Context, _, _, _ string) error {
	if s.reason == "" {
		return errors.New("email sender disabled")
	}
	return errors.New(s.reason)
}

// tokenParam captura el valor de token= en los enlaces del cuerpo.
var tokenParam = regexp.MustCompile(`([?&]token=)[^&\s]+`)

// LogSender escribe el correo en el log en lugar de enviarlo. Pensado para desarrollo.
// Los valores de token en los enlaces se redactan antes de escribir.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, to, subject, body string) error {
	s.logger.Info("outgoing email",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", redactTokens(body)),
	)
	return nil
}

func redactTokens(body string) string {
	return tokenParam.ReplaceAllString(body, "${1}[redacted]")
}
