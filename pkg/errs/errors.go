// Package errs содержит таксономию ошибок торгового ядра.
//
// Каждый тип реализует error и Unwrap, вызывающий код различает их через errors.As.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// ConfigurationError - фатальная ошибка конфигурации (нет мастер-ключа, неизвестная биржа)
type ConfigurationError struct {
	Key     string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Key == "" {
		return "configuration: " + e.Message
	}
	return "configuration: " + e.Key + ": " + e.Message
}

// AuthenticationError - биржа отклонила подпись или ключи
type AuthenticationError struct {
	Exchange string
	Message  string
	Original error
}

func (e *AuthenticationError) Error() string {
	return e.Exchange + ": authentication failed: " + e.Message
}

func (e *AuthenticationError) Unwrap() error {
	return e.Original
}

// ValidationError - нарушение границ объема или риск-лимита, терминальна для вызова
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return "validation: " + e.Field + ": " + e.Reason
}

// RateLimitError - превышен лимит запросов в текущем окне
type RateLimitError struct {
	Exchange   string
	Endpoint   string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s %s: rate limit of %d requests/min exceeded, retry after %s",
		e.Exchange, e.Endpoint, e.Limit, e.RetryAfter.Round(time.Second))
}

// NetworkError - транспортный сбой при обращении к бирже
type NetworkError struct {
	Exchange string
	Op       string
	Original error
}

func (e *NetworkError) Error() string {
	return e.Exchange + ": " + e.Op + ": " + errString(e.Original)
}

func (e *NetworkError) Unwrap() error {
	return e.Original
}

// DecryptionError - неверный мастер-ключ, iv, salt или подмена шифротекста
type DecryptionError struct {
	Field    string
	Original error
}

func (e *DecryptionError) Error() string {
	if e.Field == "" {
		return "decryption failed"
	}
	return "decryption failed: " + e.Field
}

func (e *DecryptionError) Unwrap() error {
	return e.Original
}

// ExchangeProtocolError сохраняет код и сообщение биржи без изменений
type ExchangeProtocolError struct {
	Exchange   string
	Code       string
	Message    string
	HTTPStatus int
	Original   error
}

func (e *ExchangeProtocolError) Error() string {
	if e.Code == "" {
		return e.Exchange + ": " + e.Message
	}
	return e.Exchange + ": [" + e.Code + "] " + e.Message
}

func (e *ExchangeProtocolError) Unwrap() error {
	return e.Original
}

// Validation создает ValidationError
func Validation(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Config создает ConfigurationError
func Config(key, format string, args ...interface{}) error {
	return &ConfigurationError{Key: key, Message: fmt.Sprintf(format, args...)}
}

// Kind возвращает короткое имя класса ошибки (для метрик и логов)
func Kind(err error) string {
	var (
		cfgErr   *ConfigurationError
		authErr  *AuthenticationError
		valErr   *ValidationError
		rateErr  *RateLimitError
		netErr   *NetworkError
		decErr   *DecryptionError
		protoErr *ExchangeProtocolError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &authErr):
		return "authentication"
	case errors.As(err, &valErr):
		return "validation"
	case errors.As(err, &rateErr):
		return "rate_limit"
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &decErr):
		return "decryption"
	case errors.As(err, &protoErr):
		return "exchange_protocol"
	default:
		return "internal"
	}
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
