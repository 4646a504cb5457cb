package repository

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

// Ошибки репозиториев
var (
	ErrConnectionNotFound     = errors.New("exchange connection not found")
	ErrConnectionExists       = errors.New("exchange connection already exists")
	ErrAccountNotFound        = errors.New("account not found")
	ErrHoldingNotFound        = errors.New("holding not found")
	ErrPositionNotFound       = errors.New("position not found")
	ErrPositionNotClaimed     = errors.New("position is not in closing state")
	ErrTradeNotFound          = errors.New("trade not found")
	ErrRiskParametersNotFound = errors.New("risk parameters not found")
)

// код PostgreSQL unique_violation
const uniqueViolationCode = "23505"

// rowScanner - общий интерфейс *sql.Row и *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// isUniqueViolation проверяет, является ли ошибка нарушением UNIQUE constraint
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolationCode
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate key") || strings.Contains(errStr, uniqueViolationCode)
}
