package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"tradeguard/internal/repository"
	"tradeguard/internal/service"
	"tradeguard/pkg/errs"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MaxRequestBodySize ограничение размера тела запроса (1 MB)
const MaxRequestBodySize = 1 << 20

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse стандартный формат успешного ответа
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// respondWithJSON отправляет JSON ответ
func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondWithError отправляет JSON ответ с ошибкой
func respondWithError(w http.ResponseWriter, statusCode int, code, message, details string) {
	respondWithJSON(w, statusCode, ErrorResponse{Error: message, Code: code, Details: details})
}

// handleServiceError сопоставляет ошибку ядра с HTTP статусом
//
// validation -> 400, отказ риск-проверки -> 422, authentication -> 401,
// rate limit -> 429 + Retry-After, протокол/сеть биржи -> 502,
// configuration и decryption -> 500, not found -> 404, конфликт -> 409.
func handleServiceError(w http.ResponseWriter, err error) {
	var (
		valErr   *errs.ValidationError
		authErr  *errs.AuthenticationError
		rateErr  *errs.RateLimitError
		netErr   *errs.NetworkError
		protoErr *errs.ExchangeProtocolError
		cfgErr   *errs.ConfigurationError
		decErr   *errs.DecryptionError
	)

	switch {
	case errors.Is(err, service.ErrRiskRejected):
		respondWithError(w, http.StatusUnprocessableEntity, "risk_rejected", err.Error(), "")

	case errors.As(err, &valErr):
		respondWithError(w, http.StatusBadRequest, "validation_error", valErr.Reason, valErr.Field)

	case isNotFound(err):
		respondWithError(w, http.StatusNotFound, "not_found", err.Error(), "")

	case errors.Is(err, service.ErrHasOpenPositions), errors.Is(err, repository.ErrConnectionExists):
		respondWithError(w, http.StatusConflict, "conflict", err.Error(), "")

	case errors.Is(err, service.ErrConnectionInactive):
		respondWithError(w, http.StatusConflict, "connection_inactive", err.Error(), "")

	case errors.As(err, &authErr):
		respondWithError(w, http.StatusUnauthorized, "exchange_authentication", authErr.Error(), authErr.Exchange)

	case errors.Is(err, service.ErrCredentialsRejected):
		respondWithError(w, http.StatusUnauthorized, "exchange_authentication", err.Error(), "")

	case errors.As(err, &rateErr):
		if rateErr.RetryAfter > 0 {
			secs := int(rateErr.RetryAfter.Seconds() + 0.999)
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		respondWithError(w, http.StatusTooManyRequests, "rate_limited", rateErr.Error(), rateErr.Exchange)

	case errors.As(err, &protoErr):
		respondWithError(w, http.StatusBadGateway, "exchange_error", protoErr.Error(), protoErr.Code)

	case errors.As(err, &netErr):
		respondWithError(w, http.StatusBadGateway, "exchange_unreachable", netErr.Error(), netErr.Exchange)

	case errors.As(err, &decErr), errors.As(err, &cfgErr):
		// детали не раскрываются клиенту
		respondWithError(w, http.StatusInternalServerError, errs.Kind(err)+"_error", "internal server error", "")

	default:
		respondWithError(w, http.StatusInternalServerError, "internal_error", "internal server error", "")
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrConnectionNotFound) ||
		errors.Is(err, repository.ErrAccountNotFound) ||
		errors.Is(err, repository.ErrPositionNotFound) ||
		errors.Is(err, repository.ErrTradeNotFound)
}

// decodeJSON читает тело запроса с ограничением размера; неизвестные поля - ошибка
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		details := err.Error()
		if errors.Is(err, io.EOF) {
			details = "empty body"
		}
		respondWithError(w, http.StatusBadRequest, "invalid_body", "Invalid request body", details)
		return false
	}
	return true
}

// pathID разбирает положительный числовой параметр маршрута
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "invalid_id", "Invalid "+name, raw)
		return 0, false
	}
	return id, true
}

// queryFloat читает необязательный числовой query-параметр
func queryFloat(r *http.Request, name string, def float64) (float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errs.Validation(name, "not a number: %q", raw)
	}
	return v, nil
}

// queryInt читает необязательный целый query-параметр
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errs.Validation(name, "not an integer: %q", raw)
	}
	return v, nil
}

func varOf(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}
