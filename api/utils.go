package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"ara/core"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// maxJSONBodySize limits request bodies; execution imports use maxImportBodySize
const (
	maxJSONBodySize   = 1 << 20
	maxImportBodySize = 32 << 20
)

var (
	// validate is safe for concurrent use and caches struct metadata
	validate = validator.New()

	connectionStringPattern = regexp.MustCompile(`(?:sqlite|file|redis|vault|https?)://[^\s"']+`)
	filePathPattern         = regexp.MustCompile(`(?:[A-Za-z]:\\|/)(?:[^\\/:*?"<>|\s]+[\\/])+[^\\/:*?"<>|\s]+`)
	privateIPPattern        = regexp.MustCompile(`\b(?:10|127)(?:\.\d{1,3}){3}(?::\d{1,5})?\b|\b192\.168(?:\.\d{1,3}){2}(?::\d{1,5})?\b|\b172\.(?:1[6-9]|2[0-9]|3[01])(?:\.\d{1,3}){2}(?::\d{1,5})?\b`)
	secretPattern           = regexp.MustCompile(`(?i)(password|secret|token|credential)[:=]\s*["']?[^"'\s]+["']?`)
	controlCharPattern      = regexp.MustCompile(`[\x00-\x1F\x7F]`)
)

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Error    string `json:"error"`
	Key      string `json:"key,omitempty"`
	Resource string `json:"resource,omitempty"`
}

// sanitizeErrorMessage removes sensitive information from error messages before sending to clients
func sanitizeErrorMessage(message string) string {
	message = connectionStringPattern.ReplaceAllString(message, "[CONNECTION]")
	message = filePathPattern.ReplaceAllString(message, "[FILE_PATH]")
	message = privateIPPattern.ReplaceAllString(message, "[PRIVATE_IP]")
	message = secretPattern.ReplaceAllString(message, "$1=[REDACTED]")

	if len(message) > core.MaxErrorMessageLength {
		message = message[:core.MaxErrorMessageLength-3] + "..."
	}
	return message
}

// sanitizeLogMessage prevents log injection and strips secrets from log messages
func sanitizeLogMessage(message string) string {
	message = strings.ReplaceAll(message, "\n", "\\n")
	message = strings.ReplaceAll(message, "\r", "\\r")
	message = strings.ReplaceAll(message, "\t", "\\t")
	message = controlCharPattern.ReplaceAllString(message, "")
	return secretPattern.ReplaceAllString(message, "$1=[REDACTED]")
}

// writeError writes an error response to the client and logs it with proper sanitization.
// Client errors are logged at info level, server errors at error level.
func writeError(w http.ResponseWriter, statusCode int, message string, err error, logger *zap.SugaredLogger) {
	writeErrorResponse(w, statusCode, ErrorResponse{Error: message}, err, logger)
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, body ErrorResponse, err error, logger *zap.SugaredLogger) {
	if logger != nil {
		fields := []interface{}{"status_code", statusCode}
		if err != nil {
			fields = append(fields, "error", err.Error())
		}
		if statusCode >= http.StatusInternalServerError {
			logger.Errorw(body.Error, fields...)
		} else {
			logger.Infow(body.Error, fields...)
		}
	}

	body.Error = sanitizeErrorMessage(body.Error)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// statusForKind maps a service error kind to an HTTP status
func statusForKind(kind core.ErrorKind) int {
	switch kind {
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindBadRequest, core.KindInvalidReference:
		return http.StatusBadRequest
	case core.KindForbidden:
		return http.StatusForbidden
	case core.KindNotUnique:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeAppError writes the response for an error returned by a service. Internal errors
// keep their cause out of the response body.
func (a *API) writeAppError(w http.ResponseWriter, err error) {
	var appErr *core.AppError
	if !errors.As(err, &appErr) {
		writeError(w, http.StatusInternalServerError, "Internal server error", err, a.logger)
		return
	}

	status := statusForKind(appErr.Kind)
	body := ErrorResponse{Error: appErr.Message, Key: appErr.Key, Resource: appErr.Resource}
	if status == http.StatusInternalServerError {
		body = ErrorResponse{Error: "Internal server error", Key: appErr.Key}
	}
	writeErrorResponse(w, status, body, err, a.logger)
}

func (a *API) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Errorw("Failed to encode JSON response",
			"error", err,
			"data_type", fmt.Sprintf("%T", data))
	}
}

// decodeJSONBodyWithLimit decodes a JSON request body with a size limit. It writes the
// error response itself and returns the decoding error.
func (a *API) decodeJSONBodyWithLimit(w http.ResponseWriter, r *http.Request, dst interface{}, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	err := decoder.Decode(dst)
	if err != nil {
		var syntaxError *json.SyntaxError
		var unmarshalTypeError *json.UnmarshalTypeError
		var maxBytesError *http.MaxBytesError

		switch {
		case errors.As(err, &syntaxError):
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON syntax at byte offset %d", syntaxError.Offset), err, a.logger)
		case errors.As(err, &unmarshalTypeError):
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid type for field '%s': expected %s", unmarshalTypeError.Field, unmarshalTypeError.Type), err, a.logger)
		case errors.As(err, &maxBytesError):
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", err, a.logger)
		case strings.HasPrefix(err.Error(), "json: unknown field"):
			writeError(w, http.StatusBadRequest, fmt.Sprintf("JSON contains %s", strings.TrimPrefix(err.Error(), "json: ")), err, a.logger)
		default:
			writeError(w, http.StatusBadRequest, "Invalid JSON body", err, a.logger)
		}
		return err
	}

	return nil
}

// decodeAndValidate decodes the body into dst and runs its validate tags.
// It returns false once an error response has been written.
func (a *API) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := a.decodeJSONBodyWithLimit(w, r, dst, maxJSONBodySize); err != nil {
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err), err, a.logger)
		return false
	}
	return true
}

// validationMessage lists the failing fields of a validator error
func validationMessage(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return "Invalid request"
	}
	parts := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		parts = append(parts, fmt.Sprintf("%s failed on '%s'", fe.Field(), fe.Tag()))
	}
	return "Validation failed: " + strings.Join(parts, ", ")
}

// pathID parses a numeric route variable
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}
