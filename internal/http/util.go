package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"sitter-safety/internal/emergency"
	"sitter-safety/internal/geo"
	"sitter-safety/internal/models"
	"sitter-safety/internal/tracking"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func readBodyJSON(r *http.Request, maxBytes int64, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

// statusFor 领域错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, tracking.ErrAlreadyTracking),
		errors.Is(err, tracking.ErrStoppedDuringStart),
		errors.Is(err, emergency.ErrAlertActive),
		errors.Is(err, emergency.ErrAlertClosed):
		return http.StatusConflict
	case errors.Is(err, tracking.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, tracking.ErrWatchFailed),
		errors.Is(err, emergency.ErrNoLocation):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrAlertNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidRadius),
		errors.Is(err, models.ErrDuplicateZone),
		errors.Is(err, geo.ErrInvalidCoordinate):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), Fail(err.Error()))
}
