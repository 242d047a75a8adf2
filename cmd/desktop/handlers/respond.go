// Package handlers provides the REST API served to the gate kiosk screen.
package handlers

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/kimhsiao/gatesync/internal/errors"
	"github.com/kimhsiao/gatesync/internal/logging"
)

// maxBodyBytes bounds request bodies from the kiosk screen.
const maxBodyBytes = 64 << 10

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Code       string `json:"code"`
	Error      string `json:"error"`
	Status     int    `json:"status,omitempty"`
	ServerCode string `json:"server_code,omitempty"`
	NeedsLogin bool   `json:"needs_login"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("write response failed", map[string]interface{}{"error": err.Error()})
	}
}

func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{
		Code:       string(errors.CodeOf(err)),
		Error:      err.Error(),
		Status:     errors.StatusOf(err),
		NeedsLogin: errors.NeedsLogin(err),
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		resp.Error = appErr.Message
		resp.ServerCode = appErr.ServerCode
	}
	if resp.Code == "" {
		resp.Code = string(errors.ErrInternal)
	}
	writeJSON(w, httpStatus(err), resp)
}

// httpStatus maps a client error onto the status returned to the kiosk screen.
func httpStatus(err error) int {
	switch errors.CodeOf(err) {
	case errors.ErrInvalid:
		return http.StatusBadRequest
	case errors.ErrAuthRequired:
		return http.StatusUnauthorized
	case errors.ErrRefreshFailed:
		if errors.NeedsLogin(err) {
			return http.StatusUnauthorized
		}
		return http.StatusServiceUnavailable
	case errors.ErrTransient:
		return http.StatusServiceUnavailable
	case errors.ErrHTTP:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(errors.ErrInvalid, "invalid request body", err)
	}
	return nil
}
