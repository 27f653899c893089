package httpapi

import (
	"net/http"

	"github.com/bsv-blockchain/tokencache/errors"
	"github.com/labstack/echo/v4"
)

// errorResponse is the body of every failed API call.
type errorResponse struct {
	Status int32  `json:"status"`
	Code   int32  `json:"code"`
	Err    string `json:"error"`
	// Shortfall is set when a selection could not be covered.
	Shortfall *errors.ShortfallErrData `json:"shortfall,omitempty"`
}

// statusFor maps the error's code onto an HTTP status.
func statusFor(err error) (int, errors.ERR) {
	var tErr *errors.Error
	if !errors.As(err, &tErr) {
		return http.StatusInternalServerError, errors.ERR_UNKNOWN
	}

	switch tErr.Code() {
	case errors.ERR_INVALID_ARGUMENT, errors.ERR_CONFIGURATION:
		return http.StatusBadRequest, tErr.Code()
	case errors.ERR_NOT_FOUND:
		return http.StatusNotFound, tErr.Code()
	case errors.ERR_UNKNOWN_KEY:
		return http.StatusUnprocessableEntity, tErr.Code()
	case errors.ERR_INSUFFICIENT_BALANCE, errors.ERR_INSUFFICIENT_UNLOCKED:
		return http.StatusConflict, tErr.Code()
	case errors.ERR_SERVICE_UNAVAILABLE, errors.ERR_STORAGE_UNAVAILABLE:
		return http.StatusServiceUnavailable, tErr.Code()
	default:
		return http.StatusInternalServerError, tErr.Code()
	}
}

func sendError(c echo.Context, err error) error {
	status, code := statusFor(err)

	resp := &errorResponse{
		Status: int32(status), //nolint:gosec // http status
		Code:   int32(code),
		Err:    err.Error(),
	}

	var shortfall *errors.ShortfallErrData
	if errors.AsData(err, &shortfall) {
		resp.Shortfall = shortfall
	}

	return c.JSON(status, resp)
}
