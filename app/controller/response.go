package controller

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"bestelling-engine/models"
	"bestelling-engine/mutation"
	"bestelling-engine/utils"
)

var logger = utils.NewLogger("controller")

// MutationResponse is returned for every accepted change request.
type MutationResponse struct {
	MutationID int64 `json:"mutationId"`
	Duplicate  bool  `json:"duplicate"`
	Confirmed  bool  `json:"confirmed"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, ErrorResponse{Error: msg})
}

func paramID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New(name + " must be a positive integer")
	}
	return id, nil
}

// accepted answers an enqueue. With ?wait=true the caller blocks until the
// processor has handled the record or the wait ceiling is reached.
func accepted(c echo.Context, queue MutationQueue, pending mutation.Pending) error {
	resp := MutationResponse{MutationID: pending.ID, Duplicate: pending.Duplicate}
	if c.QueryParam("wait") != "true" {
		return c.JSON(http.StatusAccepted, resp)
	}

	confirmed, err := queue.Wait(c.Request().Context(), pending)
	if err != nil {
		logger.Error().Err(err).Msgf("❌ Wait: mutation %d", pending.ID)
		return errorJSON(c, http.StatusInternalServerError, "failed to wait for mutation")
	}
	resp.Confirmed = confirmed
	if confirmed {
		return c.JSON(http.StatusOK, resp)
	}
	return c.JSON(http.StatusAccepted, resp)
}

// enqueueFailed maps an enqueue error to a response.
func enqueueFailed(c echo.Context, op string, err error) error {
	if errors.Is(err, models.ErrMissingReference) || errors.Is(err, models.ErrUnknownCode) {
		logger.Warn().Err(err).Msgf("⚠️ %s: rejected", op)
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	logger.Error().Err(err).Msgf("❌ %s: failed to enqueue", op)
	return errorJSON(c, http.StatusInternalServerError, "failed to enqueue mutation")
}
