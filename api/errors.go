package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"taskboard-api/domain"
)

const (
	msgNotFound         = "Task not found or unauthorized"
	msgPartialReorder   = "Some tasks could not be reordered"
	msgDuplicateRequest = "Duplicate request"
)

// writeError maps err onto a status and JSON body. serverMsg is returned for
// failures the client cannot act on; their cause only goes to the log.
func writeError(c echo.Context, m *requestMetrics, err error, serverMsg string) error {
	m.SetCause(err)

	var verr *domain.ValidationError
	var rerr *domain.ReorderError
	var herr *echo.HTTPError
	switch {
	case errors.As(err, &verr):
		m.SetErrorStage("validation")
		return c.JSON(http.StatusBadRequest, errorResponse{Error: verr.Reason})
	case errors.Is(err, domain.ErrTaskNotFound):
		m.SetErrorStage("not_found")
		return c.JSON(http.StatusNotFound, errorResponse{Error: msgNotFound})
	case errors.Is(err, domain.ErrMissingOwner):
		m.SetErrorStage("auth")
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	case errors.As(err, &rerr):
		return writeReorderError(c, m, rerr, serverMsg)
	case errors.As(err, &herr):
		m.SetErrorStage("request")
		msg, _ := herr.Message.(string)
		return c.JSON(herr.Code, errorResponse{Error: msg})
	}
	m.SetErrorStage("storage")
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: serverMsg})
}

func writeReorderError(c echo.Context, m *requestMetrics, rerr *domain.ReorderError, serverMsg string) error {
	switch {
	case rerr.Partial():
		m.SetErrorStage("partial_reorder")
		return c.JSON(http.StatusConflict, reorderFailureResponse{
			Error:   msgPartialReorder,
			Applied: rerr.Result.Applied,
			Failed:  rerr.Result.Failed,
		})
	case rerr.AllNotFound():
		m.SetErrorStage("not_found")
		return c.JSON(http.StatusNotFound, errorResponse{Error: msgNotFound})
	}
	m.SetErrorStage("storage")
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: serverMsg})
}
