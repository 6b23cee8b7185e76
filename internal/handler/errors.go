package handler

import (
	"errors"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/apikit-go/apikit/internal/codes"
	"github.com/apikit-go/apikit/internal/crud"
	"github.com/apikit-go/apikit/internal/filter"
	"github.com/apikit-go/apikit/internal/repository"
)

// HTTPErrorHandler renders every error escaping a handler as the uniform
// {code, message, ...extra} payload. Unrecognized errors are logged and
// collapsed into serverError so internals never leak to clients.
func HTTPErrorHandler(log *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		apiErr := mapError(err, log)
		if writeErr := c.JSON(apiErr.Code.Status, apiErr.Payload()); writeErr != nil {
			log.Error("write error response", zap.Error(writeErr))
		}
	}
}

// mapError normalizes domain errors into API errors.
func mapError(err error, log *zap.Logger) *codes.APIError {
	var apiErr *codes.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if mf, ok := crud.AsMultiField(err); ok {
		return codes.FieldsError.Err(map[string]any{"fields": mf.Fields})
	}
	var ve *filter.ValidationError
	if errors.As(err, &ve) {
		return codes.FieldsError.Err(map[string]any{
			"fields": []crud.FieldError{{Field: ve.Source, Kind: crud.Invalid}},
		})
	}
	if crud.IsNotFound(err) || errors.Is(err, repository.ErrNotFound) {
		return codes.NotFound.Err()
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if he.Code == codes.NotFound.Status {
			return codes.NotFound.Err()
		}
		return (codes.Code{Name: "httpError", Status: he.Code, Message: echoMessage(he)}).Err()
	}
	log.Error("unhandled error", zap.Error(err))
	return codes.ServerError.Err()
}

func echoMessage(he *echo.HTTPError) string {
	if s, ok := he.Message.(string); ok {
		return s
	}
	return he.Error()
}
