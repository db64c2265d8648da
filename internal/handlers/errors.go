package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/armando3069/zottis/internal/accounts"
	"github.com/armando3069/zottis/internal/autoreply"
	"github.com/armando3069/zottis/internal/channel"
	"github.com/armando3069/zottis/internal/conversation"
	"github.com/armando3069/zottis/internal/outbound"
)

type ErrorResponse struct {
	Message string `json:"message"`
}

// Validator plugs go-playground/validator into echo's c.Validate.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (v *Validator) Validate(i any) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s is %s", lowerFirst(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// bindAndValidate decodes the request body into req and validates it.
func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// httpError maps domain errors to HTTP statuses.
func httpError(err error) error {
	var se *channel.SendError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, accounts.ErrInvalidCredential),
		errors.Is(err, accounts.ErrCredentialRequired),
		errors.Is(err, outbound.ErrEmptyText),
		errors.Is(err, channel.ErrUnsupportedPlatform):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case conversation.IsNotFound(err),
		errors.Is(err, accounts.ErrAccountNotFound),
		errors.Is(err, autoreply.ErrNoMessages):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, outbound.ErrPlatformMismatch):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.As(err, &se):
		return echo.NewHTTPError(http.StatusBadGateway, fmt.Sprintf("%s %s rejected the request (status %d): %s", se.Platform, se.Method, se.Status, se.Body))
	case errors.Is(err, autoreply.ErrCompletionUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
