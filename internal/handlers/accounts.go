package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/armando3069/zottis/internal/accounts"
	"github.com/armando3069/zottis/internal/auth"
	"github.com/armando3069/zottis/internal/healthcheck"
)

type PlatformAccountsHandler struct {
	accounts accountDirectory
	checkers []healthcheck.Checker
	logger   *slog.Logger
}

type ListAccountsResponse struct {
	Total    int                    `json:"total"`
	Accounts []accounts.SafeAccount `json:"accounts"`
}

type AccountChecksResponse struct {
	AccountID string                    `json:"accountId"`
	Status    string                    `json:"status"`
	Checks    []healthcheck.CheckResult `json:"checks"`
}

func NewPlatformAccountsHandler(log *slog.Logger, accountService accountDirectory, checkers ...healthcheck.Checker) *PlatformAccountsHandler {
	return &PlatformAccountsHandler{
		accounts: accountService,
		checkers: checkers,
		logger:   log.With(slog.String("handler", "platform_accounts")),
	}
}

func (h *PlatformAccountsHandler) Register(e *echo.Echo) {
	e.GET("/platform-accounts", h.List)
	e.GET("/platform-accounts/:id/checks", h.Checks)
}

// List godoc
// @Summary List connected platform accounts
// @Description Secrets are never included
// @Tags accounts
// @Success 200 {object} ListAccountsResponse
// @Router /platform-accounts [get]
func (h *PlatformAccountsHandler) List(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	items, err := h.accounts.ListSafeForUser(c.Request().Context(), userID)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []accounts.SafeAccount{}
	}
	return c.JSON(http.StatusOK, ListAccountsResponse{Total: len(items), Accounts: items})
}

// Checks godoc
// @Summary Run connection checks for a platform account
// @Tags accounts
// @Param id path string true "Account ID"
// @Success 200 {object} AccountChecksResponse
// @Failure 404 {object} ErrorResponse
// @Router /platform-accounts/{id}/checks [get]
func (h *PlatformAccountsHandler) Checks(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	account, err := h.accounts.Get(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if account.UserID != userID {
		return httpError(accounts.ErrAccountNotFound)
	}
	results := healthcheck.Run(ctx, account, h.checkers...)
	return c.JSON(http.StatusOK, AccountChecksResponse{
		AccountID: account.ID,
		Status:    healthcheck.Overall(results),
		Checks:    results,
	})
}
