package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/armando3069/zottis/internal/accounts"
	"github.com/armando3069/zottis/internal/auth"
	"github.com/armando3069/zottis/internal/channel"
	"github.com/armando3069/zottis/internal/channel/adapters/whatsapp"
)

const (
	headerHubSignature  = "X-Hub-Signature-256"
	maxWebhookBodyBytes = 1 << 20
)

// WhatsAppOptions carry the Meta app settings used to authenticate webhooks.
type WhatsAppOptions struct {
	VerifyToken string
	// AppSecret enables X-Hub-Signature-256 checks when set.
	AppSecret string
}

type WhatsAppHandler struct {
	accounts accountConnector
	sender   replySender
	webhooks webhookSink
	opts     WhatsAppOptions
	logger   *slog.Logger
}

type ConnectWhatsAppRequest struct {
	AccessToken   string `json:"accessToken" validate:"required"`
	PhoneNumberID string `json:"phoneNumberId" validate:"required"`
}

type TestSendRequest struct {
	To   string `json:"to" validate:"required"`
	Text string `json:"text" validate:"required"`
}

func NewWhatsAppHandler(log *slog.Logger, accountService accountConnector, sender replySender, webhooks webhookSink, opts WhatsAppOptions) *WhatsAppHandler {
	return &WhatsAppHandler{
		accounts: accountService,
		sender:   sender,
		webhooks: webhooks,
		opts:     opts,
		logger:   log.With(slog.String("handler", "whatsapp")),
	}
}

func (h *WhatsAppHandler) Register(e *echo.Echo) {
	e.GET("/webhooks/whatsapp", h.Verify)
	e.POST("/webhooks/whatsapp", h.Webhook)

	group := e.Group("/whatsapp")
	group.POST("/connect", h.Connect)
	group.POST("/reply", h.Reply)
	group.POST("/test-send", h.TestSend)
}

// Verify godoc
// @Summary WhatsApp webhook verification
// @Tags whatsapp
// @Param hub.mode query string true "subscribe"
// @Param hub.verify_token query string true "Verify token"
// @Param hub.challenge query string true "Challenge"
// @Success 200 {string} string
// @Failure 403 {object} ErrorResponse
// @Router /webhooks/whatsapp [get]
func (h *WhatsAppHandler) Verify(c echo.Context) error {
	challenge, ok := whatsapp.VerifyChallenge(
		c.QueryParam("hub.mode"),
		c.QueryParam("hub.verify_token"),
		c.QueryParam("hub.challenge"),
		h.opts.VerifyToken,
	)
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "webhook verification failed")
	}
	return c.String(http.StatusOK, challenge)
}

// Webhook godoc
// @Summary Receive WhatsApp events
// @Description Always answers 200 so Meta does not retry
// @Tags whatsapp
// @Success 200 {object} map[string]bool
// @Router /webhooks/whatsapp [post]
func (h *WhatsAppHandler) Webhook(c echo.Context) error {
	ok := map[string]bool{"ok": true}
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBodyBytes))
	if err != nil {
		h.logger.Warn("read whatsapp webhook failed", slog.Any("error", err))
		return c.JSON(http.StatusOK, ok)
	}
	if h.opts.AppSecret != "" && !whatsapp.VerifySignature(body, c.Request().Header.Get(headerHubSignature), h.opts.AppSecret) {
		h.logger.Warn("whatsapp webhook signature mismatch, discarded")
		return c.JSON(http.StatusOK, ok)
	}
	var payload whatsapp.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.logger.Warn("whatsapp payload decode failed", slog.Any("error", err))
		return c.JSON(http.StatusOK, ok)
	}
	ctx := context.WithoutCancel(c.Request().Context())
	for _, batch := range whatsapp.NormalizeWebhook(payload) {
		h.webhooks.HandleWebhook(ctx, channel.PlatformWhatsApp, batch.PhoneNumberID, "", batch.Messages)
	}
	return c.JSON(http.StatusOK, ok)
}

// Connect godoc
// @Summary Connect a WhatsApp Business number
// @Tags whatsapp
// @Param payload body ConnectWhatsAppRequest true "Credentials"
// @Success 200 {object} map[string]bool
// @Failure 400 {object} ErrorResponse
// @Router /whatsapp/connect [post]
func (h *WhatsAppHandler) Connect(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	var req ConnectWhatsAppRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if _, err := h.accounts.Connect(c.Request().Context(), accounts.ConnectInput{
		UserID:   userID,
		Platform: channel.PlatformWhatsApp,
		Credential: channel.Credential{
			AccessToken:   strings.TrimSpace(req.AccessToken),
			ExternalAppID: strings.TrimSpace(req.PhoneNumberID),
		},
	}); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"connected": true})
}

// Reply godoc
// @Summary Reply to a WhatsApp conversation
// @Tags whatsapp
// @Param payload body ReplyRequest true "Reply"
// @Success 200 {object} message.Message
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /whatsapp/reply [post]
func (h *WhatsAppHandler) Reply(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	var req ReplyRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	msg, err := h.sender.Reply(c.Request().Context(), userID, req.ConversationID, channel.PlatformWhatsApp, req.Text)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, msg)
}

// TestSend godoc
// @Summary Send a WhatsApp message to any number
// @Tags whatsapp
// @Param payload body TestSendRequest true "Recipient and text"
// @Success 200 {object} map[string]bool
// @Failure 404 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /whatsapp/test-send [post]
func (h *WhatsAppHandler) TestSend(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	var req TestSendRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.sender.SendToContact(c.Request().Context(), userID, channel.PlatformWhatsApp, req.To, req.Text); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"sent": true})
}
