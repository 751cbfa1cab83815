package api

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/alignhq/alignment-protocol/internal/app"
	svcErr "github.com/alignhq/alignment-protocol/internal/errors"
	"github.com/alignhq/alignment-protocol/internal/service/matching"
	"github.com/alignhq/alignment-protocol/internal/service/protocol"
	"github.com/alignhq/alignment-protocol/internal/service/slots"
)

// Handler binds the Protocol API endpoints to the services.
// Authentication is out of scope: callers identify themselves with an
// explicit userId, mirroring the mock client contract.
type Handler struct {
	appCtx      *app.AppContext
	protocolSvc *protocol.Service
	matchingSvc *matching.Service
	slotsSvc    *slots.Service
}

func NewHandler(appCtx *app.AppContext, protocolSvc *protocol.Service, matchingSvc *matching.Service, slotsSvc *slots.Service) *Handler {
	return &Handler{
		appCtx:      appCtx,
		protocolSvc: protocolSvc,
		matchingSvc: matchingSvc,
		slotsSvc:    slotsSvc,
	}
}

// Register attaches the Protocol API routes to the fiber app.
func (h *Handler) Register(router fiber.Router) {
	router.Get("/connections/:id", h.GetConnection)
	router.Post("/connections/:id/handshake", h.SubmitHandshake)
	router.Post("/connections/:id/reveal", h.TriggerReveal)
	router.Get("/connections/:id/messages", h.ListMessages)
	router.Post("/connections/:id/messages", h.AppendMessage)
	router.Post("/connections/:id/messages/read", h.MarkRead)
	router.Get("/connections/:id/unread", h.UnreadCount)

	router.Post("/matches", h.ProposeMatch)
	router.Get("/matches/:id", h.GetMatch)
	router.Post("/matches/:id/respond", h.RespondMatch)

	router.Get("/slots", h.ListSlots)
	router.Put("/users/:id/tier", h.ChangeTier)
}

// apiError maps a domain error onto the HTTP surface with its stable code.
func apiError(c *fiber.Ctx, err error) error {
	return c.Status(svcErr.HTTPStatus(err)).JSON(fiber.Map{
		"error": err.Error(),
		"code":  svcErr.Code(err),
	})
}

func parseID(raw string) (uint64, bool) {
	id, err := strconv.ParseUint(raw, 10, 64)
	return id, err == nil && id > 0
}

// GetConnection returns the connection view with derived unlock flags.
func (h *Handler) GetConnection(c *fiber.Ctx) error {
	id, ok := parseID(c.Params("id"))
	if !ok {
		return apiError(c, svcErr.ErrUnknownConnection)
	}
	view, err := h.protocolSvc.GetConnection(c.Context(), id)
	if err != nil {
		return apiError(c, err)
	}
	return c.JSON(view)
}

type handshakeRequest struct {
	UserID   uint64 `json:"userId"`
	Day      int    `json:"day"`
	Decision *bool  `json:"decision"`
}

// SubmitHandshake records a daily continue/end decision.
func (h *Handler) SubmitHandshake(c *fiber.Ctx) error {
	id, ok := parseID(c.Params("id"))
	if !ok {
		return apiError(c, svcErr.ErrUnknownConnection)
	}

	var req handshakeRequest
	if err := c.BodyParser(&req); err != nil || req.Decision == nil || req.UserID == 0 {
		return apiError(c, svcErr.ErrInvalidRequest)
	}

	result, err := h.protocolSvc.SubmitDecision(c.Context(), id, req.UserID, req.Day, *req.Decision)
	if err != nil {
		return apiError(c, err)
	}
	return c.JSON(result)
}

type userRequest struct {
	UserID uint64 `json:"userId"`
}

// TriggerReveal enters one side into the day-21 reveal sequence.
func (h *Handler) TriggerReveal(c *fiber.Ctx) error {
	id, ok := parseID(c.Params("id"))
	if !ok {
		return apiError(c, svcErr.ErrUnknownConnection)
	}
	var req userRequest
	if err := c.BodyParser(&req); err != nil || req.UserID == 0 {
		return apiError(c, svcErr.ErrInvalidRequest)
	}
	view, err := h.protocolSvc.TriggerReveal(c.Context(), id, req.UserID)
	if err != nil {
		return apiError(c, err)
	}
	return c.JSON(view)
}

// ListMessages returns the conversation newest first, paginated.
func (h *Handler) ListMessages(c *fiber.Ctx) error {
	id, ok := parseID(c.Params("id"))
	if !ok {
		return apiError(c, svcErr.ErrUnknownConnection)
	}
	var token *string
	if t := c.Query("paginationToken"); t != "" {
		token = &t
	}
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	messages, next, err := h.protocolSvc.ListMessages(c.Context(), id, token, limit)
	if err != nil {
		return apiError(c, err)
	}
	resp := fiber.Map{"messages": messages}
	if next != nil {
		resp["nextPaginationToken"] = *next
	}
	return c.JSON(resp)
}

type messageRequest struct {
	SenderID      uint64 `json:"senderId"`
	Kind          string `json:"kind"`
	Content       string `json:"content"`
	VoiceURL      string `json:"voiceUrl"`
	VoiceDuration int    `json:"voiceDuration"`
}

// AppendMessage adds a conversation entry.
func (h *Handler) AppendMessage(c *fiber.Ctx) error {
	id, ok := parseID(c.Params("id"))
	if !ok {
		return apiError(c, svcErr.ErrUnknownConnection)
	}
	var req messageRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, svcErr.ErrInvalidRequest)
	}

	msg, err := h.protocolSvc.AppendMessage(c.Context(), id, protocol.MessageInput{
		SenderID:      req.SenderID,
		Kind:          req.Kind,
		Content:       req.Content,
		VoiceURL:      req.VoiceURL,
		VoiceDuration: req.VoiceDuration,
	})
	if err != nil {
		return apiError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// MarkRead flags the partner's messages as read.
func (h *Handler) MarkRead(c *fiber.Ctx) error {
	id, ok := parseID(c.Params("id"))
	if !ok {
		return apiError(c, svcErr.ErrUnknownConnection)
	}
	var req userRequest
	if err := c.BodyParser(&req); err != nil || req.UserID == 0 {
		return apiError(c, svcErr.ErrInvalidRequest)
	}
	if err := h.protocolSvc.MarkRead(c.Context(), id, req.UserID); err != nil {
		return apiError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UnreadCount returns the reader's unread message count (cache-first).
func (h *Handler) UnreadCount(c *fiber.Ctx) error {
	id, ok := parseID(c.Params("id"))
	if !ok {
		return apiError(c, svcErr.ErrUnknownConnection)
	}
	userID, ok := parseID(c.Query("userId"))
	if !ok {
		return apiError(c, svcErr.ErrNotAParticipant)
	}
	count, err := h.protocolSvc.UnreadCount(c.Context(), id, userID)
	if err != nil {
		return apiError(c, err)
	}
	return c.JSON(fiber.Map{"count": count})
}

type proposeRequest struct {
	UserAID uint64   `json:"userAId"`
	UserBID uint64   `json:"userBId"`
	Score   int      `json:"score"`
	Reasons []string `json:"reasons"`
}

// ProposeMatch stores a pairing produced by the external matching
// service.
func (h *Handler) ProposeMatch(c *fiber.Ctx) error {
	var req proposeRequest
	if err := c.BodyParser(&req); err != nil || req.UserAID == 0 || req.UserBID == 0 {
		return apiError(c, svcErr.ErrInvalidRequest)
	}
	match, err := h.matchingSvc.Propose(c.Context(), req.UserAID, req.UserBID, req.Score, req.Reasons)
	if err != nil {
		return apiError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(matchView(match))
}

// GetMatch returns a match view.
func (h *Handler) GetMatch(c *fiber.Ctx) error {
	id, ok := parseID(c.Params("id"))
	if !ok {
		return apiError(c, svcErr.ErrUnknownMatch)
	}
	match, err := h.matchingSvc.GetMatch(c.Context(), id)
	if err != nil {
		return apiError(c, err)
	}
	return c.JSON(matchView(match))
}

type respondRequest struct {
	UserID   uint64 `json:"userId"`
	Decision string `json:"decision"` // accept | pass
}

// RespondMatch records one side's accept/pass decision.
func (h *Handler) RespondMatch(c *fiber.Ctx) error {
	id, ok := parseID(c.Params("id"))
	if !ok {
		return apiError(c, svcErr.ErrUnknownMatch)
	}
	var req respondRequest
	if err := c.BodyParser(&req); err != nil || req.UserID == 0 {
		return apiError(c, svcErr.ErrInvalidRequest)
	}
	if req.Decision != "accept" && req.Decision != "pass" {
		return apiError(c, svcErr.ErrInvalidRequest)
	}

	match, err := h.matchingSvc.Respond(c.Context(), id, req.UserID, req.Decision == "accept")
	if err != nil {
		return apiError(c, err)
	}
	return c.JSON(matchView(match))
}

// ListSlots returns a user's connection slots.
func (h *Handler) ListSlots(c *fiber.Ctx) error {
	userID, ok := parseID(c.Query("userId"))
	if !ok {
		return apiError(c, svcErr.ErrUnknownUser)
	}
	list, err := h.slotsSvc.ListForUser(c.Context(), userID)
	if err != nil {
		return apiError(c, err)
	}
	return c.JSON(fiber.Map{"slots": list})
}

type tierRequest struct {
	Tier string `json:"tier"`
}

// ChangeTier updates a user's subscription tier and resizes slots.
func (h *Handler) ChangeTier(c *fiber.Ctx) error {
	userID, ok := parseID(c.Params("id"))
	if !ok {
		return apiError(c, svcErr.ErrUnknownUser)
	}
	var req tierRequest
	if err := c.BodyParser(&req); err != nil {
		return apiError(c, svcErr.ErrInvalidRequest)
	}
	if err := h.slotsSvc.ChangeTier(c.Context(), userID, req.Tier); err != nil {
		return apiError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
