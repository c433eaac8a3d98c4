package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/DarioOlivares2001/micro-matchworkchat/internal/models"
)

// GetConversation handles GET /api/messages/{senderId}/{receiverId}.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	a, err := userParam(r, "senderId")
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	b, err := userParam(r, "receiverId")
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	msgs, err := h.chat.GetConversation(r.Context(), a, b)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, msgs)
}

// GetConversationPartners handles GET /api/messages/conversations/{userId}.
func (h *Handler) GetConversationPartners(w http.ResponseWriter, r *http.Request) {
	id, err := userParam(r, "userId")
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	partners, err := h.chat.GetConversationPartners(r.Context(), id)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, partners)
}

// FindBySender handles GET /api/messages/by-sender/{userId}.
func (h *Handler) FindBySender(w http.ResponseWriter, r *http.Request) {
	id, err := userParam(r, "userId")
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	msgs, err := h.chat.FindBySender(r.Context(), id)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, msgs)
}

// FindByReceiver handles GET /api/messages/by-receiver/{userId}.
func (h *Handler) FindByReceiver(w http.ResponseWriter, r *http.Request) {
	id, err := userParam(r, "userId")
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	msgs, err := h.chat.FindByReceiver(r.Context(), id)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, msgs)
}

// FindByType handles GET /api/messages/by-type/{type}. The type is case-insensitive.
func (h *Handler) FindByType(w http.ResponseWriter, r *http.Request) {
	t := models.MessageType(strings.ToUpper(chi.URLParam(r, "type")))

	msgs, err := h.chat.FindByType(r.Context(), t)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, msgs)
}

// SendPrivate handles POST /api/messages/private.
func (h *Handler) SendPrivate(w http.ResponseWriter, r *http.Request) {
	var ev models.SendPrivateMessage
	if err := decode(r, &ev); err != nil {
		h.Fail(w, r, err)
		return
	}

	msg, err := h.chat.SendPrivate(r.Context(), ev)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, msg)
}

// SendPublic handles POST /api/messages/public.
func (h *Handler) SendPublic(w http.ResponseWriter, r *http.Request) {
	var ev models.SendPublicMessage
	if err := decode(r, &ev); err != nil {
		h.Fail(w, r, err)
		return
	}

	msg, err := h.chat.SendPublic(r.Context(), ev)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, msg)
}
