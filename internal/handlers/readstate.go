package handlers

import (
	"net/http"

	"github.com/DarioOlivares2001/micro-matchworkchat/internal/models"
)

// UnreadCount handles GET /messages/unread/count/{userId}.
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	id, err := userParam(r, "userId")
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	total, err := h.chat.GetUnreadTotal(r.Context(), id)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, total)
}

// UnreadBySender handles GET /messages/unread/by-sender/{userId}.
func (h *Handler) UnreadBySender(w http.ResponseWriter, r *http.Request) {
	id, err := userParam(r, "userId")
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	counts, err := h.chat.GetUnreadBySender(r.Context(), id)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, counts)
}

// MarkSeen handles PUT /messages/{senderId}/{receiverId}/seen.
func (h *Handler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	senderID, err := userParam(r, "senderId")
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	receiverID, err := userParam(r, "receiverId")
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	if _, err := h.chat.MarkConversationSeen(r.Context(), senderID, receiverID); err != nil {
		h.Fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReadReceipt handles POST /api/messages/read-receipt, the HTTP twin of the
// socket read-receipt frame.
func (h *Handler) ReadReceipt(w http.ResponseWriter, r *http.Request) {
	var ev models.ReadReceiptEvent
	if err := decode(r, &ev); err != nil {
		h.Fail(w, r, err)
		return
	}

	if _, err := h.chat.ReadReceipt(r.Context(), ev); err != nil {
		h.Fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
