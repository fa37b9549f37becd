package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/djlord-it/pushcron/internal/dispatcher"
	"github.com/djlord-it/pushcron/internal/domain"
)

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pagination: "+err.Error())
		return
	}
	f, err := parseNotificationFilter(r)
	if err != nil {
		h.fail(w, r, "list notifications", err)
		return
	}
	ns, err := h.notifications.ListNotifications(r.Context(), f, limit, offset)
	if err != nil {
		h.fail(w, r, "list notifications", err)
		return
	}
	if ns == nil {
		ns = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, ListNotificationsResponse{Notifications: ns})
}

func parseNotificationFilter(r *http.Request) (domain.NotificationFilter, error) {
	q := r.URL.Query()
	f := domain.NotificationFilter{
		FirebaseUID: q.Get("firebaseUid"),
		DeviceID:    q.Get("deviceId"),
		Status:      domain.NotificationStatus(q.Get("status")),
		Type:        domain.NotificationType(q.Get("type")),
	}
	if s := q.Get("executionId"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return f, &domain.ValidationError{Field: "executionId", Message: "must be a UUID"}
		}
		f.ExecutionID = &id
	}
	switch f.Status {
	case "", domain.NotificationStatusPending, domain.NotificationStatusSent, domain.NotificationStatusFailed:
	default:
		return f, &domain.ValidationError{Field: "status", Message: "unknown status " + string(f.Status)}
	}
	switch f.Type {
	case "", domain.NotificationTypeTest, domain.NotificationTypeAdmin, domain.NotificationTypeBroadcast, domain.NotificationTypeSchedule:
	default:
		return f, &domain.ValidationError{Field: "type", Message: "unknown type " + string(f.Type)}
	}
	return f, nil
}

func (h *Handler) getNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	n, err := h.notifications.GetNotification(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get notification", err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// decodeSend reads and validates a send request body.
func (h *Handler) decodeSend(w http.ResponseWriter, r *http.Request) (dispatcher.Message, bool) {
	var req SendRequest
	if !decodeBody(w, r, &req) {
		return dispatcher.Message{}, false
	}
	if err := validateSend(req); err != nil {
		h.fail(w, r, "send notification", err)
		return dispatcher.Message{}, false
	}
	return dispatcher.Message(req), true
}

func (h *Handler) sendToDevice(w http.ResponseWriter, r *http.Request) {
	msg, ok := h.decodeSend(w, r)
	if !ok {
		return
	}
	res, err := h.sender.SendToDevice(r.Context(), chi.URLParam(r, "deviceID"), msg, operator(r.Context()))
	h.writeSendResult(w, r, res, err)
}

func (h *Handler) sendToUser(w http.ResponseWriter, r *http.Request) {
	msg, ok := h.decodeSend(w, r)
	if !ok {
		return
	}
	res, err := h.sender.SendToUser(r.Context(), chi.URLParam(r, "uid"), msg, operator(r.Context()))
	h.writeSendResult(w, r, res, err)
}

func (h *Handler) broadcast(w http.ResponseWriter, r *http.Request) {
	msg, ok := h.decodeSend(w, r)
	if !ok {
		return
	}
	res, err := h.sender.Broadcast(r.Context(), msg, operator(r.Context()))
	h.writeSendResult(w, r, res, err)
}

func (h *Handler) sendTest(w http.ResponseWriter, r *http.Request) {
	res, err := h.sender.SendTest(r.Context(), chi.URLParam(r, "deviceID"), operator(r.Context()))
	h.writeSendResult(w, r, res, err)
}

// writeSendResult reports per-device outcomes with 200 even when some
// deliveries failed; only a batch that could not run is an error.
func (h *Handler) writeSendResult(w http.ResponseWriter, r *http.Request, res dispatcher.Result, err error) {
	if err != nil {
		h.fail(w, r, "send notification", err)
		return
	}
	if res.Details == nil {
		res.Details = []dispatcher.Detail{}
	}
	writeJSON(w, http.StatusOK, res)
}
