package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/djlord-it/pushcron/internal/domain"
)

func (h *Handler) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tod, err := validateCreateSchedule(req)
	if err != nil {
		h.fail(w, r, "create schedule", err)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	now := h.clock().UTC()
	sch := domain.Schedule{
		ID:            uuid.New(),
		Time:          tod,
		EventName:     req.EventName,
		Enabled:       enabled,
		TimezoneAware: req.TimezoneAware,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := sch.Validate(); err != nil {
		h.fail(w, r, "create schedule", err)
		return
	}
	if err := h.schedules.CreateSchedule(r.Context(), sch); err != nil {
		h.fail(w, r, "create schedule", err)
		return
	}

	h.log.WithFields(logrus.Fields{
		"schedule_id": sch.ID,
		"event":       sch.EventName,
		"time":        sch.Time.String(),
		"operator":    operator(r.Context()),
	}).Info("api: schedule created")
	writeJSON(w, http.StatusCreated, sch)
}

func (h *Handler) listSchedules(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pagination: "+err.Error())
		return
	}
	schedules, err := h.schedules.ListSchedules(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, r, "list schedules", err)
		return
	}
	if schedules == nil {
		schedules = []domain.Schedule{}
	}
	writeJSON(w, http.StatusOK, ListSchedulesResponse{Schedules: schedules})
}

func (h *Handler) getSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	sch, err := h.schedules.GetSchedule(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

// updateSchedule toggles Enabled; time and event are immutable.
func (h *Handler) updateSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req UpdateScheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		h.fail(w, r, "update schedule", &domain.ValidationError{Field: "enabled", Message: "required"})
		return
	}
	if err := h.schedules.SetScheduleEnabled(r.Context(), id, *req.Enabled); err != nil {
		h.fail(w, r, "update schedule", err)
		return
	}
	sch, err := h.schedules.GetSchedule(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get schedule", err)
		return
	}
	h.log.WithFields(logrus.Fields{
		"schedule_id": id,
		"enabled":     *req.Enabled,
		"operator":    operator(r.Context()),
	}).Info("api: schedule updated")
	writeJSON(w, http.StatusOK, sch)
}

func (h *Handler) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.schedules.DeleteSchedule(r.Context(), id); err != nil {
		h.fail(w, r, "delete schedule", err)
		return
	}
	h.log.WithFields(logrus.Fields{
		"schedule_id": id,
		"operator":    operator(r.Context()),
	}).Info("api: schedule deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listScheduleExecutions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pagination: "+err.Error())
		return
	}
	if _, err := h.schedules.GetSchedule(r.Context(), id); err != nil {
		h.fail(w, r, "get schedule", err)
		return
	}
	execs, err := h.executions.FindBySchedule(r.Context(), id, limit, offset)
	if err != nil {
		h.fail(w, r, "list executions", err)
		return
	}
	writeExecutions(w, execs)
}
