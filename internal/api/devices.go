package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/djlord-it/pushcron/internal/domain"
)

// upsertDevice registers a device for deployments without an external
// device directory.
func (h *Handler) upsertDevice(w http.ResponseWriter, r *http.Request) {
	var req DeviceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateDevice(req); err != nil {
		h.fail(w, r, "register device", err)
		return
	}
	d := domain.Device{
		DeviceID:    chi.URLParam(r, "deviceID"),
		FirebaseUID: req.FirebaseUID,
		DeviceName:  req.DeviceName,
		Timezone:    req.Timezone,
		PushToken:   req.PushToken,
		UpdatedAt:   h.clock().UTC(),
	}
	if err := h.devices.UpsertDevice(r.Context(), d); err != nil {
		h.fail(w, r, "register device", err)
		return
	}
	h.log.WithFields(logrus.Fields{
		"device_id": d.DeviceID,
		"timezone":  d.Timezone,
		"has_token": d.HasToken(),
	}).Info("api: device registered")
	h.signalTimezone(r, d.Timezone)
	writeJSON(w, http.StatusOK, d)
}

// signalTimezone refreshes the offset cache when a device lands in a
// timezone it does not hold yet, so the next tick can match it.
func (h *Handler) signalTimezone(r *http.Request, tz string) {
	if h.timezones == nil || tz == "" {
		return
	}
	for _, e := range h.timezones.Entries() {
		if e.Timezone == tz {
			return
		}
	}
	if err := h.timezones.Refresh(r.Context()); err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{
			"timezone":   tz,
			"request_id": middleware.GetReqID(r.Context()),
		}).Warn("api: timezone refresh after device registration failed")
	}
}

func (h *Handler) listTimezones(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.timezoneList())
}

// refreshTimezones rebuilds the cache now instead of waiting for the
// next periodic refresh.
func (h *Handler) refreshTimezones(w http.ResponseWriter, r *http.Request) {
	if err := h.timezones.Refresh(r.Context()); err != nil {
		h.fail(w, r, "refresh timezones", err)
		return
	}
	writeJSON(w, http.StatusOK, h.timezoneList())
}

func (h *Handler) timezoneList() ListTimezonesResponse {
	resp := ListTimezonesResponse{Timezones: timezoneResponses(h.timezones.Entries())}
	if at := h.timezones.RefreshedAt(); !at.IsZero() {
		resp.RefreshedAt = at.UTC().Format(time.RFC3339)
	}
	return resp
}
