package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/djlord-it/pushcron/internal/dispatcher"
	"github.com/djlord-it/pushcron/internal/domain"
	"github.com/djlord-it/pushcron/internal/tzcache"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

const healthCheckTimeout = 3 * time.Second

type ScheduleStore interface {
	CreateSchedule(ctx context.Context, s domain.Schedule) error
	GetSchedule(ctx context.Context, id uuid.UUID) (domain.Schedule, error)
	ListSchedules(ctx context.Context, limit, offset int) ([]domain.Schedule, error)
	SetScheduleEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	DeleteSchedule(ctx context.Context, id uuid.UUID) error
}

type ExecutionReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (domain.Execution, error)
	FindBySchedule(ctx context.Context, scheduleID uuid.UUID, limit, offset int) ([]domain.Execution, error)
	FindAll(ctx context.Context, status domain.ExecutionStatus, limit, offset int) ([]domain.Execution, error)
	Stats(ctx context.Context, since time.Time) (domain.ExecutionStats, error)
}

type NotificationReader interface {
	GetNotification(ctx context.Context, id uuid.UUID) (domain.Notification, error)
	ListNotifications(ctx context.Context, f domain.NotificationFilter, limit, offset int) ([]domain.Notification, error)
}

// Sender performs ad hoc sends; *dispatcher.Dispatcher implements it.
type Sender interface {
	SendToDevice(ctx context.Context, deviceID string, msg dispatcher.Message, sentBy string) (dispatcher.Result, error)
	SendToUser(ctx context.Context, firebaseUID string, msg dispatcher.Message, sentBy string) (dispatcher.Result, error)
	Broadcast(ctx context.Context, msg dispatcher.Message, sentBy string) (dispatcher.Result, error)
	SendTest(ctx context.Context, deviceID, sentBy string) (dispatcher.Result, error)
}

type DeviceRegistry interface {
	UpsertDevice(ctx context.Context, d domain.Device) error
}

type TimezoneCache interface {
	Refresh(ctx context.Context) error
	Entries() []tzcache.Entry
	RefreshedAt() time.Time
}

// HealthCheck reports a component as unhealthy by returning an error.
type HealthCheck func(ctx context.Context) error

type namedCheck struct {
	name  string
	check HealthCheck
}

type Handler struct {
	schedules     ScheduleStore
	executions    ExecutionReader
	notifications NotificationReader
	sender        Sender
	devices       DeviceRegistry // optional, nil = route disabled
	timezones     TimezoneCache  // optional, nil = routes disabled
	checks        []namedCheck
	auth          *Authenticator
	corsOrigins   []string
	log           logrus.FieldLogger
	clock         func() time.Time
}

func NewHandler(schedules ScheduleStore, executions ExecutionReader, notifications NotificationReader, sender Sender, log logrus.FieldLogger) *Handler {
	return &Handler{
		schedules:     schedules,
		executions:    executions,
		notifications: notifications,
		sender:        sender,
		log:           log,
		clock:         time.Now,
	}
}

// WithHealthCheck adds a component to the verbose /health response.
func (h *Handler) WithHealthCheck(name string, check HealthCheck) *Handler {
	h.checks = append(h.checks, namedCheck{name: name, check: check})
	return h
}

func (h *Handler) WithDevices(d DeviceRegistry) *Handler {
	h.devices = d
	return h
}

func (h *Handler) WithTimezones(tz TimezoneCache) *Handler {
	h.timezones = tz
	return h
}

// WithAuth requires a bearer token on every route except /health.
func (h *Handler) WithAuth(a *Authenticator) *Handler {
	h.auth = a
	return h
}

// WithCORS allows browser clients from origins.
func (h *Handler) WithCORS(origins []string) *Handler {
	h.corsOrigins = origins
	return h
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	if len(h.corsOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins: h.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		})
		r.Use(c.Handler)
	}

	r.Get("/health", h.health)

	r.Group(func(r chi.Router) {
		if h.auth != nil {
			r.Use(h.auth.Middleware)
		}

		r.Route("/schedules", func(r chi.Router) {
			r.Post("/", h.createSchedule)
			r.Get("/", h.listSchedules)
			r.Get("/{id}", h.getSchedule)
			r.Patch("/{id}", h.updateSchedule)
			r.Delete("/{id}", h.deleteSchedule)
			r.Get("/{id}/executions", h.listScheduleExecutions)
		})

		r.Route("/executions", func(r chi.Router) {
			r.Get("/", h.listExecutions)
			r.Get("/stats", h.executionStats)
			r.Get("/{id}", h.getExecution)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", h.listNotifications)
			r.Get("/{id}", h.getNotification)
			r.Post("/device/{deviceID}", h.sendToDevice)
			r.Post("/user/{uid}", h.sendToUser)
			r.Post("/broadcast", h.broadcast)
			r.Post("/test/{deviceID}", h.sendTest)
		})

		if h.devices != nil {
			r.Put("/devices/{deviceID}", h.upsertDevice)
		}
		if h.timezones != nil {
			r.Get("/timezones", h.listTimezones)
			r.Post("/timezones/refresh", h.refreshTimezones)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).Round(time.Microsecond),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("api: request")
	})
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"
	if !verbose || len(h.checks) == 0 {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{Status: "ok", Components: make(map[string]string)}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	for _, c := range h.checks {
		if err := c.check(ctx); err != nil {
			resp.Status = "degraded"
			resp.Components[c.name] = "unhealthy: " + err.Error()
			continue
		}
		resp.Components[c.name] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

// decodeBody reads a JSON request body into v, writing the error
// response itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// fail maps domain errors to status codes and hides everything else
// behind a 500 with the failed operation.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	var (
		vErr *domain.ValidationError
		nErr *domain.NotFoundError
		tErr *domain.TargetingError
	)
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.As(err, &nErr):
		writeError(w, http.StatusNotFound, nErr.Error())
	case errors.As(err, &tErr):
		writeError(w, http.StatusUnprocessableEntity, tErr.Error())
	default:
		h.log.WithField("request_id", middleware.GetReqID(r.Context())).WithError(err).Errorf("api: %s", op)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Error("api: json encode error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// pathUUID parses the named URL parameter, writing a 400 on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
