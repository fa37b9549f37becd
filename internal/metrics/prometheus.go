package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const namespace = "pushcron"

// PrometheusSink implements Sink using Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	log logrus.FieldLogger

	// Scheduler
	ticksTotal             prometheus.Counter
	tickErrorsTotal        prometheus.Counter
	executionsCreatedTotal prometheus.Counter
	duplicatesTotal        prometheus.Counter
	tickDuration           prometheus.Histogram
	tickDrift              prometheus.Histogram

	// Dispatcher
	eventsInFlight      prometheus.Gauge
	notificationsTotal  *prometheus.CounterVec
	tokenEvictionsTotal prometheus.Counter
	fanoutDuration      prometheus.Histogram
	fanoutBatchSize     prometheus.Histogram
	executionsTotal     *prometheus.CounterVec
	executionDuration   prometheus.Histogram
	pushAttemptsTotal   *prometheus.CounterVec
	pushRequestDuration prometheus.Histogram

	// EventBus
	bufferSize       prometheus.Gauge
	bufferCapacity   prometheus.Gauge
	bufferSaturation prometheus.Gauge
	emitErrorsTotal  prometheus.Counter

	// Sweeper and timezone cache
	sweptTotal          prometheus.Counter
	timezonesCached     prometheus.Gauge
	tzRefreshErrorTotal prometheus.Counter
}

// NewPrometheusSink creates the sink and registers its collectors with reg.
func NewPrometheusSink(reg prometheus.Registerer, log logrus.FieldLogger) *PrometheusSink {
	s := &PrometheusSink{log: log}
	s.initSchedulerMetrics(reg)
	s.initDispatcherMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initMaintenanceMetrics(reg)
	return s
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = counter("scheduler_ticks_total", "Total number of scheduler ticks processed.")
	s.tickErrorsTotal = counter("scheduler_tick_errors_total", "Total number of scheduler ticks that failed to load schedules.")
	s.executionsCreatedTotal = counter("scheduler_executions_created_total", "Total number of executions created.")
	s.duplicatesTotal = counter("scheduler_duplicate_executions_total", "Executions skipped because the minute was already recorded.")
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scheduler_tick_duration_seconds",
		Help:      "Duration of each scheduler tick in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	s.tickDrift = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scheduler_tick_drift_seconds",
		Help:      "Delay between the planned poll instant and the actual wake-up.",
		Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	s.register(reg, s.ticksTotal, s.tickErrorsTotal, s.executionsCreatedTotal, s.duplicatesTotal, s.tickDuration, s.tickDrift)
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.eventsInFlight = gauge("dispatcher_events_in_flight", "Number of events currently being processed.")
	s.notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatcher_notifications_total",
		Help:      "Per-device send outcomes.",
	}, []string{"outcome"})
	s.tokenEvictionsTotal = counter("dispatcher_token_evictions_total", "Push tokens cleared after the gateway reported them invalid.")
	s.fanoutDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatcher_fanout_duration_seconds",
		Help:      "Duration of one fan-out batch in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})
	s.fanoutBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatcher_fanout_batch_size",
		Help:      "Number of devices targeted by one fan-out batch.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})
	s.executionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executions_finished_total",
		Help:      "Executions moved to a terminal status.",
	}, []string{"status"})
	s.executionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "execution_duration_seconds",
		Help:      "Time from event receipt to terminal status.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})
	s.pushAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "push_attempts_total",
		Help:      "Push gateway requests by status class.",
	}, []string{"status_class"})
	s.pushRequestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "push_request_duration_seconds",
		Help:      "Push gateway request latency in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	s.register(reg, s.eventsInFlight, s.notificationsTotal, s.tokenEvictionsTotal, s.fanoutDuration,
		s.fanoutBatchSize, s.executionsTotal, s.executionDuration, s.pushAttemptsTotal, s.pushRequestDuration)
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = gauge("eventbus_buffer_size", "Current number of events in the event bus buffer.")
	s.bufferCapacity = gauge("eventbus_buffer_capacity", "Capacity of the event bus buffer.")
	s.bufferSaturation = gauge("eventbus_buffer_saturation", "Buffer size divided by capacity.")
	s.emitErrorsTotal = counter("eventbus_emit_errors_total", "Total number of emit errors (buffer full or cancelled).")

	s.register(reg, s.bufferSize, s.bufferCapacity, s.bufferSaturation, s.emitErrorsTotal)
}

func (s *PrometheusSink) initMaintenanceMetrics(reg prometheus.Registerer) {
	s.sweptTotal = counter("sweeper_timeouts_total", "Executions marked timeout by the sweeper.")
	s.timezonesCached = gauge("tzcache_timezones", "Timezones in the current offset snapshot.")
	s.tzRefreshErrorTotal = counter("tzcache_refresh_errors_total", "Failed timezone cache refreshes.")

	s.register(reg, s.sweptTotal, s.timezonesCached, s.tzRefreshErrorTotal)
}

// register registers each collector, logging failures without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, cs ...prometheus.Collector) {
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			s.log.WithError(err).Warn("metrics: failed to register collector")
		}
	}
}

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, executionsCreated int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.executionsCreatedTotal.Add(float64(executionsCreated))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) TickDrift(drift time.Duration) {
	d := drift.Seconds()
	if d < 0 {
		d = -d
	}
	s.tickDrift.Observe(d)
}

func (s *PrometheusSink) DuplicateExecution() {
	s.duplicatesTotal.Inc()
}

func (s *PrometheusSink) EventsInFlightIncr() {
	s.eventsInFlight.Inc()
}

func (s *PrometheusSink) EventsInFlightDecr() {
	s.eventsInFlight.Dec()
}

func (s *PrometheusSink) NotificationOutcome(outcome string) {
	s.notificationsTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) TokenEvicted() {
	s.tokenEvictionsTotal.Inc()
}

func (s *PrometheusSink) FanoutCompleted(duration time.Duration, sent, failed int) {
	s.fanoutDuration.Observe(duration.Seconds())
	s.fanoutBatchSize.Observe(float64(sent + failed))
}

func (s *PrometheusSink) ExecutionFinished(status string, duration time.Duration) {
	s.executionsTotal.WithLabelValues(status).Inc()
	s.executionDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) PushAttemptCompleted(statusClass string, duration time.Duration) {
	s.pushAttemptsTotal.WithLabelValues(statusClass).Inc()
	s.pushRequestDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) BufferSaturationUpdate(saturation float64) {
	s.bufferSaturation.Set(saturation)
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

func (s *PrometheusSink) StaleExecutionsSwept(count int) {
	s.sweptTotal.Add(float64(count))
}

func (s *PrometheusSink) TimezoneRefresh(entries int, err error) {
	if err != nil {
		s.tzRefreshErrorTotal.Inc()
		return
	}
	s.timezonesCached.Set(float64(entries))
}
