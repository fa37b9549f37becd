package metrics

import "time"

// NoopSink is used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                                    {}
func (n *NoopSink) TickCompleted(duration time.Duration, created int, err error)    {}
func (n *NoopSink) TickDrift(drift time.Duration)                                   {}
func (n *NoopSink) DuplicateExecution()                                             {}
func (n *NoopSink) EventsInFlightIncr()                                             {}
func (n *NoopSink) EventsInFlightDecr()                                             {}
func (n *NoopSink) NotificationOutcome(outcome string)                              {}
func (n *NoopSink) TokenEvicted()                                                   {}
func (n *NoopSink) FanoutCompleted(duration time.Duration, sent, failed int)        {}
func (n *NoopSink) ExecutionFinished(status string, duration time.Duration)         {}
func (n *NoopSink) PushAttemptCompleted(statusClass string, duration time.Duration) {}
func (n *NoopSink) BufferSizeUpdate(size int)                                       {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                  {}
func (n *NoopSink) BufferSaturationUpdate(saturation float64)                       {}
func (n *NoopSink) EmitError()                                                      {}
func (n *NoopSink) StaleExecutionsSwept(count int)                                  {}
func (n *NoopSink) TimezoneRefresh(entries int, err error)                          {}
