package arbiter

import "log/slog"

// LogAuditSink records arbitration signals to a structured logger. It never
// fails, so it can be installed without affecting arbitration.
type LogAuditSink struct {
	log *slog.Logger
}

var _ AuditSink = (*LogAuditSink)(nil)

// NewLogAuditSink wraps the given logger; nil means slog.Default.
func NewLogAuditSink(log *slog.Logger) *LogAuditSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogAuditSink{log: log}
}

// RecordTransition implements AuditSink.
func (s *LogAuditSink) RecordTransition(evt SignalEvent) error {
	switch evt.Signal {
	case SignalStateChange:
		s.log.Debug("lane state changed", "from", string(evt.From), "to", string(evt.To), "cause", evt.Cause)
	case SignalOwnerChange:
		s.log.Debug("speaker owner changed", "from", string(evt.FromOwner), "to", string(evt.ToOwner), "cause", evt.Cause)
	default:
		s.log.Debug("lane signal", "signal", string(evt.Signal), "cause", evt.Cause)
	}
	return nil
}
