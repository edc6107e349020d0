package domain

// EventKind classifies notifications emitted by the supervisor. Delivery is
// best-effort; event payloads are free-form key/value pairs.
type EventKind string

const (
	EventSignalDetected     EventKind = "SIGNAL_DETECTED"
	EventSignalIgnored      EventKind = "SIGNAL_IGNORED"
	EventTradeOpened        EventKind = "TRADE_OPENED"
	EventTradeClosed        EventKind = "TRADE_CLOSED"
	EventTradeAborted       EventKind = "TRADE_ABORTED"
	EventMonitoringDegraded EventKind = "MONITORING_DEGRADED"
	EventError              EventKind = "ERROR"
	EventStartup            EventKind = "STARTUP"
	EventShutdown           EventKind = "SHUTDOWN"
)
