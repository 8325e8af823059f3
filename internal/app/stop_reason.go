package app

// StopReason records what triggered a shutdown, for the final log lines.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)
