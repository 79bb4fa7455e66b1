package iomgr

import "log/slog"

// Logs and panics. Used for contract violations and I/O failures that nothing above the
// disk layer could recover from.
func fatalf(log *slog.Logger, msg string, args ...any) {
	log.Error(msg, args...)
	panic("iomgr: " + msg)
}
