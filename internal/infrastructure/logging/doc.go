// Package logging builds the zap loggers used across netcore.
//
// A Logger embeds *zap.Logger, so callers log with zap fields directly and
// hand the embedded logger to components that take a *zap.Logger.
//
// Config selects the level ("debug", "info", "warn", "error") and the
// encoding. Production writes JSON to OutputPaths. Development writes
// colored console lines and keeps stack traces on warnings and above.
// When File is set, a second JSON core is teed in and written through a
// lumberjack rotator sized by MaxSizeMB, MaxBackups and MaxAgeDays, with
// optional gzip of rotated files via Compress.
//
// Constructors:
//   - New(cfg): validates the level and returns an error for unknown ones
//   - NewDefault: info level JSON to stdout, nop logger if building fails
//   - NewDevelopment: debug level console output, same fallback
//
// DefaultConfig and DevelopmentConfig return the matching Config values for
// callers that adjust a field or two before calling New.
//
// Example Usage:
//
//	cfg := logging.DefaultConfig()
//	cfg.File = "/var/log/netcore/netcore.log"
//	logger, err := logging.New(cfg)
//	if err != nil {
//		return err
//	}
//	logger.Info("Context ready", zap.String("session", id))
package logging
