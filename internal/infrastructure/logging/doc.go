// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: colored console output
//
// Every core component receives a *zap.Logger and names itself with
// Logger.Component. Credentials are never logged; use TokenPresence.
//
// Example Usage:
//
//	logger, err := logging.New(logging.ForProfile(cfg.Logging.Level, cfg.Logging.Development))
//	mgr := connection.NewManager(connection.Options{Logger: logger.Component("connection")})
package logging
