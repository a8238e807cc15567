// Package logging provides structured logging using uber/zap.
//
// The SDK never writes to stdout: production output is JSON on stderr,
// development output is colored console. Every component receives a named
// child logger from the engine; hosts that want silence pass NewNop.
//
// Example Usage:
//
//	logger := logging.NewDefault().Named("store")
//	logger.Info("snapshot persisted", zap.Int("bytes", n))
package logging
