// Package logx provides the structured logging layer used across finflow.
//
// It wraps zerolog behind a small value-type Logger so packages never hold a
// raw zerolog.Logger: loggers created from the Service stay "live" across
// runtime Apply() calls, and the zero value is a safe no-op (handy in tests).
package logx
