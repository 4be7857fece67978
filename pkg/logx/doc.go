// Package logx provides structured logging for the runtime.
//
// It wraps zerolog behind a small Field-based API so call sites stay
// stable if the sink configuration changes at runtime.
package logx
