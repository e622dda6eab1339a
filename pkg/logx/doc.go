// Package logx wraps zerolog behind a small Field-based API so packages don't
// import zerolog directly. The zero Logger value is a safe no-op, which keeps
// constructors usable in tests without wiring a logger.
package logx
