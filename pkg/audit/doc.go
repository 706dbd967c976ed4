// Package audit provides the append-only audit sink used by the trust and
// session services. Sinks are best-effort: recording never fails the flow
// that produced the event.
package audit
