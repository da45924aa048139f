// Package monitor defines the narrow contract the handshake driver
// (package auth) uses to report the ER_HOST_IS_BLOCKED side effect
// (§4.2). The real cluster monitor (e.g. a ColumnStore or Galera
// monitor module) lives outside this module per §1's scope; this
// package only ships the interface and a logging fallback so the core
// is exercisable standalone.
package monitor

import "log"

// Monitor receives out-of-band notifications from the backend core. Its
// only method today is the ER_HOST_IS_BLOCKED policy from §4.2: a
// backend that reports 1129 should be marked in maintenance so routing
// stops sending new sessions to it.
type Monitor interface {
	// SetMaintenance marks addr as unavailable for new routing
	// decisions, logging the actionable remediation named in §4.2
	// (a flush-hosts command) alongside reason.
	SetMaintenance(addr, reason string)
}

// LoggingMonitor is a Monitor that only logs; useful for standalone
// operation or tests where no real cluster monitor is wired in.
type LoggingMonitor struct{}

func (LoggingMonitor) SetMaintenance(addr, reason string) {
	log.Printf("[monitor] %s reported ER_HOST_IS_BLOCKED (%s); run: mysqladmin -h %s flush-hosts", addr, reason, addr)
}
