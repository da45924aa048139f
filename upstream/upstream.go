// Package upstream implements the router upstream adapter (§4.5): once
// the reply tracker marks a packet or an accumulated reply as complete,
// the adapter forwards it to a router component and reports permanent
// versus transient failures, refusing to route when the owning session
// is no longer in a routable state.
package upstream

import (
	"github.com/mevdschee/mxbackend/reply"
	"github.com/mevdschee/mxbackend/session"
)

// ErrorKind classifies a failure reported to Upstream.HandleError, per
// §7's propagation policy.
type ErrorKind int

const (
	// Transient failures may be retried by the upstream without
	// necessarily stopping the session.
	Transient ErrorKind = iota
	// Permanent failures mean the backend connection cannot continue;
	// if the upstream declines to recover, the session must move to
	// STOPPING.
	Permanent
)

func (k ErrorKind) String() string {
	if k == Permanent {
		return "PERMANENT"
	}
	return "TRANSIENT"
}

// Upstream is the router-side collaborator a backend connection
// forwards completed replies to. It is implemented by the routing
// component this module treats as an external collaborator (§1).
type Upstream interface {
	// ClientReply forwards a fully framed backend reply upstream. route
	// identifies which backend produced it, for routers that fan in
	// multiple backend connections.
	ClientReply(buffer []byte, route string, r *reply.Reply) error
	// HandleError reports a failure. errBuf carries a synthesized or
	// forwarded ERR packet when one exists (nil for a bare hangup).
	// recovered reports whether the upstream was able to route around
	// the failure without stopping the session.
	HandleError(kind ErrorKind, errBuf []byte, r *reply.Reply) (recovered bool)
}

// Adapter implements the refusal rules of §4.5 in front of an Upstream,
// so package backend never has to reason about session state directly.
type Adapter struct {
	sess     session.Session
	upstream Upstream
	route    string
}

// NewAdapter binds an Upstream to the session it currently serves.
// route is a stable label (typically the backend address) attached to
// every forwarded reply.
func NewAdapter(sess session.Session, up Upstream, route string) *Adapter {
	return &Adapter{sess: sess, upstream: up, route: route}
}

// Rebind changes, in place, the session/upstream pair an Adapter
// forwards to. Package backend's pool-reuse path does not call it: it
// builds a fresh Adapter through Connection.BindUpstream.
func (a *Adapter) Rebind(sess session.Session, up Upstream, route string) {
	a.sess = sess
	a.upstream = up
	a.route = route
}

// Routable implements §4.5's refusal rule (also known as
// session_ok_to_route): routing is refused if the session is not
// STARTED, or its client socket is absent/not POLLING.
func (a *Adapter) Routable() bool {
	if a.sess == nil || a.upstream == nil {
		return false
	}
	if a.sess.State() != session.StateStarted {
		return false
	}
	return a.sess.ClientPollingState()
}

// ClientReply forwards buffer upstream if the session is still
// routable; otherwise it is dropped, matching §4.5's "buffer dropped"
// refusal.
func (a *Adapter) ClientReply(buffer []byte, r *reply.Reply) (routed bool, err error) {
	if !a.Routable() {
		return false, nil
	}
	if err := a.upstream.ClientReply(buffer, a.route, r); err != nil {
		return false, err
	}
	return true, nil
}

// HandleError reports a failure of the given kind. If the upstream
// cannot recover, the caller (package backend) must ensure the session
// moves to STOPPING; recovered reports the upstream's decision so the
// caller can act on it.
func (a *Adapter) HandleError(kind ErrorKind, errBuf []byte, r *reply.Reply) (recovered bool) {
	if a.upstream == nil {
		return false
	}
	return a.upstream.HandleError(kind, errBuf, r)
}
