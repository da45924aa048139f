package backend

// Routable reports whether this connection's owning session is still in
// a state that may receive routed replies, mirroring the original
// source's session_ok_to_route check (§4.5). Package upstream's Adapter
// enforces the same rule on every forward; this method exists so
// callers (e.g. the pool) can decide whether to hand out a connection
// without attempting a forward first.
func (c *Connection) Routable() bool {
	if c.adapter == nil {
		return false
	}
	return c.adapter.Routable()
}
