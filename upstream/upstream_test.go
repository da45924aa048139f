package upstream

import (
	"errors"
	"testing"

	"github.com/mevdschee/mxbackend/reply"
	"github.com/mevdschee/mxbackend/session"
)

type fakeSession struct {
	state   session.State
	polling bool
}

func (s *fakeSession) State() session.State        { return s.state }
func (s *fakeSession) ClientPollingState() bool     { return s.polling }

type fakeUpstream struct {
	replies   [][]byte
	lastKind  ErrorKind
	lastErr   []byte
	recovered bool
	failWrite error
}

func (u *fakeUpstream) ClientReply(buffer []byte, route string, r *reply.Reply) error {
	if u.failWrite != nil {
		return u.failWrite
	}
	u.replies = append(u.replies, buffer)
	return nil
}

func (u *fakeUpstream) HandleError(kind ErrorKind, errBuf []byte, r *reply.Reply) bool {
	u.lastKind = kind
	u.lastErr = errBuf
	return u.recovered
}

func TestAdapter_ClientReply_RoutesWhenStarted(t *testing.T) {
	sess := &fakeSession{state: session.StateStarted, polling: true}
	up := &fakeUpstream{}
	a := NewAdapter(sess, up, "10.0.0.1:3306")

	routed, err := a.ClientReply([]byte("hello"), &reply.Reply{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !routed {
		t.Fatal("expected reply to be routed")
	}
	if len(up.replies) != 1 {
		t.Fatalf("expected 1 forwarded reply, got %d", len(up.replies))
	}
}

func TestAdapter_ClientReply_RefusedWhenNotStarted(t *testing.T) {
	sess := &fakeSession{state: session.StateStopping, polling: true}
	up := &fakeUpstream{}
	a := NewAdapter(sess, up, "10.0.0.1:3306")

	routed, err := a.ClientReply([]byte("hello"), &reply.Reply{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if routed {
		t.Fatal("expected reply to be refused")
	}
	if len(up.replies) != 0 {
		t.Fatalf("expected no forwarded replies, got %d", len(up.replies))
	}
}

func TestAdapter_ClientReply_RefusedWhenNotPolling(t *testing.T) {
	sess := &fakeSession{state: session.StateStarted, polling: false}
	up := &fakeUpstream{}
	a := NewAdapter(sess, up, "10.0.0.1:3306")

	routed, _ := a.ClientReply([]byte("hello"), &reply.Reply{})
	if routed {
		t.Fatal("expected reply to be refused when client socket is not polling")
	}
}

func TestAdapter_HandleError_PropagatesKindAndRecovery(t *testing.T) {
	sess := &fakeSession{state: session.StateStarted, polling: true}
	up := &fakeUpstream{recovered: true}
	a := NewAdapter(sess, up, "10.0.0.1:3306")

	recovered := a.HandleError(Permanent, []byte{0xff}, &reply.Reply{})
	if !recovered {
		t.Fatal("expected recovered=true to propagate from upstream")
	}
	if up.lastKind != Permanent {
		t.Errorf("kind = %s, want PERMANENT", up.lastKind)
	}
}

func TestAdapter_Rebind(t *testing.T) {
	sess1 := &fakeSession{state: session.StateStopping}
	sess2 := &fakeSession{state: session.StateStarted, polling: true}
	up := &fakeUpstream{}
	a := NewAdapter(sess1, up, "old:3306")

	routed, _ := a.ClientReply([]byte("x"), &reply.Reply{})
	if routed {
		t.Fatal("expected refusal before rebind")
	}

	a.Rebind(sess2, up, "new:3306")
	routed, _ = a.ClientReply([]byte("x"), &reply.Reply{})
	if !routed {
		t.Fatal("expected reply to route after rebind to a started session")
	}
}

func TestAdapter_ClientReply_PropagatesWriteError(t *testing.T) {
	sess := &fakeSession{state: session.StateStarted, polling: true}
	up := &fakeUpstream{failWrite: errors.New("boom")}
	a := NewAdapter(sess, up, "10.0.0.1:3306")

	_, err := a.ClientReply([]byte("x"), &reply.Reply{})
	if err == nil {
		t.Fatal("expected write error to propagate")
	}
}
