package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roomwire/roomwire/internal/metrics"
	"github.com/roomwire/roomwire/internal/rooms"
)

// fakeChannel is an in-memory Channel: tests push inbound messages on in and
// observe outbound deliveries on out.
type fakeChannel struct {
	in  chan []byte
	out chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	mu           sync.Mutex
	policyCode   int
	policyReason string
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeChannel) Send(message []byte) error {
	select {
	case <-c.closed:
		return errors.New("channel closed")
	case c.out <- message:
		return nil
	}
}

func (c *fakeChannel) Receive() ([]byte, bool) {
	select {
	case data := <-c.in:
		return data, true
	case <-c.closed:
		return nil, false
	}
}

func (c *fakeChannel) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *fakeChannel) closeWith(code int, reason string) {
	c.mu.Lock()
	c.policyCode = code
	c.policyReason = reason
	c.mu.Unlock()
	c.Close()
}

func (c *fakeChannel) closeCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policyCode
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type routerFixture struct {
	reg *rooms.Registry
	m   *metrics.Metrics
	rt  *Router
}

func newRouterFixture(maxMessagesPerSecond int) *routerFixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	reg := rooms.NewRegistry(logger, m)
	return &routerFixture{
		reg: reg,
		m:   m,
		rt:  NewRouter(reg, logger, m, maxMessagesPerSecond),
	}
}

type session struct {
	ch   *fakeChannel
	done chan struct{}
}

func (f *routerFixture) connect(roomID, clientID string) *session {
	s := &session{ch: newFakeChannel(), done: make(chan struct{})}
	go func() {
		f.rt.HandleConnection(s.ch, roomID, clientID)
		close(s.done)
	}()
	return s
}

func (s *session) disconnect(t *testing.T) {
	t.Helper()
	s.ch.Close()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after disconnect")
	}
}

func (s *session) send(t *testing.T, message string) {
	t.Helper()
	select {
	case s.ch.in <- []byte(message):
	case <-time.After(2 * time.Second):
		t.Fatal("timed out pushing inbound message")
	}
}

func recvEnvelope(t *testing.T, s *session) Envelope {
	t.Helper()
	select {
	case data := <-s.ch.out:
		env, err := ParseEnvelope(data)
		if err != nil {
			t.Fatalf("malformed outbound message %s: %v", data, err)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound message")
		return Envelope{}
	}
}

func expectNoEnvelope(t *testing.T, s *session) {
	t.Helper()
	select {
	case data := <-s.ch.out:
		t.Fatalf("unexpected outbound message %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func expectExistingUsers(t *testing.T, s *session, want ...string) {
	t.Helper()
	env := recvEnvelope(t, s)
	if env.Type != TypeExistingUsers {
		t.Fatalf("type = %q, want %q", env.Type, TypeExistingUsers)
	}
	var p existingUsersPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if len(p.Users) != len(want) {
		t.Fatalf("users = %v, want %v", p.Users, want)
	}
	for i := range want {
		if p.Users[i] != want[i] {
			t.Fatalf("users = %v, want %v", p.Users, want)
		}
	}
}

func expectMembership(t *testing.T, s *session, wantType, wantClient string) {
	t.Helper()
	env := recvEnvelope(t, s)
	if env.Type != wantType {
		t.Fatalf("type = %q, want %q", env.Type, wantType)
	}
	var p memberPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.ClientID != wantClient {
		t.Fatalf("clientId = %q, want %q", p.ClientID, wantClient)
	}
}

func waitForCount(t *testing.T, m *metrics.Metrics, event string, want uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Get(event) >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("counter %s = %d, want %d", event, m.Get(event), want)
}

func TestRouter_JoinAnnouncements(t *testing.T) {
	f := newRouterFixture(0)

	alice := f.connect("r1", "alice")
	expectExistingUsers(t, alice)

	bob := f.connect("r1", "bob")
	expectExistingUsers(t, bob, "alice")
	expectMembership(t, alice, TypeUserJoined, "bob")

	carol := f.connect("r1", "carol")
	expectExistingUsers(t, carol, "alice", "bob")
	expectMembership(t, alice, TypeUserJoined, "carol")
	expectMembership(t, bob, TypeUserJoined, "carol")

	alice.disconnect(t)
	bob.disconnect(t)
	carol.disconnect(t)
}

func TestRouter_TargetedForwardingInjectsSender(t *testing.T) {
	f := newRouterFixture(0)

	alice := f.connect("r1", "alice")
	expectExistingUsers(t, alice)
	bob := f.connect("r1", "bob")
	expectExistingUsers(t, bob, "alice")
	expectMembership(t, alice, TypeUserJoined, "bob")
	carol := f.connect("r1", "carol")
	expectExistingUsers(t, carol, "alice", "bob")
	expectMembership(t, alice, TypeUserJoined, "carol")
	expectMembership(t, bob, TypeUserJoined, "carol")

	bob.send(t, `{"type":"offer","target":"alice","sender":"forged","payload":{"sdp":"v=0"}}`)

	env := recvEnvelope(t, alice)
	if env.Type != "offer" {
		t.Fatalf("type = %q", env.Type)
	}
	if env.Sender != "bob" {
		t.Fatalf("sender = %q, want the connection identity, never the client's claim", env.Sender)
	}
	if string(env.Payload) != `{"sdp":"v=0"}` {
		t.Fatalf("payload = %s", env.Payload)
	}

	// Targeted messages go to the target alone.
	expectNoEnvelope(t, carol)
	expectNoEnvelope(t, bob)

	alice.disconnect(t)
	bob.disconnect(t)
	carol.disconnect(t)
}

func TestRouter_MissingTargetDroppedSilently(t *testing.T) {
	f := newRouterFixture(0)

	alice := f.connect("r1", "alice")
	expectExistingUsers(t, alice)
	bob := f.connect("r1", "bob")
	expectExistingUsers(t, bob, "alice")
	expectMembership(t, alice, TypeUserJoined, "bob")

	alice.send(t, `{"type":"offer","target":"ghost"}`)
	waitForCount(t, f.m, metrics.SignalDropNoTarget, 1)
	expectNoEnvelope(t, alice)
	expectNoEnvelope(t, bob)

	// The sender's connection is unaffected; later messages still route.
	alice.send(t, `{"type":"offer","target":"bob"}`)
	env := recvEnvelope(t, bob)
	if env.Type != "offer" || env.Sender != "alice" {
		t.Fatalf("envelope = %+v", env)
	}

	alice.disconnect(t)
	bob.disconnect(t)
}

func TestRouter_UntargetedDropped(t *testing.T) {
	f := newRouterFixture(0)

	alice := f.connect("r1", "alice")
	expectExistingUsers(t, alice)
	bob := f.connect("r1", "bob")
	expectExistingUsers(t, bob, "alice")
	expectMembership(t, alice, TypeUserJoined, "bob")

	alice.send(t, `{"type":"offer","payload":{"sdp":"v=0"}}`)
	waitForCount(t, f.m, metrics.SignalDropUntargeted, 1)
	expectNoEnvelope(t, bob)

	alice.disconnect(t)
	bob.disconnect(t)
}

func TestRouter_MalformedMessageDropsMessageNotSession(t *testing.T) {
	f := newRouterFixture(0)

	alice := f.connect("r1", "alice")
	expectExistingUsers(t, alice)
	bob := f.connect("r1", "bob")
	expectExistingUsers(t, bob, "alice")
	expectMembership(t, alice, TypeUserJoined, "bob")

	alice.send(t, `not json at all`)
	alice.send(t, `{"target":"bob"}`)
	waitForCount(t, f.m, metrics.DecodeError, 2)

	alice.send(t, `{"type":"offer","target":"bob"}`)
	env := recvEnvelope(t, bob)
	if env.Type != "offer" || env.Sender != "alice" {
		t.Fatalf("envelope = %+v", env)
	}

	alice.disconnect(t)
	bob.disconnect(t)
}

func TestRouter_DisconnectAnnouncesDeparture(t *testing.T) {
	f := newRouterFixture(0)

	alice := f.connect("r1", "alice")
	expectExistingUsers(t, alice)
	bob := f.connect("r1", "bob")
	expectExistingUsers(t, bob, "alice")
	expectMembership(t, alice, TypeUserJoined, "bob")

	alice.disconnect(t)
	expectMembership(t, bob, TypeUserLeft, "alice")

	if _, ok := f.reg.Lookup("r1", "alice"); ok {
		t.Fatal("alice should be gone from the registry")
	}
	// Messages to the departed peer vanish without disturbing the sender.
	bob.send(t, `{"type":"offer","target":"alice"}`)
	waitForCount(t, f.m, metrics.SignalDropNoTarget, 1)

	bob.disconnect(t)
	if f.reg.RoomCount() != 0 {
		t.Fatalf("room count = %d, want 0 after the last departure", f.reg.RoomCount())
	}

	// A rejoin under the same room ID starts from a clean slate.
	again := f.connect("r1", "dave")
	expectExistingUsers(t, again)
	again.disconnect(t)
}

func TestRouter_DuplicateClientIDSupersedesConnection(t *testing.T) {
	f := newRouterFixture(0)

	bob := f.connect("r1", "bob")
	expectExistingUsers(t, bob)

	first := f.connect("r1", "alice")
	expectExistingUsers(t, first, "bob")
	expectMembership(t, bob, TypeUserJoined, "alice")

	second := f.connect("r1", "alice")
	expectExistingUsers(t, second, "bob")
	expectMembership(t, bob, TypeUserJoined, "alice")

	// The displaced session ends, and its cleanup must not announce a
	// departure or evict the replacement.
	select {
	case <-first.done:
	case <-time.After(2 * time.Second):
		t.Fatal("superseded session did not end")
	}
	if got := f.m.Get(metrics.ClientSuperseded); got != 1 {
		t.Fatalf("superseded count = %d, want 1", got)
	}
	expectNoEnvelope(t, bob)
	if _, ok := f.reg.Lookup("r1", "alice"); !ok {
		t.Fatal("replacement connection should hold the registry slot")
	}

	bob.send(t, `{"type":"offer","target":"alice"}`)
	env := recvEnvelope(t, second)
	if env.Type != "offer" || env.Sender != "bob" {
		t.Fatalf("envelope = %+v", env)
	}

	second.disconnect(t)
	expectMembership(t, bob, TypeUserLeft, "alice")
	bob.disconnect(t)
}

func TestRouter_RateLimitClosesConnection(t *testing.T) {
	f := newRouterFixture(2)
	// Freeze time so the bucket never refills.
	f.rt.clock = fixedClock{t: time.Unix(1700000000, 0)}

	alice := f.connect("r1", "alice")
	expectExistingUsers(t, alice)
	bob := f.connect("r1", "bob")
	expectExistingUsers(t, bob, "alice")
	expectMembership(t, alice, TypeUserJoined, "bob")

	for i := 0; i < 2; i++ {
		alice.send(t, fmt.Sprintf(`{"type":"offer","target":"bob","payload":%d}`, i))
		recvEnvelope(t, bob)
	}

	alice.send(t, `{"type":"offer","target":"bob","payload":2}`)
	select {
	case <-alice.done:
	case <-time.After(2 * time.Second):
		t.Fatal("rate-limited session did not end")
	}
	if got := alice.ch.closeCode(); got != websocket.ClosePolicyViolation {
		t.Fatalf("close code = %d, want %d", got, websocket.ClosePolicyViolation)
	}
	if got := f.m.Get(metrics.RateLimited); got != 1 {
		t.Fatalf("rate limited count = %d, want 1", got)
	}

	// The over-limit message is discarded, and the departure is announced.
	expectMembership(t, bob, TypeUserLeft, "alice")
	expectNoEnvelope(t, bob)

	bob.disconnect(t)
}

func TestRouter_MessagesDoNotCrossRooms(t *testing.T) {
	f := newRouterFixture(0)

	alice := f.connect("r1", "alice")
	expectExistingUsers(t, alice)
	// Same client ID in a different room is a distinct membership.
	other := f.connect("r2", "alice")
	expectExistingUsers(t, other)

	bob := f.connect("r2", "bob")
	expectExistingUsers(t, bob, "alice")
	expectMembership(t, other, TypeUserJoined, "bob")
	expectNoEnvelope(t, alice)

	bob.send(t, `{"type":"offer","target":"alice"}`)
	env := recvEnvelope(t, other)
	if env.Sender != "bob" {
		t.Fatalf("envelope = %+v", env)
	}
	expectNoEnvelope(t, alice)

	alice.disconnect(t)
	other.disconnect(t)
	bob.disconnect(t)
}
