package signaling

import (
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/roomwire/roomwire/internal/metrics"
	"github.com/roomwire/roomwire/internal/ratelimit"
	"github.com/roomwire/roomwire/internal/rooms"
)

// Router runs the per-connection signaling loop: join protocol, envelope
// forwarding, leave protocol. One connection maps to one HandleConnection
// call on one goroutine; connections only meet each other inside the room
// registry.
type Router struct {
	log *slog.Logger
	m   *metrics.Metrics
	reg *rooms.Registry

	// MaxMessagesPerSecond caps inbound envelopes per connection; <= 0
	// disables the limit. The clock is swappable for tests.
	maxMessagesPerSecond int
	clock                ratelimit.Clock
}

func NewRouter(reg *rooms.Registry, logger *slog.Logger, m *metrics.Metrics, maxMessagesPerSecond int) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Router{
		log:                  logger,
		m:                    m,
		reg:                  reg,
		maxMessagesPerSecond: maxMessagesPerSecond,
		clock:                ratelimit.RealClock{},
	}
}

// HandleConnection drives ch through the full signaling session: it joins
// the registry, announces the arrival, forwards targeted envelopes until the
// channel disconnects, then leaves and announces the departure. It returns
// when the session is over; cleanup runs exactly once per connection.
func (rt *Router) HandleConnection(ch Channel, roomID, clientID string) {
	existing, prev := rt.reg.Join(roomID, clientID, ch)
	if prev != nil {
		// Duplicate client ID: the new connection silently replaces the old
		// mapping (matching permissive join semantics); close the superseded
		// socket so it doesn't linger half-attached.
		rt.m.Inc(metrics.ClientSuperseded)
		rt.log.Info("client superseded by reconnect", "room", roomID, "client", clientID)
		prev.Close()
	}

	defer func() {
		// LeaveSender is identity-guarded: if this connection was itself
		// superseded, the registry entry now belongs to the replacement and
		// neither the removal nor the departure announcement happens here.
		if rt.reg.LeaveSender(roomID, clientID, ch) {
			rt.reg.BroadcastExcept(roomID, clientID, userLeftMessage(clientID))
			rt.log.Info("client left room", "room", roomID, "client", clientID)
		}
		ch.Close()
	}()

	if err := ch.Send(existingUsersMessage(existing)); err != nil {
		rt.m.Inc(metrics.SendFailure)
		return
	}
	rt.reg.BroadcastExcept(roomID, clientID, userJoinedMessage(clientID))
	rt.log.Info("client joined room", "room", roomID, "client", clientID, "peers", len(existing))

	var limiter *ratelimit.TokenBucket
	if rt.maxMessagesPerSecond > 0 {
		limiter = ratelimit.NewTokenBucket(rt.clock, int64(rt.maxMessagesPerSecond), int64(rt.maxMessagesPerSecond))
	}

	for {
		data, ok := ch.Receive()
		if !ok {
			return
		}

		// Check the rate limit after reading so bytes already buffered by the
		// kernel are consumed; closing with unread data risks an abortive
		// close that hides the close code from the client.
		if limiter != nil && !limiter.Allow(1) {
			rt.m.Inc(metrics.RateLimited)
			if pc, ok := ch.(policyCloser); ok {
				pc.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			}
			return
		}

		env, err := ParseEnvelope(data)
		if err != nil {
			// Malformed input costs the message, not the session.
			rt.m.Inc(metrics.DecodeError)
			rt.log.Debug("dropping malformed envelope", "room", roomID, "client", clientID, "err", err)
			continue
		}

		if env.Target == "" {
			// Only targeted client messages are relayed; join/leave fan-out is
			// system-originated.
			rt.m.Inc(metrics.SignalDropUntargeted)
			continue
		}

		if rt.reg.SendTo(roomID, env.Target, forwardedMessage(env, clientID)) {
			rt.m.Inc(metrics.SignalForwarded)
		} else {
			rt.m.Inc(metrics.SignalDropNoTarget)
		}
	}
}

type policyCloser interface {
	closeWith(code int, reason string)
}
