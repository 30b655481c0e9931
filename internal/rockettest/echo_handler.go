// Package rockettest provides a reference internal/rocket.Handler
// implementation reproducing the fixture grammar defined by Thrift's
// RocketTestServerHandler / ClientServerTestUtil.cpp: a small set of
// "data:" string prefixes a client can send to exercise the echo,
// application-error, and generated-stream paths of the connection core
// without any real RPC dispatch behind it. cmd/rocketd serves this handler;
// internal/rocket's own tests drive it directly.
package rockettest

import (
	"strconv"
	"strings"

	"github.com/outervation/rocketcore/internal/rocket"
)

const (
	prefixSleepMs      = "sleep_ms:"
	prefixError        = "error:"
	prefixMetadataEcho = "metadata_echo:"
	prefixDataEcho     = "data_echo:"
	prefixGenerate     = "generate:"

	defaultGenerateCount = 500
)

// EchoHandler implements internal/rocket.Handler. It is intentionally
// synchronous and single-threaded: every call happens on the owning
// ConnectionCore's event-loop goroutine, and every reply is produced before
// the handler method returns, so it never needs ConnectionCore.Post.
type EchoHandler struct{}

var _ rocket.Handler = EchoHandler{}

// HandleSetupFrame accepts every SETUP unconditionally; this fixture
// handler has no connection-parameter negotiation of its own.
func (EchoHandler) HandleSetupFrame(f rocket.SetupFrame, ctx *rocket.FrameContext) {}

// HandleRequestResponseFrame implements the error:/metadata_echo:/data_echo:
// grammar from makeTestResponse, falling back to echoing the payload
// verbatim when no prefix matches.
func (EchoHandler) HandleRequestResponseFrame(f rocket.RequestResponseFrame, ctx *rocket.FrameContext) {
	data := string(f.Payload.Data)

	// error:application maps to APPLICATION_ERROR per spec.md §9's resolved
	// Open Question; other error:* forms are left unspecified there, so
	// this fixture treats every error: prefix the same way rather than
	// silently hanging.
	if _, ok := cutPrefix(data, prefixError); ok {
		ctx.SendError(rocket.NewStreamError(uint32(f.StreamID), rocket.ErrorCodeApplicationError, "Application error occurred"))
		return
	}

	resp := makeTestResponse(f.Payload)
	ctx.SendPayload(resp, rocket.FlagNext|rocket.FlagComplete)
}

// HandleRequestFnfFrame never replies, per the fire-and-forget contract.
func (EchoHandler) HandleRequestFnfFrame(f rocket.RequestFnfFrame, ctx *rocket.FrameContext) {}

// HandleRequestStreamFrame implements the generate:N / error:application
// grammar from makeTestFlowable and RsocketTestServerResponder.handleRequestStream.
func (EchoHandler) HandleRequestStreamFrame(f rocket.RequestStreamFrame, sub *rocket.StreamSubscriber) {
	data := string(f.Payload.Data)

	if _, ok := cutPrefix(data, prefixError); ok {
		sub.OnSubscribe(noopSubscription{})
		sub.OnError(rocket.NewStreamError(uint32(f.StreamID), rocket.ErrorCodeApplicationError, "Application error occurred"))
		return
	}

	n := defaultGenerateCount
	if rest, ok := cutPrefix(data, prefixGenerate); ok {
		if parsed, err := strconv.Atoi(rest); err == nil && parsed >= 0 {
			n = parsed
		}
	}
	gen := &generateSource{sub: sub, total: n}
	sub.OnSubscribe(gen)
}

// makeTestResponse reproduces makeTestResponse's metadata_echo:/data_echo:
// handling, falling back to a verbatim echo of the request payload.
func makeTestResponse(req rocket.Payload) rocket.Payload {
	data := string(req.Data)

	if rest, ok := cutPrefix(data, prefixMetadataEcho); ok {
		return rocket.Payload{Metadata: []byte(rest), Data: req.Data}
	}
	if rest, ok := cutPrefix(data, prefixDataEcho); ok {
		return rocket.Payload{Metadata: req.Metadata, Data: []byte(rest)}
	}
	// sleep_ms: is reproduced for fidelity with the original fixture
	// grammar but deliberately not acted on: a core that never blocks has
	// nothing to sleep on, and no test in this repository depends on
	// timing, so the prefix is recognized-but-inert rather than removed.
	if _, ok := cutPrefix(data, prefixSleepMs); ok {
		return req
	}
	return req
}

func cutPrefix(s, prefix string) (string, bool) {
	if !strings.HasPrefix(s, prefix) {
		return "", false
	}
	return s[len(prefix):], true
}

// noopSubscription satisfies rocket.Subscription for the error:application
// stream path, where there's nothing to actually request or cancel before
// OnError fires immediately.
type noopSubscription struct{}

func (noopSubscription) Request(n uint32) {}
func (noopSubscription) Cancel()          {}

// generateSource is the reference rocket.Subscription backing "generate:N":
// on each Request(n) it synchronously pushes up to n remaining items,
// exactly like the original's `while (requested-- > 0 && i < n)` loop, and
// completes once the last item has been pushed.
type generateSource struct {
	sub       *rocket.StreamSubscriber
	total     int
	produced  int
	cancelled bool
}

func (g *generateSource) Request(n uint32) {
	if g.cancelled {
		return
	}
	for ; n > 0 && g.produced < g.total; n-- {
		i := g.produced
		g.sub.OnNext(rocket.Payload{
			Metadata: []byte("metadata:" + strconv.Itoa(i)),
			Data:     []byte(strconv.Itoa(i)),
		})
		g.produced++
	}
	if g.produced == g.total {
		g.sub.OnComplete()
	}
}

func (g *generateSource) Cancel() {
	g.cancelled = true
}
