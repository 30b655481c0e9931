package rocket

import (
	"fmt"
	"io"
)

// WriteBatcher coalesces outbound frames produced during one event-loop
// iteration into a single socket write (§4.5). Enqueue appends to an
// internal list; Flush, invoked once per event-loop iteration by
// ConnectionCore, concatenates every queued buffer and issues one write.
// Intra-iteration enqueue order is preserved, and because each
// StreamSubscriber only ever enqueues from the single owning goroutine,
// writes never reorder frames belonging to the same stream.
type WriteBatcher struct {
	w         io.Writer
	pending   [][]byte
	onFlushed func(frameCount int)
}

// NewWriteBatcher creates a batcher writing to w. onFlushed, if non-nil, is
// invoked after each successful Flush with the number of frames coalesced
// into that write (used to feed the rocket_write_batch_frames histogram).
func NewWriteBatcher(w io.Writer, onFlushed func(frameCount int)) *WriteBatcher {
	return &WriteBatcher{w: w, onFlushed: onFlushed}
}

// Enqueue appends buf (a fully-encoded frame) to the pending batch.
func (b *WriteBatcher) Enqueue(buf []byte) {
	b.pending = append(b.pending, buf)
}

// Pending reports whether any frames are queued but not yet flushed — part
// of ConnectionCore.isBusy's "write-loop callback is pending" condition.
func (b *WriteBatcher) Pending() bool {
	return len(b.pending) > 0
}

// Flush concatenates every queued buffer into a single write. On a partial
// or failed write it returns an error annotated with the number of bytes
// actually written, per §4.5's guarantee that write failure closes the
// connection with CONNECTION_ERROR carrying that detail; the caller
// (ConnectionCore) is responsible for translating it.
func (b *WriteBatcher) Flush() error {
	if len(b.pending) == 0 {
		return nil
	}
	n := len(b.pending)
	total := 0
	for _, p := range b.pending {
		total += len(p)
	}
	combined := make([]byte, 0, total)
	for _, p := range b.pending {
		combined = append(combined, p...)
	}
	b.pending = b.pending[:0]

	written, err := b.w.Write(combined)
	if err != nil {
		return fmt.Errorf("write batcher: wrote %d of %d bytes: %w", written, total, err)
	}
	if written != total {
		return fmt.Errorf("write batcher: short write %d of %d bytes", written, total)
	}
	if b.onFlushed != nil {
		b.onFlushed(n)
	}
	return nil
}

// Discard drops all pending buffers without writing them, used when the
// connection is closing abruptly and further writes would be pointless.
func (b *WriteBatcher) Discard() {
	b.pending = b.pending[:0]
}
