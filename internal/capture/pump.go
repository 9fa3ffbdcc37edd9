package capture

import (
	"errors"
	"io"
	"sync"
)

// captureBuffer collects bytes read off the device until the next chunk flush.
type captureBuffer struct {
	mu      sync.Mutex
	pending []byte
	total   int
}

func (b *captureBuffer) write(p []byte) {
	b.mu.Lock()
	b.pending = append(b.pending, p...)
	b.total += len(p)
	b.mu.Unlock()
}

// take returns and clears the pending bytes.
func (b *captureBuffer) take() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = nil
	return out
}

func (b *captureBuffer) buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// pumpCapture copies the stream into buf until EOF or a read error.
func pumpCapture(stream io.Reader, buf *captureBuffer, onErr func(error), done chan struct{}) {
	defer close(done)

	chunk := make([]byte, 4096)
	for {
		n, err := stream.Read(chunk)
		if n > 0 {
			buf.write(chunk[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && onErr != nil {
				onErr(err)
			}
			return
		}
	}
}
