// Package bytestream implements a bounded, single-producer/single-consumer
// in-memory FIFO with close and error flags, shared between a Writer and a
// Reader end.
package bytestream

// ByteStream is a bounded FIFO of bytes. Exactly one writer and one reader
// are expected to interact with an instance; no locking is performed.
type ByteStream struct {
	capacity uint64
	buf      []byte

	bytesPushed uint64
	bytesPopped uint64

	closed   bool
	hasError bool
}

// New constructs a ByteStream with the given capacity in bytes.
func New(capacity uint64) *ByteStream {
	return &ByteStream{capacity: capacity}
}

// Push appends at most AvailableCapacity() bytes of data (truncating from
// the tail of data if it doesn't fit); it never blocks and is a no-op once
// the stream is closed.
func (s *ByteStream) Push(data []byte) {
	if s.closed {
		return
	}
	can := s.AvailableCapacity()
	if can == 0 {
		return
	}
	n := uint64(len(data))
	if n > can {
		n = can
	}
	if n == 0 {
		return
	}
	s.buf = append(s.buf, data[:n]...)
	s.bytesPushed += n
}

// Close is idempotent; once called, further Push calls are no-ops.
func (s *ByteStream) Close() {
	s.closed = true
}

// SetError sets the sticky error flag, used to propagate a peer RST.
func (s *ByteStream) SetError() {
	s.hasError = true
}

// HasError reports the sticky error flag.
func (s *ByteStream) HasError() bool {
	return s.hasError
}

// Peek returns a view of the bytes currently buffered. Callers must re-peek
// after a Pop, since the returned slice may alias internal storage that Pop
// discards from.
func (s *ByteStream) Peek() []byte {
	return s.buf
}

// Pop discards up to min(n, BytesBuffered()) bytes from the front of the
// stream.
func (s *ByteStream) Pop(n uint64) {
	buffered := s.BytesBuffered()
	if n > buffered {
		n = buffered
	}
	if n == 0 {
		return
	}
	s.buf = s.buf[n:]
	s.bytesPopped += n
}

// AvailableCapacity returns how many more bytes can currently be pushed.
func (s *ByteStream) AvailableCapacity() uint64 {
	return s.capacity - s.BytesBuffered()
}

// BytesBuffered returns bytesPushed - bytesPopped.
func (s *ByteStream) BytesBuffered() uint64 {
	return s.bytesPushed - s.bytesPopped
}

// IsClosed reports whether Close has been called.
func (s *ByteStream) IsClosed() bool {
	return s.closed
}

// IsFinished reports whether the stream is closed and fully drained.
func (s *ByteStream) IsFinished() bool {
	return s.closed && s.BytesBuffered() == 0
}

// BytesPushed returns the total number of bytes ever accepted by Push.
func (s *ByteStream) BytesPushed() uint64 {
	return s.bytesPushed
}

// BytesPopped returns the total number of bytes ever discarded by Pop.
func (s *ByteStream) BytesPopped() uint64 {
	return s.bytesPopped
}

// Capacity returns the stream's fixed capacity.
func (s *ByteStream) Capacity() uint64 {
	return s.capacity
}

// Read drains up to len(p) bytes and returns how many were copied; once the
// stream is finished it returns 0. It returns no error value and does not
// implement io.Reader; pkg/socket maps a finished stream to io.EOF.
func (s *ByteStream) Read(p []byte) int {
	avail := s.Peek()
	n := copy(p, avail)
	s.Pop(uint64(n))
	return n
}
