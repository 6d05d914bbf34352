package websocket

import (
	"errors"
	"sync"
	"time"
)

// MockConnection implements Connection for testing. Inbound frames are
// fed through a channel; written frames are captured for assertions.
type MockConnection struct {
	mu       sync.Mutex
	written  [][]byte
	inbound  chan []byte
	closed   bool
	writeErr error
}

// NewMockConnection creates a mock connection
func NewMockConnection() *MockConnection {
	return &MockConnection{
		inbound: make(chan []byte, 16),
	}
}

// Feed queues an inbound frame for ReadMessage to return
func (m *MockConnection) Feed(data []byte) {
	m.inbound <- data
}

// CloseInbound makes the next ReadMessage return an error, ending the
// read pump the way a peer disconnect would
func (m *MockConnection) CloseInbound() {
	close(m.inbound)
}

// Written returns a copy of all frames written so far
func (m *MockConnection) Written() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.written))
	copy(out, m.written)
	return out
}

// SetWriteError makes subsequent writes fail
func (m *MockConnection) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

func (m *MockConnection) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	if m.closed {
		return errors.New("connection closed")
	}
	// Control frames carry no payload worth asserting on
	if len(data) > 0 {
		buf := make([]byte, len(data))
		copy(buf, data)
		m.written = append(m.written, buf)
	}
	return nil
}

func (m *MockConnection) ReadMessage() (int, []byte, error) {
	data, ok := <-m.inbound
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return 1, data, nil
}

func (m *MockConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockConnection) SetReadDeadline(t time.Time) error  { return nil }
func (m *MockConnection) SetWriteDeadline(t time.Time) error { return nil }
func (m *MockConnection) SetReadLimit(limit int64)           {}
func (m *MockConnection) SetPongHandler(h func(string) error) {}
func (m *MockConnection) RemoteAddr() string                 { return "mock:0" }
