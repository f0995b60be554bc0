package server

import (
	"errors"
	"fmt"

	"github.com/rs/xid"

	"github.com/gatesql/gatesql/internal/crypt"
	"github.com/gatesql/gatesql/internal/protocol"
)

// ErrPipelined is raised when a client sends request bytes while a
// response is still owed. The protocol is strictly one in-flight
// request per connection.
var ErrPipelined = errors.New("server: request received before previous response flushed")

type connState int

const (
	awaitLength connState = iota
	awaitHeader
	awaitPayload
	requestReady
	sending
)

// Conn is the per-client protocol state machine. It owns the receive
// and send accumulators and walks awaitLength -> awaitHeader ->
// awaitPayload -> requestReady -> sending -> reset for every
// request/response cycle. One Conn serves an unbounded sequence of
// cycles over its socket's lifetime.
//
// Conn never touches the socket; the serve loop feeds it bytes and
// drains its pending output, which keeps the machine testable with
// arbitrary chunkings.
type Conn struct {
	ID   string
	Peer string

	cipher *crypt.Cipher
	limits protocol.Limits

	recvBuf []byte
	sendBuf []byte

	state     connState
	headerLen int
	header    protocol.Header
	request   *protocol.Request
	action    string
}

// NewConn builds the state machine for one accepted socket.
func NewConn(peer string, cipher *crypt.Cipher, limits protocol.Limits) *Conn {
	return &Conn{
		ID:     xid.New().String(),
		Peer:   or(peer, "unknown"),
		cipher: cipher,
		limits: limits,
		state:  awaitLength,
	}
}

func or(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// Feed appends newly read socket bytes and advances the parse state as
// far as the buffered data allows. It reports true once a full request
// has been decrypted and decoded; any error is fatal to the connection.
// Partial frames are expected: the next Feed resumes where this one
// stopped, losing nothing.
func (c *Conn) Feed(data []byte) (bool, error) {
	if c.state == requestReady || c.state == sending {
		return false, ErrPipelined
	}
	c.recvBuf = append(c.recvBuf, data...)
	return c.advance()
}

func (c *Conn) advance() (bool, error) {
	if c.state == awaitLength {
		n, ok := protocol.DecodeHeaderLength(c.recvBuf)
		if !ok {
			return false, nil
		}
		c.headerLen = n
		c.state = awaitHeader
	}
	if c.state == awaitHeader {
		h, ok, err := protocol.DecodeHeader(c.recvBuf, c.headerLen, c.limits)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		c.header = h
		c.state = awaitPayload
	}
	if c.state == awaitPayload {
		ciphertext, ok := protocol.DecodePayload(c.recvBuf, c.headerLen, c.header.ContentLength)
		if !ok {
			return false, nil
		}
		c.recvBuf = c.recvBuf[protocol.FrameSize(c.headerLen, c.header.ContentLength):]

		plaintext, err := c.cipher.Decrypt(ciphertext)
		if err != nil {
			return false, err
		}
		req, err := protocol.DecodeRequest(plaintext)
		if err != nil {
			return false, err
		}
		c.request = &req
		c.action = req.Action
		c.state = requestReady
		return true, nil
	}
	return false, nil
}

// Request returns the parsed in-flight request, nil outside
// requestReady/sending.
func (c *Conn) Request() *protocol.Request {
	return c.request
}

// Action is the last dispatched action name, kept for logging even
// after the cycle resets.
func (c *Conn) Action() string {
	return c.action
}

// ResponseCreated reports whether the in-flight response has been
// serialized into the send buffer.
func (c *Conn) ResponseCreated() bool {
	return c.state == sending
}

// CreateResponse encrypts and frames resp into the send buffer. Only
// legal while a request is in flight.
func (c *Conn) CreateResponse(resp protocol.Response) error {
	if c.state != requestReady {
		return fmt.Errorf("server: response created in state %d", c.state)
	}
	plaintext, err := protocol.EncodeResponse(resp)
	if err != nil {
		return err
	}
	ciphertext, err := c.cipher.Encrypt(plaintext)
	if err != nil {
		return err
	}
	frame, err := protocol.EncodeFrame(protocol.NewHeader(len(ciphertext)), ciphertext, c.limits)
	if err != nil {
		return err
	}
	c.sendBuf = append(c.sendBuf, frame...)
	c.state = sending
	return nil
}

// Pending returns the unwritten tail of the send buffer.
func (c *Conn) Pending() []byte {
	return c.sendBuf
}

// Consume drops n written bytes from the send buffer. Once the buffer
// drains the per-cycle state resets and the next request may be parsed;
// bytes already received past the previous frame stay buffered.
func (c *Conn) Consume(n int) {
	c.sendBuf = c.sendBuf[n:]
	if c.state == sending && len(c.sendBuf) == 0 {
		c.reset()
	}
}

func (c *Conn) reset() {
	c.state = awaitLength
	c.headerLen = 0
	c.header = protocol.Header{}
	c.request = nil
	c.sendBuf = nil
}

// Resume re-runs the parser over bytes that arrived beyond the last
// frame, after a cycle reset.
func (c *Conn) Resume() (bool, error) {
	if c.state == requestReady || c.state == sending {
		return false, ErrPipelined
	}
	return c.advance()
}
