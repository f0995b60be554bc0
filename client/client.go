// Package client is the Go client for the gatesql wire protocol. It is
// deliberately blocking: one request in flight per connection, exactly
// as the server enforces.
package client

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gatesql/gatesql/internal/crypt"
	"github.com/gatesql/gatesql/internal/protocol"
)

// ErrClosed is returned once the transport has failed; the client must
// be discarded and a new one dialed.
var ErrClosed = errors.New("client: connection closed")

// Client holds one gateway connection.
type Client struct {
	sock   net.Conn
	cipher *crypt.Cipher
	limits protocol.Limits
	dead   bool
}

// Dial connects to a gateway. The cipher must be built from the same
// key bundle the server uses.
func Dial(addr string, cipher *crypt.Cipher, timeout time.Duration) (*Client, error) {
	sock, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	return &Client{sock: sock, cipher: cipher, limits: protocol.DefaultLimits()}, nil
}

// Do sends one request and blocks for its response. Any transport or
// frame error is fatal: the connection is closed and ErrClosed wraps
// the cause.
func (c *Client) Do(action string, value map[string]any) (protocol.Response, error) {
	if c.dead {
		return protocol.Response{}, ErrClosed
	}
	resp, err := c.roundTrip(action, value)
	if err != nil {
		c.Close()
		return protocol.Response{}, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return resp, nil
}

func (c *Client) roundTrip(action string, value map[string]any) (protocol.Response, error) {
	plaintext, err := protocol.EncodeRequest(protocol.Request{Action: action, Value: value})
	if err != nil {
		return protocol.Response{}, err
	}
	ciphertext, err := c.cipher.Encrypt(plaintext)
	if err != nil {
		return protocol.Response{}, err
	}
	frame, err := protocol.EncodeFrame(protocol.NewHeader(len(ciphertext)), ciphertext, c.limits)
	if err != nil {
		return protocol.Response{}, err
	}
	if _, err := c.sock.Write(frame); err != nil {
		return protocol.Response{}, err
	}
	return c.readResponse()
}

func (c *Client) readResponse() (protocol.Response, error) {
	var prefix [2]byte
	if _, err := io.ReadFull(c.sock, prefix[:]); err != nil {
		return protocol.Response{}, err
	}
	headerLen := int(binary.BigEndian.Uint16(prefix[:]))
	if headerLen > c.limits.MaxHeaderBytes {
		return protocol.Response{}, protocol.ErrHeaderTooLarge
	}

	buf := make([]byte, 2+headerLen)
	copy(buf, prefix[:])
	if _, err := io.ReadFull(c.sock, buf[2:]); err != nil {
		return protocol.Response{}, err
	}
	header, _, err := protocol.DecodeHeader(buf, headerLen, c.limits)
	if err != nil {
		return protocol.Response{}, err
	}

	ciphertext := make([]byte, header.ContentLength)
	if _, err := io.ReadFull(c.sock, ciphertext); err != nil {
		return protocol.Response{}, err
	}
	plaintext, err := c.cipher.Decrypt(ciphertext)
	if err != nil {
		return protocol.Response{}, err
	}
	return protocol.DecodeResponse(plaintext)
}

// Close tears the connection down. Safe to call repeatedly.
func (c *Client) Close() error {
	if c.dead {
		return nil
	}
	c.dead = true
	return c.sock.Close()
}
