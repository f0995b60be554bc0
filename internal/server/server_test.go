package server

import (
	"context"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/gatesql/gatesql/client"
	"github.com/gatesql/gatesql/internal/crypt"
	"github.com/gatesql/gatesql/internal/dispatch"
	"github.com/gatesql/gatesql/internal/protocol"
	"github.com/gatesql/gatesql/internal/registry"
)

type stubDispatcher struct {
	fn func(req protocol.Request) protocol.Response
}

func (s stubDispatcher) Dispatch(_ context.Context, req protocol.Request) protocol.Response {
	return s.fn(req)
}

func startServer(t *testing.T, cipher *crypt.Cipher, d Dispatcher) *Server {
	t.Helper()
	srv := New(Options{Listen: "127.0.0.1:0"}, cipher, d)
	if err := srv.Start(); err != nil {
		t.Fatalf("server start: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv
}

func startGateway(t *testing.T) (*Server, *crypt.Cipher, string) {
	t.Helper()
	cipher := newTestCipher(t)
	reg := registry.New(registry.Constants{DatabaseName: "ledger"})
	d := dispatch.New(dispatch.DBConfig{Driver: "sqlite", ConnectTimeout: 5 * time.Second}, reg)
	srv := startServer(t, cipher, d)
	return srv, cipher, filepath.Join(t.TempDir(), "gateway.db")
}

func connValue(path string, extra map[string]any) map[string]any {
	value := map[string]any{
		"connection_string": map[string]any{
			"user":     "alice",
			"database": path,
		},
	}
	for k, v := range extra {
		value[k] = v
	}
	return value
}

func TestLoginRoundTrip(t *testing.T) {
	srv, cipher, path := startGateway(t)

	c, err := client.Dial(srv.Addr().String(), cipher, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	seed := connValue(path, map[string]any{
		"transaction_type": "write",
		"statement": []any{
			"CREATE TABLE users (username VARCHAR(32), last_login VARCHAR(40))",
			"INSERT INTO users (username, last_login) VALUES ('alice', '')",
		},
		"parameters": nil,
	})
	resp, err := c.Do("db_transact", seed)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !resp.Success {
		t.Fatalf("seed failed: %v", resp.Value)
	}

	resp, err = c.Do("db_login", connValue(path, nil))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !resp.Success || resp.Value != nil {
		t.Fatalf("unexpected login response: %+v", resp)
	}
}

func TestReadQueryOverTheWire(t *testing.T) {
	srv, cipher, path := startGateway(t)

	c, err := client.Dial(srv.Addr().String(), cipher, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	resp, err := c.Do("db_transact", connValue(path, map[string]any{
		"transaction_type": "read",
		"statement":        "SELECT 1",
		"parameters":       nil,
	}))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !resp.Success {
		t.Fatalf("read failed: %v", resp.Value)
	}
	table, ok := resp.Value.(map[string]any)
	if !ok {
		t.Fatalf("expected mapping result, got %T", resp.Value)
	}
	col, ok := table["1"].(map[string]any)
	if !ok || col["0"] != float64(1) {
		t.Fatalf("unexpected result shape: %v", resp.Value)
	}
}

func TestUnknownActionKeepsConnectionOpen(t *testing.T) {
	srv, cipher, _ := startGateway(t)

	c, err := client.Dial(srv.Addr().String(), cipher, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	resp, err := c.Do("nonexistent", nil)
	if err != nil {
		t.Fatalf("unknown action round trip: %v", err)
	}
	if resp.Success || resp.Value != "invalid action nonexistent" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// Same socket keeps serving.
	resp, err = c.Do("constants", nil)
	if err != nil {
		t.Fatalf("follow-up request: %v", err)
	}
	if !resp.Success {
		t.Fatalf("constants failed: %v", resp.Value)
	}
}

func TestIDRegistrySharedAcrossConnections(t *testing.T) {
	srv, cipher, _ := startGateway(t)

	a, err := client.Dial(srv.Addr().String(), cipher, time.Second)
	if err != nil {
		t.Fatalf("dial a: %v", err)
	}
	defer a.Close()
	b, err := client.Dial(srv.Addr().String(), cipher, time.Second)
	if err != nil {
		t.Fatalf("dial b: %v", err)
	}
	defer b.Close()

	resp, err := a.Do("add_ids", map[string]any{
		"id_code": "AR", "ids": []any{"7001"}, "instance": "client-a",
	})
	if err != nil || !resp.Success {
		t.Fatalf("add_ids: err=%v resp=%+v", err, resp)
	}

	resp, err = b.Do("request_ids", map[string]any{"id_code": "AR", "instance": "client-b"})
	if err != nil || !resp.Success {
		t.Fatalf("request_ids: err=%v resp=%+v", err, resp)
	}
	ids, ok := resp.Value.([]any)
	if !ok || len(ids) != 1 || ids[0] != "7001" {
		t.Fatalf("claim not visible across connections: %v", resp.Value)
	}
}

func TestTamperedCiphertextClosesWithoutResponse(t *testing.T) {
	cipher := newTestCipher(t)
	srv := startServer(t, cipher, stubDispatcher{fn: func(protocol.Request) protocol.Response {
		t.Errorf("dispatcher reached with untrusted request")
		return protocol.OK(nil)
	}})

	sock, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sock.Close()

	frame := requestFrame(t, cipher, "db_login", nil)
	frame[len(frame)-1] ^= 0x01
	if _, err := sock.Write(frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The server must close without sending any response bytes.
	sock.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := sock.Read(buf); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestDispatcherPanicIsFatalToConnection(t *testing.T) {
	cipher := newTestCipher(t)
	srv := startServer(t, cipher, stubDispatcher{fn: func(protocol.Request) protocol.Response {
		panic("handler exploded")
	}})

	sock, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sock.Close()

	if _, err := sock.Write(requestFrame(t, cipher, "constants", nil)); err != nil {
		t.Fatalf("write: %v", err)
	}
	sock.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := sock.Read(buf); err != io.EOF {
		t.Fatalf("expected EOF after panic, got %v", err)
	}
}

func TestResponsesSplitAcrossReadsStillParse(t *testing.T) {
	cipher := newTestCipher(t)
	srv := startServer(t, cipher, stubDispatcher{fn: func(req protocol.Request) protocol.Response {
		return protocol.OK(req.Action)
	}})

	// Write the request in tiny chunks to exercise the server's partial
	// frame handling over a real socket.
	sock, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sock.Close()

	frame := requestFrame(t, cipher, "constants", nil)
	for _, b := range frame {
		if _, err := sock.Write([]byte{b}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	sock.SetReadDeadline(time.Now().Add(2 * time.Second))
	var acc []byte
	buf := make([]byte, 4096)
	for {
		n, err := sock.Read(buf)
		if err != nil {
			t.Fatalf("read response: %v", err)
		}
		acc = append(acc, buf[:n]...)
		if complete := parseResponse(t, cipher, acc); complete {
			break
		}
	}
}

// parseResponse runs accumulated response bytes through the frame
// decoder, reporting completion.
func parseResponse(t *testing.T, cipher *crypt.Cipher, acc []byte) bool {
	t.Helper()
	n, ok := protocol.DecodeHeaderLength(acc)
	if !ok {
		return false
	}
	h, ok, err := protocol.DecodeHeader(acc, n, protocol.DefaultLimits())
	if err != nil {
		t.Fatalf("decode response header: %v", err)
	}
	if !ok {
		return false
	}
	ciphertext, ok := protocol.DecodePayload(acc, n, h.ContentLength)
	if !ok {
		return false
	}
	plaintext, err := cipher.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("decrypt response: %v", err)
	}
	resp, err := protocol.DecodeResponse(plaintext)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Value != "constants" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	return true
}
