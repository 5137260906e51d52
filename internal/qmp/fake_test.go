package qmp

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
)

const greetingFrame = `{"QMP": {"version": {"qemu": {"micro": 2, "minor": 2, "major": 8}, "package": ""}, "capabilities": ["oob"]}}`

// fakeServer is the hypervisor end of a net.Pipe.
type fakeServer struct {
	t    *testing.T
	conn net.Conn
	dec  *json.Decoder
	wmu  sync.Mutex
}

type fakeRequest struct {
	Execute   string          `json:"execute"`
	Arguments json.RawMessage `json:"arguments"`
	ID        json.RawMessage `json:"id"`
}

// pipeDialer returns a dialer handing out the client end of a pipe and the
// server wrapping the other end.
func pipeDialer(t *testing.T) (DialFunc, *fakeServer) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	fs := &fakeServer{t: t, conn: server, dec: json.NewDecoder(server)}
	return func(context.Context) (net.Conn, error) { return client, nil }, fs
}

func (s *fakeServer) send(frame string) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, _ = s.conn.Write([]byte(frame + "\n"))
}

func (s *fakeServer) read() (fakeRequest, bool) {
	var req fakeRequest
	if err := s.dec.Decode(&req); err != nil {
		return req, false
	}
	return req, true
}

func (s *fakeServer) reply(req fakeRequest, ret string) {
	s.send(`{"return": ` + ret + `, "id": ` + string(req.ID) + `}`)
}

func (s *fakeServer) replyError(req fakeRequest, class, desc string) {
	s.send(`{"error": {"class": "` + class + `", "desc": "` + desc + `"}, "id": ` + string(req.ID) + `}`)
}

// handshake plays the server side of Connect.
func (s *fakeServer) handshake() {
	s.send(greetingFrame)
	req, ok := s.read()
	if !ok || req.Execute != "qmp_capabilities" {
		s.t.Errorf("expected qmp_capabilities, got %+v", req)
		return
	}
	s.reply(req, `{}`)
}

// connected returns a Ready client and its server after a successful handshake.
func connected(t *testing.T, opts ...Option) (*Client, *fakeServer) {
	t.Helper()
	dial, srv := pipeDialer(t)
	c := New(dial, opts...)

	go srv.handshake()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, srv
}
