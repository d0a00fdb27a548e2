package useCases

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/larriantoniy/device_gateway/internal/domain"
	"github.com/larriantoniy/device_gateway/internal/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mapFinder map[string]*domain.Device

func (f mapFinder) FindDevice(_ context.Context, id string) (*domain.Device, error) {
	if d, ok := f[id]; ok {
		return d, nil
	}
	return nil, domain.ErrDeviceNotFound
}

func (f mapFinder) ListDevices(context.Context) ([]string, error) {
	ids := make([]string, 0, len(f))
	for id := range f {
		ids = append(ids, id)
	}
	return ids, nil
}

type fakeCreds struct {
	mu    sync.Mutex
	path  string
	saves int
}

func (c *fakeCreds) Save(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saves++
	return nil
}

func (c *fakeCreds) Saves() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saves
}

type fakeConn struct {
	events   chan []ports.Event
	selfID   string
	selfName string
	picture  string
	picErr   error
	media    []byte
	mediaErr error

	mu     sync.Mutex
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan []ports.Event, 16)}
}

func (c *fakeConn) Events() <-chan []ports.Event { return c.events }
func (c *fakeConn) SelfID() string               { return c.selfID }
func (c *fakeConn) SelfName() string             { return c.selfName }

func (c *fakeConn) ProfilePictureURL(context.Context, string) (string, error) {
	return c.picture, c.picErr
}

func (c *fakeConn) DownloadMedia(context.Context, *ports.RawMessage) ([]byte, error) {
	return c.media, c.mediaErr
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) push(events ...ports.Event) {
	c.events <- events
}

func closedUpdate(code int, text string) ports.StateChanged {
	return ports.StateChanged{Update: ports.ConnectionUpdate{
		Status:         ports.StatusClosed,
		LastDisconnect: &ports.DisconnectError{StatusCode: code, Message: text},
	}}
}

func openUpdate() ports.StateChanged {
	return ports.StateChanged{Update: ports.ConnectionUpdate{Status: ports.StatusOpen}}
}

// fakeProtocol отдаёт заранее заготовленные соединения по очереди
type fakeProtocol struct {
	mu         sync.Mutex
	conns      []*fakeConn
	connectErr error
	configs    []ports.ConnectionConfig
	creds      []*fakeCreds
}

func (p *fakeProtocol) LoadCredentials(_ context.Context, path string) (ports.Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := &fakeCreds{path: path}
	p.creds = append(p.creds, c)
	return c, nil
}

func (p *fakeProtocol) NegotiateVersion(context.Context) (string, error) {
	return "2.3000.1", nil
}

func (p *fakeProtocol) Connect(_ context.Context, cfg ports.ConnectionConfig) (ports.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.configs = append(p.configs, cfg)
	if p.connectErr != nil {
		return nil, p.connectErr
	}
	if len(p.conns) == 0 {
		return nil, errors.New("no connection prepared")
	}
	c := p.conns[0]
	p.conns = p.conns[1:]
	return c, nil
}

func (p *fakeProtocol) ContentType(msg *ports.MessageContent) string {
	return msg.Type()
}

func (p *fakeProtocol) Connects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.configs)
}

func (p *fakeProtocol) Config(i int) ports.ConnectionConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.configs[i]
}

func (p *fakeProtocol) Creds(i int) *fakeCreds {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creds[i]
}

type dispatched struct {
	deviceID string
	hooks    []domain.Webhook
	msg      *domain.InboundMessage
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []dispatched
}

func (d *fakeDispatcher) Dispatch(_ context.Context, deviceID string, hooks []domain.Webhook, msg *domain.InboundMessage) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, dispatched{deviceID: deviceID, hooks: hooks, msg: msg})
	return len(hooks)
}

func (d *fakeDispatcher) Sent() []dispatched {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatched(nil), d.sent...)
}

type fakeSink struct {
	mu   sync.Mutex
	msgs []*domain.InboundMessage
	err  error
}

func (s *fakeSink) Publish(_ context.Context, _ string, msg *domain.InboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return s.err
}
