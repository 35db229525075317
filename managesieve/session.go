package managesieve

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/migadu/sieveedit/logger"
	"github.com/migadu/sieveedit/store"
)

// Session is a store.ScriptStore over ManageSieve that redials when the
// server drops the connection. A command that fails on a broken connection
// is retried once on a fresh one.
type Session struct {
	opts Options

	mu     sync.Mutex
	client *Client
	closed bool
}

var _ store.ScriptStore = (*Session)(nil)

// NewSession dials the server and returns a session holding the connection.
func NewSession(ctx context.Context, opts Options) (*Session, error) {
	s := &Session{opts: opts}
	if _, err := s.get(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) get(ctx context.Context) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.client != nil {
		return s.client, nil
	}
	c, err := Dial(ctx, s.opts)
	if err != nil {
		return nil, err
	}
	s.client = c
	return c, nil
}

// drop discards c if it is still the current client.
func (s *Session) drop(c *Client) {
	s.mu.Lock()
	if s.client == c {
		s.client = nil
	}
	s.mu.Unlock()
	c.abort()
}

// Capabilities returns the capabilities of the current connection.
func (s *Session) Capabilities(ctx context.Context) (Capabilities, error) {
	c, err := s.get(ctx)
	if err != nil {
		return Capabilities{}, err
	}
	return c.Capabilities(), nil
}

func (s *Session) do(ctx context.Context, fn func(c *Client) error) error {
	for attempt := 0; ; attempt++ {
		c, err := s.get(ctx)
		if err != nil {
			return err
		}
		err = fn(c)
		if err == nil || !connectionLost(err) || ctx.Err() != nil {
			return err
		}
		s.drop(c)
		if attempt > 0 {
			return err
		}
		logger.Warn("ManageSieve: connection lost, reconnecting", "addr", s.opts.Addr, "error", err)
	}
}

// connectionLost reports whether err means the connection is unusable.
func connectionLost(err error) bool {
	var respErr *ResponseError
	if errors.As(err, &respErr) {
		return respErr.Status == "BYE"
	}
	if errors.Is(err, ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (s *Session) ListScripts(ctx context.Context) (scripts []store.ScriptInfo, err error) {
	err = s.do(ctx, func(c *Client) error {
		scripts, err = c.ListScripts(ctx)
		return err
	})
	return scripts, err
}

func (s *Session) GetScript(ctx context.Context, name string) (script *store.Script, err error) {
	err = s.do(ctx, func(c *Client) error {
		script, err = c.GetScript(ctx, name)
		return err
	})
	return script, err
}

func (s *Session) PutScript(ctx context.Context, name, content string) error {
	return s.do(ctx, func(c *Client) error { return c.PutScript(ctx, name, content) })
}

func (s *Session) CheckScript(ctx context.Context, content string) error {
	return s.do(ctx, func(c *Client) error { return c.CheckScript(ctx, content) })
}

func (s *Session) SetActive(ctx context.Context, name string) error {
	return s.do(ctx, func(c *Client) error { return c.SetActive(ctx, name) })
}

func (s *Session) DeleteScript(ctx context.Context, name string) error {
	return s.do(ctx, func(c *Client) error { return c.DeleteScript(ctx, name) })
}

func (s *Session) RenameScript(ctx context.Context, oldName, newName string) error {
	return s.do(ctx, func(c *Client) error { return c.RenameScript(ctx, oldName, newName) })
}

// Close logs out. Later calls fail with ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	c := s.client
	s.client = nil
	s.closed = true
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}
