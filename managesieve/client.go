// Package managesieve is a client for the ManageSieve protocol (RFC 5804).
//
// A Client holds a single authenticated connection. Commands are serialized
// with a mutex; each one is bounded by the command timeout and by the
// context passed to it.
package managesieve

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/migadu/sieveedit/config"
	"github.com/migadu/sieveedit/helpers"
	"github.com/migadu/sieveedit/logger"
	"github.com/migadu/sieveedit/pkg/metrics"
	"github.com/migadu/sieveedit/pkg/retry"
)

// Options configures Dial.
type Options struct {
	Addr               string
	TLS                bool
	StartTLS           bool
	InsecureSkipVerify bool
	Username           string
	Password           string
	ConnectTimeout     time.Duration
	CommandTimeout     time.Duration
	MaxRetries         int
	RetryInterval      time.Duration
	Debug              bool

	// TLSConfig overrides the configuration built from InsecureSkipVerify.
	TLSConfig *tls.Config
	// DialContext replaces net.Dialer, mostly for tests.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)
}

// OptionsFromConfig converts the [managesieve] config section.
func OptionsFromConfig(cfg config.ManageSieveConfig) (Options, error) {
	connectTimeout, err := cfg.GetConnectTimeout()
	if err != nil {
		return Options{}, err
	}
	commandTimeout, err := cfg.GetCommandTimeout()
	if err != nil {
		return Options{}, err
	}
	retryInterval, err := cfg.GetRetryInterval()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Addr:               cfg.Addr,
		TLS:                cfg.TLS,
		StartTLS:           cfg.StartTLS,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		Username:           cfg.Username,
		Password:           cfg.Password,
		ConnectTimeout:     connectTimeout,
		CommandTimeout:     commandTimeout,
		MaxRetries:         cfg.MaxRetries,
		RetryInterval:      retryInterval,
		Debug:              cfg.Debug,
	}, nil
}

// Capabilities is the capability listing sent with the greeting.
type Capabilities struct {
	Implementation string
	Sieve          []string
	SASL           []string
	StartTLS       bool
	MaxScriptSize  int64
	Version        string
	Owner          string
	Other          map[string]string
}

// HasExtension reports whether the server advertises a Sieve extension.
func (c Capabilities) HasExtension(name string) bool {
	for _, ext := range c.Sieve {
		if strings.EqualFold(ext, name) {
			return true
		}
	}
	return false
}

// HasSASL reports whether the server offers a SASL mechanism.
func (c Capabilities) HasSASL(mech string) bool {
	for _, m := range c.SASL {
		if strings.EqualFold(m, mech) {
			return true
		}
	}
	return false
}

// ErrClosed is returned by commands on a client that has logged out or
// received BYE.
var ErrClosed = errors.New("managesieve: connection closed")

type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	opts   Options
	caps   Capabilities
	tls    bool
	authed bool
	closed bool
}

// Dial connects, negotiates TLS as configured and authenticates when a
// username is set. Connection failures are retried with exponential
// backoff; protocol and authentication failures are not.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.Addr == "" {
		return nil, errors.New("managesieve: no server address configured")
	}
	policy := retry.DefaultPolicy()
	policy.Retries = opts.MaxRetries
	if opts.RetryInterval > 0 {
		policy.Initial = opts.RetryInterval
	}

	var client *Client
	err := retry.Do(ctx, "managesieve dial", policy, func(attempt int) error {
		conn, err := dialConn(ctx, opts)
		if err != nil {
			metrics.ManageSieveDialsTotal.WithLabelValues("failure").Inc()
			logger.Warn("ManageSieve: connection failed", "addr", opts.Addr, "attempt", attempt, "error", err)
			return err
		}
		c, err := newClient(ctx, conn, opts, opts.TLS)
		if err != nil {
			conn.Close()
			metrics.ManageSieveDialsTotal.WithLabelValues("failure").Inc()
			return retry.Permanent(err)
		}
		metrics.ManageSieveDialsTotal.WithLabelValues("success").Inc()
		client = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func dialConn(ctx context.Context, opts Options) (net.Conn, error) {
	dialCtx := ctx
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}
	dial := opts.DialContext
	if dial == nil {
		d := &net.Dialer{}
		dial = d.DialContext
	}
	conn, err := dial(dialCtx, "tcp", opts.Addr)
	if err != nil {
		return nil, err
	}
	if opts.TLS {
		tlsConn := tls.Client(conn, tlsConfig(opts))
		if err := tlsConn.HandshakeContext(dialCtx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake failed: %w", err)
		}
		return tlsConn, nil
	}
	return conn, nil
}

func tlsConfig(opts Options) *tls.Config {
	if opts.TLSConfig != nil {
		return opts.TLSConfig.Clone()
	}
	host, _, err := net.SplitHostPort(opts.Addr)
	if err != nil {
		host = opts.Addr
	}
	return &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: opts.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
		Renegotiation:      tls.RenegotiateNever,
	}
}

// NewClient runs the session setup over an established connection: greeting,
// optional STARTTLS and authentication.
func NewClient(ctx context.Context, conn net.Conn, opts Options) (*Client, error) {
	return newClient(ctx, conn, opts, false)
}

func newClient(ctx context.Context, conn net.Conn, opts Options, secure bool) (*Client, error) {
	c := &Client{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		opts:   opts,
		tls:    secure,
	}

	done := c.deadline(ctx)
	caps, err := c.readCapabilities()
	done()
	if err != nil {
		return nil, fmt.Errorf("failed to read greeting: %w", err)
	}
	c.caps = caps

	if opts.StartTLS && !c.tls {
		if err := c.startTLS(ctx); err != nil {
			return nil, err
		}
	}

	if opts.Username != "" {
		if err := c.Authenticate(ctx, opts.Username, opts.Password); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Capabilities returns the most recent capability listing.
func (c *Client) Capabilities() Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps
}

func (c *Client) startTLS(ctx context.Context) error {
	if !c.caps.StartTLS {
		return errors.New("managesieve: server does not support STARTTLS")
	}
	if err := c.simple(ctx, "STARTTLS", "STARTTLS"); err != nil {
		return fmt.Errorf("STARTTLS failed: %w", err)
	}

	tlsConn := tls.Client(c.conn, tlsConfig(c.opts))
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("TLS handshake failed: %w", err)
	}
	c.conn = tlsConn
	c.reader = bufio.NewReader(tlsConn)
	c.writer = bufio.NewWriter(tlsConn)
	c.tls = true

	// RFC 5804 2.2: the server re-issues its capabilities after TLS.
	done := c.deadline(ctx)
	defer done()
	caps, err := c.readCapabilities()
	if err != nil {
		return fmt.Errorf("failed to read capabilities after STARTTLS: %w", err)
	}
	c.caps = caps
	logger.Debug("ManageSieve: STARTTLS negotiated", "addr", c.opts.Addr)
	return nil
}

// Authenticate logs in with SASL PLAIN.
func (c *Client) Authenticate(ctx context.Context, username, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.authed {
		return errors.New("managesieve: already authenticated")
	}
	if len(c.caps.SASL) > 0 && !c.caps.HasSASL(sasl.Plain) {
		return fmt.Errorf("managesieve: server does not offer %s (offers %s)", sasl.Plain, strings.Join(c.caps.SASL, " "))
	}

	saslClient := sasl.NewPlainClient("", username, password)
	mech, ir, err := saslClient.Start()
	if err != nil {
		return fmt.Errorf("failed to start SASL: %w", err)
	}

	start := time.Now()
	done := c.deadline(ctx)
	defer done()

	cmd := "AUTHENTICATE " + quote(mech)
	if ir != nil {
		cmd += " " + quote(base64.StdEncoding.EncodeToString(ir))
	}
	if err := c.writeLine(cmd); err != nil {
		return c.finish("AUTHENTICATE", start, err)
	}

	for {
		toks, err := readTokens(c.reader)
		if err != nil {
			return c.finish("AUTHENTICATE", start, err)
		}
		c.debugRead(toks)
		if resp, ok := parseResponse(toks); ok {
			if err := resp.err(); err != nil {
				return c.finish("AUTHENTICATE", start, fmt.Errorf("authentication failed: %w", err))
			}
			break
		}
		// Server challenge.
		if len(toks) == 0 || toks[0].kind != tokenString {
			return c.finish("AUTHENTICATE", start, fmt.Errorf("unexpected line during authentication"))
		}
		challenge, err := base64.StdEncoding.DecodeString(toks[0].value)
		if err != nil {
			return c.finish("AUTHENTICATE", start, fmt.Errorf("invalid SASL challenge: %w", err))
		}
		reply, err := saslClient.Next(challenge)
		if err != nil {
			c.writeLine(`"*"`)
			return c.finish("AUTHENTICATE", start, err)
		}
		if err := c.writeRaw(quote(base64.StdEncoding.EncodeToString(reply)), true); err != nil {
			return c.finish("AUTHENTICATE", start, err)
		}
	}

	c.authed = true
	logger.Info("ManageSieve: authenticated", "addr", c.opts.Addr, "username", username)
	return c.finish("AUTHENTICATE", start, nil)
}

// deadline bounds the next exchange by the command timeout and ctx. The
// returned function releases the context watcher.
func (c *Client) deadline(ctx context.Context) func() {
	var d time.Time
	if c.opts.CommandTimeout > 0 {
		d = time.Now().Add(c.opts.CommandTimeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (d.IsZero() || ctxDeadline.Before(d)) {
		d = ctxDeadline
	}
	c.conn.SetDeadline(d)
	conn := c.conn
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	return func() { stop() }
}

func (c *Client) writeLine(line string) error {
	return c.writeRaw(line, false)
}

func (c *Client) writeRaw(line string, sensitive bool) error {
	if c.opts.Debug {
		logger.Debug("ManageSieve C: " + helpers.MaskSensitive(firstLine(line), sensitive))
	}
	if _, err := c.writer.WriteString(line + "\r\n"); err != nil {
		return err
	}
	return c.writer.Flush()
}

func (c *Client) debugRead(toks []token) {
	if !c.opts.Debug {
		return
	}
	parts := make([]string, 0, len(toks))
	for _, t := range toks {
		switch t.kind {
		case tokenString:
			if strings.Contains(t.value, "\n") {
				parts = append(parts, fmt.Sprintf("{%d}", len(t.value)))
			} else {
				parts = append(parts, strconv.Quote(t.value))
			}
		case tokenLParen:
			parts = append(parts, "(")
		case tokenRParen:
			parts = append(parts, ")")
		default:
			parts = append(parts, t.value)
		}
	}
	logger.Debug("ManageSieve S: " + strings.Join(parts, " "))
}

func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}

// execute sends cmd and collects data lines until the final response.
func (c *Client) execute(ctx context.Context, name, cmd string, onData func([]token) error) error {
	if c.closed {
		return ErrClosed
	}
	start := time.Now()
	done := c.deadline(ctx)
	defer done()

	if err := c.writeLine(cmd); err != nil {
		return c.finish(name, start, fmt.Errorf("failed to send %s: %w", name, err))
	}
	for {
		toks, err := readTokens(c.reader)
		if err != nil {
			if ctxErr := contextError(ctx); ctxErr != nil {
				err = ctxErr
			}
			return c.finish(name, start, fmt.Errorf("failed to read %s response: %w", name, err))
		}
		c.debugRead(toks)
		if resp, ok := parseResponse(toks); ok {
			if resp.status == "BYE" {
				c.closed = true
			}
			return c.finish(name, start, resp.err())
		}
		if onData != nil {
			if err := onData(toks); err != nil {
				return c.finish(name, start, err)
			}
		}
	}
}

// contextError reports ctx as done once its deadline has passed, even if
// the connection deadline fired before the context timer.
func contextError(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		return context.DeadlineExceeded
	}
	return nil
}

func (c *Client) simple(ctx context.Context, name, cmd string) error {
	return c.execute(ctx, name, cmd, nil)
}

func (c *Client) finish(command string, start time.Time, err error) error {
	status := "ok"
	var respErr *ResponseError
	switch {
	case errors.As(err, &respErr):
		status = strings.ToLower(respErr.Status)
	case err != nil:
		status = "error"
	}
	metrics.ManageSieveCommandsTotal.WithLabelValues(command, status).Inc()
	metrics.ManageSieveCommandDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
	return err
}

// readCapabilities reads capability lines up to the terminating OK.
func (c *Client) readCapabilities() (Capabilities, error) {
	caps := Capabilities{Other: make(map[string]string)}
	for {
		toks, err := readTokens(c.reader)
		if err != nil {
			return caps, err
		}
		c.debugRead(toks)
		if resp, ok := parseResponse(toks); ok {
			return caps, resp.err()
		}
		if len(toks) == 0 || toks[0].kind != tokenString {
			return caps, fmt.Errorf("malformed capability line")
		}
		name := strings.ToUpper(toks[0].value)
		value := ""
		if len(toks) > 1 {
			value = toks[1].value
		}
		switch name {
		case "IMPLEMENTATION":
			caps.Implementation = value
		case "SIEVE":
			caps.Sieve = strings.Fields(value)
		case "SASL":
			caps.SASL = strings.Fields(value)
		case "STARTTLS":
			caps.StartTLS = true
		case "MAXSCRIPTSIZE", "MAXSCRIPTSIZEBYTES":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				caps.MaxScriptSize = n
			}
		case "VERSION":
			caps.Version = value
		case "OWNER":
			caps.Owner = value
		default:
			caps.Other[name] = value
		}
	}
}
