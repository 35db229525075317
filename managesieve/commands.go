package managesieve

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/migadu/sieveedit/consts"
	"github.com/migadu/sieveedit/logger"
	"github.com/migadu/sieveedit/store"
)

var _ store.ScriptStore = (*Client)(nil)

// ListScripts runs LISTSCRIPTS.
func (c *Client) ListScripts(ctx context.Context) ([]store.ScriptInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var scripts []store.ScriptInfo
	err := c.execute(ctx, "LISTSCRIPTS", "LISTSCRIPTS", func(toks []token) error {
		if len(toks) == 0 || toks[0].kind != tokenString {
			return fmt.Errorf("malformed LISTSCRIPTS line")
		}
		info := store.ScriptInfo{Name: toks[0].value}
		if len(toks) > 1 && toks[1].kind == tokenAtom && strings.EqualFold(toks[1].value, "ACTIVE") {
			info.Active = true
		}
		scripts = append(scripts, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return scripts, nil
}

// GetScript runs GETSCRIPT. Active is filled from a LISTSCRIPTS round trip
// since GETSCRIPT does not report it.
func (c *Client) GetScript(ctx context.Context, name string) (*store.Script, error) {
	content, err := c.getScript(ctx, name)
	if err != nil {
		return nil, err
	}
	scripts, err := c.ListScripts(ctx)
	if err != nil {
		return nil, err
	}
	return &store.Script{Name: name, Content: content, Active: store.ActiveName(scripts) == name}, nil
}

func (c *Client) getScript(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var content string
	got := false
	err := c.execute(ctx, "GETSCRIPT", "GETSCRIPT "+quote(name), func(toks []token) error {
		if got || len(toks) != 1 || toks[0].kind != tokenString {
			return fmt.Errorf("malformed GETSCRIPT response")
		}
		content = toks[0].value
		got = true
		return nil
	})
	if err != nil {
		return "", err
	}
	if !got {
		return "", fmt.Errorf("GETSCRIPT returned no script")
	}
	return content, nil
}

// PutScript runs PUTSCRIPT with the content sent as a literal.
func (c *Client) PutScript(ctx context.Context, name, content string) error {
	if err := store.ValidateName(name); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.caps.MaxScriptSize > 0 && int64(len(content)) > c.caps.MaxScriptSize {
		return fmt.Errorf("%w: %d bytes, server allows %d", consts.ErrScriptTooLarge, len(content), c.caps.MaxScriptSize)
	}
	return c.simple(ctx, "PUTSCRIPT", "PUTSCRIPT "+quote(name)+" "+literal(content))
}

// CheckScript runs CHECKSCRIPT. A NO response carries the server's
// validation message.
func (c *Client) CheckScript(ctx context.Context, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.simple(ctx, "CHECKSCRIPT", "CHECKSCRIPT "+literal(content))
}

// SetActive runs SETACTIVE; an empty name deactivates all scripts.
func (c *Client) SetActive(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.simple(ctx, "SETACTIVE", "SETACTIVE "+quote(name))
}

// DeleteScript runs DELETESCRIPT.
func (c *Client) DeleteScript(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.simple(ctx, "DELETESCRIPT", "DELETESCRIPT "+quote(name))
}

// RenameScript runs RENAMESCRIPT. Servers without it (VERSION capability
// absent) get GETSCRIPT, PUTSCRIPT, SETACTIVE and DELETESCRIPT instead.
func (c *Client) RenameScript(ctx context.Context, oldName, newName string) error {
	if err := store.ValidateName(newName); err != nil {
		return err
	}
	c.mu.Lock()
	supported := c.caps.Version != ""
	if supported {
		defer c.mu.Unlock()
		return c.simple(ctx, "RENAMESCRIPT", "RENAMESCRIPT "+quote(oldName)+" "+quote(newName))
	}
	c.mu.Unlock()
	return c.emulateRename(ctx, oldName, newName)
}

func (c *Client) emulateRename(ctx context.Context, oldName, newName string) error {
	scripts, err := c.ListScripts(ctx)
	if err != nil {
		return err
	}
	found := false
	for _, s := range scripts {
		if s.Name == newName {
			return fmt.Errorf("%w: %s", consts.ErrScriptExists, newName)
		}
		if s.Name == oldName {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", consts.ErrScriptNotFound, oldName)
	}

	content, err := c.getScript(ctx, oldName)
	if err != nil {
		return err
	}
	if err := c.PutScript(ctx, newName, content); err != nil {
		return err
	}
	if store.ActiveName(scripts) == oldName {
		if err := c.SetActive(ctx, newName); err != nil {
			return err
		}
	}
	logger.Debug("ManageSieve: emulated RENAMESCRIPT", "from", oldName, "to", newName)
	return c.DeleteScript(ctx, oldName)
}

// HaveSpace runs HAVESPACE.
func (c *Client) HaveSpace(ctx context.Context, name string, size int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.simple(ctx, "HAVESPACE", "HAVESPACE "+quote(name)+" "+strconv.FormatInt(size, 10))
}

// Noop runs NOOP, optionally with a tag echoed back by the server.
func (c *Client) Noop(ctx context.Context, tag string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := "NOOP"
	if tag != "" {
		cmd += " " + quote(tag)
	}
	return c.simple(ctx, "NOOP", cmd)
}

// Logout runs LOGOUT and closes the connection.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	err := c.simple(ctx, "LOGOUT", "LOGOUT")
	c.closed = true
	closeErr := c.conn.Close()
	var respErr *ResponseError
	if errors.As(err, &respErr) && respErr.Status == "BYE" {
		err = nil
	}
	if err != nil {
		return err
	}
	return closeErr
}

// abort closes the connection without LOGOUT.
func (c *Client) abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.conn.Close()
}

// Close logs out, bounded by the command timeout.
func (c *Client) Close() error {
	return c.Logout(context.Background())
}
