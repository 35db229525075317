// Package simulate dry-runs a script against a sample message. Nothing is
// delivered, redirected or sent: the actions the script would take are
// reported instead.
package simulate

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-message/textproto"
	"github.com/foxcpp/go-sieve"
	"github.com/foxcpp/go-sieve/interp"
	"github.com/migadu/sieveedit/document"
	"github.com/migadu/sieveedit/helpers"
	"github.com/migadu/sieveedit/logger"
	"github.com/migadu/sieveedit/pkg/metrics"
	"github.com/migadu/sieveedit/script"
)

type Action string

const (
	ActionKeep     Action = "keep"
	ActionDiscard  Action = "discard"
	ActionFileInto Action = "fileinto"
	ActionRedirect Action = "redirect"
	ActionVacation Action = "vacation"
)

// Envelope is the SMTP envelope of the simulated delivery.
type Envelope struct {
	From string `json:"from"`
	To   string `json:"to"`
	Auth string `json:"auth,omitempty"`
}

// Vacation is an auto-reply the script asked for.
type Vacation struct {
	Recipient string `json:"recipient"`
	From      string `json:"from,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body"`
	IsMime    bool   `json:"is_mime,omitempty"`
	Days      int    `json:"days"`
	Handle    string `json:"handle,omitempty"`
}

// Result describes what the script would do with the message.
type Result struct {
	Action     Action      `json:"action"`
	Mailbox    string      `json:"mailbox,omitempty"`
	Mailboxes  []string    `json:"mailboxes,omitempty"`
	RedirectTo string      `json:"redirect_to,omitempty"`
	Redirects  []string    `json:"redirects,omitempty"`
	Flags      []imap.Flag `json:"flags,omitempty"`
	Copy       bool        `json:"copy"` // a copy is also kept in INBOX
	Vacation   *Vacation   `json:"vacation,omitempty"`
}

// Options controls a simulation run.
type Options struct {
	Extensions []string // enabled extensions; empty enables all supported
	Envelope   Envelope
}

// Message is a parsed sample message.
type Message struct {
	Header textproto.Header
	Size   int
}

// ReadMessage parses an RFC 5322 message. Only the header is kept; the
// total size is recorded for size tests.
func ReadMessage(r io.Reader) (*Message, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message header: %w", err)
	}
	return &Message{Header: h, Size: len(raw)}, nil
}

func (m *Message) HeaderGet(key string) ([]string, error) {
	return m.Header.Values(key), nil
}

func (m *Message) MessageSize() int {
	return m.Size
}

func (e Envelope) EnvelopeFrom() string { return e.From }
func (e Envelope) EnvelopeTo() string   { return e.To }
func (e Envelope) AuthUsername() string { return e.Auth }

// reportingPolicy allows every redirect and vacation response; nothing is
// sent, the runtime data records what would have been.
type reportingPolicy struct{}

func (reportingPolicy) RedirectAllowed(ctx context.Context, d *interp.RuntimeData, addr string) (bool, error) {
	return true, nil
}

func (reportingPolicy) VacationResponseAllowed(ctx context.Context, d *interp.RuntimeData,
	originalSender, handle string, duration time.Duration) (bool, error) {
	return true, nil
}

func (reportingPolicy) SendVacationResponse(ctx context.Context, d *interp.RuntimeData,
	recipient, from, subject, body string, isMime bool) error {
	return nil
}

// Run loads text and executes it against msg.
func Run(ctx context.Context, text string, msg *Message, opts Options) (*Result, error) {
	extensions := opts.Extensions
	if len(extensions) == 0 {
		extensions = document.SupportedExtensions
	}
	options := sieve.DefaultOptions()
	options.EnabledExtensions = extensions
	loaded, err := sieve.Load(strings.NewReader(text), options)
	if err != nil {
		return nil, &document.ValidationError{Err: err}
	}

	data := sieve.NewRuntimeData(loaded, reportingPolicy{}, opts.Envelope, msg)
	if err := loaded.Execute(ctx, data); err != nil {
		return nil, fmt.Errorf("script execution failed: %w", err)
	}

	result := &Result{Action: ActionKeep}

	if len(data.Mailboxes) > 0 {
		result.Action = ActionFileInto
		result.Mailbox = data.Mailboxes[0]
		result.Mailboxes = append([]string(nil), data.Mailboxes...)
		// ImplicitKeep survives fileinto :copy; an explicit keep sets Keep.
		result.Copy = data.ImplicitKeep || data.Keep
	} else if len(data.RedirectAddr) > 0 {
		result.Action = ActionRedirect
		result.RedirectTo = data.RedirectAddr[0]
		result.Copy = data.ImplicitKeep || data.Keep
	} else if !data.Keep && !data.ImplicitKeep {
		// vacation also clears ImplicitKeep, so it alone does not discard.
		if len(data.VacationResponses) == 0 || discarded(text, data) {
			result.Action = ActionDiscard
		}
	}
	if len(data.RedirectAddr) > 0 {
		result.Redirects = append([]string(nil), data.RedirectAddr...)
	}

	// Vacation is an implicit keep (RFC 5230): it only becomes the action
	// when nothing else cancelled the keep.
	for sender, vacation := range data.VacationResponses {
		result.Vacation = &Vacation{
			Recipient: sender,
			From:      vacation.From,
			Subject:   vacation.Subject,
			Body:      vacation.Body,
			IsMime:    vacation.IsMime,
			Days:      vacation.Days,
			Handle:    vacation.Handle,
		}
		if result.Action == ActionKeep {
			result.Action = ActionVacation
		}
		break
	}

	if len(data.Flags) > 0 {
		result.Flags = helpers.ScriptFlags(data.Flags)
	}

	metrics.SimulationsTotal.WithLabelValues(string(result.Action)).Inc()
	logger.DebugContext(ctx, "Simulated script", "action", result.Action, "mailbox", result.Mailbox,
		"redirect", result.RedirectTo, "flags", len(result.Flags))
	return result, nil
}

// discarded reports whether a discard command ran. The runtime records
// discard only by resetting the flag list to an empty non-nil slice, so a
// script without any discard command is never treated as discarding.
func discarded(text string, data *interp.RuntimeData) bool {
	if data.Flags == nil || len(data.Flags) > 0 {
		return false
	}
	parsed, err := script.Parse(text)
	if err != nil {
		return true
	}
	return hasCommand(script.Tree(parsed), "discard")
}

func hasCommand(nodes []script.Node, name string) bool {
	for _, n := range nodes {
		if n.Kind == "command" && strings.EqualFold(n.Name, name) {
			return true
		}
		if hasCommand(n.Block, name) {
			return true
		}
	}
	return false
}
