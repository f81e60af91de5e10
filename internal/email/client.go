package email

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

// ErrNotConnected is returned when a command is issued before Connect
var ErrNotConnected = errors.New("not connected")

// bulkHeaderFields are fetched next to the envelope so the heuristic can see list/bulk markers
var bulkHeaderFields = []string{"List-Unsubscribe", "List-Id", "Precedence", "Auto-Submitted"}

// Header is the cheap, body-less view of a message
type Header struct {
	UID             uint32
	MessageID       string
	Subject         string
	From            Address
	Date            time.Time
	Size            uint32
	ListUnsubscribe string
	ListID          string
	Precedence      string
	AutoSubmitted   string
}

// Message is a fully fetched message
type Message struct {
	Header
	To         []Address
	BodyText   string
	BodyHTML   string
	RawHeaders string
}

// Address represents an email address
type Address struct {
	Name    string
	Address string
}

// Domain returns the lower-cased domain part of the address
func (a Address) Domain() string {
	return GetDomainFromEmail(a.Address)
}

// ClientConfig configuration for IMAP client
type ClientConfig struct {
	Email          string
	Password       string
	Server         string // host:port
	DialTimeout    time.Duration
	CommandTimeout time.Duration
}

// Client IMAP client for a single mailbox connection
type Client struct {
	config    ClientConfig
	client    *client.Client
	logger    *slog.Logger
	mu        sync.Mutex
	connected bool
}

// NewClient creates a new IMAP client
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	return &Client{
		config: cfg,
		logger: logger.With("email", cfg.Email),
	}
}

// Connect connects to the IMAP server and logs in
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	c.logger.Info("connecting to IMAP server", "server", c.config.Server)

	timeout := c.config.DialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: timeout}}
	conn, err := dialer.DialContext(ctx, "tcp", c.config.Server)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	imapClient, err := client.New(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create IMAP client: %w", err)
	}
	// A stalled server surfaces as a retryable timeout instead of a hang
	imapClient.Timeout = c.config.CommandTimeout

	if err := imapClient.Login(c.config.Email, c.config.Password); err != nil {
		imapClient.Logout()
		return fmt.Errorf("failed to login: %w", err)
	}

	c.client = imapClient
	c.connected = true
	c.logger.Info("connected to IMAP server")

	return nil
}

// Select opens a mailbox read-only
func (c *Client) Select(ctx context.Context, mailbox string) (*imap.MailboxStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(ctx); err != nil {
		return nil, err
	}

	status, err := c.client.Select(mailbox, true)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", mailbox, err)
	}

	return status, nil
}

// SearchUIDs returns the ascending UIDs within [from, to]. to == 0 means no upper bound.
func (c *Client) SearchUIDs(ctx context.Context, from, to uint32) ([]uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(ctx); err != nil {
		return nil, err
	}
	if from == 0 {
		from = 1
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(from, to) // 0 means * (all)

	criteria := imap.NewSearchCriteria()
	criteria.Uid = seqSet

	uids, err := c.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	// "n:*" always matches the highest UID, even when it is below n
	filtered := uids[:0]
	for _, uid := range uids {
		if uid >= from && (to == 0 || uid <= to) {
			filtered = append(filtered, uid)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i] < filtered[j] })

	return filtered, nil
}

// FetchHeaders fetches envelope, size and bulk-mail header fields without the body
func (c *Client) FetchHeaders(ctx context.Context, uids []uint32) ([]*Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(ctx); err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{
			Specifier: imap.HeaderSpecifier,
			Fields:    bulkHeaderFields,
		},
		Peek: true,
	}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchRFC822Size, section.FetchItem()}

	messages := make(chan *imap.Message, 100)
	done := make(chan error, 1)

	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	var headers []*Header
	for msg := range messages {
		h := headerFromEnvelope(msg)
		if lit := msg.GetBody(section); lit != nil {
			if fields, err := textproto.ReadHeader(bufio.NewReader(lit)); err == nil {
				applyBulkFields(h, &fields)
			} else {
				c.logger.Warn("failed to read header fields", "uid", msg.Uid, "error", err)
			}
		}
		headers = append(headers, h)
	}

	if err := <-done; err != nil {
		return headers, fmt.Errorf("failed to fetch headers: %w", err)
	}

	return headers, nil
}

// FetchMessage fetches the full message for one UID
func (c *Client) FetchMessage(ctx context.Context, uid uint32) (*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ready(ctx); err != nil {
		return nil, err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchRFC822Size, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	var result *Message
	for msg := range messages {
		if msg.Uid != uid || result != nil {
			continue
		}
		parsed, err := c.parseMessage(msg, section)
		if err != nil {
			c.logger.Warn("failed to parse message", "uid", msg.Uid, "error", err)
			continue
		}
		result = parsed
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	if result == nil {
		return nil, fmt.Errorf("message uid %d not found", uid)
	}

	return result, nil
}

// parseMessage parses an IMAP message into Message
func (c *Client) parseMessage(msg *imap.Message, section *imap.BodySectionName) (*Message, error) {
	m := &Message{Header: *headerFromEnvelope(msg)}

	lit := msg.GetBody(section)
	if lit == nil {
		return nil, fmt.Errorf("server returned no body")
	}
	raw, err := io.ReadAll(lit)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	m.RawHeaders = splitRawHeaders(raw)

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		c.logger.Warn("failed to create mail reader", "uid", msg.Uid, "error", err)
		return m, nil
	}

	applyBulkFields(&m.Header, &mr.Header)
	if to, err := mr.Header.AddressList("To"); err == nil {
		for _, a := range to {
			m.To = append(m.To, Address{Name: a.Name, Address: a.Address})
		}
	}
	if m.Date.IsZero() {
		if d, err := mr.Header.Date(); err == nil {
			m.Date = d
		}
	}

	// Read parts
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			c.logger.Warn("failed to read part", "uid", msg.Uid, "error", err)
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}

			// First part of each kind wins; later ones are usually quoted replies
			if strings.HasPrefix(ct, "text/html") && m.BodyHTML == "" {
				m.BodyHTML = string(body)
			} else if strings.HasPrefix(ct, "text/plain") && m.BodyText == "" {
				m.BodyText = string(body)
			}
		}
	}

	return m, nil
}

func headerFromEnvelope(msg *imap.Message) *Header {
	h := &Header{
		UID:  msg.Uid,
		Size: msg.Size,
	}
	if msg.Envelope != nil {
		h.Subject = msg.Envelope.Subject
		h.Date = msg.Envelope.Date
		h.MessageID = msg.Envelope.MessageId

		if len(msg.Envelope.From) > 0 {
			from := msg.Envelope.From[0]
			h.From = Address{
				Name:    from.PersonalName,
				Address: strings.ToLower(from.Address()),
			}
		}
	}
	return h
}

type headerGetter interface {
	Get(key string) string
}

func applyBulkFields(h *Header, fields headerGetter) {
	h.ListUnsubscribe = fields.Get("List-Unsubscribe")
	h.ListID = fields.Get("List-Id")
	h.Precedence = strings.ToLower(strings.TrimSpace(fields.Get("Precedence")))
	h.AutoSubmitted = strings.ToLower(strings.TrimSpace(fields.Get("Auto-Submitted")))
}

// splitRawHeaders returns the header block of an RFC 5322 message
func splitRawHeaders(raw []byte) string {
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		return string(raw[:i])
	}
	if i := bytes.Index(raw, []byte("\n\n")); i >= 0 {
		return string(raw[:i])
	}
	return string(raw)
}

func (c *Client) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.connected || c.client == nil {
		return ErrNotConnected
	}
	return nil
}

// Close logs out, forcing the connection closed if the server does not answer in time
func (c *Client) Close() error {
	c.mu.Lock()
	imapClient := c.client
	c.client = nil
	c.connected = false
	c.mu.Unlock()

	if imapClient == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- imapClient.Logout()
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		// Force close if logout takes too long
		return imapClient.Terminate()
	}
}

// IsConnected returns whether the client is connected
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
