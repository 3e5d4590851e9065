// Package testutil provides mbox fixture builders for tests.
package testutil

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

// MessageBuilder provides a fluent API for constructing one mbox message in
// tests: a "From " separator line followed by headers and body.
type MessageBuilder struct {
	envelopeSender string
	envelopeDate   time.Time
	headers        []string
	body           string
}

// NewMessage creates a builder with sensible defaults. The date seeds both
// the separator line and the Date header unless overridden.
func NewMessage(messageID string) *MessageBuilder {
	b := &MessageBuilder{
		envelopeSender: "sender@example.com",
		envelopeDate:   time.Date(2023, 1, 15, 10, 30, 0, 0, time.UTC),
		body:           "Test body.\n",
	}
	b.headers = append(b.headers,
		"Message-ID: <"+messageID+">",
		"From: Sender <sender@example.com>",
		"To: Recipient <recipient@example.com>",
		"Subject: Test Subject",
	)
	return b
}

func (b *MessageBuilder) WithEnvelopeSender(addr string) *MessageBuilder {
	b.envelopeSender = addr
	return b
}

func (b *MessageBuilder) WithDate(t time.Time) *MessageBuilder {
	b.envelopeDate = t
	return b
}

// WithHeader replaces an existing header of the same name, or appends.
func (b *MessageBuilder) WithHeader(name, value string) *MessageBuilder {
	prefix := name + ":"
	for i, h := range b.headers {
		if strings.HasPrefix(h, prefix) {
			b.headers[i] = name + ": " + value
			return b
		}
	}
	b.headers = append(b.headers, name+": "+value)
	return b
}

func (b *MessageBuilder) WithSubject(s string) *MessageBuilder {
	return b.WithHeader("Subject", s)
}

func (b *MessageBuilder) WithFrom(addr string) *MessageBuilder {
	return b.WithHeader("From", addr)
}

func (b *MessageBuilder) WithTo(addr string) *MessageBuilder {
	return b.WithHeader("To", addr)
}

func (b *MessageBuilder) WithCc(addr string) *MessageBuilder {
	return b.WithHeader("Cc", addr)
}

func (b *MessageBuilder) WithLabels(labels ...string) *MessageBuilder {
	return b.WithHeader("X-Gmail-Labels", strings.Join(labels, ","))
}

// WithBody sets the body text. Lines beginning with "From " are escaped the
// way an mbox writer would (">From ").
func (b *MessageBuilder) WithBody(body string) *MessageBuilder {
	b.body = body
	return b
}

// String serializes the message including its separator line. The body ends
// with a newline so messages concatenate into a valid stream.
func (b *MessageBuilder) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "From %s %s\n", b.envelopeSender, b.envelopeDate.UTC().Format(time.ANSIC))
	sb.WriteString("Date: " + b.envelopeDate.UTC().Format(time.RFC1123Z) + "\n")
	for _, h := range b.headers {
		sb.WriteString(h + "\n")
	}
	sb.WriteString("\n")

	body := b.body
	var escaped []string
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimLeft(line, ">")
		if strings.HasPrefix(trimmed, "From ") {
			line = ">" + line
		}
		escaped = append(escaped, line)
	}
	body = strings.Join(escaped, "\n")

	sb.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		sb.WriteString("\n")
	}
	return sb.String()
}

// WriteMbox writes messages to path as an mbox stream.
func WriteMbox(t *testing.T, path string, messages ...*MessageBuilder) {
	t.Helper()
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString(m.String())
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatalf("write mbox %s: %v", path, err)
	}
}

// AppendMbox appends messages to an existing mbox file, as a mail delivery
// would.
func AppendMbox(t *testing.T, path string, messages ...*MessageBuilder) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open mbox %s: %v", path, err)
	}
	defer f.Close()
	for _, m := range messages {
		if _, err := f.WriteString(m.String()); err != nil {
			t.Fatalf("append mbox %s: %v", path, err)
		}
	}
}
