// Package message defines the unit flowing between sftpstreams components and
// its mapping onto NATS messages.
package message

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Headers describing the remote file a message came from.
const (
	HeaderRemoteDirectory = "file_remoteDirectory"
	HeaderRemoteFile      = "file_remoteFile"
	HeaderFilename        = "file_name"
	HeaderRemoteFileSize  = "file_remoteFileSize"
	HeaderRemoteModified  = "file_remoteModified"
	HeaderOriginalFile    = "file_originalFile"
	HeaderContentType     = "contentType"
	HeaderID              = "id"
)

// Headers identifying the server a message was fetched from in multi-source mode.
const (
	HeaderSelectedServer = "sftp_selectedServer"
	HeaderHost           = "sftp_host"
	HeaderPort           = "sftp_port"
	HeaderUsername       = "sftp_username"
	HeaderPassword       = "sftp_password"
)

// ServerHeaderPrefix is shared by all server identity headers.
const ServerHeaderPrefix = "sftp_"

// Message is a payload plus headers. Header values are strings except where a
// producer stores a number (sftp_port).
type Message struct {
	Payload []byte
	Headers map[string]any
}

// New creates a message with a fresh id header.
func New(payload []byte) *Message {
	return &Message{
		Payload: payload,
		Headers: map[string]any{HeaderID: uuid.NewString()},
	}
}

// Set stores a header value and returns m for chaining.
func (m *Message) Set(key string, value any) *Message {
	if m.Headers == nil {
		m.Headers = make(map[string]any)
	}
	m.Headers[key] = value
	return m
}

// String returns a header as a string, or "" when absent.
func (m *Message) String(key string) string {
	v, ok := m.Headers[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int returns a numeric header, parsing string values.
func (m *Message) Int(key string) (int, bool) {
	switch v := m.Headers[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}

// Clone returns a copy with its own header map. The payload is shared.
func (m *Message) Clone() *Message {
	h := make(map[string]any, len(m.Headers))
	for k, v := range m.Headers {
		h[k] = v
	}
	return &Message{Payload: m.Payload, Headers: h}
}

// WithoutPrefix returns a copy lacking every header starting with prefix.
func (m *Message) WithoutPrefix(prefix string) *Message {
	out := m.Clone()
	for k := range out.Headers {
		if strings.HasPrefix(k, prefix) {
			delete(out.Headers, k)
		}
	}
	return out
}

// Keys returns the header names sorted.
func (m *Message) Keys() []string {
	keys := make([]string, 0, len(m.Headers))
	for k := range m.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToNATS builds a NATS message for subject. Values are stringified.
func (m *Message) ToNATS(subject string) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = m.Payload
	for _, k := range m.Keys() {
		msg.Header.Set(k, m.String(k))
	}
	return msg
}

// FromNATS converts a received NATS message. Numeric server headers are
// restored to int.
func FromNATS(msg *nats.Msg) *Message {
	m := &Message{Payload: msg.Data, Headers: make(map[string]any, len(msg.Header))}
	for k := range msg.Header {
		m.Headers[k] = msg.Header.Get(k)
	}
	if port, ok := m.Int(HeaderPort); ok {
		m.Headers[HeaderPort] = port
	}
	return m
}
