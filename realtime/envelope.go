// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package realtime

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/liaport/event"
	"github.com/bureau-foundation/liaport/lib/clock"
	"github.com/bureau-foundation/liaport/lib/codec"
	"github.com/bureau-foundation/liaport/lib/compress"
	"github.com/bureau-foundation/liaport/lib/sealed"
)

// MessageID identifies an envelope across every path it may arrive by.
type MessageID [32]byte

func (id MessageID) String() string { return hex.EncodeToString(id[:8]) }

// messageDomainKey is the BLAKE3 key for message ids: ASCII,
// zero-padded to 32 bytes.
var messageDomainKey = [32]byte{
	'l', 'i', 'a', 'p', 'o', 'r', 't', '.', 's', 'y', 'n', 'c', '.',
	'm', 'e', 's', 's', 'a', 'g', 'e',
}

// Envelope is the unit every adapter carries.
type Envelope struct {
	ID     MessageID    `cbor:"id"`
	Origin string       `cbor:"origin"`
	Sent   int64        `cbor:"sent"`
	Codec  compress.Tag `cbor:"codec"`
	Sealed bool         `cbor:"sealed,omitempty"`
	Size   int          `cbor:"size"`
	Body   []byte       `cbor:"body"`
}

func computeID(origin string, sent int64, body []byte) MessageID {
	hasher, err := blake3.NewKeyed(messageDomainKey[:])
	if err != nil {
		panic("realtime: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	var stamp [8]byte
	binary.BigEndian.PutUint64(stamp[:], uint64(sent))
	hasher.Write([]byte(origin))
	hasher.Write([]byte{0})
	hasher.Write(stamp[:])
	hasher.Write(body)
	var id MessageID
	copy(id[:], hasher.Sum(nil))
	return id
}

// Options are the envelope settings every backend config may carry
// next to its own fields.
type Options struct {
	// Secret seals bodies with sealed.Seal when non-empty. All
	// participants must use the same value.
	Secret string `json:"secret"`

	// Compression is "auto" (default), "none", "lz4" or "zstd".
	Compression string `json:"compression"`
}

// ParseOptions reads Options from a backend config.
func ParseOptions(config json.RawMessage) (Options, error) {
	var options Options
	if len(config) == 0 {
		return options, nil
	}
	if err := json.Unmarshal(config, &options); err != nil {
		return Options{}, fmt.Errorf("realtime: backend config: %w", err)
	}
	if options.Compression != "" && options.Compression != "auto" {
		if _, err := compress.ParseTag(options.Compression); err != nil {
			return Options{}, err
		}
	}
	return options, nil
}

// errDropped marks envelopes Receive discards silently.
var errDropped = errors.New("realtime: envelope dropped")

// Codec packs outgoing events and unpacks incoming envelopes for one
// adapter session. It remembers recent message ids so an envelope
// that arrives twice, or that this session sent itself, is dropped.
type Codec struct {
	origin  string
	options Options
	clock   clock.Clock

	mu   sync.Mutex
	seen map[MessageID]struct{}
	ring []MessageID
	next int
}

// seenCapacity bounds the duplicate-detection window.
const seenCapacity = 1024

// NewCodec returns a Codec whose envelopes carry origin.
func NewCodec(origin string, options Options, c clock.Clock) *Codec {
	if c == nil {
		c = clock.Real()
	}
	return &Codec{
		origin:  origin,
		options: options,
		clock:   c,
		seen:    make(map[MessageID]struct{}, seenCapacity),
		ring:    make([]MessageID, seenCapacity),
	}
}

// Origin returns the peer id stamped on outgoing envelopes.
func (c *Codec) Origin() string { return c.origin }

// Pack encodes ev as CBOR envelope bytes.
func (c *Codec) Pack(ev event.Event) ([]byte, error) {
	envelope, err := c.Seal(ev)
	if err != nil {
		return nil, err
	}
	return codec.Marshal(envelope)
}

// PackText is Pack for text-only transports: standard base64.
func (c *Codec) PackText(ev event.Event) (string, error) {
	data, err := c.Pack(ev)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Seal builds the envelope for ev and marks its id as seen, so the
// echo of our own message is dropped on arrival.
func (c *Codec) Seal(ev event.Event) (Envelope, error) {
	ev.Reply = false
	plain, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("realtime: encoding event: %w", err)
	}

	tag := compress.Auto(plain)
	switch c.options.Compression {
	case "", "auto":
	default:
		tag, _ = compress.ParseTag(c.options.Compression)
	}
	body, used, err := compress.Compress(plain, tag)
	if err != nil {
		return Envelope{}, err
	}

	envelope := Envelope{
		Origin: c.origin,
		Sent:   c.clock.Now().UnixMilli(),
		Codec:  used,
		Size:   len(plain),
	}
	if c.options.Secret != "" {
		body, err = sealed.Seal(body, c.options.Secret)
		if err != nil {
			return Envelope{}, err
		}
		envelope.Sealed = true
	}
	envelope.Body = body
	envelope.ID = computeID(envelope.Origin, envelope.Sent, body)
	c.remember(envelope.ID)
	return envelope, nil
}

// Receive decodes envelope bytes. ok is false, with a nil error, for
// our own messages and for duplicates.
func (c *Codec) Receive(data []byte) (ev event.Event, ok bool, err error) {
	var envelope Envelope
	if err := codec.Unmarshal(data, &envelope); err != nil {
		return event.Event{}, false, fmt.Errorf("realtime: decoding envelope: %w", err)
	}
	ev, err = c.Open(envelope)
	if errors.Is(err, errDropped) {
		return event.Event{}, false, nil
	}
	if err != nil {
		return event.Event{}, false, err
	}
	return ev, true, nil
}

// ReceiveText is Receive for base64 payloads from text transports.
func (c *Codec) ReceiveText(text string) (event.Event, bool, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return event.Event{}, false, fmt.Errorf("realtime: decoding envelope text: %w", err)
	}
	return c.Receive(data)
}

// Open verifies and unpacks an envelope.
func (c *Codec) Open(envelope Envelope) (event.Event, error) {
	if envelope.Origin == c.origin {
		return event.Event{}, errDropped
	}
	if computeID(envelope.Origin, envelope.Sent, envelope.Body) != envelope.ID {
		return event.Event{}, fmt.Errorf("realtime: envelope %s from %s: id mismatch", envelope.ID, envelope.Origin)
	}
	if !c.remember(envelope.ID) {
		return event.Event{}, errDropped
	}

	body := envelope.Body
	if envelope.Sealed {
		if c.options.Secret == "" {
			return event.Event{}, fmt.Errorf("realtime: envelope %s is sealed and no secret is configured", envelope.ID)
		}
		opened, err := sealed.Open(body, c.options.Secret)
		if err != nil {
			return event.Event{}, fmt.Errorf("realtime: envelope %s: %w", envelope.ID, err)
		}
		body = opened
	}
	plain, err := compress.Decompress(body, envelope.Codec, envelope.Size)
	if err != nil {
		return event.Event{}, fmt.Errorf("realtime: envelope %s: %w", envelope.ID, err)
	}
	ev, err := event.Decode(plain)
	if err != nil {
		return event.Event{}, fmt.Errorf("realtime: envelope %s: %w", envelope.ID, err)
	}
	return ev, nil
}

// remember records id and reports whether it was new.
func (c *Codec) remember(id MessageID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.seen[id]; dup {
		return false
	}
	evicted := c.ring[c.next]
	delete(c.seen, evicted)
	c.ring[c.next] = id
	c.next = (c.next + 1) % len(c.ring)
	c.seen[id] = struct{}{}
	return true
}
