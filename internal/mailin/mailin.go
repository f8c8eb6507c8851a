// Package mailin extracts calendar invitations from raw email messages. Each
// text/calendar part of a message becomes at most one widget instance;
// duplicates describing the same UID are dropped before reconciliation.
package mailin

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/DusanKasan/parsemail"

	"github.com/jw6ventures/mailvite/internal/itip"
)

const mimeCalendar = "text/calendar"

// Attachment is one candidate calendar part of a message.
type Attachment struct {
	ContentType string
	Filename    string
	Data        []byte
}

// IsCalendarMIME reports whether the part's declared type is text/calendar
// (possibly with parameters).
func (a *Attachment) IsCalendarMIME() bool {
	return strings.HasPrefix(strings.ToLower(a.ContentType), mimeCalendar)
}

// Message is the envelope context the normalizer needs from the mail itself.
type Message struct {
	From       string
	Subject    string
	ReceivedAt time.Time

	Attachments []Attachment
}

// Read parses a raw RFC 5322 message and collects every part that may carry
// a calendar object: embedded text/calendar bodies and .ics-named file
// attachments.
func Read(r io.Reader) (*Message, error) {
	m, err := parsemail.Parse(r)
	if err != nil {
		return nil, itip.WrapError(itip.KindParsing, "", err)
	}

	msg := &Message{
		Subject:    m.Subject,
		ReceivedAt: m.Date,
	}
	if len(m.From) > 0 {
		msg.From = m.From[0].Address
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}

	for _, f := range m.EmbeddedFiles {
		if !strings.HasPrefix(strings.ToLower(f.ContentType), mimeCalendar) {
			continue
		}
		data, err := io.ReadAll(f.Data)
		if err != nil {
			return nil, itip.WrapError(itip.KindParsing, "", err)
		}
		msg.Attachments = append(msg.Attachments, Attachment{ContentType: f.ContentType, Data: data})
	}
	for _, a := range m.Attachments {
		lower := strings.ToLower(a.ContentType)
		if !strings.HasPrefix(lower, mimeCalendar) && !strings.HasSuffix(strings.ToLower(a.Filename), ".ics") {
			continue
		}
		data, err := io.ReadAll(a.Data)
		if err != nil {
			return nil, itip.WrapError(itip.KindParsing, "", err)
		}
		msg.Attachments = append(msg.Attachments, Attachment{ContentType: a.ContentType, Filename: a.Filename, Data: data})
	}
	return msg, nil
}

// Decryptor unwraps an encrypted attachment. Plain deployments use
// PlainDecryptor.
type Decryptor interface {
	Decrypt(ctx context.Context, data []byte) ([]byte, error)
}

// PlainDecryptor passes attachments through unchanged.
type PlainDecryptor struct{}

func (PlainDecryptor) Decrypt(_ context.Context, data []byte) ([]byte, error) { return data, nil }

// Result is the outcome of processing one attachment. Exactly one of
// Invitation and Err is set.
type Result struct {
	Attachment Attachment
	Invitation *itip.EventInvitation
	Err        *itip.Error
}

// Options configures attachment processing.
type Options struct {
	Decryptor       Decryptor
	DefaultTimezone *time.Location
}

// Process decrypts, parses and normalizes every attachment of the message
// with unordered concurrency, then de-duplicates the survivors by UID.
// Per-attachment failures land in the corresponding Result; they never abort
// the siblings.
func Process(ctx context.Context, msg *Message, opts Options) []Result {
	dec := opts.Decryptor
	if dec == nil {
		dec = PlainDecryptor{}
	}

	results := make([]Result, len(msg.Attachments))
	var wg sync.WaitGroup
	for i, att := range msg.Attachments {
		wg.Add(1)
		go func(i int, att Attachment) {
			defer wg.Done()
			results[i] = processOne(ctx, att, dec, msg.ReceivedAt, opts.DefaultTimezone)
		}(i, att)
	}
	wg.Wait()

	return Dedupe(results)
}

func processOne(ctx context.Context, att Attachment, dec Decryptor, receivedAt time.Time, fallback *time.Location) Result {
	res := Result{Attachment: att}

	data, err := dec.Decrypt(ctx, att.Data)
	if err != nil {
		res.Err = itip.WrapError(itip.KindDecryption, itip.HashICS(att.Data), err)
		return res
	}

	cal, hash, err := itip.Parse(data)
	if err != nil {
		res.Err = toError(err, hash)
		return res
	}
	inv, err := itip.Normalize(cal, itip.NormalizeOptions{
		ReceivedAt:      receivedAt,
		DefaultTimezone: fallback,
		Hash:            hash,
	})
	if err != nil {
		res.Err = toError(err, hash)
		return res
	}
	res.Invitation = inv
	return res
}

func toError(err error, hash string) *itip.Error {
	if ie, ok := err.(*itip.Error); ok {
		return ie
	}
	return itip.WrapError(itip.KindExternal, hash, err)
}

// Dedupe keeps one result per UID. When two attachments describe the same
// UID, the one with a text/calendar MIME type wins; ties keep the earlier
// attachment. Failed results carry no UID and always survive.
func Dedupe(results []Result) []Result {
	byUID := make(map[string]int)
	out := make([]Result, 0, len(results))
	for _, res := range results {
		if res.Invitation == nil {
			out = append(out, res)
			continue
		}
		uid := res.Invitation.Vevent.UID
		prev, seen := byUID[uid]
		if !seen {
			byUID[uid] = len(out)
			out = append(out, res)
			continue
		}
		if !out[prev].Attachment.IsCalendarMIME() && res.Attachment.IsCalendarMIME() {
			out[prev] = res
		}
	}
	return out
}
