package mbox

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/dhcgn/mailbox-to-mbox/model"
)

// PlaceholderSender is used on the separator line when no sender address is
// known; every entry must carry a parseable "From " line.
const PlaceholderSender = "MAILER-DAEMON"

const base64LineLength = 76

// EncodeEntry serializes one record as a complete mbox entry: separator
// line, RFC 2822 headers and a single-part or multipart/mixed body with all
// body and header lines "From "-escaped. The returned bytes end with exactly
// one newline; the inter-entry blank line is the writer's concern.
//
// An error means the record cannot be represented (e.g. corrupt attachment
// base64) and must be skipped; a structurally broken entry would poison the
// whole archive.
func EncodeEntry(rec model.MessageRecord) ([]byte, error) {
	var b bytes.Buffer

	sender := rec.SenderAddress()
	if sender == "" {
		sender = PlaceholderSender
	}
	fmt.Fprintf(&b, "From %s %s\n", sender, rfc2822Date(rec.ReceivedAt))

	writeHeader(&b, "From", formatAddressList(rec.From))
	writeHeader(&b, "To", formatAddressList(rec.To))
	writeHeader(&b, "Cc", formatAddressList(rec.Cc))
	writeHeader(&b, "Reply-To", formatAddressList(rec.ReplyTo))
	writeHeader(&b, "Date", rfc2822Date(rec.ReceivedAt))
	writeHeader(&b, "Subject", encodeHeaderText(rec.Subject))
	writeHeader(&b, "Message-ID", messageID(rec))
	writeHeader(&b, "MIME-Version", "1.0")
	if rec.Flags.Read {
		writeHeader(&b, "Status", "RO")
	}

	if len(rec.Attachments) == 0 {
		writeHeader(&b, "Content-Type", bodyContentType(rec.Body))
		b.WriteByte('\n')
		writeQuotedText(&b, rec.Body.Content)
		return b.Bytes(), nil
	}

	boundary := boundaryFor(rec.ID)
	writeHeader(&b, "Content-Type", fmt.Sprintf("multipart/mixed; boundary=%q", boundary))
	b.WriteByte('\n')

	fmt.Fprintf(&b, "--%s\n", boundary)
	writeHeader(&b, "Content-Type", bodyContentType(rec.Body))
	b.WriteByte('\n')
	writeQuotedText(&b, rec.Body.Content)

	for _, att := range rec.Attachments {
		if att.ContentBase64 == "" {
			// metadata-only attachment, content was never fetched
			continue
		}
		content, err := base64.StdEncoding.DecodeString(stripSpace(att.ContentBase64))
		if err != nil {
			return nil, fmt.Errorf("attachment %s (%s): invalid base64: %w", att.ID, att.Filename, err)
		}

		fmt.Fprintf(&b, "\n--%s\n", boundary)
		writeHeader(&b, "Content-Type", attachmentContentType(att))
		writeHeader(&b, "Content-Disposition", fmt.Sprintf("attachment; filename=%q", sanitizeHeaderValue(att.Filename)))
		if att.ContentID != "" {
			writeHeader(&b, "Content-ID", "<"+sanitizeHeaderValue(att.ContentID)+">")
		}
		writeHeader(&b, "Content-Transfer-Encoding", "base64")
		b.WriteByte('\n')
		writeBase64(&b, content)
	}

	fmt.Fprintf(&b, "\n--%s--\n", boundary)
	return b.Bytes(), nil
}

// rfc2822Date renders t in RFC 2822 form, used both on the separator line
// and in the Date header.
func rfc2822Date(t time.Time) string {
	if t.IsZero() {
		t = time.Unix(0, 0).UTC()
	}
	return t.Format("Mon, 02 Jan 2006 15:04:05 -0700")
}

func messageID(rec model.MessageRecord) string {
	if id := strings.TrimSpace(rec.InternetMessageID); id != "" {
		if strings.HasPrefix(id, "<") {
			return id
		}
		return "<" + id + ">"
	}
	return "<" + sanitizeHeaderValue(rec.ID) + "@mailbox.export>"
}

func bodyContentType(body model.Body) string {
	if body.ContentType == model.BodyTypeHTML {
		return `text/html; charset="utf-8"`
	}
	return `text/plain; charset="utf-8"`
}

func attachmentContentType(att model.Attachment) string {
	mimeType := att.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if att.Filename != "" {
		return fmt.Sprintf("%s; name=%q", mimeType, sanitizeHeaderValue(att.Filename))
	}
	return mimeType
}

func formatAddressList(recipients []model.Recipient) string {
	parts := make([]string, 0, len(recipients))
	for _, r := range recipients {
		switch {
		case r.Name == "" && r.Address == "":
		case r.Name == "":
			parts = append(parts, r.Address)
		default:
			parts = append(parts, fmt.Sprintf("%s <%s>", encodeDisplayName(r.Name), r.Address))
		}
	}
	return strings.Join(parts, ", ")
}

func encodeDisplayName(name string) string {
	name = sanitizeHeaderValue(name)
	if !isASCII(name) {
		return mime.QEncoding.Encode("utf-8", name)
	}
	if strings.ContainsAny(name, `",;<>@()`) {
		return fmt.Sprintf("%q", name)
	}
	return name
}

func encodeHeaderText(s string) string {
	s = sanitizeHeaderValue(s)
	if isASCII(s) {
		return s
	}
	return mime.QEncoding.Encode("utf-8", s)
}

// sanitizeHeaderValue strips CR/LF and quotes so a value can never break out
// of its header line.
func sanitizeHeaderValue(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, `"`, "'")
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 32 || s[i] > 126 {
			return false
		}
	}
	return true
}

func writeHeader(b *bytes.Buffer, name, value string) {
	if value == "" {
		return
	}
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteByte('\n')
}

// writeQuotedText writes text with mbox "From "-quoting: every line whose
// content after any leading '>' run starts with "From " gets one more '>'
// prefix, so a downstream parser can never mistake it for a separator and
// the original is recoverable. Line endings are normalized to LF and a
// trailing newline is guaranteed.
func writeQuotedText(b *bytes.Buffer, text string) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimLeft(line, ">"), "From ") {
			b.WriteByte('>')
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
}

// writeBase64 re-encodes content reflowed to fixed 76-character lines.
func writeBase64(b *bytes.Buffer, content []byte) {
	encoded := base64.StdEncoding.EncodeToString(content)
	for len(encoded) > base64LineLength {
		b.WriteString(encoded[:base64LineLength])
		b.WriteByte('\n')
		encoded = encoded[base64LineLength:]
	}
	if len(encoded) > 0 {
		b.WriteString(encoded)
		b.WriteByte('\n')
	}
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
}

// boundaryFor derives a deterministic MIME boundary from the record id so
// repeated runs over the same staged set produce byte-identical archives.
func boundaryFor(id string) string {
	sum := sha256.Sum256([]byte(id))
	return "----=_" + hex.EncodeToString(sum[:])[:24]
}
