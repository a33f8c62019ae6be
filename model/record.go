package model

import "time"

// Body content type tags as reported by the mailbox API.
const (
	BodyTypeText = "text"
	BodyTypeHTML = "html"
)

// Importance levels as reported by the mailbox API.
const (
	ImportanceLow    = "low"
	ImportanceNormal = "normal"
	ImportanceHigh   = "high"
)

// Recipient is one display-name/address pair from an address header.
type Recipient struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// Body carries the message body as returned by the API, tagged with its
// content type (BodyTypeText or BodyTypeHTML).
type Body struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// Flags holds per-message state flags.
type Flags struct {
	Read       bool   `json:"read"`
	Draft      bool   `json:"draft"`
	Importance string `json:"importance,omitempty"`
}

// Attachment is one attachment of a message. ContentBase64 is empty when
// attachment content was not requested.
type Attachment struct {
	ID            string `json:"id"`
	Filename      string `json:"filename"`
	MimeType      string `json:"mimeType"`
	SizeBytes     int64  `json:"sizeBytes"`
	IsInline      bool   `json:"isInline"`
	ContentID     string `json:"contentId,omitempty"`
	ContentBase64 string `json:"contentBase64,omitempty"`
}

// MessageRecord represents a single message fetched from the remote mailbox.
// ID is immutable and globally unique within a mailbox.
type MessageRecord struct {
	ID                string       `json:"id"`
	InternetMessageID string       `json:"internetMessageId,omitempty"`
	ReceivedAt        time.Time    `json:"receivedAt"`
	SentAt            time.Time    `json:"sentAt,omitempty"`
	Subject           string       `json:"subject"`
	From              []Recipient  `json:"from,omitempty"`
	To                []Recipient  `json:"to,omitempty"`
	Cc                []Recipient  `json:"cc,omitempty"`
	Bcc               []Recipient  `json:"bcc,omitempty"`
	ReplyTo           []Recipient  `json:"replyTo,omitempty"`
	Body              Body         `json:"body"`
	HasAttachments    bool         `json:"hasAttachments"`
	Attachments       []Attachment `json:"attachments,omitempty"`
	Flags             Flags        `json:"flags"`
}

// SenderAddress returns the first sender address, or "" if none is known.
func (m MessageRecord) SenderAddress() string {
	for _, r := range m.From {
		if r.Address != "" {
			return r.Address
		}
	}
	return ""
}

// StagedUnit is the durable on-disk form of one fetched record.
type StagedUnit struct {
	MessageRecord
	DownloadedAt time.Time `json:"downloadedAt"`
}

// Envelope wraps a record alongside an optional error encountered while fetching.
type Envelope struct {
	Record MessageRecord
	Err    error
}
