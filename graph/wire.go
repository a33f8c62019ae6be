package graph

import (
	"strings"
	"time"

	"github.com/dhcgn/mailbox-to-mbox/model"
)

// Wire types mirror the JSON shapes returned by the mailbox API.

type wireRecipient struct {
	EmailAddress struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type wireBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type wireMessage struct {
	ID                string          `json:"id"`
	InternetMessageID string          `json:"internetMessageId"`
	ReceivedDateTime  time.Time       `json:"receivedDateTime"`
	SentDateTime      time.Time       `json:"sentDateTime"`
	Subject           string          `json:"subject"`
	Body              wireBody        `json:"body"`
	From              *wireRecipient  `json:"from"`
	ToRecipients      []wireRecipient `json:"toRecipients"`
	CcRecipients      []wireRecipient `json:"ccRecipients"`
	BccRecipients     []wireRecipient `json:"bccRecipients"`
	ReplyTo           []wireRecipient `json:"replyTo"`
	HasAttachments    bool            `json:"hasAttachments"`
	IsRead            bool            `json:"isRead"`
	IsDraft           bool            `json:"isDraft"`
	Importance        string          `json:"importance"`
}

type wireAttachment struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size"`
	IsInline     bool   `json:"isInline"`
	ContentID    string `json:"contentId"`
	ContentBytes string `json:"contentBytes"`
}

func toRecipients(wire []wireRecipient) []model.Recipient {
	if len(wire) == 0 {
		return nil
	}
	out := make([]model.Recipient, 0, len(wire))
	for _, w := range wire {
		out = append(out, model.Recipient{Name: w.EmailAddress.Name, Address: w.EmailAddress.Address})
	}
	return out
}

func (m wireMessage) toRecord() model.MessageRecord {
	bodyType := model.BodyTypeText
	if strings.EqualFold(m.Body.ContentType, "html") {
		bodyType = model.BodyTypeHTML
	}

	var from []model.Recipient
	if m.From != nil {
		from = toRecipients([]wireRecipient{*m.From})
	}

	return model.MessageRecord{
		ID:                m.ID,
		InternetMessageID: m.InternetMessageID,
		ReceivedAt:        m.ReceivedDateTime,
		SentAt:            m.SentDateTime,
		Subject:           m.Subject,
		From:              from,
		To:                toRecipients(m.ToRecipients),
		Cc:                toRecipients(m.CcRecipients),
		Bcc:               toRecipients(m.BccRecipients),
		ReplyTo:           toRecipients(m.ReplyTo),
		Body:              model.Body{ContentType: bodyType, Content: m.Body.Content},
		HasAttachments:    m.HasAttachments,
		Flags: model.Flags{
			Read:       m.IsRead,
			Draft:      m.IsDraft,
			Importance: strings.ToLower(m.Importance),
		},
	}
}

func (a wireAttachment) toAttachment() model.Attachment {
	return model.Attachment{
		ID:            a.ID,
		Filename:      a.Name,
		MimeType:      a.ContentType,
		SizeBytes:     a.Size,
		IsInline:      a.IsInline,
		ContentID:     strings.Trim(a.ContentID, "<>"),
		ContentBase64: a.ContentBytes,
	}
}
