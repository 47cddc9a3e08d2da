// Package mime implements the multipart/related packaging of AS4
// messages with attachments.
//
// The SOAP envelope travels as raw bytes. Signed envelopes must cross
// the MIME layer byte for byte, so this package never re-marshals the
// envelope it is given.
package mime

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/google/uuid"

	"github.com/KORe4/phase4/pkg/message"
)

// MIME content types used on the AS4 wire.
const (
	ContentTypeMultipartRelated = "multipart/related"
	ContentTypeApplicationXML   = "application/xml"
	ContentTypeSOAPXML          = "application/soap+xml"
	ContentTypeOctetStream      = "application/octet-stream"
)

// Message is a multipart/related AS4 message: the envelope part
// followed by zero or more attachment parts.
type Message struct {
	Boundary    string
	StartID     string
	EnvelopeXML []byte
	Payloads    []Payload
}

// Payload is one attachment part.
type Payload struct {
	ContentID       string
	ContentType     string
	ContentTransfer string
	CompressionType string
	MimeType        string
	CharacterSet    string
	Data            []byte
	Headers         textproto.MIMEHeader
}

// NewMessage packages a serialized envelope with its attachment parts.
// The boundary and the start Content-ID are derived from IDs minted by
// the factory, so builds under a pinned factory serialize to identical
// bytes. A nil factory picks random IDs.
func NewMessage(envelopeXML []byte, payloads []Payload, idFactory message.IDFactory) *Message {
	if idFactory == nil {
		idFactory = message.NewIDFactory("phase4")
	}
	return &Message{
		Boundary:    boundaryFrom(idFactory()),
		StartID:     AddContentIDBrackets(idFactory()),
		EnvelopeXML: envelopeXML,
		Payloads:    payloads,
	}
}

// Serialize writes the full multipart body and returns it with the
// Content-Type header value carrying boundary, type, and start.
func (m *Message) Serialize() ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.SetBoundary(m.Boundary); err != nil {
		return nil, "", fmt.Errorf("setting boundary: %w", err)
	}

	soapHeader := textproto.MIMEHeader{}
	soapHeader.Set("Content-Type", ContentTypeSOAPXML+"; charset=UTF-8")
	soapHeader.Set("Content-Transfer-Encoding", "8bit")
	soapHeader.Set("Content-ID", m.StartID)

	soapPart, err := w.CreatePart(soapHeader)
	if err != nil {
		return nil, "", fmt.Errorf("creating envelope part: %w", err)
	}
	if _, err := soapPart.Write(m.EnvelopeXML); err != nil {
		return nil, "", fmt.Errorf("writing envelope part: %w", err)
	}

	for _, p := range m.Payloads {
		header := textproto.MIMEHeader{}

		contentType := p.ContentType
		if contentType == "" {
			contentType = ContentTypeOctetStream
		}
		if p.CharacterSet != "" {
			contentType = fmt.Sprintf("%s; charset=%s", contentType, p.CharacterSet)
		}
		header.Set("Content-Type", contentType)

		transfer := p.ContentTransfer
		if transfer == "" {
			transfer = "binary"
		}
		header.Set("Content-Transfer-Encoding", transfer)

		contentID := p.ContentID
		if contentID == "" {
			contentID = fmt.Sprintf("%s@phase4", uuid.New().String())
		}
		header.Set("Content-ID", AddContentIDBrackets(contentID))

		for key, values := range p.Headers {
			for _, v := range values {
				header.Add(key, v)
			}
		}

		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("creating payload part: %w", err)
		}
		if _, err := part.Write(p.Data); err != nil {
			return nil, "", fmt.Errorf("writing payload part: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart writer: %w", err)
	}

	contentType := mime.FormatMediaType(ContentTypeMultipartRelated, map[string]string{
		"boundary": m.Boundary,
		"type":     ContentTypeSOAPXML,
		"start":    NormalizeContentID(m.StartID),
	})

	return buf.Bytes(), contentType, nil
}

// Parse reads a multipart/related body. The first part, or the part
// matching the start parameter, is taken as the SOAP envelope and kept
// as raw bytes.
func Parse(r io.Reader, contentType string) (*Message, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("parsing content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("not a multipart message: %s", mediaType)
	}

	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("boundary not found in content type")
	}

	msg := &Message{
		Boundary: boundary,
		StartID:  params["start"],
	}

	reader := multipart.NewReader(r, boundary)
	first := true

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading part: %w", err)
		}

		data, err := io.ReadAll(part)
		if err != nil {
			return nil, fmt.Errorf("reading part data: %w", err)
		}

		contentID := part.Header.Get("Content-ID")

		isEnvelope := first
		if !first && msg.StartID != "" && contentID != "" {
			isEnvelope = NormalizeContentID(msg.StartID) == NormalizeContentID(contentID)
		}

		if isEnvelope && msg.EnvelopeXML == nil {
			msg.EnvelopeXML = data
		} else {
			msg.Payloads = append(msg.Payloads, Payload{
				ContentID:       contentID,
				ContentType:     part.Header.Get("Content-Type"),
				ContentTransfer: part.Header.Get("Content-Transfer-Encoding"),
				Data:            data,
				Headers:         part.Header,
			})
		}
		first = false
	}

	if msg.EnvelopeXML == nil {
		return nil, fmt.Errorf("SOAP envelope not found in message")
	}

	return msg, nil
}

// Envelope parses the envelope bytes.
func (m *Message) Envelope() (*message.Envelope, error) {
	return message.Parse(m.EnvelopeXML)
}

// CorrelateWithPartInfo enriches payload parts with MimeType,
// CompressionType, and CharacterSet part properties from the
// UserMessage's PayloadInfo, keyed by normalized Content-ID.
func (m *Message) CorrelateWithPartInfo(um *message.UserMessage) {
	if um == nil || um.PayloadInfo == nil {
		return
	}

	byHref := make(map[string]*message.PartInfo)
	for i := range um.PayloadInfo.PartInfo {
		pi := &um.PayloadInfo.PartInfo[i]
		if pi.Href != "" {
			byHref[NormalizeContentID(pi.Href)] = pi
		}
	}

	for i := range m.Payloads {
		p := &m.Payloads[i]
		pi, ok := byHref[NormalizeContentID(p.ContentID)]
		if !ok || pi.PartProperties == nil {
			continue
		}
		for _, prop := range pi.PartProperties.Property {
			switch prop.Name {
			case "MimeType":
				p.MimeType = prop.Value
			case "CompressionType":
				p.CompressionType = prop.Value
			case "CharacterSet":
				p.CharacterSet = prop.Value
			}
		}
	}
}

// GetPayloadByContentID finds a payload regardless of cid: prefix or
// angle brackets.
func (m *Message) GetPayloadByContentID(contentID string) *Payload {
	want := NormalizeContentID(contentID)
	for i := range m.Payloads {
		if NormalizeContentID(m.Payloads[i].ContentID) == want {
			return &m.Payloads[i]
		}
	}
	return nil
}

// UpdatePayloadData replaces a payload's data, for example after
// decompression.
func (m *Message) UpdatePayloadData(contentID string, newData []byte) bool {
	want := NormalizeContentID(contentID)
	for i := range m.Payloads {
		if NormalizeContentID(m.Payloads[i].ContentID) == want {
			m.Payloads[i].Data = newData
			return true
		}
	}
	return false
}

// NewPayload creates an attachment part for the given Content-ID.
func NewPayload(data []byte, contentType, contentID string) Payload {
	return Payload{
		ContentID:       contentID,
		ContentType:     contentType,
		ContentTransfer: "binary",
		Data:            data,
		Headers:         make(textproto.MIMEHeader),
	}
}

// NormalizeContentID strips the cid: prefix and angle brackets.
func NormalizeContentID(contentID string) string {
	contentID = strings.TrimPrefix(contentID, "cid:")
	contentID = strings.TrimPrefix(contentID, "<")
	contentID = strings.TrimSuffix(contentID, ">")
	return contentID
}

// AddContentIDBrackets wraps a Content-ID in angle brackets when absent.
func AddContentIDBrackets(contentID string) string {
	if !strings.HasPrefix(contentID, "<") {
		contentID = "<" + contentID
	}
	if !strings.HasSuffix(contentID, ">") {
		contentID = contentID + ">"
	}
	return contentID
}

// boundaryFrom turns a message ID into a legal MIME boundary token.
// RFC 2046 boundaries exclude '@', so the ID is filtered rather than
// used verbatim.
func boundaryFrom(id string) string {
	var b strings.Builder
	b.WriteString("----=_Part_")
	for _, r := range id {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		}
	}
	return b.String()
}
