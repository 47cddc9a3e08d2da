// Package message models the ebMS3 SOAP envelope and its header blocks.
package message

import (
	"encoding/xml"
	"time"
)

// XML namespaces used across AS4 messages.
const (
	NsSOAP12 = "http://www.w3.org/2003/05/soap-envelope"
	NsSOAP11 = "http://schemas.xmlsoap.org/soap/envelope/"
	NsEbMS   = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/"
	NsWSSE   = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	NsWSU    = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	NsDS     = "http://www.w3.org/2000/09/xmldsig#"
	NsXENC   = "http://www.w3.org/2001/04/xmlenc#"
	NsXENC11 = "http://www.w3.org/2009/xmlenc11#"
	NsEBBP   = "http://docs.oasis-open.org/ebxml-bp/ebbp-signals-2.0"
)

// Default party roles.
const (
	RoleInitiator = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/initiator"
	RoleResponder = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/responder"
	DefaultRole   = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/defaultRole"
)

// DefaultMPC is the message partition channel used when a pull request
// names none.
const DefaultMPC = "http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/defaultMPC"

// Envelope is a SOAP 1.2 envelope carrying the ebMS3 Messaging header.
type Envelope struct {
	XMLName xml.Name `xml:"http://www.w3.org/2003/05/soap-envelope Envelope"`
	Header  *Header  `xml:"Header"`
	Body    *Body    `xml:"Body"`
}

// Header is the SOAP header. Security content is added during signing
// and is not modelled here; the DOM layer owns it.
type Header struct {
	Messaging *Messaging `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ Messaging"`
}

// Body is the SOAP body. For messages with attachments it stays empty;
// a business payload travelling inline is embedded as raw XML.
type Body struct {
	XMLName xml.Name `xml:"http://www.w3.org/2003/05/soap-envelope Body"`
	Content []byte   `xml:",innerxml"`
}

// Messaging is the eb:Messaging header block. Exactly one of UserMessage
// or SignalMessage is set.
type Messaging struct {
	XMLName       xml.Name       `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ Messaging"`
	UserMessage   *UserMessage   `xml:"UserMessage,omitempty"`
	SignalMessage *SignalMessage `xml:"SignalMessage,omitempty"`
}

// UserMessage carries a business document between two parties.
type UserMessage struct {
	XMLName           xml.Name           `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ UserMessage"`
	MPC               string             `xml:"mpc,attr,omitempty"`
	MessageInfo       *MessageInfo       `xml:"MessageInfo"`
	PartyInfo         *PartyInfo         `xml:"PartyInfo"`
	CollaborationInfo *CollaborationInfo `xml:"CollaborationInfo"`
	MessageProperties *MessageProperties `xml:"MessageProperties,omitempty"`
	PayloadInfo       *PayloadInfo       `xml:"PayloadInfo,omitempty"`
}

// MessageInfo identifies a message and links it to a predecessor.
type MessageInfo struct {
	Timestamp      time.Time `xml:"Timestamp"`
	MessageId      string    `xml:"MessageId"`
	RefToMessageId string    `xml:"RefToMessageId,omitempty"`
}

// PartyInfo names sender and receiver.
type PartyInfo struct {
	From *Party `xml:"From"`
	To   *Party `xml:"To"`
}

// Party is one side of the exchange.
type Party struct {
	PartyId []PartyId `xml:"PartyId"`
	Role    string    `xml:"Role"`
}

// PartyId is a typed party identifier.
type PartyId struct {
	Type  string `xml:"type,attr,omitempty"`
	Value string `xml:",chardata"`
}

// CollaborationInfo carries the business context of a user message.
type CollaborationInfo struct {
	AgreementRef   *AgreementRef `xml:"AgreementRef,omitempty"`
	Service        Service       `xml:"Service"`
	Action         string        `xml:"Action"`
	ConversationId string        `xml:"ConversationId"`
}

// AgreementRef points at the business agreement and, optionally, the
// P-Mode governing the message.
type AgreementRef struct {
	Type  string `xml:"type,attr,omitempty"`
	Pmode string `xml:"pmode,attr,omitempty"`
	Value string `xml:",chardata"`
}

// Service identifies the invoked service.
type Service struct {
	Type  string `xml:"type,attr,omitempty"`
	Value string `xml:",chardata"`
}

// MessageProperties holds free-form message-level properties.
type MessageProperties struct {
	Property []Property `xml:"Property"`
}

// Property is a named value on a message or payload part.
type Property struct {
	Name  string `xml:"name,attr"`
	Type  string `xml:"type,attr,omitempty"`
	Value string `xml:",chardata"`
}

// PayloadInfo lists the payload parts of a user message.
type PayloadInfo struct {
	PartInfo []PartInfo `xml:"PartInfo"`
}

// PartInfo references one payload part, usually by cid: href.
type PartInfo struct {
	Href           string          `xml:"href,attr,omitempty"`
	PartProperties *PartProperties `xml:"PartProperties,omitempty"`
}

// PartProperties holds per-part properties such as MimeType and
// CompressionType.
type PartProperties struct {
	Property []Property `xml:"Property"`
}

// SignalMessage is a receipt, an error report, or a pull request.
type SignalMessage struct {
	XMLName     xml.Name     `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ SignalMessage"`
	MessageInfo *MessageInfo `xml:"MessageInfo"`
	Receipt     *Receipt     `xml:"Receipt,omitempty"`
	Errors      []Error      `xml:"Error,omitempty"`
	PullRequest *PullRequest `xml:"PullRequest,omitempty"`
}

// Receipt acknowledges a user message. For non-repudiation receipts the
// inner XML carries ebbp:NonRepudiationInformation echoing the signed
// references of the acknowledged message.
type Receipt struct {
	XMLName xml.Name `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ Receipt"`
	Content []byte   `xml:",innerxml"`
}

// Error is one ebMS3 error entry inside a signal message.
type Error struct {
	XMLName             xml.Name     `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ Error"`
	ErrorCode           string       `xml:"errorCode,attr"`
	Severity            string       `xml:"severity,attr"`
	ShortDescription    string       `xml:"shortDescription,attr,omitempty"`
	Category            string       `xml:"category,attr,omitempty"`
	RefToMessageInError string       `xml:"refToMessageInError,attr,omitempty"`
	Description         *Description `xml:"Description,omitempty"`
	ErrorDetail         string       `xml:"ErrorDetail,omitempty"`
}

// Description is a language-tagged error description.
type Description struct {
	Lang  string `xml:"http://www.w3.org/XML/1998/namespace lang,attr,omitempty"`
	Value string `xml:",chardata"`
}

// PullRequest asks the responding MSH to release one message from the
// named partition channel.
type PullRequest struct {
	XMLName xml.Name `xml:"http://docs.oasis-open.org/ebxml-msg/ebms/v3.0/ns/core/200704/ PullRequest"`
	MPC     string   `xml:"mpc,attr,omitempty"`
}

// IsReceipt reports whether the signal acknowledges a user message.
func (s *SignalMessage) IsReceipt() bool { return s != nil && s.Receipt != nil }

// IsError reports whether the signal carries error entries.
func (s *SignalMessage) IsError() bool { return s != nil && len(s.Errors) > 0 }

// IsPullRequest reports whether the signal is a pull request.
func (s *SignalMessage) IsPullRequest() bool { return s != nil && s.PullRequest != nil }

// RefToMessageId returns the referenced message ID, or "".
func (s *SignalMessage) RefToMessageId() string {
	if s == nil || s.MessageInfo == nil {
		return ""
	}
	return s.MessageInfo.RefToMessageId
}
