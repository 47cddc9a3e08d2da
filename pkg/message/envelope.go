package message

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// ebmsElements are the header elements carrying the eb: prefix on the
// wire. Peer stacks built on WSS4J reject the default-namespace form.
var ebmsElements = []string{
	"Messaging", "UserMessage", "SignalMessage",
	"MessageInfo", "Timestamp", "MessageId", "RefToMessageId",
	"PartyInfo", "From", "To", "PartyId", "Role",
	"CollaborationInfo", "AgreementRef", "Service", "Action", "ConversationId",
	"MessageProperties", "Property",
	"PayloadInfo", "PartInfo", "PartProperties",
	"Receipt", "Error", "Description", "ErrorDetail", "PullRequest",
}

// AddEbMSPrefix rewrites ebMS header elements from default-namespace
// form to the eb: prefixed form. Only the SOAP Header is rewritten:
// Body content is business payload and may contain elements sharing
// ebMS local names.
func AddEbMSPrefix(xmlData []byte) []byte {
	head, tail, found := strings.Cut(string(xmlData), "</Header>")
	if !found {
		return xmlData
	}

	for _, elem := range ebmsElements {
		head = strings.ReplaceAll(head, "<"+elem+" ", "<eb:"+elem+" ")
		head = strings.ReplaceAll(head, "<"+elem+">", "<eb:"+elem+">")
		head = strings.ReplaceAll(head, "</"+elem+">", "</eb:"+elem+">")
	}

	for _, root := range []string{"Messaging", "UserMessage", "SignalMessage"} {
		head = strings.ReplaceAll(head,
			fmt.Sprintf(`<eb:%s xmlns="%s"`, root, NsEbMS),
			fmt.Sprintf(`<eb:%s xmlns:eb="%s"`, root, NsEbMS))
	}

	return []byte(head + "</Header>" + tail)
}

// Serialize marshals the envelope and applies the eb: prefix rewrite.
func Serialize(env *Envelope) ([]byte, error) {
	data, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope: %w", err)
	}
	return AddEbMSPrefix(data), nil
}

// Parse unmarshals a SOAP envelope.
func Parse(data []byte) (*Envelope, error) {
	var env Envelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parsing envelope: %w", err)
	}
	return &env, nil
}

// UserMessageOf returns the envelope's UserMessage, or nil.
func UserMessageOf(env *Envelope) *UserMessage {
	if env == nil || env.Header == nil || env.Header.Messaging == nil {
		return nil
	}
	return env.Header.Messaging.UserMessage
}

// SignalMessageOf returns the envelope's SignalMessage, or nil.
func SignalMessageOf(env *Envelope) *SignalMessage {
	if env == nil || env.Header == nil || env.Header.Messaging == nil {
		return nil
	}
	return env.Header.Messaging.SignalMessage
}
