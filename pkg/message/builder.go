package message

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IDFactory produces ebMS message identifiers. The default factory
// emits RFC 2822 style "uuid@domain" values; tests inject fixed
// factories to make built messages reproducible.
type IDFactory func() string

// NewIDFactory returns an IDFactory generating "uuid@domain" IDs.
func NewIDFactory(domain string) IDFactory {
	return func() string {
		return fmt.Sprintf("%s@%s", uuid.New().String(), domain)
	}
}

// defaultIDFactory is used when a builder gets no explicit factory.
var defaultIDFactory = NewIDFactory("as4.gateway")

// PayloadPart is one attachment part referenced from PayloadInfo.
type PayloadPart struct {
	ContentID   string
	ContentType string
	Data        []byte
}

// UserMessageBuilder assembles a UserMessage and its payload parts.
type UserMessageBuilder struct {
	msg       *UserMessage
	payloads  []PayloadPart
	idFactory IDFactory
	errs      []error
}

// Option configures a UserMessageBuilder.
type Option func(*UserMessageBuilder)

// NewUserMessage creates a builder preloaded with a fresh MessageInfo
// and ConversationId.
func NewUserMessage(opts ...Option) *UserMessageBuilder {
	b := &UserMessageBuilder{
		msg: &UserMessage{
			MessageInfo: &MessageInfo{
				Timestamp: time.Now().UTC(),
			},
			PartyInfo: &PartyInfo{
				From: &Party{},
				To:   &Party{},
			},
			CollaborationInfo: &CollaborationInfo{
				ConversationId: uuid.New().String(),
			},
		},
		idFactory: defaultIDFactory,
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.msg.MessageInfo.MessageId == "" {
		b.msg.MessageInfo.MessageId = b.idFactory()
	}

	return b
}

// WithIDFactory replaces the message ID factory. It must appear before
// options that depend on the generated ID.
func WithIDFactory(f IDFactory) Option {
	return func(b *UserMessageBuilder) {
		if f != nil {
			b.idFactory = f
		}
	}
}

// WithMessageID pins the message ID instead of generating one.
func WithMessageID(id string) Option {
	return func(b *UserMessageBuilder) {
		b.msg.MessageInfo.MessageId = id
	}
}

// WithTimestamp pins the message timestamp. Builds with fully pinned
// inputs are byte reproducible.
func WithTimestamp(ts time.Time) Option {
	return func(b *UserMessageBuilder) {
		b.msg.MessageInfo.Timestamp = ts.UTC()
	}
}

// WithFrom sets the sender party with the default role.
func WithFrom(partyID, partyType string) Option {
	return func(b *UserMessageBuilder) {
		b.msg.PartyInfo.From.PartyId = []PartyId{{Type: partyType, Value: partyID}}
		b.msg.PartyInfo.From.Role = DefaultRole
	}
}

// WithTo sets the receiver party with the default role.
func WithTo(partyID, partyType string) Option {
	return func(b *UserMessageBuilder) {
		b.msg.PartyInfo.To.PartyId = []PartyId{{Type: partyType, Value: partyID}}
		b.msg.PartyInfo.To.Role = DefaultRole
	}
}

// WithFromRole overrides the sender role.
func WithFromRole(role string) Option {
	return func(b *UserMessageBuilder) {
		b.msg.PartyInfo.From.Role = role
	}
}

// WithToRole overrides the receiver role.
func WithToRole(role string) Option {
	return func(b *UserMessageBuilder) {
		b.msg.PartyInfo.To.Role = role
	}
}

// WithService sets the collaboration service.
func WithService(service string) Option {
	return func(b *UserMessageBuilder) {
		b.msg.CollaborationInfo.Service = Service{Value: service}
	}
}

// WithServiceType sets the collaboration service with an explicit type.
func WithServiceType(service, serviceType string) Option {
	return func(b *UserMessageBuilder) {
		b.msg.CollaborationInfo.Service = Service{Type: serviceType, Value: service}
	}
}

// WithAction sets the collaboration action.
func WithAction(action string) Option {
	return func(b *UserMessageBuilder) {
		b.msg.CollaborationInfo.Action = action
	}
}

// WithConversationId fixes the conversation ID. Responses in a two way
// exchange reuse the inbound conversation ID through this option.
func WithConversationId(convID string) Option {
	return func(b *UserMessageBuilder) {
		b.msg.CollaborationInfo.ConversationId = convID
	}
}

// WithRefToMessageId links the message to a predecessor.
func WithRefToMessageId(refID string) Option {
	return func(b *UserMessageBuilder) {
		b.msg.MessageInfo.RefToMessageId = refID
	}
}

// WithAgreementRef sets the agreement reference.
func WithAgreementRef(agreementRef string) Option {
	return func(b *UserMessageBuilder) {
		b.msg.CollaborationInfo.AgreementRef = &AgreementRef{Value: agreementRef}
	}
}

// WithPModeID records the governing P-Mode on the agreement reference.
func WithPModeID(pmodeID string) Option {
	return func(b *UserMessageBuilder) {
		if b.msg.CollaborationInfo.AgreementRef == nil {
			b.msg.CollaborationInfo.AgreementRef = &AgreementRef{}
		}
		b.msg.CollaborationInfo.AgreementRef.Pmode = pmodeID
	}
}

// WithMPC assigns the message to a partition channel.
func WithMPC(mpc string) Option {
	return func(b *UserMessageBuilder) {
		b.msg.MPC = mpc
	}
}

// WithMessageProperty appends a message level property.
func WithMessageProperty(name, value string) Option {
	return func(b *UserMessageBuilder) {
		if b.msg.MessageProperties == nil {
			b.msg.MessageProperties = &MessageProperties{}
		}
		b.msg.MessageProperties.Property = append(b.msg.MessageProperties.Property, Property{
			Name:  name,
			Value: value,
		})
	}
}

// AddPayload registers an attachment part and its PartInfo reference.
func (b *UserMessageBuilder) AddPayload(data []byte, contentType string) *UserMessageBuilder {
	contentID := b.idFactory()

	b.payloads = append(b.payloads, PayloadPart{
		ContentID:   contentID,
		ContentType: contentType,
		Data:        data,
	})

	if b.msg.PayloadInfo == nil {
		b.msg.PayloadInfo = &PayloadInfo{}
	}
	b.msg.PayloadInfo.PartInfo = append(b.msg.PayloadInfo.PartInfo, PartInfo{
		Href: "cid:" + contentID,
		PartProperties: &PartProperties{
			Property: []Property{{Name: "MimeType", Value: contentType}},
		},
	})

	return b
}

// AddPartProperty sets a property on the most recently added part,
// replacing any property of the same name.
func (b *UserMessageBuilder) AddPartProperty(name, value string) *UserMessageBuilder {
	if b.msg.PayloadInfo == nil || len(b.msg.PayloadInfo.PartInfo) == 0 {
		b.errs = append(b.errs, fmt.Errorf("no payload parts to add property to"))
		return b
	}

	last := &b.msg.PayloadInfo.PartInfo[len(b.msg.PayloadInfo.PartInfo)-1]
	if last.PartProperties == nil {
		last.PartProperties = &PartProperties{}
	}
	for i, p := range last.PartProperties.Property {
		if p.Name == name {
			last.PartProperties.Property[i].Value = value
			return b
		}
	}
	last.PartProperties.Property = append(last.PartProperties.Property, Property{
		Name:  name,
		Value: value,
	})

	return b
}

// Build validates the message and returns it with its payload parts.
func (b *UserMessageBuilder) Build() (*UserMessage, []PayloadPart, error) {
	if len(b.errs) > 0 {
		return nil, nil, b.errs[0]
	}

	if len(b.msg.PartyInfo.From.PartyId) == 0 {
		return nil, nil, fmt.Errorf("sender party ID is required")
	}
	if len(b.msg.PartyInfo.To.PartyId) == 0 {
		return nil, nil, fmt.Errorf("receiver party ID is required")
	}
	if b.msg.CollaborationInfo.Service.Value == "" {
		return nil, nil, fmt.Errorf("service is required")
	}
	if b.msg.CollaborationInfo.Action == "" {
		return nil, nil, fmt.Errorf("action is required")
	}

	return b.msg, b.payloads, nil
}

// BuildEnvelope wraps the built UserMessage into a SOAP envelope.
func (b *UserMessageBuilder) BuildEnvelope() (*Envelope, []PayloadPart, error) {
	msg, payloads, err := b.Build()
	if err != nil {
		return nil, nil, err
	}

	return &Envelope{
		Header: &Header{
			Messaging: &Messaging{UserMessage: msg},
		},
		Body: &Body{},
	}, payloads, nil
}

// NewReceipt creates a receipt signal referencing the given message.
// nonRepudiationInfo, when present, is the serialized
// ebbp:NonRepudiationInformation element echoing the acknowledged
// message's signed references.
func NewReceipt(refMessageID string, idFactory IDFactory, nonRepudiationInfo []byte) *SignalMessage {
	if idFactory == nil {
		idFactory = defaultIDFactory
	}
	return &SignalMessage{
		MessageInfo: &MessageInfo{
			Timestamp:      time.Now().UTC(),
			MessageId:      idFactory(),
			RefToMessageId: refMessageID,
		},
		Receipt: &Receipt{Content: nonRepudiationInfo},
	}
}

// NewErrorSignal creates an error signal carrying one catalogue error.
func NewErrorSignal(refMessageID string, idFactory IDFactory, spec ErrorSpec, detail string) *SignalMessage {
	if idFactory == nil {
		idFactory = defaultIDFactory
	}
	return &SignalMessage{
		MessageInfo: &MessageInfo{
			Timestamp:      time.Now().UTC(),
			MessageId:      idFactory(),
			RefToMessageId: refMessageID,
		},
		Errors: []Error{spec.NewError(refMessageID, detail)},
	}
}

// NewPullRequest creates a pull request signal for the given partition
// channel. An empty mpc selects the default channel.
func NewPullRequest(mpc string, idFactory IDFactory) *SignalMessage {
	if idFactory == nil {
		idFactory = defaultIDFactory
	}
	if mpc == "" {
		mpc = DefaultMPC
	}
	return &SignalMessage{
		MessageInfo: &MessageInfo{
			Timestamp: time.Now().UTC(),
			MessageId: idFactory(),
		},
		PullRequest: &PullRequest{MPC: mpc},
	}
}

// SignalEnvelope wraps a signal message into a SOAP envelope.
func SignalEnvelope(sig *SignalMessage) *Envelope {
	return &Envelope{
		Header: &Header{
			Messaging: &Messaging{SignalMessage: sig},
		},
		Body: &Body{},
	}
}
