package message

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserMessageBuilder_BasicCreation(t *testing.T) {
	builder := NewUserMessage(
		WithFrom("sender-123", "urn:oasis:names:tc:ebcore:partyid-type:unregistered"),
		WithTo("receiver-456", "urn:oasis:names:tc:ebcore:partyid-type:unregistered"),
		WithService("http://example.com/service"),
		WithAction("processOrder"),
	)

	msg, payloads, err := builder.Build()
	require.NoError(t, err)
	assert.NotNil(t, msg)
	assert.NotEmpty(t, msg.MessageInfo.MessageId)
	assert.NotEmpty(t, msg.CollaborationInfo.ConversationId)
	assert.Empty(t, payloads)

	require.NotNil(t, msg.PartyInfo)
	require.Len(t, msg.PartyInfo.From.PartyId, 1)
	assert.Equal(t, "sender-123", msg.PartyInfo.From.PartyId[0].Value)
	assert.Equal(t, DefaultRole, msg.PartyInfo.From.Role)

	assert.Equal(t, "http://example.com/service", msg.CollaborationInfo.Service.Value)
	assert.Equal(t, "processOrder", msg.CollaborationInfo.Action)
}

func TestUserMessageBuilder_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"no sender", []Option{WithTo("r", "t"), WithService("s"), WithAction("a")}},
		{"no receiver", []Option{WithFrom("s", "t"), WithService("s"), WithAction("a")}},
		{"no service", []Option{WithFrom("s", "t"), WithTo("r", "t"), WithAction("a")}},
		{"no action", []Option{WithFrom("s", "t"), WithTo("r", "t"), WithService("s")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := NewUserMessage(tt.opts...).Build()
			assert.Error(t, err)
		})
	}
}

func TestUserMessageBuilder_InjectedIDFactory(t *testing.T) {
	var n int
	factory := func() string {
		n++
		return fmt.Sprintf("fixed-%d@test.local", n)
	}

	msg, _, err := NewUserMessage(
		WithIDFactory(factory),
		WithFrom("s", "t"),
		WithTo("r", "t"),
		WithService("svc"),
		WithAction("act"),
	).Build()
	require.NoError(t, err)
	assert.Equal(t, "fixed-1@test.local", msg.MessageInfo.MessageId)
}

func TestUserMessageBuilder_WithPayload(t *testing.T) {
	builder := NewUserMessage(
		WithFrom("s", "t"),
		WithTo("r", "t"),
		WithService("svc"),
		WithAction("act"),
	)
	payloadData := []byte("<order><item>Widget</item></order>")
	builder.AddPayload(payloadData, "application/xml")

	msg, payloads, err := builder.Build()
	require.NoError(t, err)
	require.Len(t, msg.PayloadInfo.PartInfo, 1)
	assert.True(t, strings.HasPrefix(msg.PayloadInfo.PartInfo[0].Href, "cid:"))
	require.Len(t, payloads, 1)
	assert.Equal(t, payloadData, payloads[0].Data)
	assert.Equal(t, "application/xml", payloads[0].ContentType)
}

func TestUserMessageBuilder_ConversationIdPinned(t *testing.T) {
	msg, _, err := NewUserMessage(
		WithFrom("s", "t"),
		WithTo("r", "t"),
		WithService("svc"),
		WithAction("act"),
		WithConversationId("conv-42"),
		WithRefToMessageId("prior@test.local"),
	).Build()
	require.NoError(t, err)
	assert.Equal(t, "conv-42", msg.CollaborationInfo.ConversationId)
	assert.Equal(t, "prior@test.local", msg.MessageInfo.RefToMessageId)
}

func TestSerialize_EbPrefixed(t *testing.T) {
	env, _, err := NewUserMessage(
		WithFrom("sender", "type1"),
		WithTo("receiver", "type2"),
		WithService("test-service"),
		WithAction("test-action"),
	).BuildEnvelope()
	require.NoError(t, err)

	data, err := Serialize(env)
	require.NoError(t, err)

	s := string(data)
	assert.Contains(t, s, "<eb:Messaging")
	assert.Contains(t, s, "<eb:UserMessage>")
	assert.Contains(t, s, `xmlns:eb="`+NsEbMS+`"`)
	assert.NotContains(t, s, "<Messaging ")
}

func TestSerialize_BodyContentKeepsEbMSNames(t *testing.T) {
	env, _, err := NewUserMessage(
		WithFrom("sender", "type1"),
		WithTo("receiver", "type2"),
		WithService("test-service"),
		WithAction("test-action"),
	).BuildEnvelope()
	require.NoError(t, err)

	// A business document may use the same local names as the ebMS
	// header; the prefix rewrite must stop at the Header.
	env.Body.Content = []byte("<Order><Action>ship</Action><Service>express</Service></Order>")

	data, err := Serialize(env)
	require.NoError(t, err)

	s := string(data)
	assert.Contains(t, s, "<eb:Action>test-action</eb:Action>")
	assert.Contains(t, s, "<Action>ship</Action>")
	assert.Contains(t, s, "<Service>express</Service>")
	assert.NotContains(t, s, "<eb:Action>ship")
}

func TestSerializeParse_RoundTrip(t *testing.T) {
	env, _, err := NewUserMessage(
		WithFrom("sender", "type1"),
		WithTo("receiver", "type2"),
		WithService("test-service"),
		WithAction("test-action"),
		WithConversationId("conv-7"),
	).BuildEnvelope()
	require.NoError(t, err)

	data, err := Serialize(env)
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)

	um := UserMessageOf(parsed)
	require.NotNil(t, um)
	assert.Equal(t, env.Header.Messaging.UserMessage.MessageInfo.MessageId, um.MessageInfo.MessageId)
	assert.Equal(t, "conv-7", um.CollaborationInfo.ConversationId)
}

func TestNewReceipt(t *testing.T) {
	sig := NewReceipt("orig@test.local", nil, nil)
	require.NotNil(t, sig.MessageInfo)
	assert.NotEmpty(t, sig.MessageInfo.MessageId)
	assert.Equal(t, "orig@test.local", sig.MessageInfo.RefToMessageId)
	assert.True(t, sig.IsReceipt())
	assert.False(t, sig.IsError())
}

func TestNewErrorSignal(t *testing.T) {
	sig := NewErrorSignal("bad@test.local", nil, ErrFailedAuth, "signature did not verify")
	require.True(t, sig.IsError())
	require.Len(t, sig.Errors, 1)
	assert.Equal(t, "EBMS:0101", sig.Errors[0].ErrorCode)
	assert.Equal(t, SeverityFailure, sig.Errors[0].Severity)
	assert.Equal(t, "FailedAuthentication", sig.Errors[0].ShortDescription)
	assert.Equal(t, "bad@test.local", sig.Errors[0].RefToMessageInError)
	assert.Equal(t, "bad@test.local", sig.RefToMessageId())
}

func TestNewPullRequest_DefaultMPC(t *testing.T) {
	sig := NewPullRequest("", nil)
	require.True(t, sig.IsPullRequest())
	assert.Equal(t, DefaultMPC, sig.PullRequest.MPC)

	sig = NewPullRequest("urn:test:mpc:a", nil)
	assert.Equal(t, "urn:test:mpc:a", sig.PullRequest.MPC)
}
