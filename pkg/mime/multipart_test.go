package mime

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KORe4/phase4/pkg/message"
)

func buildTestEnvelope(t *testing.T, payloadCID string) []byte {
	t.Helper()

	b := message.NewUserMessage(
		message.WithFrom("sender", "urn:test"),
		message.WithTo("receiver", "urn:test"),
		message.WithService("urn:services:orders"),
		message.WithAction("submitOrder"),
	)
	if payloadCID != "" {
		b.AddPayload([]byte("ignored"), "application/xml")
		// pin the href so the test controls the Content-ID
		msg, _, err := b.Build()
		require.NoError(t, err)
		msg.PayloadInfo.PartInfo[0].Href = "cid:" + payloadCID
	}

	env, _, err := b.BuildEnvelope()
	require.NoError(t, err)
	data, err := message.Serialize(env)
	require.NoError(t, err)
	return data
}

func TestSerializeParse_RoundTrip(t *testing.T) {
	envXML := buildTestEnvelope(t, "")
	payload := NewPayload([]byte("<doc>hello</doc>"), "application/xml", "part-1@test")

	msg := NewMessage(envXML, []Payload{payload}, nil)
	body, contentType, err := msg.Serialize()
	require.NoError(t, err)
	assert.Contains(t, contentType, "multipart/related")
	assert.Contains(t, contentType, "boundary=")

	parsed, err := Parse(bytes.NewReader(body), contentType)
	require.NoError(t, err)
	assert.Equal(t, envXML, parsed.EnvelopeXML)
	require.Len(t, parsed.Payloads, 1)
	assert.Equal(t, []byte("<doc>hello</doc>"), parsed.Payloads[0].Data)
	assert.Equal(t, "part-1@test", NormalizeContentID(parsed.Payloads[0].ContentID))
}

func TestParse_EnvelopeBytesPreserved(t *testing.T) {
	envXML := []byte(`<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope"><env:Header/><env:Body/></env:Envelope>`)
	msg := NewMessage(envXML, nil, nil)

	body, contentType, err := msg.Serialize()
	require.NoError(t, err)

	parsed, err := Parse(bytes.NewReader(body), contentType)
	require.NoError(t, err)
	assert.Equal(t, envXML, parsed.EnvelopeXML)
}

func TestNewMessage_PinnedIDFactory(t *testing.T) {
	var n int
	factory := func() string {
		n++
		return "fixed-" + string(rune('0'+n)) + "@test.local"
	}

	envXML := buildTestEnvelope(t, "")
	msg := NewMessage(envXML, nil, factory)

	// '@' is not a legal boundary character and must be filtered out.
	assert.Equal(t, "----=_Part_fixed-1test.local", msg.Boundary)
	assert.Equal(t, "<fixed-2@test.local>", msg.StartID)

	_, contentType, err := msg.Serialize()
	require.NoError(t, err)
	assert.Contains(t, contentType, "boundary=")
}

func TestParse_RejectsNonMultipart(t *testing.T) {
	_, err := Parse(bytes.NewReader([]byte("x")), "application/soap+xml")
	assert.Error(t, err)

	_, err = Parse(bytes.NewReader([]byte("x")), "multipart/related")
	assert.Error(t, err)
}

func TestCorrelateWithPartInfo(t *testing.T) {
	envXML := buildTestEnvelope(t, "part-1@test")
	parsedEnv, err := message.Parse(envXML)
	require.NoError(t, err)
	um := message.UserMessageOf(parsedEnv)
	require.NotNil(t, um)

	um.PayloadInfo.PartInfo[0].PartProperties = &message.PartProperties{
		Property: []message.Property{
			{Name: "MimeType", Value: "application/xml"},
			{Name: "CompressionType", Value: "application/gzip"},
		},
	}

	msg := &Message{
		EnvelopeXML: envXML,
		Payloads:    []Payload{NewPayload([]byte("data"), "application/gzip", "part-1@test")},
	}
	msg.CorrelateWithPartInfo(um)

	assert.Equal(t, "application/xml", msg.Payloads[0].MimeType)
	assert.Equal(t, "application/gzip", msg.Payloads[0].CompressionType)
}

func TestGetPayloadByContentID_Normalization(t *testing.T) {
	msg := &Message{
		Payloads: []Payload{NewPayload([]byte("x"), "text/plain", "<abc@test>")},
	}

	assert.NotNil(t, msg.GetPayloadByContentID("abc@test"))
	assert.NotNil(t, msg.GetPayloadByContentID("cid:abc@test"))
	assert.NotNil(t, msg.GetPayloadByContentID("<abc@test>"))
	assert.Nil(t, msg.GetPayloadByContentID("other@test"))
}

func TestUpdatePayloadData(t *testing.T) {
	msg := &Message{
		Payloads: []Payload{NewPayload([]byte("old"), "text/plain", "p@test")},
	}

	assert.True(t, msg.UpdatePayloadData("cid:p@test", []byte("new")))
	assert.Equal(t, []byte("new"), msg.Payloads[0].Data)
	assert.False(t, msg.UpdatePayloadData("missing@test", []byte("x")))
}
