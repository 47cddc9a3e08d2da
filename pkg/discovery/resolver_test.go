package discovery

import (
	"context"
	"strings"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func naptrRecord(order, pref uint16, flags, service, regexp string) *dns.NAPTR {
	return &dns.NAPTR{
		Hdr:        dns.RR_Header{Rrtype: dns.TypeNAPTR},
		Order:      order,
		Preference: pref,
		Flags:      flags,
		Service:    service,
		Regexp:     regexp,
	}
}

func fakeExchange(t *testing.T, answers []dns.RR, rcode int) exchangeFunc {
	t.Helper()
	return func(_ context.Context, msg *dns.Msg, _ string) (*dns.Msg, error) {
		resp := new(dns.Msg)
		resp.SetReply(msg)
		resp.Rcode = rcode
		resp.Answer = answers
		return resp, nil
	}
}

func TestResolveEndpoint(t *testing.T) {
	r := NewResolver(ResolverConfig{Zone: "bdxl.example.com", DNSServer: "127.0.0.1:53"})
	r.exchange = fakeExchange(t, []dns.RR{
		naptrRecord(100, 10, "U", "Meta:SMP", "!.*!https://ap.example.com/as4!"),
	}, dns.RcodeSuccess)

	endpoint, err := r.ResolveEndpoint(context.Background(), FormatEbCorePartyID("iso6523", "0088", "5790000000000"))
	require.NoError(t, err)
	assert.Equal(t, "https://ap.example.com/as4", endpoint)
}

func TestResolveEndpoint_PrefersLowerOrder(t *testing.T) {
	r := NewResolver(ResolverConfig{Zone: "bdxl.example.com", DNSServer: "127.0.0.1:53"})
	r.exchange = fakeExchange(t, []dns.RR{
		naptrRecord(200, 10, "U", "Meta:SMP", "!.*!https://backup.example.com/as4!"),
		naptrRecord(100, 10, "U", "Meta:SMP", "!.*!https://primary.example.com/as4!"),
	}, dns.RcodeSuccess)

	endpoint, err := r.ResolveEndpoint(context.Background(), "party-1")
	require.NoError(t, err)
	assert.Equal(t, "https://primary.example.com/as4", endpoint)
}

func TestResolveEndpoint_FiltersByServiceAndFlags(t *testing.T) {
	r := NewResolver(ResolverConfig{Zone: "bdxl.example.com", DNSServer: "127.0.0.1:53"})
	r.exchange = fakeExchange(t, []dns.RR{
		naptrRecord(10, 10, "S", "Meta:SMP", "!.*!https://srv.example.com/as4!"),
		naptrRecord(10, 10, "U", "other-service", "!.*!https://other.example.com/as4!"),
	}, dns.RcodeSuccess)

	_, err := r.ResolveEndpoint(context.Background(), "party-1")
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestResolveEndpoint_NXDomain(t *testing.T) {
	r := NewResolver(ResolverConfig{Zone: "bdxl.example.com", DNSServer: "127.0.0.1:53"})
	r.exchange = fakeExchange(t, nil, dns.RcodeNameError)

	_, err := r.ResolveEndpoint(context.Background(), "party-1")
	assert.ErrorIs(t, err, ErrNoRecordsFound)
}

func TestResolveEndpoint_EmptyPartyID(t *testing.T) {
	r := NewResolver(ResolverConfig{Zone: "bdxl.example.com"})
	_, err := r.ResolveEndpoint(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidPartyID)
}

func TestQueryName_HashesAndStripsPadding(t *testing.T) {
	r := NewResolver(ResolverConfig{Zone: "bdxl.example.com"})

	name, err := r.queryName("urn:oasis:names:tc:ebcore:partyid-type:iso6523:0088:123")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(name, ".bdxl.example.com"))
	assert.NotContains(t, name, "=")

	// Same identifier hashes to the same name.
	again, err := r.queryName("urn:oasis:names:tc:ebcore:partyid-type:iso6523:0088:123")
	require.NoError(t, err)
	assert.Equal(t, name, again)
}

func TestEndpointFromRegexp(t *testing.T) {
	endpoint, err := endpointFromRegexp("!.*!https://ap.example.com/as4!")
	require.NoError(t, err)
	assert.Equal(t, "https://ap.example.com/as4", endpoint)

	_, err = endpointFromRegexp("")
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = endpointFromRegexp("!.*!ftp://ap.example.com/as4!")
	assert.ErrorIs(t, err, ErrInvalidRecord)
}
