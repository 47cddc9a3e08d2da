// Package discovery resolves counterparty AS4 endpoints dynamically
// through DNS, following the OASIS BDXL profile: the party identifier
// is hashed, prepended to the lookup zone and queried for U-NAPTR
// records whose regexp field carries the endpoint URL.
package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/miekg/dns"
)

var (
	// ErrNoRecordsFound is returned when the lookup zone has no
	// U-NAPTR records for the party identifier.
	ErrNoRecordsFound = errors.New("no discovery records found for party identifier")
	// ErrInvalidPartyID is returned for an empty or malformed party
	// identifier.
	ErrInvalidPartyID = errors.New("invalid party identifier")
	// ErrServiceNotFound is returned when no record matches the
	// requested service.
	ErrServiceNotFound = errors.New("no matching service in discovery records")
	// ErrInvalidRecord is returned for a U-NAPTR record whose regexp
	// field cannot be parsed into a URL.
	ErrInvalidRecord = errors.New("invalid U-NAPTR record")
)

// DefaultService is the U-NAPTR service tag queried when the resolver
// config does not name one.
const DefaultService = "Meta:SMP"

// exchangeFunc issues one DNS query. It matches the signature of
// dns.Client.ExchangeContext and is replaceable in tests.
type exchangeFunc func(ctx context.Context, msg *dns.Msg, addr string) (*dns.Msg, error)

// ResolverConfig configures endpoint resolution.
type ResolverConfig struct {
	// Zone is the DNS zone of the lookup service, e.g. "bdxl.example.com".
	Zone string

	// Service filters U-NAPTR records by their service tag. Defaults
	// to DefaultService.
	Service string

	// DNSServer is "host:port" of the resolver to query. When empty
	// the first server from /etc/resolv.conf is used.
	DNSServer string
}

// Resolver looks up AS4 endpoints by party identifier.
type Resolver struct {
	config   ResolverConfig
	exchange exchangeFunc
}

// NewResolver creates a Resolver for the given lookup zone.
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Service == "" {
		cfg.Service = DefaultService
	}
	client := new(dns.Client)
	return &Resolver{
		config: cfg,
		exchange: func(ctx context.Context, msg *dns.Msg, addr string) (*dns.Msg, error) {
			resp, _, err := client.ExchangeContext(ctx, msg, addr)
			return resp, err
		},
	}
}

// ResolveEndpoint returns the endpoint URL published for the party
// identifier, e.g. "urn:oasis:names:tc:ebcore:partyid-type:iso6523:0088:5790000000000".
func (r *Resolver) ResolveEndpoint(ctx context.Context, partyID string) (string, error) {
	name, err := r.queryName(partyID)
	if err != nil {
		return "", err
	}

	records, err := r.lookupNAPTR(ctx, name)
	if err != nil {
		return "", err
	}

	return r.selectEndpoint(records)
}

// queryName hashes the party identifier per the BDXL profile and
// prepends it to the lookup zone. The hash is SHA-256, BASE32 encoded
// with padding stripped.
func (r *Resolver) queryName(partyID string) (string, error) {
	if partyID == "" {
		return "", ErrInvalidPartyID
	}

	hash := sha256.Sum256([]byte(partyID))
	encoded := strings.TrimRight(base32.StdEncoding.EncodeToString(hash[:]), "=")

	return encoded + "." + r.config.Zone, nil
}

func (r *Resolver) lookupNAPTR(ctx context.Context, name string) ([]*dns.NAPTR, error) {
	server := r.config.DNSServer
	if server == "" {
		conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return nil, fmt.Errorf("reading DNS config: %w", err)
		}
		if len(conf.Servers) == 0 {
			return nil, errors.New("no DNS servers configured")
		}
		server = conf.Servers[0] + ":" + conf.Port
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeNAPTR)
	msg.RecursionDesired = true

	resp, err := r.exchange(ctx, msg, server)
	if err != nil {
		return nil, fmt.Errorf("DNS lookup for %s: %w", name, err)
	}

	if resp.Rcode == dns.RcodeNameError {
		return nil, fmt.Errorf("%w: %s", ErrNoRecordsFound, name)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("DNS lookup for %s: rcode=%d", name, resp.Rcode)
	}

	var records []*dns.NAPTR
	for _, rr := range resp.Answer {
		if naptr, ok := rr.(*dns.NAPTR); ok {
			records = append(records, naptr)
		}
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoRecordsFound, name)
	}

	return records, nil
}

// selectEndpoint picks the matching U-NAPTR record with the lowest
// order/preference and extracts its URL.
func (r *Resolver) selectEndpoint(records []*dns.NAPTR) (string, error) {
	service := strings.ToLower(r.config.Service)

	var best *dns.NAPTR
	bestPriority := -1
	for _, record := range records {
		if !strings.EqualFold(record.Flags, "U") {
			continue
		}
		if strings.ToLower(record.Service) != service {
			continue
		}
		priority := int(record.Order)<<16 | int(record.Preference)
		if best == nil || priority < bestPriority {
			best = record
			bestPriority = priority
		}
	}
	if best == nil {
		return "", ErrServiceNotFound
	}

	return endpointFromRegexp(best.Regexp)
}

// endpointFromRegexp extracts the replacement URL from a U-NAPTR
// regexp field of the form "!<pattern>!<replacement>!".
func endpointFromRegexp(field string) (string, error) {
	parts := strings.Split(field, "!")
	if len(parts) < 3 || parts[2] == "" {
		return "", fmt.Errorf("%w: regexp %q", ErrInvalidRecord, field)
	}

	endpoint := parts[2]
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidRecord, parsed.Scheme)
	}

	return endpoint, nil
}

// FormatEbCorePartyID formats an ebCore party identifier as
// urn:oasis:names:tc:ebcore:partyid-type:<catalog>:<scheme>:<identifier>.
func FormatEbCorePartyID(catalog, scheme, identifier string) string {
	return fmt.Sprintf("urn:oasis:names:tc:ebcore:partyid-type:%s:%s:%s", catalog, scheme, identifier)
}
