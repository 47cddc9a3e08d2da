/*
Package phase4 implements an AS4 / ebMS 3.0 Message Service Handler for
secure, reliable business-to-business messaging.

# Overview

phase4 covers both sides of an AS4 exchange: building, protecting, and
dispatching outbound user messages, and receiving, verifying, and
acknowledging inbound ones. It implements the one-way push and pull
message exchange patterns with WS-Security signatures, envelope
encryption, GZIP payload compression, duplicate suppression, and
non-repudiation receipts.

# Package Structure

	github.com/KORe4/phase4/pkg/message     - ebMS message structures, builders, error catalogue
	github.com/KORe4/phase4/pkg/pmode       - Processing Mode configuration and registry
	github.com/KORe4/phase4/pkg/security    - WS-Security signing, verification, encryption
	github.com/KORe4/phase4/pkg/client      - outbound message building and dispatch
	github.com/KORe4/phase4/pkg/msh         - inbound Message Service Handler
	github.com/KORe4/phase4/pkg/duplicate   - duplicate detection window
	github.com/KORe4/phase4/pkg/compression - GZIP payload compression
	github.com/KORe4/phase4/pkg/mime        - MIME multipart packaging
	github.com/KORe4/phase4/pkg/transport   - HTTPS transport with TLS 1.2/1.3
	github.com/KORe4/phase4/pkg/discovery   - BDXL endpoint discovery over DNS

# Quick Start

To send a signed message:

	crypto := security.NewCryptoFactory().
	    SetKeystorePath("/etc/as4/keys").
	    SetKeyAlias("gateway")

	builder := client.NewBuilder(pm, client.WithCrypto(crypto))
	built, err := builder.Build(ctx,
	    []client.Payload{{Data: orderXML, ContentType: "application/xml"}},
	    message.WithFrom("sender-id", "urn:oasis:names:tc:ebcore:partyid-type:unregistered"),
	    message.WithTo("receiver-id", "urn:oasis:names:tc:ebcore:partyid-type:unregistered"),
	)

	dispatcher := client.NewDispatcher(transport.NewHTTPSClient(nil), nil)
	sent, err := dispatcher.Send(ctx, endpoint, built, *pm.ReceptionAwareness.Retry)

To receive, wire a Handler into the HTTPS server:

	handler, err := msh.NewHandler(msh.HandlerConfig{
	    PModes:     pmodes,
	    Duplicates: duplicate.NewManager(pm),
	    Crypto:     crypto,
	    Processor:  processor,
	})
	server := transport.NewHTTPSServer(":8443", tlsConfig, handler, logger)

See the examples directory for complete programs.

# Specifications

  - OASIS AS4 Profile of ebMS 3.0 Version 1.0: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/profiles/AS4-profile/v1.0/
  - OASIS ebXML Messaging Services v3.0: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/core/os/
  - WS-Security 1.1.1: https://docs.oasis-open.org/wss/v1.1/
  - OASIS BDXL v1.0: https://docs.oasis-open.org/bdxr/BDX-Location/v1.0/
*/
package phase4
