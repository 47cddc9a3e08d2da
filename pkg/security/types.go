// Package security implements WS-Security message protection for AS4.
//
// Signing builds a WS-Security header with etree, computes reference
// digests over signedxml's exclusive canonicalization, and signs the
// canonical SignedInfo with the keystore key. Encryption uses
// X25519 key agreement with HKDF-SHA256 and AES-128-GCM on the SOAP
// Body. Key material comes from a CryptoFactory, which resolves keys
// either from a configured keystore or from an injected provider.
package security

import (
	"crypto/rand"
	"encoding/hex"
)

// Algorithm URIs for XML signature and encryption.
const (
	AlgorithmRSASHA256   = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgorithmRSASHA384   = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha384"
	AlgorithmRSASHA512   = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha512"
	AlgorithmECDSASHA256 = "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha256"

	AlgorithmSHA256 = "http://www.w3.org/2001/04/xmlenc#sha256"
	AlgorithmSHA384 = "http://www.w3.org/2001/04/xmldsig-more#sha384"
	AlgorithmSHA512 = "http://www.w3.org/2001/04/xmlenc#sha512"

	AlgorithmC14N = "http://www.w3.org/2001/10/xml-exc-c14n#"

	AlgorithmX25519    = "http://www.w3.org/2021/04/xmldsig-more#x25519"
	AlgorithmHKDF      = "http://www.w3.org/2021/04/xmldsig-more#hkdf"
	AlgorithmAES128GCM = "http://www.w3.org/2009/xmlenc11#aes128-gcm"

	AlgorithmAttachmentTransform = "http://docs.oasis-open.org/wss/oasis-wss-SwAProfile-1.1#Attachment-Content-Signature-Transform"
)

// WS-Security namespaces.
const (
	NSSecurityExt  = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	NSSecurityUtil = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	NSXMLDSig      = "http://www.w3.org/2000/09/xmldsig#"
	NSXMLEnc       = "http://www.w3.org/2001/04/xmlenc#"
	NSSOAP12       = "http://www.w3.org/2003/05/soap-envelope"
)

// Attachment is a MIME part covered by the envelope signature.
type Attachment struct {
	ContentID   string
	ContentType string
	Data        []byte
}

// generateID generates a random hex ID for XML elements. Hex avoids
// characters like '=' that break XPointer references.
func generateID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
