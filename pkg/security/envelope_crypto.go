package security

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// EncryptEnvelope encrypts the SOAP Body content for the recipient.
// The Body's children are serialized, sealed with an ephemeral
// X25519/AES-128-GCM exchange, and replaced by a single
// xenc:EncryptedData element. The signature, when present, stays in
// the header untouched; verification of the encrypted envelope fails
// until the Body is restored by DecryptEnvelope.
func EncryptEnvelope(envelopeXML []byte, recipientPublicKey [32]byte) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(envelopeXML); err != nil {
		return nil, fmt.Errorf("parsing envelope: %w", err)
	}

	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("no root element found")
	}
	body := findChild(root, "Body")
	if body == nil {
		return nil, fmt.Errorf("SOAP Body not found")
	}

	// Serialize the current Body content as the plaintext, wrapped so
	// multiple or zero children still parse as one document.
	inner := etree.NewDocument()
	wrapper := inner.CreateElement("Content")
	for _, child := range body.ChildElements() {
		wrapper.AddChild(child.Copy())
	}
	plaintext, err := inner.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("serializing body content: %w", err)
	}

	ciphertext, ephemeralPub, nonce, err := NewPayloadEncryptor(recipientPublicKey).Encrypt(plaintext)
	if err != nil {
		return nil, err
	}

	for _, child := range body.ChildElements() {
		body.RemoveChild(child)
	}

	encData := body.CreateElement("xenc:EncryptedData")
	encData.CreateAttr("xmlns:xenc", NSXMLEnc)
	encData.CreateAttr("Id", "ED-"+generateID())
	encData.CreateAttr("Type", NSXMLEnc+"Content")

	encData.CreateElement("xenc:EncryptionMethod").CreateAttr("Algorithm", AlgorithmAES128GCM)

	keyInfo := encData.CreateElement("ds:KeyInfo")
	keyInfo.CreateAttr("xmlns:ds", NSXMLDSig)
	agreement := keyInfo.CreateElement("xenc:AgreementMethod")
	agreement.CreateAttr("Algorithm", AlgorithmX25519)
	originator := agreement.CreateElement("xenc:OriginatorKeyInfo")
	ephemeral := originator.CreateElement("ds:KeyValue")
	ephemeral.SetText(base64.StdEncoding.EncodeToString(ephemeralPub))

	cipherData := encData.CreateElement("xenc:CipherData")
	// Nonce travels prepended to the ciphertext.
	cipherData.CreateElement("xenc:CipherValue").SetText(
		base64.StdEncoding.EncodeToString(append(nonce, ciphertext...)))

	return doc.WriteToBytes()
}

// DecryptEnvelope restores the SOAP Body content encrypted by
// EncryptEnvelope.
func DecryptEnvelope(envelopeXML []byte, privateKey [32]byte) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(envelopeXML); err != nil {
		return nil, fmt.Errorf("parsing envelope: %w", err)
	}

	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("no root element found")
	}
	body := findChild(root, "Body")
	if body == nil {
		return nil, fmt.Errorf("SOAP Body not found")
	}

	encData := body.FindElement("./*[local-name()='EncryptedData']")
	if encData == nil {
		return nil, fmt.Errorf("no EncryptedData in Body")
	}

	if em := encData.FindElement("./*[local-name()='EncryptionMethod']"); em != nil {
		if alg := em.SelectAttrValue("Algorithm", ""); alg != "" && alg != AlgorithmAES128GCM {
			return nil, fmt.Errorf("%w: data encryption %s", ErrUnsupportedAlgorithm, alg)
		}
	}

	keyValue := encData.FindElement(".//*[local-name()='KeyValue']")
	if keyValue == nil {
		return nil, fmt.Errorf("no ephemeral key in EncryptedData")
	}
	ephemeralPub, err := base64.StdEncoding.DecodeString(strings.TrimSpace(keyValue.Text()))
	if err != nil {
		return nil, fmt.Errorf("decoding ephemeral key: %w", err)
	}

	cipherValue := encData.FindElement(".//*[local-name()='CipherValue']")
	if cipherValue == nil {
		return nil, fmt.Errorf("no CipherValue in EncryptedData")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(cipherValue.Text()))
	if err != nil {
		return nil, fmt.Errorf("decoding cipher value: %w", err)
	}
	if len(raw) < 12 {
		return nil, fmt.Errorf("cipher value too short")
	}
	nonce, ciphertext := raw[:12], raw[12:]

	plaintext, err := NewPayloadDecryptor(privateKey).Decrypt(ciphertext, ephemeralPub, nonce)
	if err != nil {
		return nil, err
	}

	inner := etree.NewDocument()
	if err := inner.ReadFromBytes(plaintext); err != nil {
		return nil, fmt.Errorf("parsing decrypted body content: %w", err)
	}
	wrapper := inner.Root()
	if wrapper == nil {
		return nil, fmt.Errorf("decrypted body content is empty")
	}

	body.RemoveChild(encData)
	for _, child := range wrapper.ChildElements() {
		body.AddChild(child.Copy())
	}

	return doc.WriteToBytes()
}

// IsEncrypted reports whether the envelope's Body holds EncryptedData.
func IsEncrypted(envelopeXML []byte) bool {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(envelopeXML); err != nil {
		return false
	}
	body := doc.FindElement("//*[local-name()='Body']")
	if body == nil {
		return false
	}
	return body.FindElement("./*[local-name()='EncryptedData']") != nil
}
