package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"hash"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/leifj/signedxml"

	"github.com/KORe4/phase4/internal/keystore"
)

// inclusiveNamespacesTransform is the InclusiveNamespaces directive fed
// to the SignedInfo canonicalization so the env prefix survives.
const inclusiveNamespacesTransform = `<ec:InclusiveNamespaces xmlns:ec="http://www.w3.org/2001/10/xml-exc-c14n#" PrefixList="env"/>`

// EnvelopeSigner signs SOAP envelopes with a WS-Security header. The
// header carries a BinarySecurityToken with the signing certificate, a
// Timestamp, and an XML signature over the Timestamp, Body, and
// Messaging header, plus digests of any attachments.
//
// Reference digests and the SignedInfo signature are computed here
// rather than delegated to signedxml's signer: attachment references
// carry the SwA transform URI, which signedxml's reference walk does
// not know. signedxml contributes only the exclusive canonicalization.
type EnvelopeSigner struct {
	signer keystore.Signer
	params *SigningParams
}

// NewEnvelopeSigner creates a signer for the given parameters and key.
func NewEnvelopeSigner(params *SigningParams, signer keystore.Signer) (*EnvelopeSigner, error) {
	if signer == nil {
		return nil, fmt.Errorf("%w: signing key is required", ErrConfigInvalid)
	}
	if signer.Certificate() == nil {
		return nil, fmt.Errorf("%w: signing certificate is required", ErrConfigInvalid)
	}
	if params == nil {
		params = &SigningParams{}
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &EnvelopeSigner{signer: signer, params: params}, nil
}

// SignEnvelope signs an envelope without attachments.
func (s *EnvelopeSigner) SignEnvelope(envelopeXML []byte) ([]byte, error) {
	return s.SignEnvelopeWithAttachments(envelopeXML, nil)
}

// SignEnvelopeWithAttachments signs an envelope and covers the given
// attachments with cid: references.
func (s *EnvelopeSigner) SignEnvelopeWithAttachments(envelopeXML []byte, attachments []Attachment) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(envelopeXML); err != nil {
		return nil, fmt.Errorf("parsing envelope: %w", err)
	}

	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("no root element found")
	}
	ensureNamespaces(root)

	header := findChild(root, "Header")
	if header == nil {
		return nil, fmt.Errorf("SOAP Header not found")
	}
	body := findChild(root, "Body")
	if body == nil {
		return nil, fmt.Errorf("SOAP Body not found")
	}

	security := findChild(header, "Security")
	if security == nil {
		security = header.CreateElement("wsse:Security")
		security.CreateAttr("env:mustUnderstand", "true")
	}

	cert := s.signer.Certificate()

	bstID := "X509-" + generateID()
	bst := security.CreateElement("wsse:BinarySecurityToken")
	bst.CreateAttr("wsu:Id", bstID)
	bst.CreateAttr("EncodingType", "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary")
	bst.CreateAttr("ValueType", "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-x509-token-profile-1.0#X509v3")
	bst.SetText(base64.StdEncoding.EncodeToString(cert.Raw))

	timestampID := "TS-" + generateID()
	timestamp := security.CreateElement("wsu:Timestamp")
	// Exclusive C14N needs the declaration on the element itself, not
	// just on an ancestor.
	timestamp.CreateAttr("xmlns:wsu", NSSecurityUtil)
	timestamp.CreateAttr("wsu:Id", timestampID)
	now := time.Now().UTC()
	timestamp.CreateElement("wsu:Created").SetText(now.Format("2006-01-02T15:04:05.000Z"))
	timestamp.CreateElement("wsu:Expires").SetText(now.Add(5 * time.Minute).Format("2006-01-02T15:04:05.000Z"))

	getOrCreateWsuID(body, "id-")

	messaging := findChild(header, "Messaging")
	if messaging != nil {
		if messaging.SelectAttrValue("env:mustUnderstand", "") == "" {
			messaging.CreateAttr("env:mustUnderstand", "true")
		}
		getOrCreateWsuID(messaging, "id-")
	}

	sig := etree.NewElement("ds:Signature")
	sig.CreateAttr("xmlns:ds", NSXMLDSig)

	signedInfo := sig.CreateElement("ds:SignedInfo")
	signedInfo.CreateAttr("xmlns:ds", NSXMLDSig)
	signedInfo.CreateAttr("xmlns:env", NSSOAP12)

	c14n := signedInfo.CreateElement("ds:CanonicalizationMethod")
	c14n.CreateAttr("Algorithm", AlgorithmC14N)
	inclNS := c14n.CreateElement("ec:InclusiveNamespaces")
	inclNS.CreateAttr("xmlns:ec", AlgorithmC14N)
	inclNS.CreateAttr("PrefixList", "env")

	sigMethod := signedInfo.CreateElement("ds:SignatureMethod")
	sigMethod.CreateAttr("Algorithm", s.params.Algorithm)

	elements := []*etree.Element{timestamp, body}
	if messaging != nil {
		elements = append(elements, messaging)
	}
	for _, elem := range elements {
		if err := s.addReference(signedInfo, elem); err != nil {
			return nil, err
		}
	}

	if s.params.SignAttachments {
		for _, att := range attachments {
			s.addAttachmentReference(signedInfo, att)
		}
	}

	sigValue, err := s.signSignedInfo(signedInfo)
	if err != nil {
		return nil, err
	}
	sig.CreateElement("ds:SignatureValue").SetText(base64.StdEncoding.EncodeToString(sigValue))

	keyInfo := sig.CreateElement("ds:KeyInfo")
	str := keyInfo.CreateElement("wsse:SecurityTokenReference")
	ref := str.CreateElement("wsse:Reference")
	ref.CreateAttr("URI", "#"+bstID)
	ref.CreateAttr("ValueType", "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-x509-token-profile-1.0#X509v3")

	security.AddChild(sig)

	// No indentation: whitespace text nodes would change the canonical
	// form the receiver computes.
	return doc.WriteToBytes()
}

// addReference canonicalizes the element, digests it, and appends the
// ds:Reference to SignedInfo.
func (s *EnvelopeSigner) addReference(signedInfo, elem *etree.Element) error {
	id := wsuID(elem)
	if id == "" {
		return fmt.Errorf("element %s has no wsu:Id", elem.Tag)
	}

	canonicalizer := signedxml.ExclusiveCanonicalization{WithComments: false}
	canonical, err := canonicalizer.ProcessElement(elem, "")
	if err != nil {
		return fmt.Errorf("canonicalizing %s: %w", elem.Tag, err)
	}
	digest := digestFor(s.params.DigestAlgorithm, []byte(canonical))

	ref := signedInfo.CreateElement("ds:Reference")
	ref.CreateAttr("URI", "#"+id)

	transforms := ref.CreateElement("ds:Transforms")
	transform := transforms.CreateElement("ds:Transform")
	transform.CreateAttr("Algorithm", AlgorithmC14N)

	ref.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", s.params.DigestAlgorithm)
	ref.CreateElement("ds:DigestValue").SetText(base64.StdEncoding.EncodeToString(digest))
	return nil
}

func (s *EnvelopeSigner) addAttachmentReference(signedInfo *etree.Element, att Attachment) {
	digest := digestFor(s.params.DigestAlgorithm, att.Data)

	ref := signedInfo.CreateElement("ds:Reference")
	ref.CreateAttr("URI", "cid:"+trimContentID(att.ContentID))

	transforms := ref.CreateElement("ds:Transforms")
	transform := transforms.CreateElement("ds:Transform")
	transform.CreateAttr("Algorithm", AlgorithmAttachmentTransform)

	ref.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", s.params.DigestAlgorithm)
	ref.CreateElement("ds:DigestValue").SetText(base64.StdEncoding.EncodeToString(digest))
}

// signSignedInfo canonicalizes SignedInfo with the env prefix kept and
// signs its digest with the keystore key.
func (s *EnvelopeSigner) signSignedInfo(signedInfo *etree.Element) ([]byte, error) {
	canonicalizer := signedxml.ExclusiveCanonicalization{WithComments: false}
	canonical, err := canonicalizer.ProcessElement(signedInfo, inclusiveNamespacesTransform)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing SignedInfo: %w", err)
	}

	cryptoHash, err := signatureHash(s.params.Algorithm)
	if err != nil {
		return nil, err
	}
	h := cryptoHash.New()
	h.Write([]byte(canonical))

	sigValue, err := s.signer.Sign(rand.Reader, h.Sum(nil), cryptoHash)
	if err != nil {
		return nil, fmt.Errorf("signing envelope: %w", err)
	}
	return sigValue, nil
}

// EnvelopeVerifier verifies WS-Security signatures on inbound
// envelopes.
type EnvelopeVerifier struct {
	// cert pins the expected signing certificate. When nil, the
	// certificate embedded in the BinarySecurityToken is used.
	cert *x509.Certificate
}

// NewEnvelopeVerifier creates a verifier pinned to the given
// certificate. Pass nil to trust the embedded token certificate; the
// caller is then responsible for validating it separately.
func NewEnvelopeVerifier(cert *x509.Certificate) *EnvelopeVerifier {
	return &EnvelopeVerifier{cert: cert}
}

// VerifyEnvelope verifies the signature of an envelope without
// attachments.
func (v *EnvelopeVerifier) VerifyEnvelope(envelopeXML []byte) error {
	return v.VerifyEnvelopeWithAttachments(envelopeXML, nil)
}

// VerifyEnvelopeWithAttachments checks the SignedInfo signature against
// the pinned or embedded certificate, recomputes the digest of every
// #id reference, and compares attachment digests against their cid:
// references.
func (v *EnvelopeVerifier) VerifyEnvelopeWithAttachments(envelopeXML []byte, attachments []Attachment) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(envelopeXML); err != nil {
		return fmt.Errorf("parsing envelope: %w", err)
	}

	sig := doc.FindElement("//*[local-name()='Signature']")
	if sig == nil {
		return fmt.Errorf("no Signature in envelope")
	}
	signedInfo := sig.FindElement("./*[local-name()='SignedInfo']")
	if signedInfo == nil {
		return fmt.Errorf("no SignedInfo in Signature")
	}

	cert := v.cert
	if cert == nil {
		embedded, err := ExtractSigningCertificate(envelopeXML)
		if err != nil {
			return err
		}
		cert = embedded
	}

	if err := v.verifySignatureValue(sig, signedInfo, cert); err != nil {
		return err
	}
	return v.verifyReferences(doc, signedInfo, attachments)
}

// verifySignatureValue recomputes the canonical SignedInfo digest and
// checks the SignatureValue against the certificate's public key.
func (v *EnvelopeVerifier) verifySignatureValue(sig, signedInfo *etree.Element, cert *x509.Certificate) error {
	sigValueElem := sig.FindElement("./*[local-name()='SignatureValue']")
	if sigValueElem == nil {
		return fmt.Errorf("no SignatureValue in Signature")
	}
	sigValue, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sigValueElem.Text()))
	if err != nil {
		return fmt.Errorf("decoding SignatureValue: %w", err)
	}

	algorithm := ""
	if sm := signedInfo.FindElement("./*[local-name()='SignatureMethod']"); sm != nil {
		algorithm = sm.SelectAttrValue("Algorithm", "")
	}
	cryptoHash, err := signatureHash(algorithm)
	if err != nil {
		return err
	}

	transformXML := ""
	if c14n := signedInfo.FindElement("./*[local-name()='CanonicalizationMethod']"); c14n != nil {
		if incl := c14n.FindElement("./*[local-name()='InclusiveNamespaces']"); incl != nil {
			if prefixList := incl.SelectAttrValue("PrefixList", ""); prefixList != "" {
				transformXML = fmt.Sprintf(`<ec:InclusiveNamespaces xmlns:ec=%q PrefixList=%q/>`, AlgorithmC14N, prefixList)
			}
		}
	}

	canonicalizer := signedxml.ExclusiveCanonicalization{WithComments: false}
	canonical, err := canonicalizer.ProcessElement(signedInfo, transformXML)
	if err != nil {
		return fmt.Errorf("canonicalizing SignedInfo: %w", err)
	}
	h := cryptoHash.New()
	h.Write([]byte(canonical))
	digest := h.Sum(nil)

	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		if err := rsa.VerifyPKCS1v15(pub, cryptoHash, digest, sigValue); err != nil {
			return fmt.Errorf("signature validation failed: %w", err)
		}
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(pub, digest, sigValue) {
			return fmt.Errorf("signature validation failed: ecdsa verification")
		}
	default:
		return fmt.Errorf("%w: unsupported public key type %T", ErrUnsupportedAlgorithm, pub)
	}
	return nil
}

// verifyReferences recomputes each reference digest. #id references are
// resolved by wsu:Id and canonicalized; cid: references are compared
// against the supplied attachment bytes. Every attachment must be
// covered by the signature.
func (v *EnvelopeVerifier) verifyReferences(doc *etree.Document, signedInfo *etree.Element, attachments []Attachment) error {
	cidRefs := make(map[string]struct{ algorithm, digest string })

	for _, ref := range signedInfo.FindElements("./*[local-name()='Reference']") {
		uri := ref.SelectAttrValue("URI", "")

		algorithm := ""
		if dm := ref.FindElement("./*[local-name()='DigestMethod']"); dm != nil {
			algorithm = dm.SelectAttrValue("Algorithm", "")
		}
		want := ""
		if dv := ref.FindElement("./*[local-name()='DigestValue']"); dv != nil {
			want = strings.TrimSpace(dv.Text())
		}

		if strings.HasPrefix(uri, "cid:") {
			cidRefs[strings.TrimPrefix(uri, "cid:")] = struct{ algorithm, digest string }{algorithm, want}
			continue
		}
		if !strings.HasPrefix(uri, "#") {
			return fmt.Errorf("unsupported reference URI %q", uri)
		}

		elem := findElementByWsuID(doc.Root(), strings.TrimPrefix(uri, "#"))
		if elem == nil {
			return fmt.Errorf("signed element %s not found", uri)
		}

		canonicalizer := signedxml.ExclusiveCanonicalization{WithComments: false}
		canonical, err := canonicalizer.ProcessElement(elem, "")
		if err != nil {
			return fmt.Errorf("canonicalizing %s: %w", elem.Tag, err)
		}
		got := base64.StdEncoding.EncodeToString(digestFor(algorithm, []byte(canonical)))
		if got != want {
			return fmt.Errorf("signature validation failed: digest mismatch for %s", uri)
		}
	}

	for _, att := range attachments {
		entry, ok := cidRefs[trimContentID(att.ContentID)]
		if !ok {
			return fmt.Errorf("attachment %s is not covered by the signature", att.ContentID)
		}
		want := base64.StdEncoding.EncodeToString(digestFor(entry.algorithm, att.Data))
		if want != entry.digest {
			return fmt.Errorf("attachment %s digest mismatch", att.ContentID)
		}
	}

	return nil
}

// ExtractSigningCertificate pulls the signing certificate from the
// envelope's BinarySecurityToken.
func ExtractSigningCertificate(envelopeXML []byte) (*x509.Certificate, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(envelopeXML); err != nil {
		return nil, fmt.Errorf("parsing envelope: %w", err)
	}

	bst := doc.FindElement("//*[local-name()='BinarySecurityToken']")
	if bst == nil {
		return nil, fmt.Errorf("no BinarySecurityToken in envelope")
	}

	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(bst.Text()))
	if err != nil {
		return nil, fmt.Errorf("decoding security token: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parsing token certificate: %w", err)
	}
	return cert, nil
}

// IsSigned reports whether the envelope carries an XML signature.
func IsSigned(envelopeXML []byte) bool {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(envelopeXML); err != nil {
		return false
	}
	return doc.FindElement("//*[local-name()='Signature']") != nil
}

func signatureHash(algorithm string) (crypto.Hash, error) {
	switch algorithm {
	case AlgorithmRSASHA256, AlgorithmECDSASHA256:
		return crypto.SHA256, nil
	case AlgorithmRSASHA384:
		return crypto.SHA384, nil
	case AlgorithmRSASHA512:
		return crypto.SHA512, nil
	}
	return 0, fmt.Errorf("%w: signature %s", ErrUnsupportedAlgorithm, algorithm)
}

func digestFor(algorithm string, data []byte) []byte {
	var h hash.Hash
	switch algorithm {
	case AlgorithmSHA384:
		h = sha512.New384()
	case AlgorithmSHA512:
		h = sha512.New()
	default:
		h = sha256.New()
	}
	h.Write(data)
	return h.Sum(nil)
}

func ensureNamespaces(root *etree.Element) {
	if root.SelectAttr("xmlns:env") == nil {
		root.CreateAttr("xmlns:env", NSSOAP12)
	}
	if root.SelectAttr("xmlns:wsu") == nil {
		root.CreateAttr("xmlns:wsu", NSSecurityUtil)
	}
	if root.SelectAttr("xmlns:wsse") == nil {
		root.CreateAttr("xmlns:wsse", NSSecurityExt)
	}
}

func findChild(parent *etree.Element, localName string) *etree.Element {
	if e := parent.FindElement("./" + localName); e != nil {
		return e
	}
	return parent.FindElement("./*[local-name()='" + localName + "']")
}

func wsuID(elem *etree.Element) string {
	if id := elem.SelectAttrValue("wsu:Id", ""); id != "" {
		return id
	}
	for _, attr := range elem.Attr {
		if attr.Key == "wsu:Id" || attr.FullKey() == "{"+NSSecurityUtil+"}Id" {
			return attr.Value
		}
	}
	return ""
}

func getOrCreateWsuID(elem *etree.Element, prefix string) string {
	id := wsuID(elem)
	if id == "" {
		id = prefix + generateID()
		elem.CreateAttr("wsu:Id", id)
	}
	return id
}

func findElementByWsuID(root *etree.Element, id string) *etree.Element {
	if root == nil {
		return nil
	}
	if wsuID(root) == id {
		return root
	}
	for _, elem := range root.FindElements("//*") {
		if wsuID(elem) == id {
			return elem
		}
	}
	return nil
}

func trimContentID(contentID string) string {
	contentID = strings.TrimPrefix(contentID, "cid:")
	contentID = strings.TrimPrefix(contentID, "<")
	contentID = strings.TrimSuffix(contentID, ">")
	return contentID
}
