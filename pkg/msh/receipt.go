package msh

import (
	"fmt"

	"github.com/beevik/etree"

	"github.com/KORe4/phase4/pkg/message"
)

// nonRepudiationInfo extracts the ds:Reference list from a signed
// envelope and wraps it in ebbp:NonRepudiationInformation, so the
// receipt echoes exactly what the sender signed.
func nonRepudiationInfo(envelopeXML []byte) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(envelopeXML); err != nil {
		return nil, fmt.Errorf("parsing signed envelope: %w", err)
	}

	signedInfo := doc.FindElement("//SignedInfo")
	if signedInfo == nil {
		return nil, fmt.Errorf("signed envelope has no SignedInfo")
	}

	nri := etree.NewElement("ebbp:NonRepudiationInformation")
	nri.CreateAttr("xmlns:ebbp", message.NsEBBP)
	nri.CreateAttr("xmlns:ds", message.NsDS)

	for _, ref := range signedInfo.ChildElements() {
		if ref.Tag != "Reference" {
			continue
		}
		part := nri.CreateElement("ebbp:MessagePartNRInformation")
		part.AddChild(ref.Copy())
	}

	if len(nri.ChildElements()) == 0 {
		return nil, fmt.Errorf("signed envelope has no references")
	}

	out := etree.NewDocument()
	out.SetRoot(nri)
	data, err := out.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("serializing non-repudiation info: %w", err)
	}
	return data, nil
}
