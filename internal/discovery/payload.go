package discovery

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/rtpsgo/rtps/internal/guid"
	"github.com/rtpsgo/rtps/internal/qos"
	"github.com/rtpsgo/rtps/internal/transport"
)

// ParticipantProxyData is the sample a participant's SPDP writer
// periodically announces: everything a peer needs to know to reach it and
// to bring up the built-in SEDP endpoints against it.
type ParticipantProxyData struct {
	GuidPrefix              guid.GuidPrefix
	ProtocolVersion         [2]byte
	VendorId                [2]byte
	ExpectsInlineQos        bool
	BuiltinEndpoints        uint32
	DefaultUnicastLocators  []transport.Locator
	DefaultMulticastLocators []transport.Locator
	MetatrafficUnicastLocators  []transport.Locator
	MetatrafficMulticastLocators []transport.Locator
	LeaseDurationNanos      int64
}

// WriterProxyData is the sample a participant's SEDP publications writer
// announces for each local user writer.
type WriterProxyData struct {
	GUID      guid.GUID
	TopicName string
	TypeName  string
	QoS       qos.EndpointQoS
	Locators  []transport.Locator
}

// ReaderProxyData is the sample a participant's SEDP subscriptions writer
// announces for each local user reader.
type ReaderProxyData struct {
	GUID      guid.GUID
	TopicName string
	TypeName  string
	QoS       qos.EndpointQoS
	Locators  []transport.Locator
}

func encodeGob(v any) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		// Every discovery payload type is a plain struct of exported
		// fields; gob encoding of one cannot fail.
		panic(fmt.Sprintf("discovery: encode %T: %v", v, err))
	}
	return buf.Bytes()
}

func decodeGob(payload []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(v); err != nil {
		return fmt.Errorf("discovery: decode %T: %w", v, err)
	}
	return nil
}
