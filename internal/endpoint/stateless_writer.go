package endpoint

import (
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/rtpsgo/rtps/internal/cache"
	"github.com/rtpsgo/rtps/internal/guid"
	"github.com/rtpsgo/rtps/internal/qos"
	"github.com/rtpsgo/rtps/internal/transport"
	"github.com/rtpsgo/rtps/internal/wire"
)

// StatelessWriter pushes each new local change to every configured locator
// exactly once, with no per-reader tracking and no heartbeats: suited to
// best-effort, typically VOLATILE topics such as the SPDP announcement
// itself.
type StatelessWriter struct {
	common
	sender   DatagramSender
	locators []transport.Locator
}

// NewStatelessWriter creates a writer with no matched-reader state.
func NewStatelessWriter(g guid.GUID, history *cache.HistoryCache, q qos.EndpointQoS, sender DatagramSender, locators []transport.Locator, log *zap.SugaredLogger) *StatelessWriter {
	return &StatelessWriter{
		common:   newCommon(g, history, q, log),
		sender:   sender,
		locators: locators,
	}
}

// Write adds change to the history and transmits it to every locator
// exactly once. No retransmission tracking is kept.
func (w *StatelessWriter) Write(change *cache.CacheChange) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.history.Add(change); err != nil {
		return err
	}

	datagram := w.frameLocked(change)
	for _, locator := range w.locators {
		if err := w.sender.Send(locator, datagram); err != nil {
			w.log.Warnw("stateless writer send failed", "locator", locator.String(), "error", err)
		}
	}
	return nil
}

func (w *StatelessWriter) frameLocked(change *cache.CacheChange) []byte {
	hdr := wire.Header{Version: wire.ProtocolVersion, GuidPrefix: w.guid.Prefix}
	datagram := hdr.Encode(nil)

	d := wire.Data{
		ReaderId:          guid.EntityIdUnknown,
		WriterId:          w.guid.Entity,
		WriterSeqNum:      change.SequenceNumber,
		SerializedPayload: change.Payload,
	}
	body, flags := d.Encode(nil, binary.BigEndian)
	datagram = append(datagram, wire.SubmessageHeader{Id: wire.SubmessageData, Flags: flags, OctetsToNextHeader: uint16(len(body))}.Encode(nil)...)
	datagram = append(datagram, body...)
	return datagram
}

// HandleSubmessage is a no-op for StatelessWriter: it has no reliability
// protocol inputs to process.
func (w *StatelessWriter) HandleSubmessage(sourcePrefix guid.GuidPrefix, sub wire.Submessage) {}
