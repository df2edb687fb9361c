package endpoint

import (
	"sync"

	"go.uber.org/zap"

	"github.com/rtpsgo/rtps/internal/cache"
	"github.com/rtpsgo/rtps/internal/guid"
	"github.com/rtpsgo/rtps/internal/qos"
	"github.com/rtpsgo/rtps/internal/transport"
)

// common holds the state shared by every endpoint kind: its own GUID, its
// history, and its sole mutex. An endpoint is one of {Writer, Reader} x
// {Stateless, Stateful}, and owns a HistoryCache plus a list of remote
// peer proxies.
type common struct {
	mu sync.Mutex

	guid    guid.GUID
	history *cache.HistoryCache
	qos     qos.EndpointQoS
	log     *zap.SugaredLogger
}

func newCommon(g guid.GUID, history *cache.HistoryCache, q qos.EndpointQoS, log *zap.SugaredLogger) common {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return common{guid: g, history: history, qos: q, log: log}
}

// GUID returns the endpoint's own GUID.
func (c *common) GUID() guid.GUID { return c.guid }

// EntityId returns the endpoint's own EntityId, satisfying
// transport.EndpointHandler.
func (c *common) EntityId() guid.EntityId { return c.guid.Entity }

// History returns the endpoint's backing HistoryCache.
func (c *common) History() *cache.HistoryCache { return c.history }

// DatagramSender is the narrow send capability an endpoint needs: handing
// one already-framed datagram to a locator via the shared outbound socket.
type DatagramSender interface {
	Send(locator transport.Locator, payload []byte) error
}
