package ws

import (
	"sync"

	"pokervault/internal/service/hand"
	"pokervault/pkg/logger"

	"go.uber.org/zap"
)

type OutgoingMessage struct {
	Type string      `json:"type"`
	Seq  int64       `json:"seq"`
	Data interface{} `json:"data"`
}

// Hub fans public hand states out to spectator connections. Services
// publish into it after every ledger-side mutation.
type Hub struct {
	mu    sync.Mutex
	games map[uint64]*gameFeed
}

type gameFeed struct {
	seq     int64
	nextSub int64
	subs    map[int64]chan OutgoingMessage
}

func NewHub() *Hub {
	return &Hub{games: make(map[uint64]*gameFeed)}
}

func (h *Hub) Subscribe(gameID uint64) (int64, <-chan OutgoingMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	feed, ok := h.games[gameID]
	if !ok {
		feed = &gameFeed{subs: make(map[int64]chan OutgoingMessage)}
		h.games[gameID] = feed
	}
	feed.nextSub++
	ch := make(chan OutgoingMessage, 8)
	feed.subs[feed.nextSub] = ch
	return feed.nextSub, ch
}

func (h *Hub) Unsubscribe(gameID uint64, subID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	feed, ok := h.games[gameID]
	if !ok {
		return
	}
	if ch, ok := feed.subs[subID]; ok {
		delete(feed.subs, subID)
		close(ch)
	}
	if len(feed.subs) == 0 {
		delete(h.games, gameID)
	}
}

// PublishHand implements hand.Notifier.
func (h *Hub) PublishHand(gameID uint64, state hand.State) {
	h.mu.Lock()
	defer h.mu.Unlock()

	feed, ok := h.games[gameID]
	if !ok {
		return
	}
	feed.seq++
	msg := OutgoingMessage{Type: "state", Seq: feed.seq, Data: state}
	for subID, ch := range feed.subs {
		select {
		case ch <- msg:
		default:
			logger.Log.Warn("ws subscriber channel full",
				zap.Uint64("gameID", gameID),
				zap.Int64("subID", subID),
			)
		}
	}
}
