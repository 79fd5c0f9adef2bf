package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"retrocms/pkg/models"
	"retrocms/pkg/services"
)

const streamWriteTimeout = 10 * time.Second

// StreamMessage is one push to a live client
type StreamMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// StreamHandler pushes collection snapshots to websocket clients
type StreamHandler struct {
	content ContentService
	logger  *zap.Logger
	origins []string
}

// NewStreamHandler creates a stream handler. origins lists extra host
// patterns allowed to open the socket cross-origin.
func NewStreamHandler(content ContentService, logger *zap.Logger, origins ...string) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{content: content, logger: logger.Named("stream"), origins: origins}
}

// pending keeps only the newest snapshot per collection; a slow client
// skips intermediate states instead of stalling the publishers.
type pending struct {
	mu     sync.Mutex
	latest map[string]any
	order  []string
	notify chan struct{}
}

func newPending() *pending {
	return &pending{latest: make(map[string]any), notify: make(chan struct{}, 1)}
}

func (p *pending) put(kind string, data any) {
	p.mu.Lock()
	if _, ok := p.latest[kind]; !ok {
		p.order = append(p.order, kind)
	}
	p.latest[kind] = data
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *pending) take() []StreamMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StreamMessage, 0, len(p.order))
	for _, kind := range p.order {
		out = append(out, StreamMessage{Type: kind, Data: p.latest[kind]})
	}
	p.latest = make(map[string]any)
	p.order = nil
	return out
}

// ServeHTTP upgrades the request and streams until the client goes away
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// Clients only listen; reading handles pings and close frames
	ctx := conn.CloseRead(r.Context())

	queue := newPending()
	unsubscribePhotos := h.content.SubscribePhotos(func(photos []models.Photo) {
		queue.put(string(services.KindPhotos), photos)
	})
	defer unsubscribePhotos()
	unsubscribeHeaders := h.content.SubscribeHeaderImages(func(images []string) {
		queue.put(string(services.KindHeaderImages), images)
	})
	defer unsubscribeHeaders()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-queue.notify:
			for _, msg := range queue.take() {
				if err := h.write(ctx, conn, msg); err != nil {
					h.logger.Debug("stream write failed", zap.Error(err))
					return
				}
			}
		}
	}
}

func (h *StreamHandler) write(ctx context.Context, conn *websocket.Conn, msg StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
