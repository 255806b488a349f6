package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"translation-relay/adapters"
	"translation-relay/models"
	"translation-relay/session"
)

// MessageHandler processes one validated message.
type MessageHandler interface {
	Handle(ctx context.Context, userID string, msg models.IncomingMessage) (models.TranslationResult, error)
}

type WSOptions struct {
	AllowedOrigins  []string
	PingInterval    time.Duration
	MaxMessageBytes int64
}

// WSHandler serves /connect/{user_id}. Each connection runs its own loop:
// one frame is read, processed and answered before the next is read.
type WSHandler struct {
	messages       MessageHandler
	registry       *session.Registry
	allowedOrigins map[string]bool
	upgrader       websocket.Upgrader
	opts           WSOptions
	logger         logrus.FieldLogger
}

func NewWSHandler(messages MessageHandler, registry *session.Registry, opts WSOptions, logger logrus.FieldLogger) *WSHandler {
	origins := make(map[string]bool)
	for _, o := range opts.AllowedOrigins {
		origins[o] = true
	}
	h := &WSHandler{
		messages:       messages,
		registry:       registry,
		allowedOrigins: origins,
		opts:           opts,
		logger:         logger,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // allow non-browser clients
	}
	return h.allowedOrigins[origin]
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if userID == "" {
		http.Error(w, "missing user id", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", userID).Warn("WebSocket upgrade failed")
		return
	}
	conn := session.NewConn(ws)
	log := h.logger.WithFields(logrus.Fields{"user_id": userID, "conn_id": conn.ID})

	if err := h.registry.Register(userID, conn); err != nil {
		log.WithError(err).Info("Rejected connection")
		conn.Send(models.WSError{Error: "already connected", Details: err.Error()})
		conn.CloseWith(websocket.ClosePolicyViolation, "already connected")
		return
	}
	log.Info("Connection opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	defer func() {
		h.registry.Release(userID, conn)
		conn.Close()
		log.Info("Connection closed")
	}()
	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("panic", fmt.Sprint(rec)).Error("Session loop crashed")
		}
	}()

	ws.SetReadLimit(h.opts.MaxMessageBytes)
	if wait := h.readWait(); wait > 0 {
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(wait))
		})
	}
	go h.keepalive(ctx, conn, log)

	h.serve(ctx, userID, ws, conn, log)
}

// readWait is how long a read may go without a frame or pong from the peer.
func (h *WSHandler) readWait() time.Duration {
	return 2 * h.opts.PingInterval
}

// serve reads frames until the peer goes away or a write fails.
func (h *WSHandler) serve(ctx context.Context, userID string, ws *websocket.Conn, conn *session.Conn, log logrus.FieldLogger) {
	wait := h.readWait()
	for {
		// Time spent in Handle is not charged to the peer's liveness.
		if wait > 0 {
			ws.SetReadDeadline(time.Now().Add(wait))
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Info("WebSocket closed unexpectedly")
			}
			return
		}

		msg, err := adapters.ParseWebMessage(data)
		if err != nil {
			details := err.Error()
			var pe *adapters.PayloadError
			if errors.As(err, &pe) {
				details = pe.Details
			}
			log.WithField("details", details).Debug("Invalid payload")
			if err := conn.Send(models.WSError{Error: "invalid payload", Details: details}); err != nil {
				log.WithError(err).Debug("Failed to write error frame")
				return
			}
			continue
		}

		requestID := uuid.New().String()
		log.WithField("request_id", requestID).Debug("Processing message")

		var payload any
		res, err := h.messages.Handle(ctx, userID, msg)
		if err != nil {
			payload = models.NewErrorResult(userID, msg, err)
		} else {
			payload = res
		}

		if err := conn.Send(models.WSResponse{Type: models.TypeTranslationResult, Payload: payload}); err != nil {
			log.WithError(err).WithField("request_id", requestID).Debug("Failed to write result")
			return
		}
	}
}

// keepalive pings the peer and closes the connection when ctx ends first,
// which happens on server shutdown.
func (h *WSHandler) keepalive(ctx context.Context, conn *session.Conn, log logrus.FieldLogger) {
	var tick <-chan time.Time
	if h.opts.PingInterval > 0 {
		ticker := time.NewTicker(h.opts.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			conn.CloseWith(websocket.CloseGoingAway, "server shutting down")
			return
		case <-tick:
			if err := conn.Ping(); err != nil {
				log.WithError(err).Debug("Ping failed")
				return
			}
		}
	}
}
