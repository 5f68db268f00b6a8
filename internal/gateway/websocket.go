package gateway

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Sakura-kurt/EchoMine/internal/auth"
	"github.com/Sakura-kurt/EchoMine/internal/dispatch"
	"github.com/Sakura-kurt/EchoMine/internal/domain"
	"github.com/Sakura-kurt/EchoMine/internal/segment"
	"github.com/Sakura-kurt/EchoMine/internal/store"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Application close codes for authentication failures. Upstream connect
// failures use the standard internal-error code.
const (
	StatusMissingToken websocket.StatusCode = 4001
	StatusInvalidToken websocket.StatusCode = 4002
)

// Pinger is implemented by transcribers whose endpoint reachability can be
// checked before accepting audio.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler owns the /ws/chat streaming endpoint.
type Handler struct {
	auth        *auth.Service
	store       store.Store
	fabric      *dispatch.Fabric
	reg         *Registry
	engineCfg   segment.Config
	classifier  segment.Classifier
	transcriber segment.Transcriber
	origin      string
}

// NewHandler creates the streaming-plane handler.
func NewHandler(authSvc *auth.Service, st store.Store, fabric *dispatch.Fabric, reg *Registry, engineCfg segment.Config, cls segment.Classifier, tr segment.Transcriber, allowedOrigin string) *Handler {
	return &Handler{
		auth:        authSvc,
		store:       st,
		fabric:      fabric,
		reg:         reg,
		engineCfg:   engineCfg,
		classifier:  cls,
		transcriber: tr,
		origin:      allowedOrigin,
	}
}

func newConnectionID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])[:16]
}

func newTraceID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])[:8]
}

// ServeHTTP upgrades the connection and runs the per-connection pipeline:
// authenticate, bind session, open the reply subscription, then drain
// audio, engine events, and replies concurrently until any side ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	traceID := newTraceID()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{h.origin},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "trace_id", traceID, "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "trace_id", traceID, "error", closeErr)
		}
	}()

	token := r.URL.Query().Get("token")
	if token == "" {
		slog.Warn("Auth failure", "trace_id", traceID, "reason", "missing_token", "ip", r.RemoteAddr)
		_ = ws.Close(StatusMissingToken, "missing token")
		return
	}

	user, err := h.auth.Verify(r.Context(), token)
	if err != nil {
		slog.Warn("Auth failure", "trace_id", traceID, "reason", "invalid_token", "ip", r.RemoteAddr, "error", err)
		_ = ws.Close(StatusInvalidToken, "invalid or expired token")
		return
	}

	session, isNew, err := h.store.GetOrCreateSession(r.Context(), user.UserID)
	if err != nil {
		slog.Error("Session resolution failed", "trace_id", traceID, "user_id", user.UserID, "error", err)
		_ = ws.Close(websocket.StatusInternalError, "session unavailable")
		return
	}

	conn := domain.Connection{
		ConnectionID: newConnectionID(),
		SessionID:    session.SessionID,
		UserID:       user.UserID,
		TraceID:      traceID,
		OpenedAt:     time.Now(),
	}

	// The transcription endpoint must be reachable before any audio is
	// accepted.
	if p, ok := h.transcriber.(Pinger); ok {
		pingCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		err := p.Ping(pingCtx)
		cancel()
		if err != nil {
			slog.Error("Transcription endpoint unreachable", "trace_id", traceID, "error", err)
			_ = ws.Close(websocket.StatusInternalError, "transcription endpoint unavailable")
			return
		}
	}

	// Open the reply subscription before accepting audio so early replies
	// are not lost.
	sub, err := h.fabric.OpenReplies(conn.ConnectionID)
	if err != nil {
		slog.Error("Reply subscription failed", "trace_id", traceID, "connection_id", conn.ConnectionID, "error", err)
		_ = ws.Close(websocket.StatusInternalError, "reply subscription unavailable")
		return
	}
	defer sub.Close()

	h.reg.Register(user.UserID, conn.ConnectionID, ws)
	defer h.reg.Unregister(user.UserID, conn.ConnectionID, ws)

	slog.Info("Connection start",
		"trace_id", traceID,
		"user_id", user.UserID,
		"session_id", session.SessionID,
		"connection_id", conn.ConnectionID,
		"session_new", isNew,
		"ip", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := h.writeJSON(ctx, ws, map[string]any{
		"type":              "ready",
		"sample_rate":       h.engineCfg.SampleRate,
		"frame_ms":          int(h.engineCfg.FrameDuration.Milliseconds()),
		"frame_bytes":       h.engineCfg.FrameBytes(),
		"silence_cutoff_ms": int(h.engineCfg.SilenceCutoff.Milliseconds()),
		"connection_id":     conn.ConnectionID,
	}); err != nil {
		slog.Warn("Failed to send ready", "trace_id", traceID, "error", err)
		return
	}

	engine := segment.New(h.engineCfg, h.classifier, h.transcriber)

	var wg sync.WaitGroup
	wg.Add(3)

	// Frame intake: client -> engine.
	go func() {
		defer wg.Done()
		h.intakeLoop(ctx, ws, engine, conn)
		// Cancel before Close so an in-flight transcription cannot hold
		// teardown for its full timeout.
		cancel()
		engine.Close()
	}()

	// Engine events: engine -> client + fabric + history.
	go func() {
		defer wg.Done()
		defer cancel()
		h.eventLoop(ctx, ws, engine, conn)
	}()

	// Replies: fabric -> client + history.
	go func() {
		defer wg.Done()
		defer cancel()
		h.replyLoop(ctx, ws, sub, conn)
	}()

	wg.Wait()

	slog.Info("Connection end",
		"trace_id", traceID,
		"user_id", user.UserID,
		"session_id", session.SessionID,
		"connection_id", conn.ConnectionID,
		"duration_ms", time.Since(conn.OpenedAt).Milliseconds())
}

// intakeLoop drains inbound frames into the segmentation engine. Text
// messages are ignored; only fixed-size binary audio frames are expected.
func (h *Handler) intakeLoop(ctx context.Context, ws *websocket.Conn, engine *segment.Engine, conn domain.Connection) {
	frames := 0
	lastLog := time.Now()

	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed", "trace_id", conn.TraceID)
			} else {
				slog.Warn("WebSocket read error", "trace_id", conn.TraceID, "error", err)
			}
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}

		engine.Push(ctx, data)

		frames++
		if now := time.Now(); now.Sub(lastLog) >= time.Second {
			slog.Debug("Frame intake", "trace_id", conn.TraceID, "frames_per_sec", frames, "last_bytes", len(data))
			frames = 0
			lastLog = now
		}
	}
}

// eventLoop forwards segmentation events to the client, publishes
// completed utterances, and appends transcripts to session history.
func (h *Handler) eventLoop(ctx context.Context, ws *websocket.Conn, engine *segment.Engine, conn domain.Connection) {
	for ev := range engine.Events() {
		switch ev.Type {
		case segment.EventSpeechStart:
			slog.Debug("Speech start", "trace_id", conn.TraceID, "session_id", conn.SessionID)
			if err := h.writeJSON(ctx, ws, map[string]any{"type": "speech_start"}); err != nil {
				return
			}

		case segment.EventSpeechEnd:
			slog.Debug("Speech end", "trace_id", conn.TraceID, "session_id", conn.SessionID)
			if err := h.writeJSON(ctx, ws, map[string]any{"type": "speech_end"}); err != nil {
				return
			}

		case segment.EventFinal:
			payload := map[string]any{"type": "final", "text": ev.Text}
			if ev.Seq > 0 {
				payload["seq"] = ev.Seq
			}
			if ev.Reason != "" {
				payload["reason"] = ev.Reason
			}
			if err := h.writeJSON(ctx, ws, payload); err != nil {
				return
			}
			if ev.Text != "" {
				h.handleTranscript(ctx, ev, conn)
			}

		case segment.EventError:
			slog.Warn("Segmentation error", "trace_id", conn.TraceID, "stage", ev.Stage, "message", ev.Message)
			if err := h.writeJSON(ctx, ws, map[string]any{"type": "error", "stage": ev.Stage, "message": ev.Message}); err != nil {
				return
			}
		}
	}
}

// handleTranscript records the user's side of the exchange and submits the
// utterance for answer generation.
func (h *Handler) handleTranscript(ctx context.Context, ev segment.Event, conn domain.Connection) {
	slog.Info("Transcription", "trace_id", conn.TraceID, "session_id", conn.SessionID, "seq", ev.Seq, "text_length", len(ev.Text))

	if err := h.store.AppendHistory(ctx, conn.SessionID, domain.RoleUser, ev.Text); err != nil {
		slog.Warn("Failed to append user history", "trace_id", conn.TraceID, "session_id", conn.SessionID, "error", err)
	}

	job := domain.UtteranceJob{
		Text:         ev.Text,
		ConnectionID: conn.ConnectionID,
		Seq:          ev.Seq,
	}
	if err := h.fabric.PublishUtterance(ctx, job); err != nil {
		slog.Error("Failed to publish utterance", "trace_id", conn.TraceID, "seq", ev.Seq, "error", err)
	}
}

// replyLoop forwards correlated answers to the client and records the
// assistant's side of the exchange.
func (h *Handler) replyLoop(ctx context.Context, ws *websocket.Conn, sub *dispatch.ReplySubscription, conn domain.Connection) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-sub.Deliveries():
			if !ok {
				return
			}

			reply, err := domain.DecodeReply(d.Body)
			if err != nil {
				slog.Warn("Malformed reply dropped", "trace_id", conn.TraceID, "error", err)
				continue
			}

			if err := h.writeJSON(ctx, ws, map[string]any{
				"type":     "answer",
				"query":    reply.Query,
				"response": reply.Response,
				"seq":      reply.Seq,
			}); err != nil {
				return
			}

			if strings.TrimSpace(reply.Response) != "" {
				if err := h.store.AppendHistory(ctx, conn.SessionID, domain.RoleAssistant, reply.Response); err != nil {
					slog.Warn("Failed to append assistant history", "trace_id", conn.TraceID, "session_id", conn.SessionID, "error", err)
				}
			}
		}
	}
}

func (h *Handler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
