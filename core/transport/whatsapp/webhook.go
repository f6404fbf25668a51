// Package whatsapp serves the menu over the WhatsApp Cloud API: a chi
// webhook turns inbound messages into engine events and an outbox posts
// directives back through the graph API.
package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	coreconfig "github.com/m3rciful/menubot/core/config"
	"github.com/m3rciful/menubot/core/engine"
	"github.com/m3rciful/menubot/core/logger"
)

// Name identifies this transport in logs, metrics and the journal.
const Name = "whatsapp"

const maxBody = 1 << 20

// ErrInvalidSignature is returned when X-Hub-Signature-256 does not match the body.
var ErrInvalidSignature = errors.New("whatsapp: invalid signature")

// Handler consumes normalized inbound events.
type Handler interface {
	Handle(ctx context.Context, ev engine.Event) error
}

// Webhook receives Cloud API callbacks.
type Webhook struct {
	verifyToken string
	appSecret   []byte
	handler     Handler
}

// NewWebhook builds the webhook. Signatures are only checked when appSecret is set.
func NewWebhook(verifyToken, appSecret string, h Handler) *Webhook {
	w := &Webhook{verifyToken: verifyToken, handler: h}
	if appSecret != "" {
		w.appSecret = []byte(appSecret)
	}
	return w
}

// Router mounts the health check and the webhook endpoints.
func (wh *Webhook) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "menubot whatsapp webhook is running")
	})
	r.Get("/webhook", wh.verify)
	r.Post("/webhook", wh.receive)
	return r
}

func (wh *Webhook) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("hub.verify_token")
	if q.Get("hub.mode") == "subscribe" && token != "" &&
		hmac.Equal([]byte(token), []byte(wh.verifyToken)) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, q.Get("hub.challenge"))
		return
	}
	logger.Warn(r.Context(), "wa", "webhook.verify", slog.String("status", "error"))
	http.Error(w, "verification failed", http.StatusForbidden)
}

func (wh *Webhook) receive(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rid := uuid.NewString()
	ctx := logger.WithRID(r.Context(), rid)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "error": "unreadable body"})
		return
	}
	if err := wh.checkSignature(r.Header.Get("X-Hub-Signature-256"), body); err != nil {
		logger.Warn(ctx, "wa", "webhook.signature", slog.String("status", "error"))
		respondJSON(w, http.StatusUnauthorized, map[string]string{"status": "error", "error": err.Error()})
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "error": "invalid json"})
		return
	}

	events, ids := extractEvents(payload)
	// Events are handled past the end of the request.
	base := context.WithoutCancel(ctx)
	for i, ev := range events {
		evCtx := logger.WithUpdate(base, Name, ids[i], ev.UserID)
		evCtx = logger.WithLogger(evCtx, logger.Component("wa"))
		if err := wh.handler.Handle(evCtx, ev); err != nil {
			logger.Warn(evCtx, "wa", "update.handled",
				slog.String("status", "error"),
				slog.String("kind", string(ev.Kind)),
				slog.String("err", err.Error()),
			)
		}
	}
	if logger.ShouldSampleDebug() {
		logger.Debug(ctx, "wa", "webhook.received",
			slog.String("status", "ok"),
			slog.Int("events", len(events)),
			slog.Duration("duration", logger.Took(start)),
		)
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (wh *Webhook) checkSignature(header string, body []byte) error {
	if len(wh.appSecret) == 0 {
		return nil
	}
	hexSig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, wh.appSecret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// extractEvents returns engine events, with their message ids, from a payload.
// Status callbacks and unsupported message types yield nothing.
func extractEvents(p webhookPayload) ([]engine.Event, []string) {
	var (
		events []engine.Event
		ids    []string
	)
	for _, e := range p.Entry {
		for _, ch := range e.Changes {
			for _, m := range ch.Value.Messages {
				ev, ok := normalize(m)
				if !ok {
					continue
				}
				events = append(events, ev)
				ids = append(ids, m.ID)
			}
		}
	}
	return events, ids
}

func normalize(m inboundMessage) (engine.Event, bool) {
	ev := engine.Event{UserID: strings.TrimSpace(m.From)}
	if ev.UserID == "" {
		return ev, false
	}
	switch {
	case m.Interactive != nil && m.Interactive.ButtonReply != nil:
		ev.Kind, ev.Payload = engine.KindSelection, m.Interactive.ButtonReply.ID
	case m.Interactive != nil && m.Interactive.ListReply != nil:
		ev.Kind, ev.Payload = engine.KindSelection, m.Interactive.ListReply.ID
	case m.Button != nil:
		ev.Kind, ev.Payload = engine.KindText, m.Button.Text
	case m.Text != nil && strings.TrimSpace(m.Text.Body) != "":
		ev.Kind, ev.Payload = engine.KindText, m.Text.Body
	default:
		return ev, false
	}
	return ev, ev.Payload != ""
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Transport runs the webhook server and owns the outbox.
type Transport struct {
	cfg    coreconfig.WhatsAppConfig
	outbox *Outbox
}

// New builds the transport for cfg, sending through queue.
func New(cfg coreconfig.WhatsAppConfig, queue Enqueuer) *Transport {
	client := NewClient(cfg.APIBase, cfg.PhoneNumberID, cfg.AccessToken, time.Duration(cfg.TimeoutSeconds)*time.Second)
	return &Transport{cfg: cfg, outbox: NewOutbox(client, queue)}
}

// Outbox returns the directive deliverer.
func (t *Transport) Outbox() *Outbox { return t.outbox }

// Run serves the webhook until ctx is done.
func (t *Transport) Run(ctx context.Context, h Handler) error {
	srv := &http.Server{
		Addr:              t.cfg.Listen,
		Handler:           NewWebhook(t.cfg.VerifyToken, t.cfg.AppSecret, h).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "wa", "server.listen", slog.String("listen", t.cfg.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return err
	}
	return nil
}
