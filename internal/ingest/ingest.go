// Package ingest receives GitHub security webhooks and enqueues the alert
// events worth processing. It performs no tracker or policy work; that runs
// asynchronously in the pipeline workers.
package ingest

import (
	"encoding/json"
	"io"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/pipeline"
	"github.com/linnemanlabs/warden/internal/queue"
)

const (
	HeaderEvent    = "X-GitHub-Event"
	HeaderDelivery = "X-GitHub-Delivery"

	maxBody = 25 << 20
)

// Webhook results reported to Hooks.OnWebhook.
const (
	ResultQueued   = "queued"
	ResultIgnored  = "ignored"
	ResultRejected = "rejected"
	ResultError    = "error"
)

var tenantRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// processed actions; everything else (fixed, dismissed, resolved...) is ignored
var actions = map[string]bool{"created": true, "reopened": true}

// Hooks are optional callbacks for observability.
type Hooks struct {
	OnWebhook func(event, result string)
}

// API holds dependencies for the webhook handlers.
type API struct {
	logger log.Logger
	pub    queue.Publisher
	hooks  Hooks
}

// New creates the webhook API.
func New(logger log.Logger, pub queue.Publisher, hooks Hooks) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if pub == nil {
		panic(xerrors.New("queue publisher is required"))
	}
	return &API{logger: logger, pub: pub, hooks: hooks}
}

// RegisterRoutes attaches the webhook endpoint to the router. mw wraps only
// the webhook route, typically with signature verification.
func (a *API) RegisterRoutes(r chi.Router, mw ...func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.With(mw...).Post("/webhooks/{tenant}", a.handleWebhook)
	})
}

type response struct {
	Queued     bool   `json:"queued"`
	DeliveryID string `json:"delivery_id"`
	Reason     string `json:"reason,omitempty"`
}

func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant := chi.URLParam(r, "tenant")
	event := r.Header.Get(HeaderEvent)
	delivery := r.Header.Get(HeaderDelivery)
	if delivery == "" {
		delivery = ulid.Make().String()
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("warden.tenant.id", tenant),
		attribute.String("warden.github.event", event),
		attribute.String("warden.delivery.id", delivery),
	)
	L := a.logger.With("tenant", tenant, "event", event, "delivery_id", delivery)

	if !tenantRe.MatchString(tenant) {
		a.report(event, ResultRejected)
		http.Error(w, `{"error":"invalid tenant"}`, http.StatusBadRequest)
		return
	}

	if event == "ping" {
		a.report(event, ResultIgnored)
		writeJSON(w, http.StatusAccepted, response{DeliveryID: delivery, Reason: "ping"})
		return
	}
	if _, err := alert.ParseType(event); err != nil {
		a.report(event, ResultIgnored)
		writeJSON(w, http.StatusAccepted, response{DeliveryID: delivery, Reason: "unsupported event"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		a.report(event, ResultRejected)
		http.Error(w, `{"error":"unreadable body"}`, http.StatusBadRequest)
		return
	}
	if !gjson.ValidBytes(body) {
		a.report(event, ResultRejected)
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	doc := gjson.ParseBytes(body)

	action := doc.Get("action").String()
	span.SetAttributes(attribute.String("warden.github.action", action))
	if !actions[action] {
		a.report(event, ResultIgnored)
		writeJSON(w, http.StatusAccepted, response{DeliveryID: delivery, Reason: "action " + action + " not processed"})
		return
	}

	raw := doc.Get("alert")
	if !raw.IsObject() {
		a.report(event, ResultRejected)
		http.Error(w, `{"error":"missing alert object"}`, http.StatusBadRequest)
		return
	}

	msg := pipeline.Message{
		DeliveryID: delivery,
		TenantID:   tenant,
		AlertType:  event,
		Action:     action,
		Repository: pipeline.Repository{
			FullName: doc.Get("repository.full_name").String(),
			Name:     doc.Get("repository.name").String(),
			Owner:    doc.Get("repository.owner.login").String(),
		},
		Alert: json.RawMessage(raw.Raw),
	}
	data, err := json.Marshal(&msg)
	if err != nil {
		a.report(event, ResultError)
		L.Error(ctx, err, "marshal queue message")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	if err := a.pub.Publish(ctx, delivery, data); err != nil {
		a.report(event, ResultError)
		L.Error(ctx, err, "enqueue webhook failed")
		http.Error(w, `{"error":"queue unavailable"}`, http.StatusServiceUnavailable)
		return
	}

	a.report(event, ResultQueued)
	L.Info(ctx, "webhook queued", "repo", msg.Repository.FullName, "action", action)
	writeJSON(w, http.StatusAccepted, response{Queued: true, DeliveryID: delivery})
}

// report bounds the event label to known events.
func (a *API) report(event, result string) {
	if a.hooks.OnWebhook == nil {
		return
	}
	if _, err := alert.ParseType(event); err != nil && event != "ping" {
		event = "other"
	}
	a.hooks.OnWebhook(event, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}
