// Package bot implements the conversation orchestrator: one inbound payload
// in, exactly one reply payload out.
//
// Each invocation is stateless request/response. The orchestrator sequences
// the consent and bundle gates, dispatches parsed commands to their handlers,
// and degrades every failure to a user-facing reply; no code path is allowed
// to surface an error to the transport.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bdobrica/Molo/common/redact"
	"github.com/bdobrica/Molo/common/trace"
	"github.com/bdobrica/Molo/internal/molo/commands"
	"github.com/bdobrica/Molo/internal/molo/envelope"
	"github.com/bdobrica/Molo/internal/molo/language"
	"github.com/bdobrica/Molo/internal/molo/store"
	"github.com/bdobrica/Molo/internal/molo/stream"
	"github.com/bdobrica/Molo/internal/molo/templates"
)

// Directory is the persistence surface the orchestrator needs. *store.Store
// satisfies it; tests substitute failing fakes to exercise degraded paths.
type Directory interface {
	GetUser(ctx context.Context, whatsappID string) (*store.User, error)
	CreateUser(ctx context.Context, whatsappID, preferredLanguage string, popiaConsent bool) (*store.User, error)
	ProvisionUser(ctx context.Context, whatsappID, preferredLanguage string) (*store.User, error)
	TouchUser(ctx context.Context, whatsappID string) error
	UpdateUserLanguage(ctx context.Context, whatsappID, lang string) error
	UpdateUserConsent(ctx context.Context, whatsappID string, consent bool) error
	UpdateUserBundle(ctx context.Context, whatsappID, bundleID string) error
	HardDeleteUser(ctx context.Context, whatsappID string) error
	ListActiveBundles(ctx context.Context) ([]*store.Bundle, error)
	LogMessage(ctx context.Context, whatsappID, direction, content string, sizeKB float64) error
	WriteSecurityLog(ctx context.Context, whatsappID, eventType string, details map[string]any) error
}

// PendingStore holds short-lived delete-request markers.
type PendingStore interface {
	SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Config wires a Handler's collaborators.
type Config struct {
	Directory Directory
	Pending   PendingStore
	// Stream receives every raw inbound payload fire-and-forget. Nil means
	// no stream publishing.
	Stream     stream.Appender
	StreamName string
	// Templates resolves localized reply templates. Nil means the embedded
	// default set.
	Templates *templates.Registry
	// DefaultLanguage seeds new identities when no greeting is recognised.
	// Empty means language.Default.
	DefaultLanguage string
	Logger          *slog.Logger
	// Now is the clock used for the delete-confirmation window. Nil means
	// time.Now.
	Now func() time.Time
}

// Handler processes inbound messages.
type Handler struct {
	dir         Directory
	pending     PendingStore
	stream      stream.Appender
	streamName  string
	templates   *templates.Registry
	defaultLang string
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a Handler. Directory and Pending are required; everything else
// has a working default.
func New(cfg Config) *Handler {
	h := &Handler{
		dir:         cfg.Directory,
		pending:     cfg.Pending,
		stream:      cfg.Stream,
		streamName:  cfg.StreamName,
		templates:   cfg.Templates,
		defaultLang: cfg.DefaultLanguage,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
	if h.stream == nil {
		h.stream = stream.Noop{}
	}
	if h.streamName == "" {
		h.streamName = stream.DefaultStreamName
	}
	if h.templates == nil {
		h.templates = templates.Default()
	}
	if h.defaultLang == "" {
		h.defaultLang = language.Default
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// HandleIncoming processes one raw inbound payload and returns exactly one
// reply payload. It never returns an error: malformed input degrades to the
// fixed apology reply addressed to the placeholder recipient.
func (h *Handler) HandleIncoming(ctx context.Context, raw []byte) []byte {
	if trace.FromContext(ctx) == "" {
		ctx = trace.WithTraceID(ctx, trace.GenerateID())
	}

	// Stream publish is a side effect alongside handling, never a gate on
	// the reply.
	if err := h.stream.Append(ctx, h.streamName, raw); err != nil {
		h.logger.Warn("stream publish failed", "error", err)
	}

	in, err := envelope.Parse(raw)
	if err != nil {
		h.logger.Warn("unparseable inbound payload", "error", err)
		return envelope.Apology()
	}

	log := h.logger.With("sender", redact.Phone(in.ExternalID), "trace_id", trace.FromContext(ctx))

	user, err := h.lookupOrCreate(ctx, in, log)
	if err != nil {
		log.Error("user lookup failed", "error", err)
		return h.reply(ctx, in.ExternalID, envelope.ApologyText)
	}

	h.logMessage(ctx, in.ExternalID, store.DirectionInbound, in.Text, log)

	// The consent phrase is intercepted before generic parsing; it is valid
	// in every state, including for identities that already consented.
	if commands.IsConsentGrant(in.Text) {
		return h.handleConsentGrant(ctx, user, log)
	}

	kind, params := commands.Parse(in.Text)

	// Administrative commands bypass all gating: the acting party is the
	// admin sender, not the target identity.
	switch kind {
	case commands.KindAdminProvision, commands.KindAdminProvisionError:
		return h.handleAdminProvision(ctx, user.WhatsAppID, kind, params, log)
	}

	// Language changes apply immediately, before the gates are checked, so
	// a user stuck at a gate can still read the gate prompt in their own
	// language on the next message.
	if kind == commands.KindSetLanguage {
		return h.handleSetLanguage(ctx, user, params.Language, log)
	}

	if !user.PopiaConsent {
		notice := h.templates.Resolve(templates.KeyPopiaNotice, user.PreferredLanguage)
		h.logMessage(ctx, user.WhatsAppID, store.DirectionPopiaNotice, notice, log)
		return envelope.MarshalReply(user.WhatsAppID, notice)
	}

	if !user.CurrentBundle.Valid && kind != commands.KindSelectBundle {
		if reply, ok := h.bundleGate(ctx, user, log); ok {
			return reply
		}
		// Empty or unavailable catalog: the gate cannot be satisfied, so
		// the command dispatches normally.
	}

	return h.dispatch(ctx, user, kind, params, log)
}

// lookupOrCreate fetches the sender's identity, creating it on first contact
// with a language seeded from the greeting text.
func (h *Handler) lookupOrCreate(ctx context.Context, in *envelope.Inbound, log *slog.Logger) (*store.User, error) {
	user, err := h.dir.GetUser(ctx, in.ExternalID)
	if errors.Is(err, store.ErrUserNotFound) {
		lang := language.Detect(in.Text, h.defaultLang)
		log.Info("creating new user", "language", lang)
		return h.dir.CreateUser(ctx, in.ExternalID, lang, false)
	}
	if err != nil {
		return nil, err
	}
	if err := h.dir.TouchUser(ctx, in.ExternalID); err != nil {
		log.Warn("failed to update last_active_at", "error", err)
	}
	return user, nil
}

// bundleGate renders the bundle-selection prompt for an identity that has
// consented but not yet picked a bundle. ok=false means the gate does not
// apply because no bundles are available.
func (h *Handler) bundleGate(ctx context.Context, user *store.User, log *slog.Logger) ([]byte, bool) {
	bundles, err := h.dir.ListActiveBundles(ctx)
	if err != nil {
		log.Warn("bundle gate skipped, catalog unavailable", "error", err)
		return nil, false
	}
	if len(bundles) == 0 {
		return nil, false
	}
	prompt := BundlePrompt(h.templates, bundles, user.PreferredLanguage)
	return h.reply(ctx, user.WhatsAppID, prompt), true
}

// dispatch routes a parsed command for a fully gated (ACTIVE) identity.
func (h *Handler) dispatch(ctx context.Context, user *store.User, kind commands.Kind, params commands.Params, log *slog.Logger) []byte {
	switch kind {
	case commands.KindEcho:
		return h.reply(ctx, user.WhatsAppID, "Echo: "+params.Text)
	case commands.KindListBundles:
		return h.handleListBundles(ctx, user, log)
	case commands.KindSelectBundle:
		return h.handleSelectBundle(ctx, user, params.BundleIndex, log)
	case commands.KindDeleteRequest:
		return h.handleDeleteRequest(ctx, user, log)
	case commands.KindDeleteConfirm:
		return h.handleDeleteConfirm(ctx, user, log)
	case commands.KindPaymentLink:
		return h.handlePaymentLink(ctx, user, params, log)
	default:
		// Parse never emits a kind outside the cases above.
		log.Error("unhandled command kind", "kind", kind)
		return h.reply(ctx, user.WhatsAppID, envelope.ApologyText)
	}
}

// reply logs the outbound message fire-and-forget and renders the payload.
func (h *Handler) reply(ctx context.Context, to, text string) []byte {
	h.logMessage(ctx, to, store.DirectionOutbound, text, h.logger)
	return envelope.MarshalReply(to, text)
}

// logMessage appends a message log entry. Logging failures never abort the
// reply.
func (h *Handler) logMessage(ctx context.Context, whatsappID, direction, content string, log *slog.Logger) {
	sizeKB := float64(len(content)) / 1024.0
	if err := h.dir.LogMessage(ctx, whatsappID, direction, content, sizeKB); err != nil {
		log.Warn("failed to log message", "direction", direction, "error", err)
	}
}
