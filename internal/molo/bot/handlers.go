package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/bdobrica/Molo/common/redact"
	"github.com/bdobrica/Molo/internal/molo/commands"
	"github.com/bdobrica/Molo/internal/molo/envelope"
	"github.com/bdobrica/Molo/internal/molo/erasure"
	"github.com/bdobrica/Molo/internal/molo/payment"
	"github.com/bdobrica/Molo/internal/molo/store"
	"github.com/bdobrica/Molo/internal/molo/templates"
)

// handleConsentGrant records POPIA consent and replies with the welcome text.
// The phrase is accepted in every state, including from identities that
// already consented.
func (h *Handler) handleConsentGrant(ctx context.Context, user *store.User, log *slog.Logger) []byte {
	if err := h.dir.UpdateUserConsent(ctx, user.WhatsAppID, true); err != nil {
		log.Error("failed to record consent", "error", err)
		return h.reply(ctx, user.WhatsAppID, envelope.ApologyText)
	}
	log.Info("consent recorded")

	welcome := h.templates.Resolve(templates.KeyWelcome, user.PreferredLanguage)
	return h.reply(ctx, user.WhatsAppID, "Thank you for your consent.\n\n"+welcome)
}

// handleSetLanguage updates the stored language and confirms in the new
// language. The mutation happens first: the reply to this very message
// already uses the new code.
func (h *Handler) handleSetLanguage(ctx context.Context, user *store.User, lang string, log *slog.Logger) []byte {
	if err := h.dir.UpdateUserLanguage(ctx, user.WhatsAppID, lang); err != nil {
		log.Error("failed to update language", "language", lang, "error", err)
		return h.reply(ctx, user.WhatsAppID, envelope.ApologyText)
	}
	log.Info("language updated", "language", lang)
	return h.reply(ctx, user.WhatsAppID, h.templates.Resolve(templates.KeyLangConfirmation, lang))
}

// handleAdminProvision creates an identity on behalf of the admin sender.
// All replies go to the admin, never the target phone.
func (h *Handler) handleAdminProvision(ctx context.Context, adminID string, kind commands.Kind, params commands.Params, log *slog.Logger) []byte {
	if kind == commands.KindAdminProvisionError {
		return h.reply(ctx, adminID, params.Diagnostic)
	}

	_, err := h.dir.GetUser(ctx, params.Phone)
	if err == nil {
		return h.reply(ctx, adminID, fmt.Sprintf("User %s already exists.", params.Phone))
	}
	if !errors.Is(err, store.ErrUserNotFound) {
		log.Error("provision lookup failed", "phone", redact.Phone(params.Phone), "error", err)
		return h.reply(ctx, adminID, envelope.ApologyText)
	}

	if _, err := h.dir.ProvisionUser(ctx, params.Phone, h.defaultLang); err != nil {
		log.Error("provision failed", "phone", redact.Phone(params.Phone), "error", err)
		return h.reply(ctx, adminID, envelope.ApologyText)
	}
	log.Info("provisioned user", "phone", redact.Phone(params.Phone))
	return h.reply(ctx, adminID, fmt.Sprintf("Simulated QR user onboarding for %s. User created with default settings.", params.Phone))
}

// handleListBundles renders the bundle catalog, prefixed with the user's
// current bundle when one is selected.
func (h *Handler) handleListBundles(ctx context.Context, user *store.User, log *slog.Logger) []byte {
	bundles, err := h.dir.ListActiveBundles(ctx)
	if err != nil || len(bundles) == 0 {
		if err != nil {
			log.Error("failed to list bundles", "error", err)
		}
		return h.reply(ctx, user.WhatsAppID, bundlesUnavailableText)
	}

	prompt := BundlePrompt(h.templates, bundles, user.PreferredLanguage)

	if user.CurrentBundle.Valid {
		for _, b := range bundles {
			if b.BundleID == user.CurrentBundle.String {
				text := formatCurrentBundle(user.PreferredLanguage, b.Name(user.PreferredLanguage), prompt)
				return h.reply(ctx, user.WhatsAppID, text)
			}
		}
		// Selected bundle no longer in the active catalog; fall through to
		// the plain prompt.
	}
	return h.reply(ctx, user.WhatsAppID, prompt)
}

// handleSelectBundle resolves a 1-based index against the catalog's current
// order and records the selection.
func (h *Handler) handleSelectBundle(ctx context.Context, user *store.User, index int, log *slog.Logger) []byte {
	bundles, err := h.dir.ListActiveBundles(ctx)
	if err != nil {
		log.Error("failed to list bundles for selection", "error", err)
		return h.reply(ctx, user.WhatsAppID, bundleSelectFailedText)
	}
	if index < 1 || index > len(bundles) {
		return h.reply(ctx, user.WhatsAppID, invalidSelectionText)
	}

	selected := bundles[index-1]
	if err := h.dir.UpdateUserBundle(ctx, user.WhatsAppID, selected.BundleID); err != nil {
		log.Error("failed to update bundle", "bundle", selected.BundleID, "error", err)
		return h.reply(ctx, user.WhatsAppID, bundleSelectFailedText)
	}
	log.Info("bundle selected", "bundle", selected.BundleID)

	name := selected.Name(user.PreferredLanguage)
	return h.reply(ctx, user.WhatsAppID, formatBundleSelected(user.PreferredLanguage, name))
}

// handleDeleteRequest opens the confirmation window and records the audit
// event. A failed marker write is logged and forgotten: the request is simply
// not remembered.
func (h *Handler) handleDeleteRequest(ctx context.Context, user *store.User, log *slog.Logger) []byte {
	now := h.now()
	ts := strconv.FormatInt(now.Unix(), 10)
	if err := h.pending.SetWithExpiry(ctx, erasure.Key(user.WhatsAppID), ts, erasure.Window); err != nil {
		log.Warn("failed to store delete request marker", "error", err)
	}

	err := h.dir.WriteSecurityLog(ctx, user.WhatsAppID, store.EventDeleteRequested, map[string]any{
		"timestamp": now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Warn("failed to write delete-requested audit entry", "error", err)
	}
	log.Info("delete requested")

	return h.reply(ctx, user.WhatsAppID, h.templates.Resolve(templates.KeyDeletePrompt, user.PreferredLanguage))
}

// handleDeleteConfirm completes the two-step erasure protocol.
//
// Marker present and fresh: hard delete. Marker absent: "no active request".
// Marker stale: clear it and report expiry. Ephemeral store down entirely:
// immediate unconditional deletion, the documented fallback.
func (h *Handler) handleDeleteConfirm(ctx context.Context, user *store.User, log *slog.Logger) []byte {
	key := erasure.Key(user.WhatsAppID)

	value, err := h.pending.Get(ctx, key)
	if errors.Is(err, erasure.ErrNotFound) {
		log.Info("delete confirm without active request")
		return h.reply(ctx, user.WhatsAppID, localized(noActiveDeleteText, user.PreferredLanguage))
	}
	if err != nil {
		log.Warn("ephemeral store unavailable, proceeding with immediate deletion", "error", err)
		return h.performDelete(ctx, user, log)
	}

	requestedAt, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Error("corrupt delete request marker", "value", value, "error", err)
		return h.reply(ctx, user.WhatsAppID, deleteErrorText)
	}

	age := float64(h.now().Unix()) - requestedAt
	if age > erasure.Window.Seconds() {
		if err := h.pending.Delete(ctx, key); err != nil {
			log.Warn("failed to clear expired delete marker", "error", err)
		}
		log.Info("delete confirmation expired", "age_seconds", age)
		return h.reply(ctx, user.WhatsAppID, localized(deleteExpiredText, user.PreferredLanguage))
	}

	reply := h.performDelete(ctx, user, log)
	if err := h.pending.Delete(ctx, key); err != nil {
		log.Warn("failed to clear delete marker", "error", err)
	}
	return reply
}

// performDelete removes the identity and all dependent records, then writes
// the completion audit entry so it survives the purge.
func (h *Handler) performDelete(ctx context.Context, user *store.User, log *slog.Logger) []byte {
	if err := h.dir.HardDeleteUser(ctx, user.WhatsAppID); err != nil {
		log.Error("hard delete failed", "error", err)
		return h.reply(ctx, user.WhatsAppID, deleteErrorText)
	}

	err := h.dir.WriteSecurityLog(ctx, user.WhatsAppID, store.EventDeleteCompleted, map[string]any{
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Warn("failed to write delete-completed audit entry", "error", err)
	}
	log.Info("user data deleted")

	return h.reply(ctx, user.WhatsAppID, h.templates.Resolve(templates.KeyDeleteAck, user.PreferredLanguage))
}

// handlePaymentLink builds a provider payment URL for the merchant.
func (h *Handler) handlePaymentLink(ctx context.Context, user *store.User, params commands.Params, log *slog.Logger) []byte {
	link, err := payment.Link(params.Provider, params.Amount)
	if err != nil {
		log.Error("failed to build payment link", "provider", params.Provider, "error", err)
		return h.reply(ctx, user.WhatsAppID, envelope.ApologyText)
	}
	log.Info("payment link generated", "provider", params.Provider, "amount", params.Amount)
	return h.reply(ctx, user.WhatsAppID, payment.FormatReply(params.Provider, params.Amount, link))
}
