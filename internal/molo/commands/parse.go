// Package commands parses inbound message text into a closed set of command
// kinds with their parameters.
//
// The parser is a pure function over the message text. It knows nothing about
// users, gating, or persistence; the bot orchestrator decides what each kind
// means in the sender's current state.
package commands

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bdobrica/Molo/internal/molo/language"
	"github.com/bdobrica/Molo/internal/molo/payment"
)

// Kind identifies a parsed command.
type Kind string

const (
	// KindEcho is the fallback for any unrecognised message.
	KindEcho Kind = "echo"
	// KindSetLanguage is "/lang <code>" with a supported code.
	KindSetLanguage Kind = "set_language"
	// KindDeleteRequest is the exact message "/delete".
	KindDeleteRequest Kind = "delete_request"
	// KindDeleteConfirm is the exact message "/delete confirm".
	KindDeleteConfirm Kind = "delete_confirm"
	// KindListBundles is the exact message "/bundle".
	KindListBundles Kind = "list_bundles"
	// KindSelectBundle is a single ASCII digit 1..9.
	KindSelectBundle Kind = "select_bundle"
	// KindAdminProvision is "/simulate_qr_user <phone>" with a valid phone.
	KindAdminProvision Kind = "admin_provision"
	// KindAdminProvisionError is a malformed /simulate_qr_user invocation.
	// Params.Diagnostic carries the error text to echo back to the sender.
	KindAdminProvisionError Kind = "admin_provision_error"
	// KindPaymentLink is a merchant payment-link request such as
	// "SnapScan 75" or "MoMo link 75".
	KindPaymentLink Kind = "payment_link"
)

// Params carries the parameters extracted for a command.
type Params struct {
	// Text is the trimmed message text (echo).
	Text string
	// Language is the canonical locale code (set_language).
	Language string
	// BundleIndex is the 1-based catalog position (select_bundle).
	BundleIndex int
	// Phone is the target phone number (admin_provision).
	Phone string
	// Diagnostic is the error description for admin_provision_error.
	Diagnostic string
	// Provider and Amount describe a payment-link request.
	Provider string
	Amount   float64
}

// phonePattern is deliberately permissive: optional "+", then 7-15 digits.
var phonePattern = regexp.MustCompile(`^\+?\d{7,15}$`)

// singleDigitPattern matches exactly one ASCII digit 1..9.
var singleDigitPattern = regexp.MustCompile(`^[1-9]$`)

// Parse classifies trimmed message text into a command kind and parameters.
//
// Recognised forms are checked in a fixed priority order; anything that does
// not match falls through to KindEcho with the trimmed text. Parse never
// fails: malformed variants of recognised commands either degrade to echo
// (bad /lang code) or map to a dedicated error kind (/simulate_qr_user).
func Parse(text string) (Kind, Params) {
	text = strings.TrimSpace(text)

	if code, ok := parseLangCommand(text); ok {
		return KindSetLanguage, Params{Language: code}
	}

	if text == "/delete" {
		return KindDeleteRequest, Params{}
	}
	if text == "/delete confirm" {
		return KindDeleteConfirm, Params{}
	}
	if text == "/bundle" {
		return KindListBundles, Params{}
	}

	if singleDigitPattern.MatchString(text) {
		return KindSelectBundle, Params{BundleIndex: int(text[0] - '0')}
	}

	if strings.HasPrefix(strings.ToLower(text), "/simulate_qr_user") {
		return parseAdminProvision(text)
	}

	if provider, amount, ok := payment.ParseCommand(text); ok {
		return KindPaymentLink, Params{Provider: provider, Amount: amount}
	}

	return KindEcho, Params{Text: text}
}

// parseLangCommand handles "/lang <code>". An unsupported or malformed code
// returns ok=false so the message falls through to echo.
func parseLangCommand(text string) (string, bool) {
	if !strings.HasPrefix(strings.ToLower(text), "/lang ") {
		return "", false
	}
	parts := strings.SplitN(text, " ", 2)
	if len(parts) != 2 {
		return "", false
	}
	code, ok := language.Canonical(parts[1])
	if !ok {
		return "", false
	}
	return code, true
}

// parseAdminProvision handles "/simulate_qr_user <phone>". The argument is
// validated against phonePattern; failures produce KindAdminProvisionError
// with a diagnostic the orchestrator echoes back to the admin sender.
func parseAdminProvision(text string) (Kind, Params) {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return KindAdminProvisionError, Params{
			Diagnostic: "Usage: /simulate_qr_user <phone_number>",
		}
	}
	phone := fields[1]
	if !phonePattern.MatchString(phone) {
		return KindAdminProvisionError, Params{
			Diagnostic: fmt.Sprintf("Invalid phone number %q: expected an optional '+' followed by 7-15 digits.", phone),
		}
	}
	return KindAdminProvision, Params{Phone: phone}
}

// IsConsentGrant reports whether the message is the literal consent phrase
// "AGREE POPIA" (case-insensitive after trimming). The orchestrator checks
// this before generic parsing; the phrase is never expressed as a Kind.
func IsConsentGrant(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), "AGREE POPIA")
}
