// Package payment generates customer-facing payment links for the payment
// providers township merchants actually use (SnapScan, MoMo).
//
// Only link formatting lives here. No payment is ever processed; the merchant
// shares the generated link with their customer and settlement happens
// entirely on the provider's side.
package payment

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
)

// Provider identifiers.
const (
	ProviderSnapScan = "snapscan"
	ProviderMoMo     = "momo"
)

// defaults used when the merchant has not configured their own identifiers.
const (
	defaultMerchantID = "TOWNSHIP_CONNECT"
	defaultReference  = "Township-Connect"
)

var (
	snapscanPattern = regexp.MustCompile(`(?i)^snapscan\s+(\d+(?:\.\d+)?)$`)
	momoPattern     = regexp.MustCompile(`(?i)^momo\s+link\s+(\d+(?:\.\d+)?)$`)
)

// ParseCommand extracts the provider and amount from a payment command such
// as "SnapScan 75" or "MoMo link 120.50". Returns ok=false when the text is
// not a payment command.
func ParseCommand(text string) (provider string, amount float64, ok bool) {
	if m := snapscanPattern.FindStringSubmatch(text); m != nil {
		amount, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return "", 0, false
		}
		return ProviderSnapScan, amount, true
	}
	if m := momoPattern.FindStringSubmatch(text); m != nil {
		amount, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return "", 0, false
		}
		return ProviderMoMo, amount, true
	}
	return "", 0, false
}

// Link builds the provider payment URL for the given amount.
func Link(provider string, amount float64) (string, error) {
	switch provider {
	case ProviderSnapScan:
		return snapscanLink(amount), nil
	case ProviderMoMo:
		return momoLink(amount), nil
	default:
		return "", fmt.Errorf("payment: unsupported provider %q", provider)
	}
}

func snapscanLink(amount float64) string {
	params := url.Values{}
	params.Set("amount", formatAmount(amount))
	params.Set("merchant", defaultMerchantID)
	params.Set("reference", defaultReference)
	return "https://snapscan.app.link/payment?" + params.Encode()
}

func momoLink(amount float64) string {
	params := url.Values{}
	params.Set("amount", formatAmount(amount))
	params.Set("merchant", defaultMerchantID)
	params.Set("reference", defaultReference)
	return "https://momo.app.link/payment?" + params.Encode()
}

// FormatReply renders the message the merchant receives alongside the link.
func FormatReply(provider string, amount float64, link string) string {
	name := "SnapScan"
	if provider == ProviderMoMo {
		name = "MoMo"
	}
	return fmt.Sprintf(
		"Here's your %s payment link for R%s:\n\n%s\n\nShare this link with your customer to complete the payment.",
		name, formatAmount(amount), link,
	)
}

// formatAmount renders amounts without trailing zeros ("75", "120.5").
func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}
