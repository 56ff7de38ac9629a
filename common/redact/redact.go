// Package redact masks personal identifiers before they reach log output.
//
// WhatsApp IDs are phone numbers and therefore personal information under
// POPIA. Full numbers belong only in the database, where a delete request can
// reach them; log lines keep just enough of the number to correlate events.
//
// Redaction is best-effort: it operates on the identifier string handed to
// it, and relies on callers to route every logged identifier through here.
package redact

import "strings"

// channelPrefix is the transport prefix some providers put in front of the
// number ("whatsapp:+27821234567"). It carries no personal information and
// stays visible.
const channelPrefix = "whatsapp:"

// Phone masks the middle of a phone-number identifier, preserving the
// transport prefix, the leading country digits, and the last two digits.
//
//	Phone("whatsapp:+27821234567") == "whatsapp:+2782*****67"
//	Phone("+27821234567")          == "+2782*****67"
func Phone(id string) string {
	prefix := ""
	number := id
	if strings.HasPrefix(id, channelPrefix) {
		prefix = channelPrefix
		number = id[len(channelPrefix):]
	}

	if len(number) <= 7 {
		return prefix + strings.Repeat("*", len(number))
	}
	return prefix + number[:5] + strings.Repeat("*", len(number)-7) + number[len(number)-2:]
}
