package bot

import (
	"fmt"
	"strings"

	"github.com/bdobrica/Molo/internal/molo/store"
	"github.com/bdobrica/Molo/internal/molo/templates"
)

// Fixed replies that are not template files. The localized maps carry the
// three supported translations; any other code falls back to English.
const (
	invalidSelectionText   = "Invalid selection. Please choose a valid bundle number."
	bundlesUnavailableText = "Sorry, I couldn't retrieve the available bundles. Please try again later."
	bundleSelectFailedText = "Sorry, I couldn't process your bundle selection. Please try again."
	deleteErrorText        = "An error occurred while processing your delete request. Please try again later."
)

var noActiveDeleteText = map[string]string{
	"en": "You have no active delete request. Please send '/delete' first if you want to delete your data.",
	"xh": "Awunasicelo socimo esisebenzayo. Nceda thumela '/delete' kuqala ukuba ufuna ukucima idatha yakho.",
	"af": "Jy het geen aktiewe uitvee-versoek nie. Stuur asseblief eers '/delete' as jy jou data wil uitvee.",
}

var deleteExpiredText = map[string]string{
	"en": "Your delete confirmation has expired. Please send '/delete' again if you still want to delete your data.",
	"xh": "Isiqinisekiso sokucima siphelelwe lixesha. Nceda thumela '/delete' kwakhona ukuba usafuna ukucima idatha yakho.",
	"af": "Jou uitvee-bevestiging het verval. Stuur asseblief '/delete' weer as jy steeds jou data wil uitvee.",
}

var bundleSelectedFormat = map[string]string{
	"en": "Bundle '%s' selected!",
	"xh": "Iphakheji '%s' ikhethiwe!",
	"af": "Bondel '%s' gekies!",
}

var currentBundleFormat = map[string]string{
	"en": "Your current bundle is: '%s'\n\nTo change your bundle, %s",
	"xh": "Iphakheji yakho yangoku: '%s'\n\nUkutshintsha iphakheji yakho, %s",
	"af": "Jou huidige bondel is: '%s'\n\nOm jou bondel te verander, %s",
}

// localized picks the translation for lang, falling back to English.
func localized(m map[string]string, lang string) string {
	if s, ok := m[lang]; ok {
		return s
	}
	return m["en"]
}

func formatBundleSelected(lang, name string) string {
	return fmt.Sprintf(localized(bundleSelectedFormat, lang), name)
}

// formatCurrentBundle prefixes the selection prompt with the user's current
// bundle. The prompt is lowercased so it reads as the tail of the sentence.
func formatCurrentBundle(lang, name, prompt string) string {
	return fmt.Sprintf(localized(currentBundleFormat, lang), name, strings.ToLower(prompt))
}

// BundlePrompt renders the localized bundle-selection prompt with the catalog
// enumerated as "1. Name - Description" lines in catalog order.
//
// A template without the {bundle_list} placeholder renders without the list;
// the placeholder token itself never leaks into output.
func BundlePrompt(reg *templates.Registry, bundles []*store.Bundle, lang string) string {
	tmpl := reg.Resolve(templates.KeyBundleSelectPrompt, lang)

	lines := make([]string, 0, len(bundles))
	for i, b := range bundles {
		line := fmt.Sprintf("%d. %s", i+1, b.Name(lang))
		if desc := b.Description(lang); desc != "" {
			line += " - " + desc
		}
		lines = append(lines, line)
	}

	return strings.Replace(tmpl, "{bundle_list}", strings.Join(lines, "\n"), 1)
}
