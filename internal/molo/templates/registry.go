// Package templates resolves localized reply templates from a filesystem
// root.
//
// Templates are flat text files named "<key>_<lang>.txt" (for example
// "popia_notice_xh.txt"). A default set for all supported languages is
// embedded in the binary; deployments can point the registry at a directory
// on disk to override the wording without rebuilding.
package templates

import (
	"embed"
	"fmt"
	"io/fs"
)

// Template keys used by the bot.
const (
	KeyPopiaNotice        = "popia_notice"
	KeyWelcome            = "welcome"
	KeyLangConfirmation   = "lang_confirmation"
	KeyDeletePrompt       = "delete_prompt"
	KeyDeleteAck          = "delete_ack"
	KeyBundleSelectPrompt = "bundle_select_prompt"
)

//go:embed defaults/*.txt
var defaultsFS embed.FS

// Registry resolves template content by key and language.
type Registry struct {
	root fs.FS
}

// NewRegistry creates a Registry backed by the provided filesystem root.
func NewRegistry(root fs.FS) *Registry {
	return &Registry{root: root}
}

// Default returns a Registry backed by the embedded template set.
func Default() *Registry {
	sub, err := fs.Sub(defaultsFS, "defaults")
	if err != nil {
		// The embedded tree always contains "defaults".
		panic(fmt.Sprintf("templates: embedded defaults missing: %v", err))
	}
	return &Registry{root: sub}
}

// Resolve returns the template content for (key, lang).
//
// A missing file resolves to a human-readable placeholder instead of an
// error; callers treat the placeholder as valid (if oddly worded) reply
// content so a misconfigured template never breaks the conversation.
func (r *Registry) Resolve(key, lang string) string {
	name := fmt.Sprintf("%s_%s.txt", key, lang)
	raw, err := fs.ReadFile(r.root, name)
	if err != nil {
		return fmt.Sprintf("Template '%s' not found.", name)
	}
	return string(raw)
}
