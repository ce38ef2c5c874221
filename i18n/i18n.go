package i18n

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// Message IDs
const (
	MsgRuleWithoutMessages = "rule_without_messages"
	MsgRuleDisabledEmpty   = "rule_disabled_without_messages"
	MsgSessionNotConnected = "session_not_connected"
	MsgImportSkippedRows   = "import_skipped_rows"

	MsgSessionRulesDisabled = "session_rules_disabled"
)

var languages = []string{"pt-BR", "en"}

// Localizer manages internationalization
type Localizer struct {
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

func NewLocalizer(defaultLanguage string) (*Localizer, error) {
	bundle := i18n.NewBundle(language.BrazilianPortuguese)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	for _, lang := range languages {
		if _, err := bundle.LoadMessageFileFS(localeFS, fmt.Sprintf("locales/%s.json", lang)); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
	}

	localizers := make(map[string]*i18n.Localizer, len(languages))
	for _, lang := range languages {
		localizers[lang] = i18n.NewLocalizer(bundle, lang)
	}
	if _, ok := localizers[defaultLanguage]; !ok {
		defaultLanguage = "pt-BR"
	}

	return &Localizer{
		defaultLanguage: defaultLanguage,
		localizers:      localizers,
	}, nil
}

// Get returns the localized message, falling back to the message id.
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID
	}
	return msg
}
