package i18n

import (
	"embed"
	"encoding/json"
	"path"

	"ResQFlow/pkg/logger"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// Supported lists the bundled languages, default first.
var Supported = []language.Tag{language.English, language.Urdu}

// I18nSupport 国际化支持结构体
type I18nSupport struct {
	bundle  *i18n.Bundle
	matcher language.Matcher
}

// NewI18nSupport 初始化国际化支持
func NewI18nSupport(defaultLang string) (*I18nSupport, error) {
	tag, err := language.Parse(defaultLang)
	if err != nil {
		tag = language.English
	}
	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		name := path.Join("locales", e.Name())
		buf, err := localeFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		if _, err := bundle.ParseMessageFileBytes(buf, name); err != nil {
			return nil, err
		}
	}

	return &I18nSupport{
		bundle:  bundle,
		matcher: language.NewMatcher(Supported),
	}, nil
}

// Match picks the best supported language for the given preferences (query value first,
// then Accept-Language header). It returns the base language code.
func (i *I18nSupport) Match(query, acceptLanguage string) string {
	var prefs []language.Tag
	if query != "" {
		if t, err := language.Parse(query); err == nil {
			prefs = append(prefs, t)
		}
	}
	if acceptLanguage != "" {
		if tags, _, err := language.ParseAcceptLanguage(acceptLanguage); err == nil {
			prefs = append(prefs, tags...)
		}
	}
	_, idx, _ := i.matcher.Match(prefs...)
	base, _ := Supported[idx].Base()
	return base.String()
}

// T 获取翻译文本
func (i *I18nSupport) T(languageTag, key string, templateData map[string]interface{}) string {
	localizer := i18n.NewLocalizer(i.bundle, languageTag)

	translation, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    key,
		TemplateData: templateData,
	})
	if err != nil {
		logger.Debug("missing translation", zap.String("key", key), zap.String("lang", languageTag), zap.Error(err))
		return key
	}

	return translation
}
