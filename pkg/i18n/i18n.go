package i18n

import (
	"embed"
	"encoding/json"
	"path"
	"strings"

	"LifeSync/pkg/logger"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var locales embed.FS

// 支持的语言
var supported = []string{"en", "hi", "te"}

// Languages 返回内置语言列表
func Languages() []string {
	out := make([]string, len(supported))
	copy(out, supported)
	return out
}

// I18nSupport 国际化支持结构体
type I18nSupport struct {
	bundle      *i18n.Bundle
	defaultLang string
}

// NewI18nSupport 初始化国际化支持，语言文件随二进制一起打包
func NewI18nSupport(defaultLang string) (*I18nSupport, error) {
	if !Supported(defaultLang) {
		defaultLang = "en"
	}
	tag, err := language.Parse(defaultLang)
	if err != nil {
		return nil, err
	}
	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := locales.ReadDir("locales")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		p := path.Join("locales", e.Name())
		buf, err := locales.ReadFile(p)
		if err != nil {
			return nil, err
		}
		if _, err := bundle.ParseMessageFileBytes(buf, p); err != nil {
			return nil, err
		}
	}

	return &I18nSupport{
		bundle:      bundle,
		defaultLang: defaultLang,
	}, nil
}

// Supported 判断语言是否内置（只看主语言，如 hi-IN -> hi）
func Supported(tag string) bool {
	base := strings.ToLower(strings.SplitN(strings.ReplaceAll(tag, "_", "-"), "-", 2)[0])
	for _, s := range supported {
		if s == base {
			return true
		}
	}
	return false
}

func (i *I18nSupport) DefaultLang() string { return i.defaultLang }

// T 获取翻译文本，找不到时返回键名
func (i *I18nSupport) T(languageTag, key string, templateData map[string]interface{}) string {
	localizer := i18n.NewLocalizer(i.bundle, languageTag, i.defaultLang)

	translation, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    key,
		TemplateData: templateData,
	})
	if err != nil {
		logger.Warn("i18n: translate failed", zap.String("key", key), zap.String("lang", languageTag), zap.Error(err))
		return key
	}
	return translation
}

// TWithDefaultLang 使用默认语言获取翻译文本
func (i *I18nSupport) TWithDefaultLang(key string, templateData map[string]interface{}) string {
	return i.T(i.defaultLang, key, templateData)
}
