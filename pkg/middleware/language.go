package middleware

import (
	"strings"

	"LifeSync/pkg/i18n"

	"github.com/gin-gonic/gin"
)

const LangKey = "lang"

// LanguageMiddleware 依次取 ?lang= 和 Accept-Language，不支持的语言回落到默认语言
func LanguageMiddleware(i18nSupport *i18n.I18nSupport) gin.HandlerFunc {
	def := "en"
	if i18nSupport != nil {
		def = i18nSupport.DefaultLang()
	}
	return func(c *gin.Context) {
		lang := def
		candidates := []string{c.Query("lang")}
		for _, part := range strings.Split(c.GetHeader("Accept-Language"), ",") {
			candidates = append(candidates, strings.TrimSpace(strings.SplitN(part, ";", 2)[0]))
		}
		for _, cand := range candidates {
			if cand != "" && i18n.Supported(cand) {
				lang = strings.ToLower(strings.SplitN(strings.ReplaceAll(cand, "_", "-"), "-", 2)[0])
				break
			}
		}
		c.Set(LangKey, lang)
		c.Next()
	}
}
