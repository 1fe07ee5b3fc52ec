// internal/middleware/i18n.go
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// I18nMiddleware picks the response language from ?lang= or the first
// Accept-Language entry. Anything but Swahili falls back to defaultLang.
func I18nMiddleware(defaultLang string) gin.HandlerFunc {
	if defaultLang == "" {
		defaultLang = "en"
	}
	return func(c *gin.Context) {
		lang := c.Query("lang")
		if lang == "" {
			// Handle cases like "sw-KE,sw;q=0.9,en;q=0.8"
			if header := c.GetHeader("Accept-Language"); header != "" {
				lang = strings.TrimSpace(strings.Split(strings.Split(header, ",")[0], ";")[0])
			}
		}

		switch strings.ToLower(lang) {
		case "sw", "sw-ke", "sw_ke", "sw-tz":
			lang = "sw"
		case "en", "en-us", "en-gb", "en-ke":
			lang = "en"
		default:
			lang = defaultLang
		}

		c.Set("lang", lang)
		c.Next()
	}
}
