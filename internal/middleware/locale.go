package middleware

import (
	"context"
	"net/http"

	"github.com/soaringjerry/Emtrip/internal/utils"
)

type localeKey struct{}

// DefaultLocale is used when neither ?lang nor Accept-Language names a
// supported locale.
const DefaultLocale = "en"

// SupportedLocales are the locales with server-side messages.
var SupportedLocales = []string{"en", "es", "zh"}

// LocaleMiddleware picks the message locale for the request (?lang wins over
// Accept-Language) and echoes it back as Content-Language.
func LocaleMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		locale := utils.DetermineLocale(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"), SupportedLocales, DefaultLocale)
		w.Header().Set("Content-Language", locale)
		w.Header().Add("Vary", "Accept-Language")
		next.ServeHTTP(w, r.WithContext(WithLocale(r.Context(), locale)))
	})
}

func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeKey{}, locale)
}

// LocaleFromContext returns the request locale, or DefaultLocale outside
// LocaleMiddleware.
func LocaleFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(localeKey{}).(string); ok && s != "" {
		return s
	}
	return DefaultLocale
}
