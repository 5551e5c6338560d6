package i18n

import "net/http"

// Middleware negotiates the response language from Accept-Language, falling
// back to lang, and stores the localizer in every request context.
func Middleware(lang string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			chosen := Match(r.Header.Get("Accept-Language"), lang)
			ctx := WithLang(r.Context(), chosen)
			w.Header().Set("Content-Language", chosen)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
