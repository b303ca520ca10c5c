package middleware

import "net/http"

// NoStore marks every response as uncacheable. Route and session state change
// with each call, so a cached answer is always wrong. Authorization is added to
// Vary for shared caches that ignore no-store.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Cache-Control", "no-store")
		h.Add("Vary", "Authorization")
		next.ServeHTTP(w, r)
	})
}
