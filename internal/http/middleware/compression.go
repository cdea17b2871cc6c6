package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForArchives wraps a compression middleware handler to skip
// compression for backup archive downloads. Those responses are already
// gzip/bzip2/xz compressed; recompressing them burns CPU for nothing.
func SkipCompressionForArchives(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.Contains(r.URL.Path, "/api/backups/") && strings.HasSuffix(r.URL.Path, "/download") {
				next.ServeHTTP(w, r)
				return
			}

			compressedHandler.ServeHTTP(w, r)
		})
	}
}
