package middleware

import "net/http"

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
// 既定ではフレーム埋め込みを禁止する。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			setCommonSecurityHeaders(w)
			w.Header().Set("X-Frame-Options", "DENY")
			next.ServeHTTP(w, r)
		})
	}
}

// NewEmbedSecurityHeadersMiddleware は他サイトのiframeに埋め込まれるルート用のミドルウェアを返す。
// X-Frame-Options の代わりに CSP の frame-ancestors で埋め込み元を許可する。
func NewEmbedSecurityHeadersMiddleware(frameAncestors string) func(next http.Handler) http.Handler {
	if frameAncestors == "" {
		frameAncestors = "*"
	}
	csp := "default-src 'none'; style-src 'unsafe-inline'; img-src https: http:; media-src https: http:; frame-ancestors " + frameAncestors

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			setCommonSecurityHeaders(w)
			w.Header().Del("X-Frame-Options")
			w.Header().Set("Content-Security-Policy", csp)
			next.ServeHTTP(w, r)
		})
	}
}

func setCommonSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
}
