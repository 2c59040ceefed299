package middleware

import "net/http"

// MaxPairBodySize caps request bodies. The only body this API accepts is the
// pair payload, a JSON object holding one phone number, so 4KB is generous.
const MaxPairBodySize = 4 << 10

// BodyLimit rejects requests that declare a body larger than max up front and
// caps undeclared (chunked) bodies at the same size while the handler reads.
func BodyLimit(max int64) func(http.Handler) http.Handler {
	if max <= 0 {
		max = MaxPairBodySize
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > max {
				writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
					"error": "Request body too large",
				})
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, max)
			}
			next.ServeHTTP(w, r)
		})
	}
}
