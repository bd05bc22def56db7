package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newAuthedRouter(keys ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/v1/models", APIKeyAuth(func() []string { return keys }), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return engine
}

func TestAPIKeyAuth(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		keys   []string
		header string
		value  string
		want   int
	}{
		{"empty key list disables auth", nil, "", "", http.StatusOK},
		{"valid bearer", []string{"sk-1"}, "Authorization", "Bearer sk-1", http.StatusOK},
		{"valid x-api-key", []string{"sk-1"}, "X-Api-Key", "sk-1", http.StatusOK},
		{"second key matches", []string{"sk-1", "sk-2"}, "Authorization", "Bearer sk-2", http.StatusOK},
		{"wrong key", []string{"sk-1"}, "Authorization", "Bearer sk-nope", http.StatusUnauthorized},
		{"missing key", []string{"sk-1"}, "", "", http.StatusUnauthorized},
		{"bearer prefix required", []string{"sk-1"}, "Authorization", "sk-1", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			engine := newAuthedRouter(tc.keys...)
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			engine.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}
