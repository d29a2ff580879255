package middleware

import (
	"context"
	"testing"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/stretchr/testify/assert"
)

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"https://app.parley.example", "https://admin.parley.example"}

	assert.True(t, OriginAllowed("https://app.parley.example", allowed))
	assert.True(t, OriginAllowed("HTTPS://APP.PARLEY.EXAMPLE", allowed))
	assert.False(t, OriginAllowed("https://evil.example", allowed))
	assert.False(t, OriginAllowed("https://app.parley.example", nil))
	assert.True(t, OriginAllowed("https://anything.example", []string{"*"}))
}

func runCORS(t *testing.T, allowedOrigins []string, method, origin string) *app.RequestContext {
	t.Helper()
	c := app.NewContext(0)
	c.Request.Header.SetMethod(method)
	if origin != "" {
		c.Request.Header.Set("Origin", origin)
	}
	CORS(allowedOrigins)(context.Background(), c)
	return c
}

func TestCORS_EchoesMatchedOrigin(t *testing.T) {
	allowed := []string{"https://app.parley.example"}

	c := runCORS(t, allowed, "GET", "https://app.parley.example")
	assert.Equal(t, "https://app.parley.example", c.Response.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", c.Response.Header.Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "Origin", c.Response.Header.Get("Vary"))
}

func TestCORS_UnmatchedOriginGetsNoHeaders(t *testing.T) {
	c := runCORS(t, []string{"https://app.parley.example"}, "GET", "https://evil.example")
	assert.Empty(t, c.Response.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, c.Response.Header.Get("Access-Control-Allow-Credentials"))
}

func TestCORS_WildcardWithoutCredentials(t *testing.T) {
	c := runCORS(t, []string{"*"}, "GET", "https://anything.example")
	assert.Equal(t, "*", c.Response.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, c.Response.Header.Get("Access-Control-Allow-Credentials"))
}

func TestCORS_PreflightShortCircuits(t *testing.T) {
	c := runCORS(t, []string{"https://app.parley.example"}, "OPTIONS", "https://app.parley.example")
	assert.Equal(t, 204, c.Response.StatusCode())
	assert.Equal(t, "https://app.parley.example", c.Response.Header.Get("Access-Control-Allow-Origin"))
}
