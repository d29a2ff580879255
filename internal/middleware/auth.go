package middleware

import (
	"context"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/entity"
	"github.com/parleyhq/parley/internal/gateway"
	"github.com/parleyhq/parley/internal/service"
	"github.com/parleyhq/parley/pkg/errcode"
	"github.com/parleyhq/parley/pkg/jwt"
	"github.com/parleyhq/parley/pkg/response"
)

const (
	// AuthorizationHeader is the header key for authorization
	AuthorizationHeader = "Authorization"
	// BearerPrefix is the prefix for bearer token
	BearerPrefix = "Bearer "
	// UserIdKey is the context key for user Id
	UserIdKey = "user_id"
	// DisplayNameKey is the context key for the display name
	DisplayNameKey = "display_name"
	// RoleKey is the context key for the resolved sender kind
	RoleKey = "role"
)

// JWTAuth is the JWT authentication middleware
func JWTAuth() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		authHeader := string(c.GetHeader(AuthorizationHeader))
		if authHeader == "" {
			response.ErrorWithCode(ctx, c, errcode.ErrTokenMissing)
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, BearerPrefix) {
			response.ErrorWithCode(ctx, c, errcode.ErrTokenInvalid)
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, BearerPrefix)
		claims, err := jwt.ResolveUser(tokenString, config.GlobalConfig.JWT.Secret)
		if err != nil {
			response.ErrorWithCode(ctx, c, errcode.ErrTokenInvalid)
			c.Abort()
			return
		}

		c.Set(UserIdKey, claims.UserId)
		c.Set(DisplayNameKey, claims.DisplayName)
		c.Set(RoleKey, gateway.RoleToSenderKind(claims.Role))

		c.Next(ctx)
	}
}

// AgentOnly rejects requests whose resolved role is not agent-side.
// It must run after JWTAuth.
func AgentOnly() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if !GetRole(c).IsAgentSide() {
			response.ErrorWithCode(ctx, c, errcode.ErrNoPermission)
			c.Abort()
			return
		}
		c.Next(ctx)
	}
}

// GetUserId gets user Id from context
func GetUserId(c *app.RequestContext) string {
	if v, ok := c.Get(UserIdKey); ok {
		return v.(string)
	}
	return ""
}

// GetDisplayName gets the display name from context
func GetDisplayName(c *app.RequestContext) string {
	if v, ok := c.Get(DisplayNameKey); ok {
		return v.(string)
	}
	return ""
}

// GetRole gets the resolved sender kind from context
func GetRole(c *app.RequestContext) entity.SenderKind {
	if v, ok := c.Get(RoleKey); ok {
		return v.(entity.SenderKind)
	}
	return entity.SenderKindCustomer
}

// GetUserRef assembles the acting user from the request context.
func GetUserRef(c *app.RequestContext) service.UserRef {
	return service.UserRef{
		Id:          GetUserId(c),
		DisplayName: GetDisplayName(c),
		Kind:        GetRole(c),
	}
}
