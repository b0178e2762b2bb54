package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/policeintel/auditledger/internal/ledger"
)

const ctxActor = "auditledger_actor"

// Development headers read by RequireActor when no TokenIssuer is configured.
const (
	HeaderActorID    = "X-Actor-Id"
	HeaderActorBadge = "X-Actor-Badge"
	HeaderActorRole  = "X-Actor-Role"
)

// RequireActor returns a Gin middleware that resolves the acting officer.
//
// With a TokenIssuer it enforces a valid Bearer actor token. With a nil
// issuer (development mode) the actor is taken from the X-Actor-* headers.
// On success the ledger.Actor is injected into the Gin context and into the
// request context (see ledger.WithActor).
func RequireActor(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var actor ledger.Actor
		if tokens == nil {
			actor = ledger.Actor{
				ID:          c.GetHeader(HeaderActorID),
				BadgeNumber: c.GetHeader(HeaderActorBadge),
				Role:        c.GetHeader(HeaderActorRole),
			}
			if actor.ResolvedID() == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "actor headers required",
				})
				return
			}
		} else {
			authHeader := c.GetHeader("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Bearer token required",
				})
				return
			}
			claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "invalid token: " + err.Error(),
				})
				return
			}
			actor = claims.Actor()
		}

		c.Set(ctxActor, actor)
		c.Request = c.Request.WithContext(ledger.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

// ActorFromCtx retrieves the actor injected by RequireActor.
func ActorFromCtx(c *gin.Context) (ledger.Actor, bool) {
	v, ok := c.Get(ctxActor)
	if !ok {
		return ledger.Actor{}, false
	}
	actor, ok := v.(ledger.Actor)
	return actor, ok
}

// OptionalActor returns a Gin middleware that resolves the actor when
// credentials are present. Unlike RequireActor, it never aborts.
func OptionalActor(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			actor ledger.Actor
			ok    bool
		)
		if tokens == nil {
			actor = ledger.Actor{
				ID:          c.GetHeader(HeaderActorID),
				BadgeNumber: c.GetHeader(HeaderActorBadge),
				Role:        c.GetHeader(HeaderActorRole),
			}
			ok = actor.ResolvedID() != ""
		} else if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			if claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer ")); err == nil {
				actor, ok = claims.Actor(), true
			}
		}
		if ok {
			c.Set(ctxActor, actor)
			c.Request = c.Request.WithContext(ledger.WithActor(c.Request.Context(), actor))
		}
		c.Next()
	}
}
