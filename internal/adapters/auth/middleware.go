package auth

import (
	"strings"

	"github.com/dkeye/Viewing/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	UserIDKey     = "user_id"
	sessionUserID = "user_id"
)

// Identity resolves the caller's user id from the cookie session or a bearer
// token. Unauthenticated requests pass through with no user id set.
func Identity(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		if uid, ok := sess.Get(sessionUserID).(string); ok && uid != "" {
			c.Set(UserIDKey, uid)
			c.Next()
			return
		}

		if token := bearerToken(c); token != "" && v != nil {
			uid, err := v.Verify(token)
			if err != nil {
				log.Warn().Err(err).Str("module", "adapters.auth").Msg("rejected token")
			} else {
				c.Set(UserIDKey, string(uid))
			}
		}
		c.Next()
	}
}

// Login binds a verified user id to the cookie session.
func Login(c *gin.Context, uid domain.UserID) error {
	sess := sessions.Default(c)
	sess.Set(sessionUserID, string(uid))
	return sess.Save()
}

func Logout(c *gin.Context) error {
	sess := sessions.Default(c)
	sess.Delete(sessionUserID)
	return sess.Save()
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	// browsers cannot set headers on a websocket upgrade
	return c.Query("token")
}
