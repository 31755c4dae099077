package session

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"collaborative-document-server/auth"
	"collaborative-document-server/internal/room"
	"collaborative-document-server/internal/user"
	"collaborative-document-server/redis"
)

// Endpoint upgrades authenticated HTTP requests into live sessions.
// The bearer token travels as a query parameter on the upgrade URL;
// any authentication failure is rejected with a 401 before a session
// object exists.
type Endpoint struct {
	users    user.Service
	rooms    *room.Broadcaster
	router   *Router
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewEndpoint(users user.Service, rooms *room.Broadcaster, router *Router, log zerolog.Logger) *Endpoint {
	return &Endpoint{
		users:  users,
		rooms:  rooms,
		router: router,
		log:    log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle serves GET /ws.
func (e *Endpoint) Handle(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing token"})
		return
	}

	jwtToken, err := auth.VerifyJWT(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	exists, err := redis.TokenExists(c.Request.Context(), token)
	if err != nil || !exists {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token expired or not found"})
		return
	}

	userID, err := auth.UserIDFromToken(jwtToken)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	u, err := e.users.GetUserByID(userID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unknown user"})
		return
	}

	conn, err := e.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote its own error response.
		e.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	s := NewSession(u, conn, e.rooms, e.log)
	e.log.Info().Str("session", s.ID).Uint64("user", u.ID).Msg("session connected")
	s.Run(c.Request.Context(), e.router)
}
