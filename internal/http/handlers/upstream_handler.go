package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-labsync-backend/internal/credential"
	"github.com/tbourn/go-labsync-backend/internal/domain"
	"github.com/tbourn/go-labsync-backend/internal/gate"
)

// SessionInfo describes the partner credential without exposing the token.
type SessionInfo struct {
	Principal string     `json:"principal" example:"admin"`
	Active    bool       `json:"active"`
	SessionID string     `json:"session_id,omitempty"`
	IssuedAt  *time.Time `json:"issued_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Expired   bool       `json:"expired"`
}

// UpstreamStatusResponse is the partner integration health view.
type UpstreamStatusResponse struct {
	Gate    gate.Snapshot `json:"gate"`
	Session SessionInfo   `json:"session"`
}

func (h *Handlers) sessionInfo(c domain.Credential, found bool) SessionInfo {
	info := SessionInfo{Principal: h.principal}
	if !found || c.IsZero() {
		return info
	}
	issued, expires := c.IssuedAt, c.ExpiresAt
	info.Active = true
	info.SessionID = c.SessionID
	info.IssuedAt = &issued
	info.ExpiresAt = &expires
	info.Expired = credential.IsExpired(c, h.now(), h.creds.Location())
	return info
}

// UpstreamStatus godoc
// @ID          upstreamStatus
// @Summary     Partner integration status
// @Description Circuit breaker state, queue depth and the cached partner session.
// @Tags        Upstream
// @Produce     json
// @Success     200  {object}  handlers.UpstreamStatusResponse
// @Failure     404  {object}  handlers.ErrorResponse "Upstream not configured"
// @Router      /upstream/status [get]
func (h *Handlers) UpstreamStatus(c *gin.Context) {
	if h.gate == nil || h.creds == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "upstream not configured")
		return
	}
	cred, found := h.creds.Cached(h.principal)
	ok(c, http.StatusOK, UpstreamStatusResponse{
		Gate:    h.gate.Snapshot(),
		Session: h.sessionInfo(cred, found),
	})
}

// RefreshSession godoc
// @ID          refreshSession
// @Summary     Force a partner credential refresh
// @Description Logs in to the partner again and supersedes the stored session.
// @Tags        Upstream
// @Produce     json
// @Success     200  {object}  handlers.SessionInfo
// @Failure     404  {object}  handlers.ErrorResponse "Upstream not configured"
// @Failure     502  {object}  handlers.ErrorResponse "Partner rejected the login"
// @Failure     503  {object}  handlers.ErrorResponse "Partner unavailable"
// @Router      /upstream/session/refresh [post]
func (h *Handlers) RefreshSession(c *gin.Context) {
	if h.creds == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "upstream not configured")
		return
	}
	cred, err := h.creds.ForceRefresh(c.Request.Context(), h.principal)
	if err != nil {
		failUpstream(c, err)
		return
	}
	ok(c, http.StatusOK, h.sessionInfo(cred, true))
}
