package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fieldops/internal/config"
)

const (
	DefaultCookieName = "_sid"
	// InviteCookieName holds an invite token while the visitor signs in.
	InviteCookieName = "_invite"
	InviteCookieTTL  = 30 * time.Minute
)

// Manager reads and writes the auth cookies.
type Manager struct {
	cookieName string
	secure     bool
}

func NewManager(cfg config.Config) *Manager {
	return &Manager{
		cookieName: DefaultCookieName,
		secure:     cfg.AuthCookieSecure,
	}
}

func (m *Manager) CookieName() string {
	return m.cookieName
}

func (m *Manager) ReadToken(c *gin.Context) (string, bool) {
	return readCookie(c, m.cookieName)
}

func (m *Manager) Set(c *gin.Context, value string, expiresAt time.Time) {
	m.set(c, m.cookieName, value, int(time.Until(expiresAt).Seconds()))
}

func (m *Manager) Clear(c *gin.Context) {
	m.set(c, m.cookieName, "", -1)
}

// StashInvite remembers an invite token across the login redirect.
func (m *Manager) StashInvite(c *gin.Context, token string) {
	m.set(c, InviteCookieName, token, int(InviteCookieTTL.Seconds()))
}

// TakeInvite returns the stashed invite token, if any, and always clears it.
func (m *Manager) TakeInvite(c *gin.Context) (string, bool) {
	token, ok := readCookie(c, InviteCookieName)
	if _, err := c.Cookie(InviteCookieName); err == nil {
		m.set(c, InviteCookieName, "", -1)
	}
	return token, ok
}

func (m *Manager) set(c *gin.Context, name, value string, maxAge int) {
	if maxAge == 0 {
		maxAge = -1
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, "/", "", m.secure, true)
}

func readCookie(c *gin.Context, name string) (string, bool) {
	value, err := c.Cookie(name)
	if err != nil {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}
