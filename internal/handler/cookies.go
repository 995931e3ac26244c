package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/identity-service/internal/domain"
	"github.com/prperemyshlev/identity-service/internal/utils"
)

const (
	AccessTokenCookie   = "access_token"
	RefreshTokenCookie  = "refresh_token"
	SessionActiveCookie = "session_active"

	refreshCookiePath = "/api/v1/auth"
)

// Cookies writes the auth cookies. In production they are Secure and SameSite=Strict.
type Cookies struct {
	issuer *utils.TokenIssuer
	domain string
	secure bool
}

func NewCookies(issuer *utils.TokenIssuer, domain string, production bool) *Cookies {
	return &Cookies{issuer: issuer, domain: domain, secure: production}
}

func (k *Cookies) sameSite() http.SameSite {
	if k.secure {
		return http.SameSiteStrictMode
	}
	return http.SameSiteLaxMode
}

// Set issues access_token, refresh_token and the script-readable session_active flag.
// Cookie lifetimes follow the tokens' own expiry.
func (k *Cookies) Set(c *gin.Context, tokens *domain.Tokens) {
	refreshAge := k.maxAge(tokens.RefreshToken)

	c.SetSameSite(k.sameSite())
	c.SetCookie(AccessTokenCookie, tokens.AccessToken, int(tokens.ExpiresIn), "/", k.domain, k.secure, true)
	c.SetCookie(RefreshTokenCookie, tokens.RefreshToken, refreshAge, refreshCookiePath, k.domain, k.secure, true)
	c.SetCookie(SessionActiveCookie, "true", refreshAge, "/", k.domain, k.secure, false)
}

func (k *Cookies) Clear(c *gin.Context) {
	c.SetSameSite(k.sameSite())
	c.SetCookie(AccessTokenCookie, "", -1, "/", k.domain, k.secure, true)
	c.SetCookie(RefreshTokenCookie, "", -1, refreshCookiePath, k.domain, k.secure, true)
	c.SetCookie(SessionActiveCookie, "", -1, "/", k.domain, k.secure, false)
}

func (k *Cookies) maxAge(token string) int {
	claims, err := k.issuer.ParseUnverified(token)
	if err != nil || claims.Exp == 0 {
		return 0
	}
	age := time.Unix(claims.Exp, 0).Sub(k.issuer.Now())
	if age <= 0 {
		return -1
	}
	return int(age / time.Second)
}
