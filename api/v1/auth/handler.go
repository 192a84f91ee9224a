package auth

import (
	"errors"
	"time"

	"domainpilot/internal/auth"
	"domainpilot/internal/config"
	"domainpilot/internal/httpx"
	"domainpilot/internal/model"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// LoginRequest represents login request body
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents login response data
type LoginResponse struct {
	Token    string    `json:"token"`
	ExpireAt string    `json:"expireAt"`
	Store    StoreInfo `json:"store"`
}

// StoreInfo represents store information in response
type StoreInfo struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// LoginHandler handles store login
func LoginHandler(db *gorm.DB, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
			return
		}

		var store model.Store
		if err := db.Where("email = ?", req.Email).First(&store).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// Unknown email and wrong password return the same error
				httpx.FailErr(c, httpx.ErrInvalidToken("invalid credentials"))
				return
			}
			httpx.FailErr(c, httpx.ErrDatabaseError("database error", err))
			return
		}

		if store.Status == model.StoreStatusInactive {
			httpx.FailErr(c, httpx.ErrForbidden("store is inactive"))
			return
		}

		if err := auth.ComparePassword(store.PasswordHash, req.Password); err != nil {
			httpx.FailErr(c, httpx.ErrInvalidToken("invalid credentials"))
			return
		}

		expireAt := time.Now().Add(time.Duration(cfg.JWT.ExpireMinutes) * time.Minute)
		token, err := auth.GenerateToken(store.ID, store.Email, expireAt, cfg.JWT.Issuer)
		if err != nil {
			httpx.FailErr(c, httpx.ErrInternalError("failed to generate token", err))
			return
		}

		httpx.OK(c, LoginResponse{
			Token:    token,
			ExpireAt: expireAt.Format(time.RFC3339),
			Store: StoreInfo{
				ID:    store.ID,
				Name:  store.Name,
				Email: store.Email,
			},
		})
	}
}
