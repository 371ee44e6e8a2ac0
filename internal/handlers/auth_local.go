package handlers

import (
	"log"
	"strings"
	"time"

	"medassist/internal/models"
	"medassist/internal/services"
	"medassist/pkg/auth"

	"github.com/gofiber/fiber/v2"
)

// LocalAuthHandler handles staff JWT authentication endpoints
type LocalAuthHandler struct {
	jwtAuth *auth.LocalJWTAuth
	staff   *services.StaffService
}

// NewLocalAuthHandler creates a new local auth handler
func NewLocalAuthHandler(jwtAuth *auth.LocalJWTAuth, staff *services.StaffService) *LocalAuthHandler {
	return &LocalAuthHandler{
		jwtAuth: jwtAuth,
		staff:   staff,
	}
}

// Login authenticates a staff member
// POST /api/auth/login
func (h *LocalAuthHandler) Login(c *fiber.Ctx) error {
	var req models.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"detail": "Invalid request body",
		})
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	staff, err := h.staff.GetByEmail(req.Email)
	if err != nil || staff == nil {
		// Constant-time response to prevent email enumeration
		time.Sleep(200 * time.Millisecond)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"detail": "Invalid email or password",
		})
	}

	valid, err := h.jwtAuth.VerifyPassword(staff.PasswordHash, req.Password)
	if err != nil || !valid {
		log.Printf("⚠️  Failed login attempt for: %s", req.Email)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"detail": "Invalid email or password",
		})
	}

	accessToken, refreshToken, err := h.jwtAuth.GenerateTokens(staff.ID, staff.Email, staff.Role)
	if err != nil {
		log.Printf("❌ Failed to generate tokens: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"detail": "Failed to generate authentication tokens",
		})
	}

	log.Printf("✅ Staff logged in: %s", staff.Email)

	return c.JSON(models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}

// Refresh issues a new access token from a valid refresh token
// POST /api/auth/refresh
func (h *LocalAuthHandler) Refresh(c *fiber.Ctx) error {
	var req models.RefreshRequest
	if err := c.BodyParser(&req); err != nil || req.RefreshToken == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"detail": "Refresh token is required",
		})
	}

	claims, err := h.jwtAuth.VerifyRefreshToken(req.RefreshToken)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"detail": "Invalid or expired refresh token",
		})
	}

	staff, err := h.staff.GetByID(claims.UserID)
	if err != nil || staff == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"detail": "Account not found",
		})
	}

	accessToken, refreshToken, err := h.jwtAuth.GenerateTokens(staff.ID, staff.Email, staff.Role)
	if err != nil {
		log.Printf("❌ Failed to refresh tokens: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"detail": "Failed to refresh token",
		})
	}

	return c.JSON(models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}
