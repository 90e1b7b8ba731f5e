// Package middleware contains Telegram bot middlewares for request processing.
// These middlewares form a chain that processes every incoming update before
// it reaches the handler, and can modify the response after the handler completes.
package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/admin"
	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT KEYS
// Used to pass data through the request context.
// ══════════════════════════════════════════════════════════════════════════════

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// AdminContextKey is the context key for the authenticated admin.
	AdminContextKey contextKey = "admin"

	// TelegramIDContextKey is the context key for the Telegram user ID.
	TelegramIDContextKey contextKey = "telegram_id"

	// RequestIDContextKey is the context key for request tracing.
	RequestIDContextKey contextKey = "request_id"

	// StartTimeContextKey is the context key for request start time.
	StartTimeContextKey contextKey = "start_time"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUTH MIDDLEWARE
// Identifies the Telegram user as a registered admin before protected commands
// run. The bot is invite-only: unknown users are pointed to access-code
// redemption rather than silently ignored. Role and scope enforcement happens
// in the application layer; this middleware only answers "who is this".
// ══════════════════════════════════════════════════════════════════════════════

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	// PublicCommands are commands that don't require a registered admin.
	// These let invited users reach the access-code flow.
	PublicCommands map[string]bool

	// CacheTTL is how long to cache admin data to reduce DB queries.
	CacheTTL time.Duration

	// OnUnauthorized is called when an unknown user tries to access
	// a protected command. Returns the message to send to the user.
	OnUnauthorized func(telegramID int64) string

	// OnDeactivated is called when a deactivated admin tries to access
	// a protected command.
	OnDeactivated func(telegramID int64) string
}

// DefaultAuthConfig returns sensible defaults for auth middleware.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		PublicCommands: map[string]bool{
			"/start": true,
			"start":  true,
			"/help":  true,
			"help":   true,
		},
		CacheTTL: 5 * time.Minute,
		OnUnauthorized: func(telegramID int64) string {
			return "🔐 Этот бот доступен только команде модерации вопросов.\n\n" +
				"Если вам выдали код доступа, отправьте /start и введите его."
		},
		OnDeactivated: func(telegramID int64) string {
			return "🚫 Ваш доступ к боту отключён.\n\n" +
				"Обратитесь к администратору курса, если считаете это ошибкой."
		},
	}
}

// AuthMiddleware resolves the Telegram user to a registered admin and injects
// the admin data into the context for downstream handlers.
type AuthMiddleware struct {
	adminRepo admin.Repository
	config    AuthConfig
	cache     *adminCache
}

// NewAuthMiddleware creates a new auth middleware with the given configuration.
func NewAuthMiddleware(repo admin.Repository, config AuthConfig) *AuthMiddleware {
	return &AuthMiddleware{
		adminRepo: repo,
		config:    config,
		cache:     newAdminCache(config.CacheTTL),
	}
}

// AuthResult represents the result of an authentication check.
type AuthResult struct {
	// IsAuthenticated indicates if the user is a registered, active admin.
	IsAuthenticated bool

	// Admin is the authenticated admin (nil if not authenticated).
	Admin *admin.Admin

	// ShouldContinue indicates if request processing should continue.
	ShouldContinue bool

	// ResponseMessage is the message to send if authentication failed.
	ResponseMessage string
}

// Authenticate checks if the user is a registered admin.
// This is the main entry point for the auth middleware.
func (m *AuthMiddleware) Authenticate(
	ctx context.Context,
	telegramID int64,
	command string,
) (*AuthResult, error) {
	// Public commands run for everyone, but a known admin is still
	// resolved so /start and /help can tailor their replies. Lookup
	// failures here degrade to an anonymous session instead of blocking
	// the onboarding flow.
	if m.isPublicCommand(command) {
		if adm := m.lookup(ctx, telegramID); adm != nil && adm.IsActive {
			return &AuthResult{
				IsAuthenticated: true,
				Admin:           adm,
				ShouldContinue:  true,
			}, nil
		}
		return &AuthResult{
			IsAuthenticated: false,
			ShouldContinue:  true,
		}, nil
	}

	// Try cache first
	if cached := m.cache.get(telegramID); cached != nil {
		if !cached.IsActive {
			return &AuthResult{
				IsAuthenticated: false,
				ShouldContinue:  false,
				ResponseMessage: m.config.OnDeactivated(telegramID),
			}, nil
		}
		return &AuthResult{
			IsAuthenticated: true,
			Admin:           cached,
			ShouldContinue:  true,
		}, nil
	}

	// Fetch from repository
	adm, err := m.adminRepo.GetByTelegramID(ctx, shared.TelegramID(telegramID))
	if err != nil {
		// Unknown user: not registered through an access code yet
		if shared.IsNotFound(err) {
			return &AuthResult{
				IsAuthenticated: false,
				ShouldContinue:  false,
				ResponseMessage: m.config.OnUnauthorized(telegramID),
			}, nil
		}

		// Other errors (database issues, etc.)
		return nil, fmt.Errorf("auth: failed to get admin: %w", err)
	}

	// Cache the admin for future requests
	m.cache.set(telegramID, adm)

	if !adm.IsActive {
		return &AuthResult{
			IsAuthenticated: false,
			ShouldContinue:  false,
			ResponseMessage: m.config.OnDeactivated(telegramID),
		}, nil
	}

	return &AuthResult{
		IsAuthenticated: true,
		Admin:           adm,
		ShouldContinue:  true,
	}, nil
}

// lookup resolves an admin through the cache, swallowing repository errors.
func (m *AuthMiddleware) lookup(ctx context.Context, telegramID int64) *admin.Admin {
	if cached := m.cache.get(telegramID); cached != nil {
		return cached
	}
	adm, err := m.adminRepo.GetByTelegramID(ctx, shared.TelegramID(telegramID))
	if err != nil {
		return nil
	}
	m.cache.set(telegramID, adm)
	return adm
}

// isPublicCommand checks if the command doesn't require authentication.
func (m *AuthMiddleware) isPublicCommand(command string) bool {
	return m.config.PublicCommands[command]
}

// InvalidateCache removes an admin from the auth cache.
// Call this after role changes, scope changes, or access-code redemption.
func (m *AuthMiddleware) InvalidateCache(telegramID int64) {
	m.cache.delete(telegramID)
}

// InvalidateAllCache clears the entire auth cache.
func (m *AuthMiddleware) InvalidateAllCache() {
	m.cache.clear()
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT HELPERS
// Functions to work with authenticated data in context.
// ══════════════════════════════════════════════════════════════════════════════

// ContextWithAdmin adds the authenticated admin to the context.
func ContextWithAdmin(ctx context.Context, adm *admin.Admin) context.Context {
	return context.WithValue(ctx, AdminContextKey, adm)
}

// AdminFromContext retrieves the authenticated admin from context.
// Returns nil if no admin is in the context.
func AdminFromContext(ctx context.Context) *admin.Admin {
	adm, ok := ctx.Value(AdminContextKey).(*admin.Admin)
	if !ok {
		return nil
	}
	return adm
}

// ContextWithTelegramID adds the Telegram ID to the context.
func ContextWithTelegramID(ctx context.Context, telegramID int64) context.Context {
	return context.WithValue(ctx, TelegramIDContextKey, telegramID)
}

// TelegramIDFromContext retrieves the Telegram ID from context.
// Returns 0 if not found.
func TelegramIDFromContext(ctx context.Context) int64 {
	id, ok := ctx.Value(TelegramIDContextKey).(int64)
	if !ok {
		return 0
	}
	return id
}

// MustAdminFromContext retrieves the admin from context or panics.
// Use only when you're certain the admin exists (after auth middleware).
func MustAdminFromContext(ctx context.Context) *admin.Admin {
	adm := AdminFromContext(ctx)
	if adm == nil {
		panic("auth: admin not found in context - auth middleware not applied?")
	}
	return adm
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN CACHE
// Simple in-memory cache for authenticated admins.
// The review team is small, so a per-process map is enough.
// ══════════════════════════════════════════════════════════════════════════════

// adminCache is a thread-safe cache for admin data.
type adminCache struct {
	mu      sync.RWMutex
	entries map[int64]*cacheEntry
	ttl     time.Duration
}

type cacheEntry struct {
	admin     *admin.Admin
	expiresAt time.Time
}

func newAdminCache(ttl time.Duration) *adminCache {
	c := &adminCache{
		entries: make(map[int64]*cacheEntry),
		ttl:     ttl,
	}

	// Start background cleanup goroutine
	go c.cleanupLoop()

	return c
}

func (c *adminCache) get(telegramID int64) *admin.Admin {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[telegramID]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil
	}

	return entry.admin
}

func (c *adminCache) set(telegramID int64, adm *admin.Admin) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[telegramID] = &cacheEntry{
		admin:     adm,
		expiresAt: time.Now().Add(c.ttl),
	}
}

func (c *adminCache) delete(telegramID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, telegramID)
}

func (c *adminCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[int64]*cacheEntry)
}

func (c *adminCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.cleanup()
	}
}

func (c *adminCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, id)
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTHORIZATION CHECKS
// Coarse role checks for the interface layer. The application layer repeats
// these against fresh data; here they only gate menus and early replies.
// ══════════════════════════════════════════════════════════════════════════════

// RequireReviewer checks if the admin can review candidates.
func RequireReviewer(adm *admin.Admin) error {
	if adm == nil {
		return shared.ErrUnauthorized
	}
	if !adm.CanReview() {
		return shared.WrapError(
			"auth", "RequireReviewer",
			shared.ErrForbidden,
			"admin role or higher is required to review",
			nil,
		)
	}
	return nil
}

// RequireUploader checks if the admin can submit new batches.
func RequireUploader(adm *admin.Admin) error {
	if adm == nil {
		return shared.ErrUnauthorized
	}
	if !adm.CanUpload() {
		return shared.WrapError(
			"auth", "RequireUploader",
			shared.ErrForbidden,
			"admin role or higher is required to upload",
			nil,
		)
	}
	return nil
}

// RequireSuperAdmin checks if the admin has super-admin privileges.
func RequireSuperAdmin(adm *admin.Admin) error {
	if adm == nil {
		return shared.ErrUnauthorized
	}
	if adm.Role != shared.RoleSuperAdmin {
		return shared.WrapError(
			"auth", "RequireSuperAdmin",
			shared.ErrForbidden,
			"super-admin role is required",
			nil,
		)
	}
	return nil
}
