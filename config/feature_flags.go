package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags manages feature toggles and A/B testing.
// Supports gradual rollout, user targeting, and cohort-based experiments.
//
// Philosophy alignment: "Скоринг никогда не блокирует загрузку"
// - Upload paths stay open even when AI features are off
// - Moderation flags degrade to the heuristic, never to rejection
// - Notifications tuned for reviewer focus, not spam
type FeatureFlags struct {
	mu sync.RWMutex

	// Core features
	features map[string]*Feature

	// Override rules (for testing/debugging)
	userOverrides map[int64]map[string]bool // telegramID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Users are assigned based on hash of their ID
	RolloutPercent int

	// Cohort targeting (e.g., "mbchb-2024", "mbchb-2025")
	// Empty means all cohorts
	TargetCohorts []string

	// Time-based activation
	EnabledFrom  *time.Time
	EnabledUntil *time.Time

	// A/B test variant (for experiments)
	Variants []string
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	UserID int64 // Telegram ID

	Cohort  string // Class cohort (e.g., "mbchb-2024")
	IsAdmin bool   // Is admin user
}

// Predefined feature flag names.
const (
	// === Upload Features ===
	FeatureUploadText     = "upload.text"      // Plain text uploads
	FeatureUploadPDF      = "upload.pdf"       // PDF document uploads
	FeatureUploadPhotoOCR = "upload.photo_ocr" // Photo uploads via OCR

	// === Ingest Features ===
	FeatureIngestAsync = "ingest.async" // Defer extraction and scoring to the event pipeline

	// === Moderation Features ===
	FeatureModerationAIScoring = "moderation.ai_scoring" // AI scorer (off = heuristic only)

	// === Review Features ===
	FeatureReviewQueuePreview   = "review.queue_preview"   // Candidate previews in queue listing
	FeatureReviewLeaseCountdown = "review.lease_countdown" // Show remaining lock time

	// === Notification Features ===
	FeatureNotifyBatchCompleted     = "notify.batch_completed"     // Tell uploader their batch finished review
	FeatureNotifyNewBatch           = "notify.new_batch"           // Tell reviewers a batch arrived
	FeatureNotifyReviewDigest       = "notify.review_digest"       // Daily pending-review summary
	FeatureNotifyModerationDegraded = "notify.moderation_degraded" // Warn admins when heuristic scoring is in use

	// === Contributor Features ===
	FeatureContributorStats       = "contributor.stats"       // /mystats command
	FeatureContributorLeaderboard = "contributor.leaderboard" // Top uploaders ranking

	// === Experimental Features ===
	FeatureExperimentalDuplicateCheck = "experimental.duplicate_check" // AI duplicate detection
	FeatureExperimentalExplanations   = "experimental.explanations"    // AI-generated explanations
	FeatureExperimentalAnalytics      = "experimental.analytics"       // Advanced analytics
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:      make(map[string]*Feature),
		userOverrides: make(map[int64]map[string]bool),
	}

	// Initialize all features with defaults
	ff.initializeDefaults()

	// Load overrides from environment
	ff.loadFromEnvironment()

	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	// Upload features - text is the core path, always on
	ff.features[FeatureUploadText] = &Feature{
		Name:           FeatureUploadText,
		Description:    "Plain text question uploads",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureUploadPDF] = &Feature{
		Name:           FeatureUploadPDF,
		Description:    "PDF document uploads",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureUploadPhotoOCR] = &Feature{
		Name:           FeatureUploadPhotoOCR,
		Description:    "Photo uploads via OCR",
		Enabled:        true,
		RolloutPercent: 50, // Gradual rollout, OCR quality varies
	}

	// Ingest features - async keeps OCR and scoring off the bot's hot
	// path; disable to get the old synchronous upload summary back
	ff.features[FeatureIngestAsync] = &Feature{
		Name:           FeatureIngestAsync,
		Description:    "Defer extraction and scoring to the event pipeline",
		Enabled:        true,
		RolloutPercent: 100,
	}

	// Moderation features - scoring degrades to heuristic when off
	ff.features[FeatureModerationAIScoring] = &Feature{
		Name:           FeatureModerationAIScoring,
		Description:    "AI quality scoring for candidates",
		Enabled:        true,
		RolloutPercent: 100,
	}

	// Review features
	ff.features[FeatureReviewQueuePreview] = &Feature{
		Name:           FeatureReviewQueuePreview,
		Description:    "Show candidate previews in the review queue",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureReviewLeaseCountdown] = &Feature{
		Name:           FeatureReviewLeaseCountdown,
		Description:    "Show remaining lock time during review",
		Enabled:        true,
		RolloutPercent: 100,
	}

	// Notification features - carefully tuned to avoid spam
	ff.features[FeatureNotifyBatchCompleted] = &Feature{
		Name:           FeatureNotifyBatchCompleted,
		Description:    "Notify uploader when their batch finishes review",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureNotifyNewBatch] = &Feature{
		Name:           FeatureNotifyNewBatch,
		Description:    "Notify reviewers when a batch arrives",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureNotifyReviewDigest] = &Feature{
		Name:           FeatureNotifyReviewDigest,
		Description:    "Daily pending-review summary",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureNotifyModerationDegraded] = &Feature{
		Name:           FeatureNotifyModerationDegraded,
		Description:    "Warn admins when heuristic scoring is in use",
		Enabled:        true,
		RolloutPercent: 100,
	}

	// Contributor features
	ff.features[FeatureContributorStats] = &Feature{
		Name:           FeatureContributorStats,
		Description:    "Personal contribution statistics",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureContributorLeaderboard] = &Feature{
		Name:           FeatureContributorLeaderboard,
		Description:    "Top uploaders ranking",
		Enabled:        false, // Phase 2
		RolloutPercent: 0,
	}

	// Experimental features - disabled by default
	ff.features[FeatureExperimentalDuplicateCheck] = &Feature{
		Name:           FeatureExperimentalDuplicateCheck,
		Description:    "AI duplicate detection across topics",
		Enabled:        false,
		RolloutPercent: 0,
	}

	ff.features[FeatureExperimentalExplanations] = &Feature{
		Name:           FeatureExperimentalExplanations,
		Description:    "AI-generated answer explanations",
		Enabled:        false,
		RolloutPercent: 0,
	}

	ff.features[FeatureExperimentalAnalytics] = &Feature{
		Name:           FeatureExperimentalAnalytics,
		Description:    "Advanced analytics dashboard",
		Enabled:        false,
		RolloutPercent: 0,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_UPLOAD_PHOTO_OCR=true
// Example: FEATURE_UPLOAD_PHOTO_OCR=50 (50% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		envKey := featureNameToEnvKey(name)
		if val := os.Getenv(envKey); val != "" {
			// Try parsing as boolean
			if b, err := strconv.ParseBool(val); err == nil {
				feature.Enabled = b
				if b {
					feature.RolloutPercent = 100
				} else {
					feature.RolloutPercent = 0
				}
				continue
			}

			// Try parsing as percentage
			if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
				feature.Enabled = p > 0
				feature.RolloutPercent = p
			}
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "upload.photo_ocr" -> "FEATURE_UPLOAD_PHOTO_OCR"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	// Check user overrides first
	if ctx != nil && ctx.UserID != 0 {
		if userOverrides, ok := ff.userOverrides[ctx.UserID]; ok {
			if enabled, ok := userOverrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	// Admin users get all features
	if ctx != nil && ctx.IsAdmin {
		return true
	}

	// Check if feature is enabled at all
	if !feature.Enabled {
		return false
	}

	// Check time-based activation
	now := time.Now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	// Check cohort targeting
	if len(feature.TargetCohorts) > 0 && ctx != nil && ctx.Cohort != "" {
		cohortMatch := false
		for _, c := range feature.TargetCohorts {
			if c == ctx.Cohort {
				cohortMatch = true
				break
			}
		}
		if !cohortMatch {
			return false
		}
	}

	// Check rollout percentage
	if feature.RolloutPercent < 100 && ctx != nil && ctx.UserID != 0 {
		return ff.isInRollout(ctx.UserID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout determines if a user is in the rollout percentage.
// Uses consistent hashing so users stay in their bucket.
func (ff *FeatureFlags) isInRollout(userID int64, featureName string, percent int) bool {
	// Create a consistent hash for this user+feature combination
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(strconv.FormatInt(userID, 10)))
	hash := h.Sum32()

	// Map to 0-99 range
	bucket := int(hash % 100)

	return bucket < percent
}

// GetVariant returns the A/B test variant for a user.
// Returns empty string if no variants defined or feature disabled.
func (ff *FeatureFlags) GetVariant(featureName string, ctx *FeatureContext) string {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	if !ok || !ff.IsEnabled(featureName, ctx) {
		return ""
	}

	if len(feature.Variants) == 0 {
		return ""
	}

	// Use consistent hashing to assign variant
	h := fnv.New32a()
	h.Write([]byte(featureName + "_variant"))
	h.Write([]byte(strconv.FormatInt(ctx.UserID, 10)))
	hash := h.Sum32()

	variantIndex := int(hash % uint32(len(feature.Variants)))
	return feature.Variants[variantIndex]
}

// SetUserOverride sets a feature override for a specific user.
// Useful for testing and debugging.
func (ff *FeatureFlags) SetUserOverride(userID int64, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.userOverrides[userID]; !ok {
		ff.userOverrides[userID] = make(map[string]bool)
	}
	ff.userOverrides[userID][featureName] = enabled
}

// ClearUserOverrides removes all overrides for a user.
func (ff *FeatureFlags) ClearUserOverrides(userID int64) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.userOverrides, userID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
// Thread-safe for live updates.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}

	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0

	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		// Return a copy
		featureCopy := *v
		result[k] = &featureCopy
	}
	return result
}

// --- Convenience methods for common checks ---

// UploadEnabled checks if any upload path is open for the user.
func (ff *FeatureFlags) UploadEnabled(ctx *FeatureContext) bool {
	return ff.IsEnabled(FeatureUploadText, ctx) ||
		ff.IsEnabled(FeatureUploadPDF, ctx) ||
		ff.IsEnabled(FeatureUploadPhotoOCR, ctx)
}

// NotificationsEnabled checks if any notifications are enabled.
func (ff *FeatureFlags) NotificationsEnabled(ctx *FeatureContext) bool {
	return ff.IsEnabled(FeatureNotifyBatchCompleted, ctx) ||
		ff.IsEnabled(FeatureNotifyNewBatch, ctx) ||
		ff.IsEnabled(FeatureNotifyReviewDigest, ctx) ||
		ff.IsEnabled(FeatureNotifyModerationDegraded, ctx)
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
