// Package config provides scraper configuration management.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Configuration upper bounds to prevent runaway values.
const (
	maxChallengeAttempts     = 10
	maxProxyFailureThreshold = 100
	maxProxyBanTime          = 24 * time.Hour
	maxRequestTimeout        = 10 * time.Minute
	maxSolverTimeout         = 300 * time.Second
	minSolverTimeout         = 30 * time.Second
)

// Config holds all scraper configuration.
// Values come from CLOUDSCRAPER_* environment variables via Load, or from
// direct struct construction; either way Validate corrects out-of-range
// values in place instead of failing.
type Config struct {
	// User agent selection
	UserAgent   string // custom User-Agent override, bypasses catalog selection
	Platform    string // linux, windows, darwin, android or ios; empty picks randomly
	Browser     string // chrome, firefox, safari or edge; empty picks randomly
	Desktop     bool
	Mobile      bool
	AllowBrotli bool

	// Proxy rotation
	Proxies               []string
	ProxyRotationStrategy string // sequential, random, smart, weighted or round_robin_smart
	ProxyBanTime          time.Duration
	ProxyFailureThreshold int
	ProxyCooldown         time.Duration

	// Feature toggles
	EnableMetrics               bool
	EnablePerformanceMonitoring bool
	EnableTLSFingerprinting     bool
	EnableAntiDetection         bool
	EnableSpoofing              bool
	EnableAdaptiveTiming        bool
	EnableMLOptimization        bool

	// Behavior tuning
	BehaviorProfile     string  // casual, focused, research or mobile
	SpoofingConsistency string  // none, domain or global
	MLLearningRate      float64 // weight given to each new challenge outcome

	// Challenge loop
	MaxChallengeAttempts  int
	RequestTimeout        time.Duration // end-to-end per request, zero disables
	BlockPrivateAddresses bool          // refuse targets resolving to private or loopback ranges

	// Logging
	LogLevel string

	// CAPTCHA solver settings
	CaptchaProvider        string        // "2captcha", "capsolver" or "chain"; empty disables token solving
	Captcha2CaptchaAPIKey  string        // 2Captcha API key (TWOCAPTCHA_API_KEY)
	CaptchaCapSolverAPIKey string        // CapSolver API key (CAPSOLVER_API_KEY)
	CaptchaSolverTimeout   time.Duration // timeout for provider API calls

	// Challenge signature catalog
	SignaturesPath      string // path to an external signatures.yaml override file
	SignaturesHotReload bool   // watch the override file for changes

	// Metrics endpoint (watch mode)
	PrometheusEnabled bool
	PrometheusPort    int

	// Watch mode polling
	PollInterval time.Duration
}

// Load loads configuration from environment variables.
// Returns a Config with values from environment or the library defaults,
// which mirror a fully enabled scraper with no proxies and no captcha
// provider.
func Load() *Config {
	return &Config{
		// User agent - random desktop or mobile browser unless pinned
		UserAgent:   getEnvString("CLOUDSCRAPER_USER_AGENT", ""),
		Platform:    getEnvString("CLOUDSCRAPER_PLATFORM", ""),
		Browser:     getEnvString("CLOUDSCRAPER_BROWSER", ""),
		Desktop:     getEnvBool("CLOUDSCRAPER_DESKTOP", true),
		Mobile:      getEnvBool("CLOUDSCRAPER_MOBILE", true),
		AllowBrotli: getEnvBool("CLOUDSCRAPER_ALLOW_BROTLI", false),

		// Proxies
		Proxies:               getEnvStringSlice("CLOUDSCRAPER_PROXIES", nil),
		ProxyRotationStrategy: getEnvString("CLOUDSCRAPER_PROXY_STRATEGY", "sequential"),
		ProxyBanTime:          getEnvDuration("CLOUDSCRAPER_PROXY_BAN_TIME", 5*time.Minute),
		ProxyFailureThreshold: getEnvInt("CLOUDSCRAPER_PROXY_FAILURE_THRESHOLD", 3),
		ProxyCooldown:         getEnvDuration("CLOUDSCRAPER_PROXY_COOLDOWN", time.Minute),

		// Feature toggles - everything on by default
		EnableMetrics:               getEnvBool("CLOUDSCRAPER_METRICS", true),
		EnablePerformanceMonitoring: getEnvBool("CLOUDSCRAPER_PERFORMANCE_MONITORING", true),
		EnableTLSFingerprinting:     getEnvBool("CLOUDSCRAPER_TLS_FINGERPRINTING", true),
		EnableAntiDetection:         getEnvBool("CLOUDSCRAPER_ANTI_DETECTION", true),
		EnableSpoofing:              getEnvBool("CLOUDSCRAPER_SPOOFING", true),
		EnableAdaptiveTiming:        getEnvBool("CLOUDSCRAPER_ADAPTIVE_TIMING", true),
		EnableMLOptimization:        getEnvBool("CLOUDSCRAPER_ML_OPTIMIZATION", true),

		// Behavior
		BehaviorProfile:     getEnvString("CLOUDSCRAPER_BEHAVIOR_PROFILE", "casual"),
		SpoofingConsistency: getEnvString("CLOUDSCRAPER_SPOOFING_CONSISTENCY", "domain"),
		MLLearningRate:      getEnvFloat("CLOUDSCRAPER_ML_LEARNING_RATE", 0.15),

		// Challenge loop
		MaxChallengeAttempts:  getEnvInt("CLOUDSCRAPER_MAX_CHALLENGE_ATTEMPTS", 3),
		RequestTimeout:        getEnvDuration("CLOUDSCRAPER_REQUEST_TIMEOUT", 30*time.Second),
		BlockPrivateAddresses: getEnvBool("CLOUDSCRAPER_BLOCK_PRIVATE_ADDRESSES", false),

		// Logging
		LogLevel: getEnvString("CLOUDSCRAPER_LOG_LEVEL", "info"),

		// CAPTCHA solver settings
		CaptchaProvider:        getEnvString("CLOUDSCRAPER_CAPTCHA_PROVIDER", ""),
		Captcha2CaptchaAPIKey:  getEnvString("TWOCAPTCHA_API_KEY", ""),
		CaptchaCapSolverAPIKey: getEnvString("CAPSOLVER_API_KEY", ""),
		CaptchaSolverTimeout:   getEnvDuration("CLOUDSCRAPER_CAPTCHA_TIMEOUT", 120*time.Second),

		// Signatures
		SignaturesPath:      getEnvString("CLOUDSCRAPER_SIGNATURES_PATH", ""),
		SignaturesHotReload: getEnvBool("CLOUDSCRAPER_SIGNATURES_HOT_RELOAD", false),

		// Metrics endpoint - disabled by default, library users rarely want it
		PrometheusEnabled: getEnvBool("CLOUDSCRAPER_PROMETHEUS_ENABLED", false),
		PrometheusPort:    getEnvInt("CLOUDSCRAPER_PROMETHEUS_PORT", 8192),

		// Watch mode
		PollInterval: getEnvDuration("CLOUDSCRAPER_POLL_INTERVAL", time.Second),
	}
}

// HasProxies returns true if at least one proxy endpoint is configured.
func (c *Config) HasProxies() bool {
	return len(c.Proxies) > 0
}

// HasCaptchaProvider returns true if a captcha provider is selected and its
// API key is present.
func (c *Config) HasCaptchaProvider() bool {
	switch strings.ToLower(c.CaptchaProvider) {
	case "2captcha":
		return c.Captcha2CaptchaAPIKey != ""
	case "capsolver":
		return c.CaptchaCapSolverAPIKey != ""
	case "chain":
		return c.Captcha2CaptchaAPIKey != "" || c.CaptchaCapSolverAPIKey != ""
	}
	return false
}

// Validate checks configuration values and logs warnings for invalid ones.
// Invalid values are corrected to sensible defaults; Validate never fails.
func (c *Config) Validate() {
	// Challenge attempt bounds. One attempt is the floor since the first
	// request already counts as an attempt.
	if c.MaxChallengeAttempts < 1 {
		log.Warn().Int("attempts", c.MaxChallengeAttempts).Msg("Invalid max challenge attempts, using 1")
		c.MaxChallengeAttempts = 1
	} else if c.MaxChallengeAttempts > maxChallengeAttempts {
		log.Warn().
			Int("attempts", c.MaxChallengeAttempts).
			Int("max", maxChallengeAttempts).
			Msg("Max challenge attempts too high, capping to maximum")
		c.MaxChallengeAttempts = maxChallengeAttempts
	}

	// Request timeout bounds. Zero stays zero, callers use it to disable
	// the deadline entirely.
	if c.RequestTimeout < 0 {
		log.Warn().Dur("timeout", c.RequestTimeout).Msg("Negative request timeout, using 30s")
		c.RequestTimeout = 30 * time.Second
	} else if c.RequestTimeout > maxRequestTimeout {
		log.Warn().
			Dur("timeout", c.RequestTimeout).
			Dur("max", maxRequestTimeout).
			Msg("Request timeout too high, capping to maximum")
		c.RequestTimeout = maxRequestTimeout
	}

	// User agent selection sanity
	validPlatforms := map[string]bool{
		"linux": true, "windows": true, "darwin": true,
		"android": true, "ios": true,
	}
	if c.Platform != "" && !validPlatforms[strings.ToLower(c.Platform)] {
		log.Warn().Str("platform", c.Platform).Msg("Invalid platform, selecting randomly")
		c.Platform = ""
	}
	if !c.Desktop && !c.Mobile {
		log.Warn().Msg("Desktop and mobile both disabled, re-enabling both")
		c.Desktop = true
		c.Mobile = true
	}

	// Proxy rotation
	validStrategies := map[string]bool{
		"sequential": true, "random": true, "smart": true,
		"weighted": true, "round_robin_smart": true,
	}
	if !validStrategies[strings.ToLower(c.ProxyRotationStrategy)] {
		log.Warn().
			Str("strategy", c.ProxyRotationStrategy).
			Msg("Invalid proxy rotation strategy, using 'sequential'")
		c.ProxyRotationStrategy = "sequential"
	}
	c.ProxyRotationStrategy = strings.ToLower(c.ProxyRotationStrategy)

	if c.ProxyFailureThreshold < 1 {
		log.Warn().Int("threshold", c.ProxyFailureThreshold).Msg("Invalid proxy failure threshold, using 3")
		c.ProxyFailureThreshold = 3
	} else if c.ProxyFailureThreshold > maxProxyFailureThreshold {
		log.Warn().
			Int("threshold", c.ProxyFailureThreshold).
			Int("max", maxProxyFailureThreshold).
			Msg("Proxy failure threshold too high, capping to maximum")
		c.ProxyFailureThreshold = maxProxyFailureThreshold
	}

	if c.ProxyBanTime < time.Second {
		log.Warn().Dur("ban_time", c.ProxyBanTime).Msg("Proxy ban time too short, using 5m")
		c.ProxyBanTime = 5 * time.Minute
	} else if c.ProxyBanTime > maxProxyBanTime {
		log.Warn().
			Dur("ban_time", c.ProxyBanTime).
			Dur("max", maxProxyBanTime).
			Msg("Proxy ban time too long, capping to maximum")
		c.ProxyBanTime = maxProxyBanTime
	}

	if c.ProxyCooldown < time.Second {
		log.Warn().Dur("cooldown", c.ProxyCooldown).Msg("Proxy cooldown too short, using 1m")
		c.ProxyCooldown = time.Minute
	}

	// Behavior tuning
	validProfiles := map[string]bool{
		"casual": true, "focused": true, "research": true, "mobile": true,
	}
	if !validProfiles[strings.ToLower(c.BehaviorProfile)] {
		log.Warn().Str("profile", c.BehaviorProfile).Msg("Invalid behavior profile, using 'casual'")
		c.BehaviorProfile = "casual"
	}
	c.BehaviorProfile = strings.ToLower(c.BehaviorProfile)

	validConsistency := map[string]bool{
		"none": true, "domain": true, "global": true,
	}
	if !validConsistency[strings.ToLower(c.SpoofingConsistency)] {
		log.Warn().
			Str("consistency", c.SpoofingConsistency).
			Msg("Invalid spoofing consistency, using 'domain'")
		c.SpoofingConsistency = "domain"
	}
	c.SpoofingConsistency = strings.ToLower(c.SpoofingConsistency)

	if c.MLLearningRate <= 0 || c.MLLearningRate > 1 {
		log.Warn().Float64("rate", c.MLLearningRate).Msg("Invalid ML learning rate, using 0.15")
		c.MLLearningRate = 0.15
	}

	// Log level validation
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("Invalid log level, using 'info'")
		c.LogLevel = "info"
	}

	// Proxy URL sanity. Full validation happens when the transport dials,
	// this just catches obvious configuration mistakes early.
	for _, proxyURL := range c.Proxies {
		if !strings.Contains(proxyURL, "://") {
			log.Error().
				Str("proxy", proxyURL).
				Msg("Proxy missing scheme (should be http://, https://, socks4://, or socks5://)")
			continue
		}
		scheme := strings.ToLower(strings.Split(proxyURL, "://")[0])
		validSchemes := map[string]bool{"http": true, "https": true, "socks4": true, "socks5": true}
		if !validSchemes[scheme] {
			log.Error().
				Str("proxy", proxyURL).
				Str("scheme", scheme).
				Msg("Proxy has invalid scheme (must be http, https, socks4, or socks5)")
		}
	}

	c.validateCaptchaConfig()

	// Signatures path validation
	if c.SignaturesPath != "" {
		if strings.Contains(c.SignaturesPath, "..") {
			log.Error().
				Str("path", c.SignaturesPath).
				Msg("SignaturesPath contains path traversal sequence (..), ignoring")
			c.SignaturesPath = ""
		} else if c.SignaturesHotReload {
			if _, err := os.Stat(c.SignaturesPath); os.IsNotExist(err) {
				log.Warn().
					Str("path", c.SignaturesPath).
					Msg("SignaturesPath does not exist - hot-reload will watch for file creation")
			}
		}
	}
	if c.SignaturesHotReload && c.SignaturesPath == "" {
		log.Warn().Msg("CLOUDSCRAPER_SIGNATURES_HOT_RELOAD enabled but CLOUDSCRAPER_SIGNATURES_PATH not set - hot-reload disabled")
		c.SignaturesHotReload = false
	}

	// Prometheus endpoint
	if c.PrometheusPort < 0 || c.PrometheusPort > 65535 {
		log.Warn().Int("port", c.PrometheusPort).Msg("Invalid Prometheus port, using default 8192")
		c.PrometheusPort = 8192
	}

	if c.PollInterval < 250*time.Millisecond {
		log.Warn().Dur("interval", c.PollInterval).Msg("Poll interval too short, using 1s")
		c.PollInterval = time.Second
	}
}

// validateCaptchaConfig validates CAPTCHA solver configuration.
func (c *Config) validateCaptchaConfig() {
	if c.CaptchaSolverTimeout < minSolverTimeout {
		log.Warn().
			Dur("timeout", c.CaptchaSolverTimeout).
			Dur("min", minSolverTimeout).
			Msg("Captcha solver timeout too short, using minimum")
		c.CaptchaSolverTimeout = minSolverTimeout
	} else if c.CaptchaSolverTimeout > maxSolverTimeout {
		log.Warn().
			Dur("timeout", c.CaptchaSolverTimeout).
			Dur("max", maxSolverTimeout).
			Msg("Captcha solver timeout too long, using maximum")
		c.CaptchaSolverTimeout = maxSolverTimeout
	}

	validProviders := map[string]bool{"2captcha": true, "capsolver": true, "chain": true}
	if c.CaptchaProvider != "" && !validProviders[strings.ToLower(c.CaptchaProvider)] {
		log.Warn().
			Str("provider", c.CaptchaProvider).
			Msg("Invalid captcha provider, disabling token solving")
		c.CaptchaProvider = ""
	}
	c.CaptchaProvider = strings.ToLower(c.CaptchaProvider)

	switch c.CaptchaProvider {
	case "2captcha":
		if c.Captcha2CaptchaAPIKey == "" {
			log.Warn().Msg("Captcha provider '2captcha' selected but TWOCAPTCHA_API_KEY is empty - turnstile challenges will fail")
		}
	case "capsolver":
		if c.CaptchaCapSolverAPIKey == "" {
			log.Warn().Msg("Captcha provider 'capsolver' selected but CAPSOLVER_API_KEY is empty - turnstile challenges will fail")
		}
	case "chain":
		if c.Captcha2CaptchaAPIKey == "" && c.CaptchaCapSolverAPIKey == "" {
			log.Warn().Msg("Captcha provider 'chain' selected but no provider API keys are set - turnstile challenges will fail")
		}
	}
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		floatValue, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return floatValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Float64("default", defaultValue).
			Msg("Invalid float in environment variable, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			if duration > 0 {
				return duration
			}
			log.Warn().
				Str("key", key).
				Str("value", value).
				Dur("default", defaultValue).
				Msg("Duration must be positive, using default")
			return defaultValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
