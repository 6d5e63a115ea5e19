package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config carries everything the binary needs: service wiring, the safety
// policy, and quota defaults. Loaded once at startup, read-only afterwards.
type Config struct {
	AppEnv      string
	AppName     string
	LogLevel    string
	MetricsPort string

	RedisHost         string
	RedisPort         string
	RedisPassword     string
	RedisDB           int
	RedisPoolSize     int
	RedisMinIdleConns int
	RedisMaxRetries   int

	ClassifierEndpoint string
	PublisherEndpoint  string
	ClamdAddress       string // empty disables the malware pre-scan
	FFmpegPath         string
	FFprobePath        string
	DraftsDir          string
	WorkDir            string

	TickCron   string
	MaxPerTick int

	// Safety policy thresholds.
	PolicyPorn             float64
	PolicyHentai           float64
	PolicySexy             float64
	PolicyNeutralFloor     float64
	PolicySkinRatioAutoFix float64
	PolicyMaxSeconds       float64
	PolicyTargetFPS        float64
	PolicyNormalizeLUFS    float64
	PolicyProfanityBlock   bool
	PolicyRejectIncomplete bool

	// Quota defaults, overridable per profile.
	QuotaDayCap  int
	QuotaHourCap int
	QuotaGapMin  int

	// Optional expr program computing a trend's niche-fit multiplier.
	TrendNicheExpr string
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		AppName:            getEnv("APP_NAME", "clipgate"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		MetricsPort:        getEnv("METRICS_PORT", "9090"),
		RedisHost:          getEnv("REDIS_HOST", "localhost"),
		RedisPort:          getEnv("REDIS_PORT", "6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		ClassifierEndpoint: getEnv("CLASSIFIER_ENDPOINT", "http://localhost:8501/classify"),
		PublisherEndpoint:  getEnv("PUBLISHER_ENDPOINT", "http://localhost:8080/schedule"),
		ClamdAddress:       os.Getenv("CLAMD_ADDRESS"),
		FFmpegPath:         getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:        getEnv("FFPROBE_PATH", "ffprobe"),
		DraftsDir:          getEnv("DRAFTS_DIR", "./drafts"),
		WorkDir:            getEnv("WORK_DIR", os.TempDir()),
		TickCron:           getEnv("TICK_CRON", "*/5 * * * *"),
		TrendNicheExpr:     os.Getenv("TREND_NICHE_EXPR"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RedisPoolSize, err = getEnvInt("REDIS_POOL_SIZE", 10); err != nil {
		return nil, err
	}
	if cfg.RedisMinIdleConns, err = getEnvInt("REDIS_MIN_IDLE_CONNS", 2); err != nil {
		return nil, err
	}
	if cfg.RedisMaxRetries, err = getEnvInt("REDIS_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.MaxPerTick, err = getEnvInt("MAX_PER_TICK", 4); err != nil {
		return nil, err
	}

	if cfg.PolicyPorn, err = getEnvFloat("POLICY_PORN", 0.85); err != nil {
		return nil, err
	}
	if cfg.PolicyHentai, err = getEnvFloat("POLICY_HENTAI", 0.85); err != nil {
		return nil, err
	}
	if cfg.PolicySexy, err = getEnvFloat("POLICY_SEXY", 0.70); err != nil {
		return nil, err
	}
	if cfg.PolicyNeutralFloor, err = getEnvFloat("POLICY_NEUTRAL_FLOOR", 0.20); err != nil {
		return nil, err
	}
	if cfg.PolicySkinRatioAutoFix, err = getEnvFloat("POLICY_SKIN_RATIO_AUTOFIX", 0.45); err != nil {
		return nil, err
	}
	if cfg.PolicyMaxSeconds, err = getEnvFloat("POLICY_MAX_SECONDS", 60); err != nil {
		return nil, err
	}
	if cfg.PolicyTargetFPS, err = getEnvFloat("POLICY_TARGET_FPS", 30); err != nil {
		return nil, err
	}
	if cfg.PolicyNormalizeLUFS, err = getEnvFloat("POLICY_NORMALIZE_LUFS", -14); err != nil {
		return nil, err
	}
	cfg.PolicyProfanityBlock = getEnvBool("POLICY_PROFANITY_BLOCK", false)
	cfg.PolicyRejectIncomplete = getEnvBool("POLICY_REJECT_INCOMPLETE", false)

	if cfg.QuotaDayCap, err = getEnvInt("QUOTA_DAY_CAP", 8); err != nil {
		return nil, err
	}
	if cfg.QuotaHourCap, err = getEnvInt("QUOTA_HOUR_CAP", 2); err != nil {
		return nil, err
	}
	if cfg.QuotaGapMin, err = getEnvInt("QUOTA_GAP_MIN", 30); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes"
}
