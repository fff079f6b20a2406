package main

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DBPath string `yaml:"db_path"`

	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	AnalysisModel   string `yaml:"analysis_model"`

	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannelID string `yaml:"slack_channel_id"`

	DetectionIntervalMinutes int     `yaml:"detection_interval_minutes"`
	MinSampleSize            int     `yaml:"min_sample_size"`
	MinStrength              float64 `yaml:"min_strength"`
	SignificanceRatio        float64 `yaml:"significance_ratio"`
	AnalysisTimeoutSeconds   int     `yaml:"analysis_timeout_seconds"`
	AnalysisMaxSamples       int     `yaml:"analysis_max_samples"`
	StopWordsPath            string  `yaml:"stop_words_path"`

	WeeklyMaintenanceCron  string `yaml:"weekly_maintenance_cron"`
	DailyMaintenanceCron   string `yaml:"daily_maintenance_cron"`
	MonthlyMaintenanceCron string `yaml:"monthly_maintenance_cron"`

	Timezone string `yaml:"timezone"`
}

func LoadConfig() Config {
	var cfg Config

	// Load from config.yaml if it exists
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.AnalysisModel, "ANALYSIS_MODEL")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")
	envOverrideInt(&cfg.DetectionIntervalMinutes, "DETECTION_INTERVAL_MINUTES")
	envOverrideInt(&cfg.MinSampleSize, "MIN_SAMPLE_SIZE")
	envOverrideFloat(&cfg.MinStrength, "MIN_STRENGTH")
	envOverrideFloat(&cfg.SignificanceRatio, "SIGNIFICANCE_RATIO")
	envOverrideInt(&cfg.AnalysisTimeoutSeconds, "ANALYSIS_TIMEOUT_SECONDS")
	envOverrideInt(&cfg.AnalysisMaxSamples, "ANALYSIS_MAX_SAMPLES")
	envOverride(&cfg.StopWordsPath, "STOP_WORDS_PATH")
	envOverride(&cfg.WeeklyMaintenanceCron, "WEEKLY_MAINTENANCE_CRON")
	envOverride(&cfg.DailyMaintenanceCron, "DAILY_MAINTENANCE_CRON")
	envOverride(&cfg.MonthlyMaintenanceCron, "MONTHLY_MAINTENANCE_CRON")
	envOverride(&cfg.Timezone, "TIMEZONE")

	// Defaults
	if cfg.DBPath == "" {
		cfg.DBPath = "./patternminer.db"
	}
	if cfg.DetectionIntervalMinutes == 0 {
		cfg.DetectionIntervalMinutes = 360
	}
	if cfg.MinSampleSize == 0 {
		cfg.MinSampleSize = 10
	}
	if cfg.MinStrength == 0 {
		cfg.MinStrength = defaultMinStrength
	}
	if cfg.SignificanceRatio == 0 {
		cfg.SignificanceRatio = defaultSignificanceRatio
	}
	if cfg.AnalysisTimeoutSeconds == 0 {
		cfg.AnalysisTimeoutSeconds = 60
	}
	if cfg.AnalysisMaxSamples == 0 {
		cfg.AnalysisMaxSamples = 20
	}
	if cfg.WeeklyMaintenanceCron == "" {
		cfg.WeeklyMaintenanceCron = "0 3 * * 0" // Sunday 03:00
	}
	if cfg.DailyMaintenanceCron == "" {
		cfg.DailyMaintenanceCron = "30 2 * * *"
	}
	if cfg.MonthlyMaintenanceCron == "" {
		cfg.MonthlyMaintenanceCron = "0 4 1 * *" // 1st of the month, 04:00
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}

	if cfg.AnthropicAPIKey == "" {
		log.Println("anthropic_api_key not set: AI-delegated analysis disabled, heuristics still run")
	}

	if cfg.MinSampleSize < 1 {
		log.Fatalf("invalid min_sample_size '%d': must be >= 1", cfg.MinSampleSize)
	}
	if cfg.MinStrength < 0 || cfg.MinStrength > 1 {
		log.Fatalf("invalid min_strength '%f': must be between 0 and 1", cfg.MinStrength)
	}
	if cfg.SignificanceRatio < 1 {
		log.Fatalf("invalid significance_ratio '%f': must be >= 1", cfg.SignificanceRatio)
	}
	if cfg.AnalysisTimeoutSeconds < 1 {
		log.Fatalf("invalid analysis_timeout_seconds '%d': must be >= 1", cfg.AnalysisTimeoutSeconds)
	}
	if cfg.AnalysisMaxSamples < 1 {
		log.Fatalf("invalid analysis_max_samples '%d': must be >= 1", cfg.AnalysisMaxSamples)
	}

	if cfg.Timezone != "Local" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Fatalf("invalid timezone '%s': %v", cfg.Timezone, err)
		}
		time.Local = loc
	}

	return cfg
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideFloat(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}
