package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// File is the on-disk configuration layout. JSON files are accepted as well
// since the decoder reads YAML.
type File struct {
	BaseURL     string   `yaml:"base_url"`
	Headless    *bool    `yaml:"headless"`
	Renderer    string   `yaml:"renderer"`
	MaxPages    int      `yaml:"pages"`
	Workers     int      `yaml:"workers"`
	ReparseDays *int     `yaml:"reparse_days"`
	IntervalMin int      `yaml:"interval_minutes"`
	TimeoutSec  int      `yaml:"timeout_seconds"`
	RequestRate *float64 `yaml:"request_rate"`

	Search struct {
		MaxPrice       int      `yaml:"max_price"`
		Rooms          []int    `yaml:"rooms"`
		MinArea        int      `yaml:"min_area"`
		BuildYearMin   int      `yaml:"build_year_min"`
		Market         string   `yaml:"market"`
		SortStrategies []string `yaml:"sort_strategies"`
	} `yaml:"search"`

	Commute struct {
		Destinations []string       `yaml:"destinations"`
		Thresholds   map[string]int `yaml:"thresholds"`
		Weekday      string         `yaml:"weekday"`
		Time         string         `yaml:"time"`
		Timezone     string         `yaml:"timezone"`
	} `yaml:"commute"`
}

// Load builds a Config from defaults, the optional file at path, a .env file
// in the working directory and the process environment, in that order.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("reading .env", slog.Any("error", err))
	}

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Info("config file not found, using defaults", slog.String("path", path))
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			var f File
			if err := yaml.Unmarshal(data, &f); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
			if err := cfg.ApplyFile(f); err != nil {
				return nil, fmt.Errorf("apply config %s: %w", path, err)
			}
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyFile overlays the non-zero values of f.
func (c *Config) ApplyFile(f File) error {
	if f.BaseURL != "" {
		c.BaseURL = f.BaseURL
	}
	if f.Headless != nil {
		c.Headless = *f.Headless
	}
	if f.Renderer != "" {
		c.Renderer = strings.ToLower(f.Renderer)
	}
	if f.MaxPages > 0 {
		c.MaxPages = f.MaxPages
	}
	if f.Workers > 0 {
		c.Workers = f.Workers
	}
	if f.ReparseDays != nil {
		c.ReparseAfter = time.Duration(*f.ReparseDays) * 24 * time.Hour
	}
	if f.IntervalMin > 0 {
		c.Interval = time.Duration(f.IntervalMin) * time.Minute
	}
	if f.TimeoutSec > 0 {
		c.Timeout = time.Duration(f.TimeoutSec) * time.Second
	}
	if f.RequestRate != nil {
		c.RequestRate = *f.RequestRate
	}

	c.Search.MaxPrice = f.Search.MaxPrice
	c.Search.Rooms = f.Search.Rooms
	c.Search.MinArea = f.Search.MinArea
	c.Search.BuildYearMin = f.Search.BuildYearMin
	if f.Search.Market != "" {
		c.Search.Market = Market(strings.ToLower(f.Search.Market))
	}
	if len(f.Search.SortStrategies) > 0 {
		c.Search.SortStrategies = f.Search.SortStrategies
	}

	if len(f.Commute.Destinations) > 0 {
		c.Commute.Destinations = c.Commute.Destinations[:0]
		for _, label := range f.Commute.Destinations {
			d := Destination{Label: strings.TrimSpace(label)}
			if limit, ok := f.Commute.Thresholds[label]; ok {
				d.MaxMinutes = &limit
			}
			c.Commute.Destinations = append(c.Commute.Destinations, d)
		}
	}
	for label := range f.Commute.Thresholds {
		if !containsLabel(f.Commute.Destinations, label) {
			return fmt.Errorf("threshold for unknown destination %q", label)
		}
	}
	if f.Commute.Weekday != "" {
		day, err := ParseWeekday(f.Commute.Weekday)
		if err != nil {
			return err
		}
		c.Commute.Weekday = day
	}
	if f.Commute.Time != "" {
		c.Commute.DepartAt = f.Commute.Time
	}
	if f.Commute.Timezone != "" {
		c.Commute.Timezone = f.Commute.Timezone
	}
	return nil
}

// ApplyEnv overlays secrets and deployment settings from the environment.
func (c *Config) ApplyEnv() error {
	if v, ok := EnvString("DATABASE_URL"); ok {
		c.DatabaseURL = v
		c.Store = "postgres"
	}
	if v, ok := EnvString("OTODOM_STORE"); ok {
		c.Store = strings.ToLower(v)
	}
	if v, ok := EnvString("OPENAI_API_KEY"); ok {
		c.OpenAIKey = v
	}
	if v, ok := EnvString("OPENAI_MODEL"); ok {
		c.OpenAIModel = v
	}
	if v, ok := EnvString("GOOGLE_MAPS_API_KEY"); ok {
		c.GoogleMapsKey = v
	}
	if v, ok := EnvString("TELEGRAM_TOKEN"); ok {
		c.TelegramToken = v
	}
	if v, ok := EnvString("TELEGRAM_CHAT_IDS"); ok {
		c.TelegramChatIDs = v
	} else if v, ok := EnvString("TELEGRAM_CHAT_ID"); ok {
		c.TelegramChatIDs = v
	}
	if v, ok := EnvString("PHOTO_DIR"); ok {
		c.PhotoDir = v
	}
	if v, ok := EnvString("PHOTO_BUCKET"); ok {
		c.PhotoBucket = v
	}
	if v, ok := EnvString("S3_ENDPOINT"); ok {
		c.S3Endpoint = v
	}
	if v, ok := EnvString("S3_REGION"); ok {
		c.S3Region = v
	}
	if v, ok := EnvString("S3_ACCESS_KEY"); ok {
		c.S3AccessKey = v
	}
	if v, ok := EnvString("S3_SECRET_KEY"); ok {
		c.S3SecretKey = v
	}
	if v, ok := EnvString("OTODOM_METRICS_ADDR"); ok {
		c.MetricsAddr = v
	}
	if v, ok := EnvString("OTODOM_REPORT"); ok {
		c.ReportFile = v
	}
	if v, ok, err := EnvInt("OTODOM_PAGES"); err != nil {
		return fmt.Errorf("invalid OTODOM_PAGES: %w", err)
	} else if ok {
		c.MaxPages = v
	}
	if v, ok, err := EnvInt("OTODOM_WORKERS"); err != nil {
		return fmt.Errorf("invalid OTODOM_WORKERS: %w", err)
	} else if ok {
		c.Workers = v
	}
	if v, ok, err := EnvBool("OTODOM_HEADLESS"); err != nil {
		return fmt.Errorf("invalid OTODOM_HEADLESS: %w", err)
	} else if ok {
		c.Headless = v
	}
	return nil
}

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", false
	}
	return v, true
}

// EnvInt parses key as an integer when it is set.
func EnvInt(key string) (int, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// EnvBool parses key as a boolean when it is set.
func EnvBool(key string) (bool, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	switch strings.ToLower(v) {
	case "1", "true", "t", "yes", "y", "on":
		return true, true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, true, nil
	}
	return false, false, fmt.Errorf("not a boolean: %q", v)
}

// ParseWeekday accepts English day names and their three-letter forms.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

func containsLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}
