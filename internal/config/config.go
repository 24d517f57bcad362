package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// placeholderOrigin is the value shipped in the sample config.
const placeholderOrigin = "YOUR_HOME_AIRPORT"

// Config is the root configuration.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Trip        TripConfig        `yaml:"trip"`
	Preferences PreferencesConfig `yaml:"preferences"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Provider    ProviderConfig    `yaml:"provider"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Bloom       BloomConfig       `yaml:"bloom"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// TripConfig describes the trip being priced.
type TripConfig struct {
	Origin             string              `yaml:"origin"`
	Destinations       map[string][]string `yaml:"destinations"`
	OpenJaw            []OpenJawOption     `yaml:"open_jaw"`
	Window             WindowConfig        `yaml:"window"`
	TripDurationDays   int                 `yaml:"trip_duration_days"`
	Adults             int                 `yaml:"adults"`
	ItinerarySplitDays int                 `yaml:"itinerary_split_days"`
}

// OpenJawOption names the city flown into and the city flown home from.
type OpenJawOption struct {
	Inbound     string `yaml:"inbound"`
	Outbound    string `yaml:"outbound"`
	Description string `yaml:"description"`
}

// WindowConfig bounds the departure dates that get swept, inclusive.
type WindowConfig struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// AllAirports returns every destination airport across cities.
func (t TripConfig) AllAirports() []string {
	var out []string
	seen := make(map[string]bool)
	for _, city := range t.OpenJaw {
		for _, c := range []string{city.Inbound, city.Outbound} {
			for _, a := range t.Destinations[c] {
				if !seen[a] {
					seen[a] = true
					out = append(out, a)
				}
			}
		}
	}
	return out
}

// PreferencesConfig holds the travel-agent filtering rules.
type PreferencesConfig struct {
	NoRedEyes             bool          `yaml:"no_red_eyes"`
	RedEyeDepartureBefore string        `yaml:"red_eye_departure_before"`
	RedEyeArrivalAfter    string        `yaml:"red_eye_arrival_after"`
	NonstopRequired       bool          `yaml:"nonstop_required"`
	MaxStops              int           `yaml:"max_stops"`
	NonstopOnlyPairs      []AirportPair `yaml:"nonstop_only_pairs"`
}

// AirportPair is two airport groups; flights between them in either
// direction must be nonstop.
type AirportPair struct {
	A []string `yaml:"a"`
	B []string `yaml:"b"`
}

// AlertsConfig configures the drop threshold and alert destinations.
type AlertsConfig struct {
	PriceDropThreshold float64       `yaml:"price_drop_threshold"`
	Email              EmailConfig   `yaml:"email"`
	Slack              SlackConfig   `yaml:"slack"`
	Discord            DiscordConfig `yaml:"discord"`
	Webhook            WebhookConfig `yaml:"webhook"`
}

// Threshold returns the drop threshold as a decimal.
func (a AlertsConfig) Threshold() decimal.Decimal {
	return decimal.NewFromFloat(a.PriceDropThreshold)
}

// EmailConfig for SMTP alerts.
type EmailConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Server    string `yaml:"smtp_server"`
	Port      int    `yaml:"smtp_port"`
	Sender    string `yaml:"sender"`
	Password  string `yaml:"password"`
	Recipient string `yaml:"recipient"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ProviderConfig configures the flight-search API.
type ProviderConfig struct {
	Amadeus      AmadeusConfig `yaml:"amadeus"`
	Retry        RetryConfig   `yaml:"retry"`
	Combinations int           `yaml:"combinations"`
}

// AmadeusConfig holds Amadeus credentials. Env is "test" or "production".
type AmadeusConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Env       string `yaml:"env"`
	BaseURL   string `yaml:"base_url"` // overrides Env when set
}

// RetryConfig bounds provider retries.
type RetryConfig struct {
	MaxAttempts     int    `yaml:"max_attempts"`
	InitialInterval string `yaml:"initial_interval"`
	MaxInterval     string `yaml:"max_interval"`
}

// ParseInitialInterval returns the first backoff delay.
func (r RetryConfig) ParseInitialInterval() time.Duration {
	d, err := time.ParseDuration(r.InitialInterval)
	if err != nil {
		return time.Second
	}
	return d
}

// ParseMaxInterval returns the backoff ceiling.
func (r RetryConfig) ParseMaxInterval() time.Duration {
	d, err := time.ParseDuration(r.MaxInterval)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ScheduleConfig configures the daemon.
type ScheduleConfig struct {
	SweepInterval string `yaml:"sweep_interval"`
}

// ParseSweepInterval returns the sweep interval as time.Duration.
func (s ScheduleConfig) ParseSweepInterval() time.Duration {
	d, err := time.ParseDuration(s.SweepInterval)
	if err != nil {
		return 6 * time.Hour
	}
	return d
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// BloomConfig configures the cherry-blossom feed. City is the destination
// the bloom happens in.
type BloomConfig struct {
	Enabled bool   `yaml:"enabled"`
	FeedURL string `yaml:"feed_url"`
	City    string `yaml:"city"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./farewatch.db"},
		Trip: TripConfig{
			Origin: placeholderOrigin,
			Destinations: map[string][]string{
				"washington_dc": {"IAD", "DCA"},
				"new_york":      {"JFK", "LGA", "EWR"},
			},
			OpenJaw: []OpenJawOption{
				{Inbound: "washington_dc", Outbound: "new_york", Description: "Fly into DC, home from NYC"},
				{Inbound: "new_york", Outbound: "washington_dc", Description: "Fly into NYC, home from DC"},
			},
			Window:             WindowConfig{Start: "2026-04-03", End: "2026-04-06"},
			TripDurationDays:   6,
			Adults:             1,
			ItinerarySplitDays: 3,
		},
		Preferences: PreferencesConfig{
			NoRedEyes:             true,
			RedEyeDepartureBefore: "07:00",
			RedEyeArrivalAfter:    "22:00",
			NonstopRequired:       true,
			MaxStops:              0,
			NonstopOnlyPairs: []AirportPair{
				{A: []string{"IAD", "DCA"}, B: []string{"JFK", "LGA", "EWR"}},
			},
		},
		Alerts: AlertsConfig{
			PriceDropThreshold: 10,
			Email:              EmailConfig{Server: "smtp.gmail.com", Port: 587},
		},
		Provider: ProviderConfig{
			Amadeus: AmadeusConfig{Env: "test"},
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: "1s",
				MaxInterval:     "30s",
			},
			Combinations: 10,
		},
		Schedule: ScheduleConfig{SweepInterval: "6h"},
		Server:   ServerConfig{Port: 8080},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Bloom: BloomConfig{
			Enabled: false,
			FeedURL: "https://www.nps.gov/feeds/getNewsRSS.htm?id=cherryblossoms",
			City:    "washington_dc",
		},
	}
}

// Load reads configuration from a YAML file, loads .env if present, and
// applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// A missing .env is fine; real environment variables take precedence.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Validate checks the settings a sweep cannot run without.
func (c *Config) Validate() error {
	var errs []error
	switch c.Trip.Origin {
	case "":
		errs = append(errs, errors.New("trip.origin is required"))
	case placeholderOrigin:
		errs = append(errs, errors.New("trip.origin still has the placeholder value, set your home airport (e.g. LAX, SFO, ORD)"))
	}

	start, serr := time.Parse("2006-01-02", c.Trip.Window.Start)
	end, eerr := time.Parse("2006-01-02", c.Trip.Window.End)
	switch {
	case c.Trip.Window.Start == "" || c.Trip.Window.End == "":
		errs = append(errs, errors.New("trip.window needs start and end"))
	case serr != nil:
		errs = append(errs, fmt.Errorf("trip.window.start: %w", serr))
	case eerr != nil:
		errs = append(errs, fmt.Errorf("trip.window.end: %w", eerr))
	case end.Before(start):
		errs = append(errs, fmt.Errorf("trip.window.end %s is before start %s", c.Trip.Window.End, c.Trip.Window.Start))
	}

	if c.Trip.TripDurationDays < 0 {
		errs = append(errs, fmt.Errorf("trip.trip_duration_days must be >= 0, got %d", c.Trip.TripDurationDays))
	}
	if len(c.Trip.OpenJaw) == 0 {
		errs = append(errs, errors.New("trip.open_jaw needs at least one option"))
	}
	for _, o := range c.Trip.OpenJaw {
		for _, city := range []string{o.Inbound, o.Outbound} {
			if len(c.Trip.Destinations[city]) == 0 {
				errs = append(errs, fmt.Errorf("trip.destinations has no airports for %q", city))
			}
		}
	}
	if c.Alerts.PriceDropThreshold < 0 {
		errs = append(errs, fmt.Errorf("alerts.price_drop_threshold must be >= 0, got %v", c.Alerts.PriceDropThreshold))
	}
	return errors.Join(errs...)
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FAREWATCH_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("FAREWATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AMADEUS_API_KEY"); v != "" {
		cfg.Provider.Amadeus.APIKey = v
	}
	if v := os.Getenv("AMADEUS_API_SECRET"); v != "" {
		cfg.Provider.Amadeus.APISecret = v
	}
	if v := os.Getenv("AMADEUS_ENV"); v != "" {
		cfg.Provider.Amadeus.Env = v
	}
	if v := os.Getenv("SMTP_SERVER"); v != "" {
		cfg.Alerts.Email.Server = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Alerts.Email.Port = port
		}
	}
	if v := os.Getenv("SENDER_EMAIL"); v != "" {
		cfg.Alerts.Email.Sender = v
	}
	if v := os.Getenv("SENDER_PASSWORD"); v != "" {
		cfg.Alerts.Email.Password = v
	}
	if v := os.Getenv("RECIPIENT_EMAIL"); v != "" {
		cfg.Alerts.Email.Recipient = v
	}
	if cfg.Alerts.Email.Sender != "" && cfg.Alerts.Email.Password != "" && cfg.Alerts.Email.Recipient != "" {
		cfg.Alerts.Email.Enabled = true
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
}
