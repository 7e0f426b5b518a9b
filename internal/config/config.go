package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"dashboard_cards/internal/model"
)

// Card types.
const (
	TypeTemperatureComparison = "temperature-comparison"
	TypeChangedetectionList   = "changedetection-list"
)

// Card defaults, matching the dashboard cards they back.
const (
	DefaultComparisonTitle   = "Temperature Comparison (7 days)"
	DefaultRefreshInterval   = 60 * 60 * 1000 // ms
	DefaultWeight            = 1.0
	DefaultPriceListTitle    = "Changedetection items"
	DefaultMaxPrices         = 10
	DefaultPollInterval      = 5000 // ms
	MinPollInterval          = 1000 // ms, the scheduler's resolution
	DefaultAddr              = ":8080"
	DefaultFetchTimeout      = 30 * time.Second
	DefaultStatesPoll        = 30 * time.Second
	DefaultStatestreamPrefix = "homeassistant"
)

// Config holds all application configuration.
type Config struct {
	LogLevel      string        `yaml:"log_level"`
	Server        Server        `yaml:"server"`
	HomeAssistant HomeAssistant `yaml:"home_assistant"`
	MQTT          MQTT          `yaml:"mqtt"`
	Recorder      Recorder      `yaml:"recorder"`
	Cards         []CardSpec    `yaml:"cards"`
}

type Server struct {
	Addr string `yaml:"addr"`
}

type HomeAssistant struct {
	URL          string        `yaml:"url"`
	Token        string        `yaml:"token"`
	Websocket    *bool         `yaml:"websocket"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	// PollInterval is how often states are polled over REST when neither
	// the websocket nor MQTT pushes them.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// WebsocketEnabled defaults to true when a token is configured.
func (h HomeAssistant) WebsocketEnabled() bool {
	if h.Websocket != nil {
		return *h.Websocket
	}
	return h.URL != "" && h.Token != ""
}

type MQTT struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Recorder configures the in-memory history used when Home Assistant's
// history API is not reachable.
type Recorder struct {
	SeedCSV string `yaml:"seed_csv"`
}

// CardSpec is a card entry as written in the config file. Pointer fields
// distinguish "unset" from zero values so defaults apply per field.
type CardSpec struct {
	ID    string  `yaml:"id"`
	Type  string  `yaml:"type"`
	Title *string `yaml:"title"`

	// temperature-comparison
	Entities        []string `yaml:"entities"`
	RefreshInterval *int     `yaml:"refresh_interval"`
	Weight          *float64 `yaml:"weight_outdoor_correction"`
	FallbackToLive  *bool    `yaml:"fallback_to_live"`

	// changedetection-list
	Entity         *string `yaml:"entity"`
	MaxPrices      *int    `yaml:"max_prices_per_product"`
	ShowLatestOnly *bool   `yaml:"show_latest_only"`
	PollInterval   *int    `yaml:"poll_interval"`
}

// Load reads .env and the YAML file at path, then applies environment
// overrides and defaults. A missing file yields a config built from the
// environment alone.
func Load(path string) (*Config, error) {
	// existing environment wins over .env
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("ignoring unreadable .env")
	}

	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("HA_URL"); v != "" {
		cfg.HomeAssistant.URL = v
	}
	if v := os.Getenv("HA_TOKEN"); v != "" {
		cfg.HomeAssistant.Token = v
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Parse decodes a YAML document without touching the environment.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	c.HomeAssistant.URL = strings.TrimRight(c.HomeAssistant.URL, "/")
	if c.HomeAssistant.FetchTimeout == 0 {
		c.HomeAssistant.FetchTimeout = DefaultFetchTimeout
	}
	if c.HomeAssistant.PollInterval == 0 {
		c.HomeAssistant.PollInterval = DefaultStatesPoll
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = DefaultStatestreamPrefix
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "dashboard-cards"
	}
}

// Validate checks the service settings and every card.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.HomeAssistant.FetchTimeout < 0 {
		return fmt.Errorf("home_assistant.fetch_timeout must be positive")
	}
	if c.HomeAssistant.PollInterval < MinPollInterval*time.Millisecond {
		return fmt.Errorf("home_assistant.poll_interval must be at least 1s, got %s", c.HomeAssistant.PollInterval)
	}
	if len(c.Cards) == 0 {
		return fmt.Errorf("cards: at least one card is required")
	}
	seen := make(map[string]bool, len(c.Cards))
	for i, spec := range c.Cards {
		if spec.ID == "" {
			return fmt.Errorf("cards[%d]: id is required", i)
		}
		if seen[spec.ID] {
			return fmt.Errorf("cards[%d]: duplicate id %q", i, spec.ID)
		}
		seen[spec.ID] = true

		var err error
		switch spec.Type {
		case TypeTemperatureComparison:
			_, err = spec.Comparison()
		case TypeChangedetectionList:
			_, err = spec.PriceList()
		default:
			err = fmt.Errorf("unknown type %q", spec.Type)
		}
		if err != nil {
			return fmt.Errorf("cards[%d] (%s): %w", i, spec.ID, err)
		}
	}
	return nil
}

// ComparisonEntities returns the sorted, de-duplicated entities read by the
// temperature comparison cards.
func (c *Config) ComparisonEntities() []string {
	seen := make(map[string]bool)
	for _, spec := range c.Cards {
		if spec.Type != TypeTemperatureComparison {
			continue
		}
		for _, id := range spec.Entities {
			if id = strings.TrimSpace(id); id != "" {
				seen[id] = true
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Comparison is the resolved, immutable configuration of a temperature
// comparison card.
type Comparison struct {
	ID              string
	Title           string
	InsideNow       string
	InsideLastYear  string
	OutsideNow      string
	OutsideLastYear string
	RefreshInterval time.Duration
	Weight          float64
	FallbackToLive  bool
}

// Comparison resolves the spec into a comparison card config.
func (s CardSpec) Comparison() (Comparison, error) {
	if len(s.Entities) != 4 {
		return Comparison{}, fmt.Errorf("provide entities: [inside_now, inside_last_year, outside_now, outside_last_year], got %d", len(s.Entities))
	}
	for i, e := range s.Entities {
		if strings.TrimSpace(e) == "" {
			return Comparison{}, fmt.Errorf("entities[%d] is empty", i)
		}
	}

	c := Comparison{
		ID:              s.ID,
		Title:           DefaultComparisonTitle,
		InsideNow:       s.Entities[0],
		InsideLastYear:  s.Entities[1],
		OutsideNow:      s.Entities[2],
		OutsideLastYear: s.Entities[3],
		RefreshInterval: DefaultRefreshInterval * time.Millisecond,
		Weight:          DefaultWeight,
		FallbackToLive:  true,
	}
	if s.Title != nil {
		c.Title = *s.Title
	}
	if s.RefreshInterval != nil {
		if *s.RefreshInterval <= 0 {
			return Comparison{}, fmt.Errorf("refresh_interval must be positive, got %d", *s.RefreshInterval)
		}
		c.RefreshInterval = time.Duration(*s.RefreshInterval) * time.Millisecond
	}
	if s.Weight != nil {
		if math.IsNaN(*s.Weight) || math.IsInf(*s.Weight, 0) {
			return Comparison{}, fmt.Errorf("weight_outdoor_correction must be finite")
		}
		c.Weight = *s.Weight
	}
	if s.FallbackToLive != nil {
		c.FallbackToLive = *s.FallbackToLive
	}
	return c, nil
}

// PriceList is the resolved, immutable configuration of a changedetection
// list card.
type PriceList struct {
	ID             string
	Title          string
	Entity         string
	MaxPrices      int
	ShowLatestOnly bool
	PollInterval   time.Duration
}

// PriceList resolves the spec into a list card config.
func (s CardSpec) PriceList() (PriceList, error) {
	c := PriceList{
		ID:           s.ID,
		Title:        DefaultPriceListTitle,
		Entity:       model.DefaultChangedetectionEntity,
		MaxPrices:    DefaultMaxPrices,
		PollInterval: DefaultPollInterval * time.Millisecond,
	}
	if s.Title != nil && *s.Title != "" {
		c.Title = *s.Title
	}
	if s.Entity != nil {
		if strings.TrimSpace(*s.Entity) == "" {
			return PriceList{}, fmt.Errorf("entity must not be empty")
		}
		c.Entity = *s.Entity
	}
	if s.MaxPrices != nil {
		if *s.MaxPrices <= 0 {
			return PriceList{}, fmt.Errorf("max_prices_per_product must be positive, got %d", *s.MaxPrices)
		}
		c.MaxPrices = *s.MaxPrices
	}
	if s.ShowLatestOnly != nil {
		c.ShowLatestOnly = *s.ShowLatestOnly
	}
	if s.PollInterval != nil {
		if *s.PollInterval < MinPollInterval {
			return PriceList{}, fmt.Errorf("poll_interval must be at least %d ms, got %d", MinPollInterval, *s.PollInterval)
		}
		c.PollInterval = time.Duration(*s.PollInterval) * time.Millisecond
	}
	return c, nil
}
