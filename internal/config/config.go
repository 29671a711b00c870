package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models desk.yml.
type Config struct {
	Workspace  WorkspaceConfig          `yaml:"workspace"`
	Agendas    map[string]AgendaProfile `yaml:"agendas"`
	Email      EmailConfig              `yaml:"email"`
	Trending   TrendingConfig           `yaml:"trending"`
	Tasks      TasksConfig              `yaml:"tasks"`
	Colleagues ColleaguesConfig         `yaml:"colleagues"`
	Pages      PagesConfig              `yaml:"pages"`
	LLM        LLMConfig                `yaml:"llm"`
	Lock       LockConfig               `yaml:"lock"`
}

type WorkspaceConfig struct {
	BaseURL string        `yaml:"base_url"`
	Version string        `yaml:"version"`
	Timeout time.Duration `yaml:"timeout"`
}

// AgendaProfile describes one agenda data source and how it is rendered.
type AgendaProfile struct {
	DataSourceID      string `yaml:"data_source_id"`
	Subject           string `yaml:"subject"`
	FlagColumn        string `yaml:"flag_column"`
	ItemColumn        string `yaml:"item_column"`
	DescriptionColumn string `yaml:"description_column"`
	PersonColumn      string `yaml:"person_column"`
	Sort              string `yaml:"sort"`
	Heading           string `yaml:"heading"`
}

type EmailConfig struct {
	Endpoint     string `yaml:"endpoint"`
	From         string `yaml:"from"`
	ReplyTo      string `yaml:"reply_to"`
	OnFailure    string `yaml:"on_failure"`
	TemplatePath string `yaml:"template_path"`
	EscapeHTML   *bool  `yaml:"escape_html"`
}

type TrendingConfig struct {
	FeedURL        string `yaml:"feed_url"`
	Language       string `yaml:"language"`
	SpokenLanguage string `yaml:"spoken_language"`
	Period         string `yaml:"period"`
	Limit          int    `yaml:"limit"`
	IconHost       string `yaml:"icon_host"`
	DataSourceID   string `yaml:"data_source_id"`
	OnWriteFailure string `yaml:"on_write_failure"`
	Columns        struct {
		Title      string `yaml:"title"`
		URL        string `yaml:"url"`
		StarsToday string `yaml:"stars_today"`
		TotalStars string `yaml:"total_stars"`
		Date       string `yaml:"date"`
	} `yaml:"columns"`
}

type TasksConfig struct {
	DataSourceID string `yaml:"data_source_id"`
	DoneStatus   string `yaml:"done_status"`
	Columns      struct {
		Date        string `yaml:"date"`
		Status      string `yaml:"status"`
		Priority    string `yaml:"priority"`
		Description string `yaml:"description"`
		Formula     string `yaml:"formula"`
	} `yaml:"columns"`
}

type ColleaguesConfig struct {
	DataSourceID string `yaml:"data_source_id"`
	Columns      struct {
		Name     string `yaml:"name"`
		JobTitle string `yaml:"job_title"`
		Email    string `yaml:"email"`
	} `yaml:"columns"`
}

type PagesConfig struct {
	DataSourceID    string `yaml:"data_source_id"`
	DefaultCategory string `yaml:"default_category"`
}

type LLMConfig struct {
	Endpoint     string   `yaml:"endpoint"`
	DefaultModel string   `yaml:"default_model"`
	Models       []string `yaml:"models"`
	Temperature  float64  `yaml:"temperature"`
	MaxTokens    int      `yaml:"max_tokens"`
	SystemPrompt string   `yaml:"system_prompt"`
}

type LockConfig struct {
	Backend   string        `yaml:"backend"`
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
	TTL       time.Duration `yaml:"ttl"`
}

const (
	FailureAbort   = "abort"
	FailureIsolate = "isolate"

	SortPersonItem = "person_item"
	SortItem       = "item"

	LockSQLite = "sqlite"
	LockRedis  = "redis"
	LockNone   = "none"
)

// ErrUnknownProfile is returned for an agenda profile not in the config.
var ErrUnknownProfile = errors.New("unknown agenda profile")

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with desk init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Agendas) == 0 {
		return fmt.Errorf("config.agendas must define at least one profile")
	}
	for name, p := range c.Agendas {
		if name == "" {
			return fmt.Errorf("config.agendas contains empty profile name")
		}
		if p.FlagColumn == "" {
			return fmt.Errorf("agenda %s: flag_column is required", name)
		}
		switch p.Sort {
		case SortPersonItem, SortItem:
		default:
			return fmt.Errorf("agenda %s: sort must be %s or %s", name, SortPersonItem, SortItem)
		}
		switch p.Heading {
		case "h1", "h2", "h3", "h4":
		default:
			return fmt.Errorf("agenda %s: heading must be one of h1-h4", name)
		}
	}
	if err := validFailureMode("email.on_failure", c.Email.OnFailure); err != nil {
		return err
	}
	if err := validFailureMode("trending.on_write_failure", c.Trending.OnWriteFailure); err != nil {
		return err
	}
	if c.Trending.Limit < 0 {
		return fmt.Errorf("config.trending.limit must not be negative")
	}
	if c.LLM.MaxTokens < 0 {
		return fmt.Errorf("config.llm.max_tokens must not be negative")
	}
	switch c.Lock.Backend {
	case LockSQLite, LockNone:
	case LockRedis:
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("config.lock.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config.lock.backend must be sqlite, redis or none")
	}
	if c.Lock.TTL <= 0 {
		return fmt.Errorf("config.lock.ttl must be positive")
	}
	return nil
}

func validFailureMode(field, v string) error {
	if v == FailureAbort || v == FailureIsolate {
		return nil
	}
	return fmt.Errorf("config.%s must be %s or %s", field, FailureAbort, FailureIsolate)
}

// ShouldEscape reports whether agenda fields are escaped before substitution.
func (e EmailConfig) ShouldEscape() bool {
	return e.EscapeHTML == nil || *e.EscapeHTML
}

// Profile looks up a named agenda profile.
func (c *Config) Profile(name string) (AgendaProfile, error) {
	p, ok := c.Agendas[name]
	if !ok {
		return AgendaProfile{}, fmt.Errorf("%w %q (known: %s)", ErrUnknownProfile, name, strings.Join(c.ProfileNames(), ", "))
	}
	return p, nil
}

func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Agendas))
	for n := range c.Agendas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "desk.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(expandEnv(defaultTemplate))).Decode(&cfg)
	cfg.applyDefaults()
	return &cfg
}

// FromYAML expands ${VAR} references, parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	// yaml.v3 merges into existing maps; profiles come from the file alone.
	defaults := cfg.Agendas
	cfg.Agendas = nil
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Agendas == nil {
		cfg.Agendas = defaults
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// expandEnv substitutes ${VAR} references. Unset variables become empty.
func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}

func (c *Config) applyDefaults() {
	for name, p := range c.Agendas {
		if p.ItemColumn == "" {
			p.ItemColumn = "Agenda Item"
		}
		if p.DescriptionColumn == "" {
			p.DescriptionColumn = "Brief Description"
		}
		if p.PersonColumn == "" {
			p.PersonColumn = "Person"
		}
		if p.Sort == "" {
			p.Sort = SortPersonItem
		}
		if p.Heading == "" {
			p.Heading = "h3"
		}
		if p.Subject == "" {
			p.Subject = "Meeting Agenda"
		}
		c.Agendas[name] = p
	}
	if c.Email.OnFailure == "" {
		c.Email.OnFailure = FailureAbort
	}
	if c.Trending.OnWriteFailure == "" {
		c.Trending.OnWriteFailure = FailureAbort
	}
	if c.Lock.Backend == "" {
		c.Lock.Backend = LockSQLite
	}
	if c.Lock.TTL == 0 {
		c.Lock.TTL = 10 * time.Minute
	}
	if c.Workspace.Timeout == 0 {
		c.Workspace.Timeout = 30 * time.Second
	}
}

const defaultTemplate = `workspace:
  base_url: https://api.notion.com
  version: "2025-09-03"
  timeout: 30s

agendas:
  partners:
    data_source_id: ${PARTNERS_AGENDA_ID}
    subject: "Partners' Meeting Agenda"
    flag_column: Completed
    sort: person_item
    heading: h3
  team:
    data_source_id: ${TEAM_AGENDA_ID}
    subject: "Team Meeting Agenda"
    flag_column: Discussed
    sort: item
    heading: h3

email:
  endpoint: https://api.resend.com/emails
  from: hello@attribut.me
  reply_to: jan.duplessis@nhs.net
  on_failure: abort
  template_path: ""
  escape_html: true

trending:
  feed_url: https://api.gitterapp.com/repositories
  language: go
  spoken_language: ""
  period: daily
  limit: 20
  icon_host: github.com
  data_source_id: ${TRENDING_DB_ID}
  on_write_failure: abort
  columns:
    title: Name
    url: URL
    stars_today: Stars Today
    total_stars: Total Stars
    date: Date

tasks:
  data_source_id: ${TASKS_DB_ID}
  done_status: Done
  columns:
    date: Date
    status: Status
    priority: Priority
    description: Task
    formula: Formula

colleagues:
  data_source_id: ${COLLEAGUES_DB_ID}
  columns:
    name: Name
    job_title: Job Title
    email: Email

pages:
  data_source_id: ${PAGES_DB_ID}
  default_category: General

llm:
  endpoint: https://api.groq.com/openai/v1
  default_model: openai/gpt-oss-120b
  models:
    - moonshotai/kimi-k2-instruct-0905
    - meta-llama/llama-4-maverick-17b-128e-instruct
    - qwen/qwen3-32b
    - openai/gpt-oss-120b
    - groq/compound-mini
    - groq/compound
  temperature: 0.7
  max_tokens: 4096
  system_prompt: ""

lock:
  backend: sqlite
  redis_addr: ""
  redis_db: 0
  ttl: 10m
`
