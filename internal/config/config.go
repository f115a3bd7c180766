// Package config loads formsheet configuration from a YAML file and
// FORMSHEET_* environment variables on top of built-in defaults.
//
// Precedence, lowest first: Default, file, environment, command-line flags
// (applied by the cli package).
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/formsheet/internal/auth"
	"github.com/roach88/formsheet/internal/checkpoint"
	"github.com/roach88/formsheet/internal/da"
	"github.com/roach88/formsheet/internal/emails"
	"github.com/roach88/formsheet/internal/events"
	"github.com/roach88/formsheet/internal/forms"
	"github.com/roach88/formsheet/internal/journal"
	"github.com/roach88/formsheet/internal/processor"
)

// DefaultTokenURL is the IMS client-credentials endpoint.
const DefaultTokenURL = "https://ims-na1.adobelogin.com/ims/token/v3"

// Config is the full configuration.
type Config struct {
	Log        Log        `yaml:"log"`
	Journal    Journal    `yaml:"journal"`
	Events     Events     `yaml:"events"`
	Auth       Auth       `yaml:"auth"`
	DA         DA         `yaml:"da"`
	Checkpoint Checkpoint `yaml:"checkpoint"`
	Processor  Processor  `yaml:"processor"`
	Emails     Emails     `yaml:"emails"`
	Server     Server     `yaml:"server"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Journal struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"apiKey"`
	OrgID     string `yaml:"orgId"`
	PageLimit int    `yaml:"pageLimit"`
	MaxPages  int    `yaml:"maxPages"`
}

type Events struct {
	IngressURL string `yaml:"ingressUrl"`
	ProviderID string `yaml:"providerId"`
	APIKey     string `yaml:"apiKey"`
}

// Auth configures the bearer token shared by the journal, the ingress
// and the document store. A static Token wins over client credentials.
type Auth struct {
	TokenURL     string `yaml:"tokenUrl"`
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret"`
	Scopes       string `yaml:"scopes"`
	Token        string `yaml:"token"`
}

type DA struct {
	BaseURL string `yaml:"baseUrl"`
	Org     string `yaml:"org"`
	Site    string `yaml:"site"`
	// Token overrides Auth for the document store.
	Token string `yaml:"token"`
}

type Checkpoint struct {
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	Key           string `yaml:"key"`
}

type Processor struct {
	IncomingRoot string `yaml:"incomingRoot"`
	// LedgerPath enables the merged-submission ledger when set.
	LedgerPath string `yaml:"ledgerPath"`
}

type Emails struct {
	APIURL string `yaml:"apiUrl"`
	Token  string `yaml:"token"`
}

type Server struct {
	Addr            string   `yaml:"addr"`
	MaxPayloadBytes int      `yaml:"maxPayloadBytes"`
	AllowedForms    []string `yaml:"allowedForms"`
	// Schemas is a CUE file or directory; empty disables schema checks.
	Schemas string `yaml:"schemas"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Log:     Log{Level: "info", Format: "text"},
		Journal: Journal{MaxPages: journal.DefaultMaxPages},
		Events:  Events{IngressURL: events.DefaultIngressURL},
		Auth:    Auth{TokenURL: DefaultTokenURL},
		DA:      DA{BaseURL: da.DefaultBaseURL},
		Checkpoint: Checkpoint{
			Backend: checkpoint.BackendSQLite,
			Path:    "formsheet.db",
			Key:     checkpoint.DefaultKey,
		},
		Processor: Processor{IncomingRoot: processor.DefaultIncomingRoot},
		Emails:    Emails{APIURL: emails.DefaultAPIURL},
		Server:    Server{Addr: ":8080", MaxPayloadBytes: forms.DefaultMaxPayloadBytes},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: must be text or json, got %q", c.Log.Format)
	}
	switch c.Checkpoint.Backend {
	case checkpoint.BackendSQLite, checkpoint.BackendPebble:
		if c.Checkpoint.Path == "" {
			return fmt.Errorf("checkpoint.path is required for the %s backend", c.Checkpoint.Backend)
		}
	case checkpoint.BackendRedis:
		if c.Checkpoint.RedisAddr == "" {
			return errors.New("checkpoint.redisAddr is required for the redis backend")
		}
	case checkpoint.BackendMemory:
	default:
		return fmt.Errorf("checkpoint.backend: unknown backend %q", c.Checkpoint.Backend)
	}
	if c.Journal.MaxPages < 1 {
		return fmt.Errorf("journal.maxPages must be positive, got %d", c.Journal.MaxPages)
	}
	if c.Journal.PageLimit < 0 {
		return fmt.Errorf("journal.pageLimit must not be negative, got %d", c.Journal.PageLimit)
	}
	if c.Server.MaxPayloadBytes < 1 {
		return fmt.Errorf("server.maxPayloadBytes must be positive, got %d", c.Server.MaxPayloadBytes)
	}
	for _, pattern := range c.Server.AllowedForms {
		if strings.TrimSpace(pattern) == "" {
			return errors.New("server.allowedForms: empty pattern")
		}
	}
	return nil
}

// TokenSource returns the token source for Auth: the static token when set,
// a client-credentials cache when a client id is set, nil otherwise.
func (a Auth) TokenSource() auth.TokenSource {
	switch {
	case a.Token != "":
		return auth.Static(a.Token)
	case a.ClientID != "":
		return auth.NewCache(auth.Credentials{
			TokenURL:     a.TokenURL,
			ClientID:     a.ClientID,
			ClientSecret: a.ClientSecret,
			Scopes:       a.Scopes,
		})
	default:
		return nil
	}
}
