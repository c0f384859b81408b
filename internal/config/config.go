package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const secretEnvVar = "AUTH_SECRET"

// MinSecretLength is the shortest signing secret we accept, in bytes.
const MinSecretLength = 16

// AuthConfig is everything the session layer needs. Both the edge gate and the full server
// are built from the same value, so a token minted by one verifies in the other.
type AuthConfig struct {
	Secret   string `toml:"secret"`
	Lifetime int    `toml:"lifetime"`

	LoginPath string `toml:"login_path"`
	HomePath  string `toml:"home_path"`
	APIPrefix string `toml:"api_prefix"`

	// Case-insensitive regex matched against the request path
	StaticAssetPattern string `toml:"static_asset_pattern"`

	// Paths that are never gated at all. A trailing * is a prefix match, a leading * a suffix match
	ExcludedPaths []string `toml:"excluded_paths"`

	Cookie struct {
		Name   string `toml:"name"`
		Domain string `toml:"domain"`
		Secure bool   `toml:"secure"`
	} `toml:"cookie"`
}

type RedisConfig struct {
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
}

type Config struct {
	ListenPort int    `toml:"port"`
	BaseURL    string `toml:"base_url"`

	Auth AuthConfig `toml:"auth"`

	Store struct {
		Driver     string      `toml:"driver"`
		SQLitePath string      `toml:"sqlite_path"`
		Redis      RedisConfig `toml:"redis"`
	} `toml:"store"`

	Password struct {
		Algorithm  string `toml:"algorithm"`
		BcryptCost int    `toml:"bcrypt_cost"`

		Argon2 struct {
			Memory      uint32 `toml:"memory"`
			Time        uint32 `toml:"time"`
			Parallelism uint8  `toml:"parallelism"`
		} `toml:"argon2"`
	} `toml:"password"`

	OIDC struct {
		RedirectURL                string `toml:"redirect_url"`
		IssuerURL                  string `toml:"issuer_url"`
		IssuerDiscoveryOverrideURL string `toml:"issuer_discovery_override_url"`
		ClientID                   string `toml:"client_id"`
		ClientSecret               string `toml:"client_secret"`

		AdditionalScopes []string `toml:"additional_scopes"`

		// Emails allowed to sign in through SSO. Supports *@example.com. Empty = anyone with a user record
		EmailAllowlist []string `toml:"email_allow_list"`
	} `toml:"oidc"`

	Metrics struct {
		// Blank disables the metrics listener
		Listen string `toml:"listen"`
	} `toml:"metrics"`

	// Set when no secret was supplied and one was generated at startup
	SecretGenerated bool `toml:"-"`
}

// TOML marshaller doesn't override fields that weren't set in the TOML, so we can apply defaults here
func (c *Config) setDefaults() {
	c.ListenPort = 8080

	c.Auth.Lifetime = 60 * 60 * 24 * 30 // 30 days
	c.Auth.LoginPath = "/login"
	c.Auth.HomePath = "/"
	c.Auth.APIPrefix = "/api"
	c.Auth.StaticAssetPattern = DefaultStaticAssetPattern
	c.Auth.ExcludedPaths = []string{"/_next*", "/favicon.ico"}

	c.Auth.Cookie.Name = "_gatehouse_session"
	c.Auth.Cookie.Secure = true

	c.Store.Driver = "sqlite"
	c.Store.SQLitePath = "gatehouse.db"
	c.Store.Redis.Addr = "localhost:6379"
	c.Store.Redis.KeyPrefix = "gatehouse"

	c.Password.Algorithm = "bcrypt"
	c.Password.BcryptCost = 10
	c.Password.Argon2.Memory = 64 * 1024
	c.Password.Argon2.Time = 3
	c.Password.Argon2.Parallelism = 2
}

const DefaultStaticAssetPattern = `(?i)\.(?:svg|png|jpg|jpeg|gif|webp|ico|css|js|woff2?|ttf|eot|mp4|webm)$`

// Default returns a config with every default applied and nothing loaded.
func Default() *Config {
	conf := new(Config)
	conf.setDefaults()
	return conf
}

// OIDCEnabled reports whether enough of the OIDC section was filled in to offer SSO.
func (c *Config) OIDCEnabled() bool {
	return c.OIDC.IssuerURL != "" && c.OIDC.ClientID != ""
}

func (c *Config) applyEnv() {
	if secret, ok := os.LookupEnv(secretEnvVar); ok && secret != "" {
		c.Auth.Secret = secret
	}
}

// Validate checks the config and fills in values derived from others.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("please supply base_url")
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")

	if err := c.Auth.Validate(); err != nil {
		return err
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path must be set for the sqlite driver")
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			return errors.New("store.redis.addr must be set for the redis driver")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid store driver supplied (%s), valid drivers are \"sqlite\", \"redis\" and \"memory\"", c.Store.Driver)
	}

	switch c.Password.Algorithm {
	case "bcrypt", "argon2id":
	default:
		return fmt.Errorf("invalid password algorithm supplied (%s), valid algorithms are \"bcrypt\" and \"argon2id\"", c.Password.Algorithm)
	}

	if c.OIDCEnabled() {
		if c.OIDC.ClientSecret == "" {
			return errors.New("your OIDC config is insufficient. Please supply the following: client_id, client_secret, issuer_url")
		}
		if c.OIDC.RedirectURL == "" {
			c.OIDC.RedirectURL = c.BaseURL + c.Auth.APIPrefix + "/auth/callback"
		}
	}

	return nil
}

// Validate checks only the shared session settings, which is all the edge gate loads.
func (a *AuthConfig) Validate() error {
	if len(a.Secret) < MinSecretLength {
		return fmt.Errorf("auth.secret was less than %d characters. Please supply a long, random secret", MinSecretLength)
	}
	if a.Lifetime <= 0 {
		return errors.New("auth.lifetime must be a positive number of seconds")
	}
	for name, p := range map[string]string{"login_path": a.LoginPath, "home_path": a.HomePath, "api_prefix": a.APIPrefix} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("auth.%s must start with /, got %q", name, p)
		}
	}
	if strings.TrimRight(a.APIPrefix, "/") == "" {
		return errors.New("auth.api_prefix can't be /, or every path would skip the gate")
	}
	if a.LoginPath == a.HomePath {
		return errors.New("auth.login_path and auth.home_path must differ, or logged in users would loop")
	}
	if a.Cookie.Name == "" {
		return errors.New("auth.cookie.name must not be empty")
	}
	return nil
}

func generateSecret() (string, error) {
	buff := make([]byte, 32)
	if _, err := rand.Read(buff); err != nil {
		return "", err
	}
	return base64.RawStdEncoding.EncodeToString(buff), nil
}

// Load reads a TOML config file, applies defaults and environment overrides, and validates it.
func Load(filepath string) (*Config, error) {
	file, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}

	return Parse(file)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	conf := Default()

	if err := toml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("couldn't parse config: %w", err)
	}

	conf.applyEnv()

	if len(conf.Auth.Secret) == 0 {
		log.Printf("No auth secret was provided, randomly generating one...")
		secret, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to generate random auth secret: %w", err)
		}

		conf.Auth.Secret = secret
		conf.SecretGenerated = true
		log.Printf("Note: because your auth secret was randomly generated, if gatehouse restarts, or you run an edge gate alongside it, users will get logged out.")
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return conf, nil
}
