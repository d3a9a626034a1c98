package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		Timeout         time.Duration `yaml:"timeout"`          // Read/write timeout for ordinary requests
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // Grace period for in-flight requests on exit
		TLS             struct {
			Enabled bool     `yaml:"enabled"`
			CertDir string   `yaml:"cert_dir"` // Local CA and server certificate are generated here
			Hosts   []string `yaml:"hosts"`    // DNS names or IPs the server certificate covers
		} `yaml:"tls"`
	} `yaml:"server"`
	Database struct {
		DSN string `yaml:"dsn"` // Data Source Name (e.g., path for SQLite)
	} `yaml:"database"`
	Session struct {
		CookieName string        `yaml:"cookie_name"`
		MaxAge     time.Duration `yaml:"max_age"` // Idle sessions are dropped after this long
	} `yaml:"session"`
	Gemini struct {
		APIKey         string        `yaml:"api_key"`
		Model          string        `yaml:"model"`
		Temperature    float32       `yaml:"temperature"`
		PollInterval   time.Duration `yaml:"poll_interval"`   // Wait between upload status checks
		RequestTimeout time.Duration `yaml:"request_timeout"` // Upper bound for one background operation
	} `yaml:"gemini"`
	Storage struct {
		UploadDir   string `yaml:"upload_dir"`
		MaxUploadMB int64  `yaml:"max_upload_mb"`
	} `yaml:"storage"`
	Web struct {
		StaticDir string `yaml:"static_dir"`
	} `yaml:"web"`
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Server.Address = "127.0.0.1:8080"
	cfg.Server.Timeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 10 * time.Second
	cfg.Server.TLS.CertDir = "./data/certs"
	cfg.Server.TLS.Hosts = []string{"localhost", "127.0.0.1"}
	cfg.Database.DSN = "./data/vidlense.db"
	cfg.Session.CookieName = "vidlense_session"
	cfg.Session.MaxAge = 24 * time.Hour
	cfg.Gemini.Model = "gemini-2.5-flash"
	cfg.Gemini.Temperature = 0.5
	cfg.Gemini.PollInterval = 5 * time.Second
	cfg.Gemini.RequestTimeout = 15 * time.Minute
	cfg.Storage.UploadDir = "./data/uploads"
	cfg.Storage.MaxUploadMB = 2048
	cfg.Web.StaticDir = "./web/static"
	return cfg
}

// LoadConfig reads path over the defaults. A missing file means defaults.
// GEMINI_API_KEY, or else API_KEY, overrides the configured key.
func LoadConfig(path string) (*Config, error) {
	cfg := defaults()

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Use defaults if no config file
	default:
		return nil, err
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.Gemini.APIKey = key
	} else if key := os.Getenv("API_KEY"); key != "" {
		cfg.Gemini.APIKey = key
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Gemini.Temperature < 0 || c.Gemini.Temperature > 2 {
		return fmt.Errorf("gemini.temperature must be between 0 and 2, got %v", c.Gemini.Temperature)
	}
	if c.Gemini.PollInterval <= 0 {
		return fmt.Errorf("gemini.poll_interval must be positive")
	}
	if c.Gemini.RequestTimeout <= 0 {
		return fmt.Errorf("gemini.request_timeout must be positive")
	}
	if c.Storage.MaxUploadMB <= 0 {
		return fmt.Errorf("storage.max_upload_mb must be positive")
	}
	if c.Session.MaxAge <= 0 {
		return fmt.Errorf("session.max_age must be positive")
	}
	if c.Server.TLS.Enabled && len(c.Server.TLS.Hosts) == 0 {
		return fmt.Errorf("server.tls.hosts must list at least one host when tls is enabled")
	}
	return nil
}
