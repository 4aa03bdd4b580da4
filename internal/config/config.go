// Package config loads process configuration from the environment.
// The service table is assembled from SERVICE_<NAME>_* variables; everything
// else has a flat key with a sensible default. An optional .env file in the
// working directory is merged in before parsing, which keeps local
// development setups out of shell profiles.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultRunsPerUser caps concurrent submitted jobs per (user, service) cell
// when SERVICE_<NAME>_RUNS_PER_USER is not set.
const DefaultRunsPerUser = 5

// DefaultMaxAge is how long an artifact directory may sit on disk before the
// janitor removes it: 10 days, expressed in seconds like the MAX_AGE variable.
const DefaultMaxAge = 864000 * time.Second

// Adapter kinds accepted by SERVICE_<NAME>_ADAPTER.
const (
	AdapterJobd   = "jobd"
	AdapterClient = "client"
)

// Service describes one configured destination service.
type Service struct {
	Name        string
	UploadURL   string
	DownloadURL string
	RunsPerUser uint
	// Adapter selects the destination adapter variant for this service:
	// "jobd" (base64 JSON, the legacy default) or "client" (multipart streaming).
	Adapter string
}

// Config is the process-wide configuration. It is read once at startup and
// shared read-only afterwards.
type Config struct {
	// DataPath is the artifact root: one directory per job or payload.
	DataPath string
	// DBPath is the data source handed to the metadata store driver: the
	// SQLite file path by default, or the connection string when the
	// postgres driver is selected.
	DBPath string
	// MaxAge is the artifact age after which the janitor cleans a directory.
	MaxAge time.Duration
	// Services maps the lower-cased service key to its configuration.
	Services map[string]Service

	// GetterParallelism bounds concurrent downloads per getter tick.
	GetterParallelism int
	// SendInterval, GetInterval and RunInterval pace the sender, getter and
	// runner tasks; CleanInterval paces the janitor.
	SendInterval  time.Duration
	GetInterval   time.Duration
	RunInterval   time.Duration
	CleanInterval time.Duration
}

// Load builds a Config from the current environment. A .env file is merged
// in first when present; real environment variables win over file entries.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DataPath:          EnvOrDefault("DATA_PATH", "./data"),
		DBPath:            EnvOrDefault("DB_PATH", "./db.sqlite"),
		MaxAge:            DefaultMaxAge,
		Services:          map[string]Service{},
		GetterParallelism: 10,
		SendInterval:      500 * time.Millisecond,
		GetInterval:       500 * time.Millisecond,
		RunInterval:       500 * time.Millisecond,
		CleanInterval:     60 * time.Second,
	}

	if raw := os.Getenv("MAX_AGE"); raw != "" {
		secs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || secs < 0 {
			return nil, fmt.Errorf("config: invalid MAX_AGE %q: must be a non-negative number of seconds", raw)
		}
		cfg.MaxAge = time.Duration(secs) * time.Second
	}

	services, err := parseServices(os.Environ())
	if err != nil {
		return nil, err
	}
	cfg.Services = services

	return cfg, nil
}

// Service returns the configuration for a service key, folding the key to
// lower case. The second return reports whether the service is configured.
func (c *Config) Service(name string) (Service, bool) {
	s, ok := c.Services[strings.ToLower(name)]
	return s, ok
}

// parseServices assembles the service table from SERVICE_<NAME>_UPLOAD_URL,
// SERVICE_<NAME>_DOWNLOAD_URL, SERVICE_<NAME>_RUNS_PER_USER and
// SERVICE_<NAME>_ADAPTER entries. <NAME> is folded to lower case as the
// service key. A service missing either URL is rejected rather than silently
// half-configured.
func parseServices(environ []string) (map[string]Service, error) {
	services := map[string]Service{}

	get := func(name string) *Service {
		key := strings.ToLower(name)
		s, ok := services[key]
		if !ok {
			s = Service{Name: key, RunsPerUser: DefaultRunsPerUser, Adapter: AdapterJobd}
		}
		services[key] = s
		// map values are not addressable; callers re-store through set.
		stored := services[key]
		return &stored
	}
	set := func(name string, s *Service) { services[strings.ToLower(name)] = *s }

	for _, entry := range environ {
		if !strings.HasPrefix(entry, "SERVICE_") {
			continue
		}
		eq := strings.Index(entry, "=")
		if eq < 0 {
			continue
		}
		key, value := entry[:eq], entry[eq+1:]

		switch {
		case strings.HasSuffix(key, "_UPLOAD_URL"):
			name := strings.TrimSuffix(strings.TrimPrefix(key, "SERVICE_"), "_UPLOAD_URL")
			s := get(name)
			s.UploadURL = value
			set(name, s)
		case strings.HasSuffix(key, "_DOWNLOAD_URL"):
			name := strings.TrimSuffix(strings.TrimPrefix(key, "SERVICE_"), "_DOWNLOAD_URL")
			s := get(name)
			s.DownloadURL = value
			set(name, s)
		case strings.HasSuffix(key, "_RUNS_PER_USER"):
			name := strings.TrimSuffix(strings.TrimPrefix(key, "SERVICE_"), "_RUNS_PER_USER")
			n, err := strconv.ParseUint(value, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("config: invalid %s=%q: must be an unsigned integer", key, value)
			}
			s := get(name)
			s.RunsPerUser = uint(n)
			set(name, s)
		case strings.HasSuffix(key, "_ADAPTER"):
			name := strings.TrimSuffix(strings.TrimPrefix(key, "SERVICE_"), "_ADAPTER")
			adapter := strings.ToLower(value)
			if adapter != AdapterJobd && adapter != AdapterClient {
				return nil, fmt.Errorf("config: invalid %s=%q: use %q or %q", key, value, AdapterJobd, AdapterClient)
			}
			s := get(name)
			s.Adapter = adapter
			set(name, s)
		}
	}

	for key, s := range services {
		if s.UploadURL == "" || s.DownloadURL == "" {
			return nil, fmt.Errorf("config: service %q needs both SERVICE_%s_UPLOAD_URL and SERVICE_%s_DOWNLOAD_URL",
				key, strings.ToUpper(key), strings.ToUpper(key))
		}
	}

	return services, nil
}

// EnvOrDefault returns the environment value for key, or defaultVal when the
// variable is unset or empty.
func EnvOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
