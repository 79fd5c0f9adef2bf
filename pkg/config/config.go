// Package config loads retrocms settings from a YAML file, RETROCMS_
// environment variables and command line flags, in increasing priority.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"retrocms/pkg/errors"
	"retrocms/pkg/models"
	"retrocms/pkg/remote"
	"retrocms/pkg/services"
	"retrocms/pkg/storage"
)

// EnvPrefix prefixes every environment override, e.g. RETROCMS_REMOTE_DSN
const EnvPrefix = "RETROCMS"

// Remote drivers
const (
	DriverNone     = "none"
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config holds application configuration
type Config struct {
	HTTP    HTTPConfig          `mapstructure:"http"`
	Storage StorageConfig       `mapstructure:"storage"`
	Remote  RemoteConfig        `mapstructure:"remote"`
	Blob    BlobConfig          `mapstructure:"blob"`
	Upload  models.UploadLimits `mapstructure:"upload"`
	Admin   AdminConfig         `mapstructure:"admin"`
	Log     LogConfig           `mapstructure:"log"`
}

// HTTPConfig configures the admin API server
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	SecureCookies   bool          `mapstructure:"secureCookies"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

// StorageConfig configures the local cache
type StorageConfig struct {
	Path string       `mapstructure:"path"`
	Keys storage.Keys `mapstructure:"keys"`
}

// RemoteConfig selects and configures the remote store
type RemoteConfig struct {
	Driver        string `mapstructure:"driver"`
	DSN           string `mapstructure:"dsn"`
	remote.Config `mapstructure:",squash"`
}

// BlobConfig configures uploaded file storage
type BlobConfig struct {
	Dir           string `mapstructure:"dir"`
	PublicBaseURL string `mapstructure:"publicBaseURL"`
}

// AdminConfig configures the admin account
type AdminConfig struct {
	User         string               `mapstructure:"user"`
	PasswordHash string               `mapstructure:"passwordHash"`
	SessionTTL   time.Duration        `mapstructure:"sessionTTL"`
	Login        services.LoginLimits `mapstructure:"login"`
}

// LogConfig configures logging
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	keys := storage.DefaultKeys()
	rc := remote.DefaultConfig()
	limits := models.DefaultUploadLimits()
	login := services.DefaultLoginLimits()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.secureCookies", false)
	v.SetDefault("http.shutdownTimeout", 10*time.Second)
	v.SetDefault("storage.path", "data/retrocms.db")
	v.SetDefault("storage.keys.photos", keys.Photos)
	v.SetDefault("storage.keys.headerImages", keys.HeaderImages)
	v.SetDefault("storage.keys.adminAuth", keys.AdminAuth)
	v.SetDefault("remote.driver", DriverMemory)
	v.SetDefault("remote.dsn", "")
	v.SetDefault("remote.photosPath", rc.PhotosPath)
	v.SetDefault("remote.headerImagesPath", rc.HeaderImagesPath)
	v.SetDefault("remote.blobPrefix", rc.BlobPrefix)
	v.SetDefault("blob.dir", "data/blobs")
	v.SetDefault("blob.publicBaseURL", "http://localhost:8080")
	v.SetDefault("upload.maxFileSize", limits.MaxFileSize)
	v.SetDefault("upload.allowedMimeTypes", limits.AllowedMimeTypes)
	v.SetDefault("upload.maxFilesPerUpload", limits.MaxFilesPerUpload)
	v.SetDefault("admin.user", "admin")
	v.SetDefault("admin.passwordHash", "")
	v.SetDefault("admin.sessionTTL", 30*time.Minute)
	v.SetDefault("admin.login.every", login.Every)
	v.SetDefault("admin.login.burst", login.Burst)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// flagKeys maps command line flags to configuration keys
var flagKeys = map[string]string{
	"addr":          "http.addr",
	"data":          "storage.path",
	"remote-driver": "remote.driver",
	"remote-dsn":    "remote.dsn",
	"blob-dir":      "blob.dir",
	"log-level":     "log.level",
	"dev":           "log.development",
}

// RegisterFlags adds the configuration flags to fs
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "path to a YAML configuration file")
	fs.String("addr", "", "HTTP listen address")
	fs.String("data", "", "path of the local cache database")
	fs.String("remote-driver", "", "remote store driver: none, memory or postgres")
	fs.String("remote-dsn", "", "PostgreSQL connection string for the postgres driver")
	fs.String("blob-dir", "", "directory holding uploaded photo files")
	fs.String("log-level", "", "log level: debug, info, warn or error")
	fs.Bool("dev", false, "use the development logger")
}

// Loader reads the configuration and can watch its file
type Loader struct {
	v *viper.Viper
}

// NewLoader builds a loader. path may be empty; flags may be nil. Only flags
// the user actually set override file and environment values.
func NewLoader(path string, flags *pflag.FlagSet) (*Loader, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if path == "" {
			path, _ = flags.GetString("config")
		}
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.ErrConfigLoadFailed.WithCause(err).WithContext("path", path)
		}
	}
	return &Loader{v: v}, nil
}

// Load is NewLoader followed by Config
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	l, err := NewLoader(path, flags)
	if err != nil {
		return nil, err
	}
	return l.Config()
}

// File returns the configuration file in use, empty when there is none
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}

// Config decodes and validates the current settings
func (l *Loader) Config() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, errors.ErrConfigLoadFailed.WithCause(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that cannot be defaulted
func (c *Config) Validate() error {
	var problems []string

	driver := strings.ToLower(strings.TrimSpace(c.Remote.Driver))
	if !slices.Contains([]string{DriverNone, DriverMemory, DriverPostgres}, driver) {
		problems = append(problems, fmt.Sprintf("remote.driver: unknown driver %q", c.Remote.Driver))
	}
	c.Remote.Driver = driver
	if driver == DriverPostgres && c.Remote.DSN == "" {
		problems = append(problems, "remote.dsn: required for the postgres driver")
	}
	if c.Storage.Path == "" {
		problems = append(problems, "storage.path: required")
	}
	if c.Upload.MaxFileSize <= 0 {
		problems = append(problems, "upload.maxFileSize: must be positive")
	}
	if c.Upload.MaxFilesPerUpload <= 0 {
		problems = append(problems, "upload.maxFilesPerUpload: must be positive")
	}
	if c.Admin.SessionTTL <= 0 {
		problems = append(problems, "admin.sessionTTL: must be positive")
	}

	if len(problems) > 0 {
		return errors.New(errors.ErrTypeConfig, "CONFIG_INVALID", strings.Join(problems, "; ")).
			WithUserMessage("Configuration is invalid")
	}
	return nil
}
