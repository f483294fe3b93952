package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
		// Mode is the gin mode: release, debug or test.
		Mode string
	}
	Database struct {
		Path string
	}
	Log struct {
		Level string
	}
	Session struct {
		Driver string
		Secret string
		Name   string
		MaxAge int
		Secure bool
	}
	Password struct {
		Scheme     string
		Rounds     int
		BcryptCost int
	}
	Bootstrap struct {
		TeacherPassword string
		StudentPassword string
	}
	Static struct {
		Dir string
	}
	Avatars struct {
		// Driver selects where uploads go: local or s3.
		Driver    string
		Dir       string
		URLPrefix string
		MaxBytes  int
	}
	Storage struct {
		Bucket        string
		KeyPrefix     string
		Region        string
		Endpoint      string
		PublicBaseURL string
	}
	AWS struct {
		Profile string
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	// .env never overrides variables already present in the environment
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("SPEAKROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0:8000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.path", "data/app.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("session.driver", "cookie")
	v.SetDefault("session.secret", "")
	v.SetDefault("session.name", "speakroom_session")
	v.SetDefault("session.maxage", 0)
	v.SetDefault("session.secure", false)
	v.SetDefault("password.scheme", "pbkdf2-sha256")
	v.SetDefault("password.rounds", 29000)
	v.SetDefault("password.bcryptcost", 10)
	v.SetDefault("bootstrap.teacherpassword", "teacher123")
	v.SetDefault("bootstrap.studentpassword", "student123")
	v.SetDefault("static.dir", "static")
	v.SetDefault("avatars.driver", "local")
	v.SetDefault("avatars.dir", "static/uploads/avatars")
	v.SetDefault("avatars.urlprefix", "/static/uploads/avatars")
	v.SetDefault("avatars.maxbytes", 2_500_000)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "avatars")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.publicbaseurl", "")
	v.SetDefault("aws.profile", "")
}

func (c Config) validate() error {
	switch c.Avatars.Driver {
	case "local":
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage bucket is required for the s3 avatar driver")
		}
	default:
		return fmt.Errorf("unknown avatars driver %q", c.Avatars.Driver)
	}
	if c.Avatars.MaxBytes <= 0 {
		return fmt.Errorf("avatars max bytes must be positive")
	}
	return nil
}
