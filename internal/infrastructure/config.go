package infra

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix env prefix for viper
const EnvPrefix = "COURSEPROG"

// runtime environments
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// storage backends
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendMySQL    = "mysql"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// AppConfig App option object
type AppConfig struct {
	AppID          string        `mapstructure:"app_id" json:"app_id" yaml:"app_id" validate:"required"`            // Application ID
	Host           string        `mapstructure:"host" json:"host" yaml:"host"`                                      // bind host address
	Port           int           `mapstructure:"port" json:"port" yaml:"port" validate:"min=1,max=65535"`           // bind listen port
	Env            string        `mapstructure:"env" json:"env" yaml:"env" validate:"oneof=development production"` // runtime environment
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout" yaml:"request_timeout"`
	Catalog        struct {
		Path string `mapstructure:"path" json:"path" yaml:"path" validate:"required"` // course catalog file, json or yaml
	} `mapstructure:"catalog" json:"catalog" yaml:"catalog"`
	Storage struct {
		Backend    string `mapstructure:"backend" json:"backend" yaml:"backend" validate:"oneof=memory file redis mysql postgres sqlite"`
		KeyPrefix  string `mapstructure:"key_prefix" json:"key_prefix" yaml:"key_prefix" validate:"required"`    // progress key is <key_prefix>:<learner>
		MaxBackups int    `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups" validate:"min=1"`    // backup entries kept per learner
		Dir        string `mapstructure:"dir" json:"dir" yaml:"dir"`                                            // file backend directory
		Table      string `mapstructure:"table" json:"table" yaml:"table" validate:"required"`                  // sql backend table
		Quota      int    `mapstructure:"quota" json:"quota" yaml:"quota" validate:"min=0"`                     // memory backend byte quota, 0 is unbounded
	} `mapstructure:"storage" json:"storage" yaml:"storage"`
	Database struct {
		Driver   string `mapstructure:"driver" json:"driver" yaml:"driver"`                                          // driver name
		Host     string `mapstructure:"host" json:"host" yaml:"host"`                                                // server host
		MaxConn  int32  `mapstructure:"maxconn" json:"maxconn" yaml:"maxconn" validate:"min=1"`                      // maximum opening connections number
		Password string `mapstructure:"password" json:"-" yaml:"password"`                                           // db password
		Port     int    `mapstructure:"port" json:"port" yaml:"port"`                                                // server port
		Protocol string `mapstructure:"protocol" json:"protocol" yaml:"protocol" validate:"omitempty,oneof=tcp udp"` // connection protocol, eg.tcp
		Query    string `mapstructure:"query" json:"query" yaml:"query"`                                             // DSN query parameter
		Schema   string `mapstructure:"schema" json:"schema" yaml:"schema"`                                          // schema, or file path for sqlite
		User     string `mapstructure:"username" json:"username" yaml:"username"`                                    // db username
	} `mapstructure:"database" json:"database" yaml:"database"`
	Logging struct {
		FilePath string `mapstructure:"file_path" json:"file_path" yaml:"file_path"`                            // log file path
		Level    string `mapstructure:"level" json:"level" yaml:"level" validate:"oneof=debug info warn error"` // global logging level
	} `mapstructure:"logging" json:"logging" yaml:"logging"`
	KVStore struct {
		Host     string `mapstructure:"host" json:"host" yaml:"host"` // bind host address
		Port     int    `mapstructure:"port" json:"port" yaml:"port"` // bind listen port
		Password string `mapstructure:"password" json:"-" yaml:"password"`
		DB       int    `mapstructure:"db" json:"db" yaml:"db" validate:"min=0"`
	} `mapstructure:"kv" json:"kv" yaml:"kv"`
	DevOP struct {
		APM bool `mapstructure:"apm" json:"apm" yaml:"apm"`
	} `mapstructure:"devop" json:"devop" yaml:"devop"`
}

// InitConfig init app config from .env, command line flags and environment
func InitConfig() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return LoadConfig(os.Args[1:])
}

// LoadConfig parse args and COURSEPROG_* variables into a validated config
func LoadConfig(args []string) (*AppConfig, error) {
	flags := pflag.NewFlagSet("course-progress", pflag.ContinueOnError)

	// app
	flags.String("host", "", "binding address")
	flags.String("app_id", "", "application identifier (required)")
	flags.String("env", EnvDevelopment, "runtime environment, can be 'development' or 'production'")
	flags.Int("port", 8081, "listening port")
	flags.Duration("request_timeout", 10*time.Second, "request timeout(m, s and h units are supported), eg.10s")

	// catalog
	flags.String("catalog.path", "", "course catalog file, .json or .yaml (required)")

	// storage
	flags.String("storage.backend", BackendMemory, "progress backend, one of memory, file, redis, mysql, postgres, sqlite")
	flags.String("storage.key_prefix", "progress", "prefix of per-learner progress keys")
	flags.Int("storage.max_backups", 3, "backup entries kept per learner")
	flags.String("storage.dir", "data", "directory used by the file backend")
	flags.String("storage.table", "course_progress", "table used by the sql backends")
	flags.Int("storage.quota", 0, "byte quota of the memory backend, 0 is unbounded")

	// database
	flags.String("database.driver", "", "database driver, defaults to the storage backend")
	flags.String("database.host", "127.0.0.1", "database host")
	flags.Int("database.port", 3306, "database server port")
	flags.String("database.protocol", "", "connection protocol(if mysql is used, this flag must be set), eg.tcp")
	flags.String("database.username", "", "database username")
	flags.String("database.password", "", "database password")
	flags.String("database.schema", "", "database schema, or the database file for sqlite")
	flags.String("database.query", "", `additional DSN query parameters('?' is auto prefixed)`)
	flags.Int32("database.maxconn", 20, "max connection count")

	// logging
	flags.String("logging.level", "info", "logging level")
	flags.String("logging.file_path", "", "log to file")

	// kv storage
	flags.String("kv.host", "127.0.0.1", "kv host")
	flags.Int("kv.port", 6379, "kv server port")
	flags.String("kv.password", "", "kv server password")
	flags.Int("kv.db", 0, "kv database index")

	// DevOp
	flags.Bool("devop.apm", false, "enable apm metrics")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config = new(AppConfig)
	if err := v.Unmarshal(config); err != nil {
		return nil, err
	}
	if config.Database.Driver == "" {
		config.Database.Driver = config.Storage.Backend
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if config.Logging.Level == "debug" {
		if configJSON, err := json.MarshalIndent(config, "", "  "); err == nil {
			log.Printf("App config: %s\n", string(configJSON))
		}
	}
	return config, nil
}

func validateConfig(config *AppConfig) error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := fld.Tag.Get("mapstructure")
		if name == "-" || name == "" {
			return ""
		}
		return name
	})

	var msg []string
	err := validate.Struct(config)
	var verrs validator.ValidationErrors
	if err != nil && !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate config: %w", err)
	}
	for _, field := range verrs {
		namespace := field.Namespace()
		fieldName := namespace[strings.IndexByte(namespace, '.')+1:] // trim top level namespace
		switch field.Tag() {
		case "required":
			msg = append(msg, fmt.Sprintf("%s is required", fieldName))
		case "oneof":
			msg = append(msg, fmt.Sprintf("%s must be one of (%s)", fieldName, field.Param()))
		case "min":
			msg = append(msg, fmt.Sprintf("%s must be at least %s", fieldName, field.Param()))
		case "max":
			msg = append(msg, fmt.Sprintf("%s must be at most %s", fieldName, field.Param()))
		default:
			msg = append(msg, fmt.Sprintf("%s failed on %s", fieldName, field.Tag()))
		}
	}

	switch config.Storage.Backend {
	case BackendMySQL, BackendPostgres:
		if config.Database.User == "" {
			msg = append(msg, "database.username is required")
		}
		if config.Database.Schema == "" {
			msg = append(msg, "database.schema is required")
		}
	case BackendSQLite:
		if config.Database.Schema == "" {
			msg = append(msg, "database.schema is required")
		}
	}
	if len(msg) > 0 {
		return fmt.Errorf("failed to validate config: \n%s", strings.Join(msg, "\n"))
	}
	return nil
}
