// Package config loads the application configuration from defaults, an
// optional storops.yaml, a .env file, the environment and bound CLI flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/andrej220/storops/internal/devices"
)

const (
	// AppName is the config file base name and the directory searched under
	// $HOME/.config and /etc.
	AppName = "storops"

	// EnvPrefix is the prefix for environment variables, e.g. STOROPS_USER or
	// STOROPS_EXECUTOR_TRANSPORT.
	EnvPrefix = "STOROPS"

	DefaultEnvFile = ".env"
)

type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// AppConfig holds the application configuration.
type AppConfig struct {
	// User is the caller identity and the remote login.
	User    string `mapstructure:"user" validate:"required"`
	Node    string `mapstructure:"node"`
	Service string `mapstructure:"service" validate:"omitempty,oneof=cta enstore"`
	Device  string `mapstructure:"device" validate:"omitempty,oneof=tape disk"`
	Mover   string `mapstructure:"mover" validate:"omitempty,oneof=spectra ibm"`

	Log struct {
		Debug  bool   `mapstructure:"debug"`
		Format string `mapstructure:"format" validate:"oneof=json console"`
	} `mapstructure:"log"`

	Registry struct {
		Backend string      `mapstructure:"backend" validate:"oneof=file mongo"`
		File    string      `mapstructure:"file"`
		Mongo   MongoConfig `mapstructure:"mongo"`
	} `mapstructure:"registry"`

	Workflows struct {
		Dir string `mapstructure:"dir" validate:"required"`
	} `mapstructure:"workflows"`

	// Tools maps a service to the directory listed by the list command.
	Tools map[string]string `mapstructure:"tools"`

	Executor struct {
		Transport      string        `mapstructure:"transport" validate:"oneof=ssh native"`
		Shell          string        `mapstructure:"shell" validate:"required"`
		SessionTimeout time.Duration `mapstructure:"session_timeout" validate:"gt=0"`
		SSH            struct {
			Binary string   `mapstructure:"binary" validate:"required"`
			Args   []string `mapstructure:"args"`
		} `mapstructure:"ssh"`
		Native struct {
			Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
			KeyFile         string        `mapstructure:"key_file"`
			KnownHosts      string        `mapstructure:"known_hosts"`
			InsecureHostKey bool          `mapstructure:"insecure_host_key"`
			DialTimeout     time.Duration `mapstructure:"dial_timeout"`
			ForwardAgent    bool          `mapstructure:"forward_agent"`
		} `mapstructure:"native"`
	} `mapstructure:"executor"`

	Substitution struct {
		Escape string `mapstructure:"escape" validate:"oneof=strict none"`
	} `mapstructure:"substitution"`

	Record struct {
		File struct {
			Dir string `mapstructure:"dir"`
		} `mapstructure:"file"`
		Mongo MongoConfig `mapstructure:"mongo"`
		Kafka struct {
			Brokers string `mapstructure:"brokers"`
			Topic   string `mapstructure:"topic"`
		} `mapstructure:"kafka"`
	} `mapstructure:"record"`

	Retry struct {
		Attempts        int           `mapstructure:"attempts" validate:"min=0"`
		InitialInterval time.Duration `mapstructure:"initial_interval"`
		MaxInterval     time.Duration `mapstructure:"max_interval"`
	} `mapstructure:"retry"`

	Tape struct {
		CommandTimeout time.Duration `mapstructure:"command_timeout" validate:"gt=0"`
		ITDT           string        `mapstructure:"itdt"`
		// SSANode is the host the Spectra SLAPI client runs on.
		SSANode string                `mapstructure:"ssa_node"`
		Spectra devices.SpectraConfig `mapstructure:"spectra" validate:"-"`
	} `mapstructure:"tape"`
}

var validate = validator.New()

// Validate checks a configuration struct against its validate tags.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// Loader owns one viper instance. Flags bound to it take precedence over
// every other source.
type Loader struct {
	v       *viper.Viper
	EnvFile string
	used    string
}

func NewLoader() *Loader {
	v := viper.New()
	setDefaults(v)
	return &Loader{v: v, EnvFile: DefaultEnvFile}
}

func (l *Loader) Viper() *viper.Viper { return l.v }

// ConfigFileUsed is empty when no config file was found.
func (l *Loader) ConfigFileUsed() string { return l.used }

// BindFlag binds key to a CLI flag; the flag wins only when it was set.
func (l *Loader) BindFlag(key string, f *pflag.Flag) error {
	if f == nil {
		return fmt.Errorf("no flag for %s", key)
	}
	return l.v.BindPFlag(key, f)
}

// Load reads cfgFile, or searches for storops.yaml when it is empty. A
// missing searched file is not an error; a missing explicit one is.
func (l *Loader) Load(cfgFile string) (*AppConfig, error) {
	if l.EnvFile != "" {
		if err := godotenv.Load(l.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading env file: %w", err)
		}
	}

	if cfgFile != "" {
		l.v.SetConfigFile(cfgFile)
	} else {
		l.v.SetConfigName(AppName)
		l.v.SetConfigType("yaml")
		addSearchPaths(l.v)
	}

	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	l.v.AutomaticEnv()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		l.used = l.v.ConfigFileUsed()
	}

	cfg := &AppConfig{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func addSearchPaths(v *viper.Viper) {
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", AppName))
	}
	v.AddConfigPath(filepath.Join("/etc", AppName))
}

// setDefaults registers every key so AutomaticEnv can see it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("user", "root")
	v.SetDefault("node", "")
	v.SetDefault("service", "")
	v.SetDefault("device", "")
	v.SetDefault("mover", "")

	v.SetDefault("log.debug", false)
	v.SetDefault("log.format", "console")

	v.SetDefault("registry.backend", "file")
	v.SetDefault("registry.file", "config/server_specs.json")
	v.SetDefault("registry.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("registry.mongo.database", "storops")
	v.SetDefault("registry.mongo.collection", "nodes")

	v.SetDefault("workflows.dir", "tests")
	v.SetDefault("tools.cta", "/opt/enstore/tools")
	v.SetDefault("tools.enstore", "/opt/enstore/tools")

	v.SetDefault("executor.transport", "ssh")
	v.SetDefault("executor.shell", "/bin/bash")
	v.SetDefault("executor.session_timeout", 10*time.Minute)
	v.SetDefault("executor.ssh.binary", "ssh")
	v.SetDefault("executor.ssh.args", []string{"-K", "-x", "-o", "BatchMode=yes"})
	v.SetDefault("executor.native.port", 22)
	v.SetDefault("executor.native.key_file", "")
	v.SetDefault("executor.native.known_hosts", "")
	v.SetDefault("executor.native.insecure_host_key", false)
	v.SetDefault("executor.native.dial_timeout", 10*time.Second)
	v.SetDefault("executor.native.forward_agent", true)

	v.SetDefault("substitution.escape", "strict")

	v.SetDefault("record.file.dir", "")
	v.SetDefault("record.mongo.uri", "")
	v.SetDefault("record.mongo.database", "storops")
	v.SetDefault("record.mongo.collection", "executions")
	v.SetDefault("record.kafka.brokers", "")
	v.SetDefault("record.kafka.topic", "storops-executions")

	v.SetDefault("retry.attempts", 0)
	v.SetDefault("retry.initial_interval", time.Second)
	v.SetDefault("retry.max_interval", 30*time.Second)

	v.SetDefault("tape.command_timeout", devices.DefaultCommandTimeout)
	v.SetDefault("tape.itdt", devices.DefaultITDT)
	v.SetDefault("tape.ssa_node", "")
	v.SetDefault("tape.spectra.server", "")
	v.SetDefault("tape.spectra.user", "")
	v.SetDefault("tape.spectra.password", "")
	v.SetDefault("tape.spectra.partition", devices.DefaultSpectraPartition)
	v.SetDefault("tape.spectra.script", devices.DefaultSLAPIScript)
}
