package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/joho/godotenv"
)

//go:embed schema.cue
var schemaSource []byte

const (
	// DefaultFile is read when no config path is given and it exists.
	DefaultFile = "etude.cue"
	// DefaultEnvFile is read when no .env path is given and it exists.
	DefaultEnvFile = ".env"
)

// Config is the decoded, schema-checked settings tree.
type Config struct {
	DB      string `json:"db"`
	Account string `json:"account"`
	Device  string `json:"device"`
	Log     Log    `json:"log"`
	Redis   Redis  `json:"redis"`
	Sync    Sync   `json:"sync"`
	Quota   Quota  `json:"quota"`

	// Source is the config file that was loaded, empty when defaults only.
	Source string `json:"-"`
}

// Log configures the zap logger and its rotating file sink.
type Log struct {
	Level      string `json:"level"`
	File       string `json:"file"`
	MaxSizeMB  int    `json:"maxSizeMB"`
	MaxBackups int    `json:"maxBackups"`
	MaxAgeDays int    `json:"maxAgeDays"`
	Compress   bool   `json:"compress"`
}

// Redis configures the stream transport. Sync needs Addr set.
type Redis struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
	MaxLen   int    `json:"maxLen"`
}

// Sync configures the replication loop.
type Sync struct {
	BatchSize int    `json:"batchSize"`
	Interval  string `json:"interval"`
}

// IntervalDuration parses Interval. The schema restricts it to a single
// integer and unit, so the error path only covers hand-built values.
func (s Sync) IntervalDuration() (time.Duration, error) {
	d, err := time.ParseDuration(s.Interval)
	if err != nil {
		return 0, fmt.Errorf("config: sync.interval: %w", err)
	}
	return d, nil
}

// Quota holds per-student limits; zero means unlimited.
type Quota struct {
	MaxSessions int `json:"maxSessions"`
	MaxSongs    int `json:"maxSongs"`
}

// envBindings maps environment variables onto schema paths.
var envBindings = []struct {
	key  string
	path string
}{
	{"ETUDE_DB", "db"},
	{"ETUDE_ACCOUNT", "account"},
	{"ETUDE_DEVICE", "device"},
	{"ETUDE_LOG_LEVEL", "log.level"},
	{"ETUDE_LOG_FILE", "log.file"},
	{"ETUDE_REDIS_ADDR", "redis.addr"},
	{"ETUDE_REDIS_PASSWORD", "redis.password"},
}

type loadOptions struct {
	envFile     string
	explicitEnv bool
	noFile      bool
	lookup      func(string) (string, bool)
}

// Option configures Load.
type Option func(*loadOptions)

// WithEnvFile reads overrides from path instead of DefaultEnvFile. A named
// file that does not exist is an error.
func WithEnvFile(path string) Option {
	return func(o *loadOptions) {
		o.envFile = path
		o.explicitEnv = true
	}
}

// WithLookup replaces os.LookupEnv, mainly for tests.
func WithLookup(fn func(string) (string, bool)) Option {
	return func(o *loadOptions) {
		o.lookup = fn
	}
}

// Default returns the schema defaults.
func Default() (*Config, error) {
	return Load("", WithEnvFile(""), WithLookup(noEnv), func(o *loadOptions) { o.noFile = true })
}

func noEnv(string) (string, bool) {
	return "", false
}

// Load builds a Config from the schema defaults, the CUE file at path, the
// .env file and the environment, in increasing precedence. An empty path
// reads DefaultFile when present.
func Load(path string, opts ...Option) (*Config, error) {
	o := loadOptions{envFile: DefaultEnvFile, lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(&o)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("config: schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config"))

	var (
		source string
		data   []byte
		err    error
	)
	if !o.noFile {
		source, data, err = readConfigFile(path)
		if err != nil {
			return nil, err
		}
	}
	if data != nil {
		file := ctx.CompileBytes(data, cue.Filename(source))
		if err := file.Err(); err != nil {
			return nil, describe(source, err)
		}
		v = v.Unify(file)
	}

	dotenv, err := readEnvFile(o.envFile, o.explicitEnv)
	if err != nil {
		return nil, err
	}
	for _, b := range envBindings {
		val, ok := o.lookup(b.key)
		if !ok || val == "" {
			val, ok = dotenv[b.key]
		}
		if !ok || val == "" {
			continue
		}
		v = v.FillPath(cue.ParsePath(b.path), val)
	}

	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, describe(source, err)
	}
	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, describe(source, err)
	}
	cfg.Source = source
	return &cfg, nil
}

func readConfigFile(path string) (string, []byte, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return "", nil, nil
		}
		return "", nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return path, data, nil
}

func readEnvFile(path string, explicit bool) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	env, err := godotenv.Read(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return env, nil
}

func describe(source string, err error) error {
	if source == "" {
		source = "environment"
	}
	return fmt.Errorf("config: %s: %s", source, cueerrors.Details(err, nil))
}
