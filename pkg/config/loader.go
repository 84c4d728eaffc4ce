package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/stepflowhq/stepflow/pkg/logger"
)

// LoaderOptions configures a Loader. Only the file backend is supported
// here — the teacher's koanf loader also wires consul/etcd/zookeeper
// providers, but this deployment has no remote config service, so those
// providers are dropped rather than carried unused.
type LoaderOptions struct {
	// Path to a YAML config file.
	Path string
	// EnvFile, if set, is loaded into the process environment before the
	// config file is parsed, the way the original settings module reads a
	// .env file via pydantic-settings.
	EnvFile string
	// Watch, when true, starts a background fsnotify watcher that invokes
	// OnChange with the freshly reloaded Config whenever Path changes.
	Watch    bool
	OnChange func(*Config) error
}

// Loader loads and optionally hot-reloads a Config from a YAML file, with
// environment variable expansion (${VAR} syntax) applied to every string
// value, and environment variables layered over the file afterward with
// STEPFLOW_-prefixed keys whose nesting levels are separated by a double
// underscore (e.g. STEPFLOW_LLM__API_KEY for llm.api_key).
type Loader struct {
	koanf    *koanf.Koanf
	opts     LoaderOptions
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
}

// NewLoader validates opts and constructs a Loader.
func NewLoader(opts LoaderOptions) (*Loader, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("config: path is required")
	}
	return &Loader{
		koanf:    koanf.New("."),
		opts:     opts,
		stopChan: make(chan struct{}),
	}, nil
}

// Load reads the config file (after optionally loading EnvFile into the
// process environment), expands ${VAR} references against the process
// environment, layers STEPFLOW_-prefixed environment variables on top,
// fills defaults, and validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.loadOnce()
	if err != nil {
		return nil, err
	}

	if l.opts.Watch && l.watcher == nil {
		if err := l.startWatch(); err != nil {
			return nil, fmt.Errorf("config: start watch: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadOnce() (*Config, error) {
	if l.opts.EnvFile != "" {
		if err := godotenv.Load(l.opts.EnvFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: load env file %s: %w", l.opts.EnvFile, err)
		}
	}

	l.koanf = koanf.New(".")
	if err := l.koanf.Load(file.Provider(l.opts.Path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("config: load %s: %w", l.opts.Path, err)
	}

	if err := l.expandEnvVars(); err != nil {
		return nil, fmt.Errorf("config: expand env vars: %w", err)
	}

	if err := l.koanf.Load(envProvider(), nil); err != nil {
		return nil, fmt.Errorf("config: load environment overrides: %w", err)
	}

	return l.unmarshal()
}

func (l *Loader) unmarshal() (*Config, error) {
	cfg := &Config{}
	if err := l.koanf.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR} occurrences in every string value with
// the corresponding process environment variable, the way the teacher's
// loader expands environment references before unmarshalling.
func (l *Loader) expandEnvVars() error {
	raw := l.koanf.Raw()
	expanded := expandEnvVarsInData(raw)
	m, ok := expanded.(map[string]interface{})
	if !ok {
		return fmt.Errorf("unexpected type after environment expansion")
	}

	newKoanf := koanf.New(".")
	if err := newKoanf.Load(confmap.Provider(m, "."), nil); err != nil {
		return fmt.Errorf("reload expanded config: %w", err)
	}
	l.koanf = newKoanf
	return nil
}

func expandEnvVarsInData(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return os.Expand(val, envLookup)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, sub := range val {
			out[k] = expandEnvVarsInData(sub)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, sub := range val {
			out[i] = expandEnvVarsInData(sub)
		}
		return out
	default:
		return v
	}
}

func envLookup(key string) string {
	return os.Getenv(key)
}

// envProvider maps STEPFLOW_LLM__API_KEY-style environment variables onto
// dotted config keys (llm.api_key), letting deployment secrets override
// the file without editing it. A double underscore separates nesting
// levels so single-word-with-underscore field names like api_key and
// base_url survive unsplit.
func envProvider() koanf.Provider {
	return confmapFromEnviron("STEPFLOW_")
}

func confmapFromEnviron(prefix string) koanf.Provider {
	m := make(map[string]interface{})
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], prefix) {
			continue
		}
		suffix := strings.TrimPrefix(parts[0], prefix)
		segments := strings.Split(suffix, "__")
		for i, seg := range segments {
			segments[i] = strings.ToLower(seg)
		}
		key := strings.Join(segments, ".")
		m[key] = parts[1]
	}
	return confmap.Provider(m, ".")
}

// startWatch begins watching the config file for changes, reloading and
// invoking OnChange on each fsnotify write event.
func (l *Loader) startWatch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(l.opts.Path); err != nil {
		watcher.Close()
		return err
	}
	l.watcher = watcher

	go func() {
		for {
			select {
			case <-l.stopChan:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				l.reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.GetLogger().Warn("config watch error", "error", err)
			}
		}
	}()
	return nil
}

func (l *Loader) reload() {
	cfg, err := l.loadOnce()
	if err != nil {
		logger.GetLogger().Warn("config reload failed", "error", err)
		return
	}
	if l.opts.OnChange != nil {
		if err := l.opts.OnChange(cfg); err != nil {
			logger.GetLogger().Warn("config reload callback failed", "error", err)
		}
	}
}

// Stop halts the background watcher, if any.
func (l *Loader) Stop() {
	close(l.stopChan)
	if l.watcher != nil {
		l.watcher.Close()
	}
}

// Load is a convenience wrapper constructing a Loader and loading once,
// without watching.
func Load(opts LoaderOptions) (*Config, error) {
	opts.Watch = false
	loader, err := NewLoader(opts)
	if err != nil {
		return nil, err
	}
	return loader.Load()
}
