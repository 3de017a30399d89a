package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Backend names accepted by -snapshot and -stream.
const (
	backendMemory   = "memory"
	backendMongo    = "mongo"
	backendTemporal = "temporal"
	backendPulse    = "pulse"
	backendWS       = "ws"
)

type (
	config struct {
		Namespace string   `yaml:"namespace"`
		Phases    []string `yaml:"phases"`
		Search    string   `yaml:"search"`
		Snapshot  string   `yaml:"snapshot"`
		Stream    string   `yaml:"stream"`
		WSURL     string   `yaml:"ws_url"`
		Serve     string   `yaml:"serve"`
		Demo      bool     `yaml:"demo"`
		DemoRate  float64  `yaml:"demo_rate"`
		Redraw    float64  `yaml:"redraw"`
		Debug     bool     `yaml:"debug"`

		Mongo    mongoConfig    `yaml:"mongo"`
		Redis    redisConfig    `yaml:"redis"`
		Temporal temporalConfig `yaml:"temporal"`
	}

	mongoConfig struct {
		URI        string `yaml:"uri"`
		Database   string `yaml:"database"`
		Collection string `yaml:"collection"`
	}

	redisConfig struct {
		URL          string `yaml:"url"`
		StreamPrefix string `yaml:"stream_prefix"`
	}

	temporalConfig struct {
		HostPort string `yaml:"hostport"`
	}

	// phaseList collects repeated -phase flags. Values may also be comma
	// separated.
	phaseList []string
)

func (p *phaseList) String() string { return strings.Join(*p, ",") }

func (p *phaseList) Set(v string) error {
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			*p = append(*p, s)
		}
	}
	return nil
}

func defaultConfig() config {
	return config{
		Namespace: "default",
		Snapshot:  backendMemory,
		Stream:    backendMemory,
		DemoRate:  5,
		Redraw:    4,
		Mongo: mongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "wflive",
		},
		Redis:    redisConfig{URL: "redis://localhost:6379/0"},
		Temporal: temporalConfig{HostPort: "localhost:7233"},
	}
}

// loadConfig builds the configuration from defaults, the YAML file named by
// -config (or WFLIVE_CONFIG), the environment and finally the flags set in
// args, later sources overriding earlier ones.
func loadConfig(args []string, getenv func(string) string) (config, error) {
	var (
		fs       = flag.NewFlagSet("wflive", flag.ContinueOnError)
		phases   phaseList
		cfgPath  = fs.String("config", "", "YAML configuration file")
		nsF      = fs.String("namespace", "", "Namespace to list")
		searchF  = fs.String("search", "", "Initial search query")
		snapF    = fs.String("snapshot", "", "Snapshot source: memory, mongo, temporal or ws")
		streamF  = fs.String("stream", "", "Change stream: memory, pulse or ws")
		wsURLF   = fs.String("ws-url", "", "Base URL of a remote wflive server")
		serveF   = fs.String("serve", "", "Serve the sources over HTTP on this address instead of rendering")
		demoF    = fs.Bool("demo", false, "Generate synthetic workflow traffic")
		demoRate = fs.Float64("demo-rate", 0, "Synthetic changes per second")
		redrawF  = fs.Float64("redraw", 0, "Maximum redraws per second")
		dbgF     = fs.Bool("debug", false, "Enable debug logs")
	)
	fs.Var(&phases, "phase", "Phase to include (repeatable)")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	if fs.NArg() > 0 {
		return config{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	cfg := defaultConfig()
	path := *cfgPath
	if path == "" {
		path = getenv("WFLIVE_CONFIG")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "namespace":
			cfg.Namespace = *nsF
		case "phase":
			cfg.Phases = phases
		case "search":
			cfg.Search = *searchF
		case "snapshot":
			cfg.Snapshot = *snapF
		case "stream":
			cfg.Stream = *streamF
		case "ws-url":
			cfg.WSURL = *wsURLF
		case "serve":
			cfg.Serve = *serveF
		case "demo":
			cfg.Demo = *demoF
		case "demo-rate":
			cfg.DemoRate = *demoRate
		case "redraw":
			cfg.Redraw = *redrawF
		case "debug":
			cfg.Debug = *dbgF
		}
	})
	return cfg, cfg.validate()
}

func applyEnv(cfg *config, getenv func(string) string) error {
	str := map[string]*string{
		"WFLIVE_NAMESPACE":  &cfg.Namespace,
		"WFLIVE_SEARCH":     &cfg.Search,
		"WFLIVE_SNAPSHOT":   &cfg.Snapshot,
		"WFLIVE_STREAM":     &cfg.Stream,
		"WFLIVE_WS_URL":     &cfg.WSURL,
		"WFLIVE_SERVE":      &cfg.Serve,
		"MONGO_URI":         &cfg.Mongo.URI,
		"WFLIVE_MONGO_DB":   &cfg.Mongo.Database,
		"REDIS_URL":         &cfg.Redis.URL,
		"TEMPORAL_HOSTPORT": &cfg.Temporal.HostPort,
	}
	for name, dst := range str {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}
	if v := getenv("WFLIVE_PHASES"); v != "" {
		var phases phaseList
		_ = phases.Set(v)
		cfg.Phases = phases
	}
	for name, dst := range map[string]*bool{"WFLIVE_DEMO": &cfg.Demo, "WFLIVE_DEBUG": &cfg.Debug} {
		if v := getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = b
		}
	}
	return nil
}

func (c config) validate() error {
	var errs []error
	switch c.Snapshot {
	case backendMemory, backendMongo, backendTemporal, backendWS:
	default:
		errs = append(errs, fmt.Errorf("unknown snapshot source %q", c.Snapshot))
	}
	switch c.Stream {
	case backendMemory, backendPulse, backendWS:
	default:
		errs = append(errs, fmt.Errorf("unknown change stream %q", c.Stream))
	}
	if (c.Snapshot == backendWS || c.Stream == backendWS) && c.WSURL == "" {
		errs = append(errs, errors.New("ws-url is required with the ws backend"))
	}
	if c.Demo && c.DemoRate <= 0 {
		errs = append(errs, errors.New("demo-rate must be positive"))
	}
	if c.Serve == "" && c.Redraw <= 0 {
		errs = append(errs, errors.New("redraw must be positive"))
	}
	return errors.Join(errs...)
}
