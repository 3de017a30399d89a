package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(nil, env(nil))
	require.NoError(t, err)
	require.Equal(t, defaultConfig(), cfg)
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wflive.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
namespace: from-file
phases: [Running]
search: team=ml
snapshot: mongo
stream: pulse
mongo:
  uri: mongodb://file:27017
  database: filedb
redis:
  url: redis://file:6379/1
  stream_prefix: wf
`), 0o600))

	cfg, err := loadConfig([]string{"-config", path}, env(nil))
	require.NoError(t, err)
	require.Equal(t, "from-file", cfg.Namespace)
	require.Equal(t, []string{"Running"}, cfg.Phases)
	require.Equal(t, backendMongo, cfg.Snapshot)
	require.Equal(t, "filedb", cfg.Mongo.Database)
	require.Equal(t, "wf", cfg.Redis.StreamPrefix)
	require.Equal(t, "localhost:7233", cfg.Temporal.HostPort)

	cfg, err = loadConfig([]string{"-config", path, "-namespace", "from-flag", "-phase", "Failed", "-phase", "Error,Pending"}, env(map[string]string{
		"WFLIVE_NAMESPACE": "from-env",
		"WFLIVE_PHASES":    "Succeeded",
		"MONGO_URI":        "mongodb://env:27017",
		"REDIS_URL":        "redis://env:6379/2",
		"WFLIVE_DEMO":      "true",
	}))
	require.NoError(t, err)
	require.Equal(t, "from-flag", cfg.Namespace)
	require.Equal(t, []string{"Failed", "Error", "Pending"}, cfg.Phases)
	require.Equal(t, "mongodb://env:27017", cfg.Mongo.URI)
	require.Equal(t, "redis://env:6379/2", cfg.Redis.URL)
	require.True(t, cfg.Demo)
	require.Equal(t, "team=ml", cfg.Search)
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wflive.yaml")
	require.NoError(t, os.WriteFile(path, []byte("namespace: argo\n"), 0o600))
	cfg, err := loadConfig(nil, env(map[string]string{"WFLIVE_CONFIG": path}))
	require.NoError(t, err)
	require.Equal(t, "argo", cfg.Namespace)
}

func TestLoadConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		args []string
		env  map[string]string
		msg  string
	}{
		{"unknown snapshot", []string{"-snapshot", "etcd"}, nil, `unknown snapshot source "etcd"`},
		{"unknown stream", []string{"-stream", "kafka"}, nil, `unknown change stream "kafka"`},
		{"ws without url", []string{"-stream", "ws"}, nil, "ws-url is required with the ws backend"},
		{"bad bool", nil, map[string]string{"WFLIVE_DEBUG": "maybe"}, `WFLIVE_DEBUG: strconv.ParseBool: parsing "maybe": invalid syntax`},
		{"extra args", []string{"argo"}, nil, "unexpected arguments: argo"},
		{"missing file", []string{"-config", "/nonexistent/wflive.yaml"}, nil, "read config: open /nonexistent/wflive.yaml: no such file or directory"},
		{"demo rate", []string{"-demo", "-demo-rate", "0"}, nil, "demo-rate must be positive"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := loadConfig(c.args, env(c.env))
			require.EqualError(t, err, c.msg)
		})
	}
}

func TestInitialFilter(t *testing.T) {
	set, err := initialFilter(config{Namespace: "argo", Phases: []string{"running", "Failed"}})
	require.NoError(t, err)
	require.Equal(t, "argo[Failed,Running]", set.String())

	_, err = initialFilter(config{Namespace: "argo", Phases: []string{"Sleeping"}})
	require.Error(t, err)
}
