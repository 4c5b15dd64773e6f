package flagx

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	cfgFlags := []string{"-c", "-config"}

	tests := []struct {
		name    string
		args    []string
		allowed []string
		want    []string
	}{
		{"separate value", []string{"-c", "msg.json", "-n", "nats://localhost:4222"}, cfgFlags, []string{"-c", "msg.json"}},
		{"equals form", []string{"-config=msg.json", "-l", "zap"}, cfgFlags, []string{"-config=msg.json"}},
		{"order preserved", []string{"-config=a.json", "-r", "5s", "-c", "b.json"}, cfgFlags, []string{"-config=a.json", "-c", "b.json"}},
		{"nothing allowed present", []string{"-d", "postgres://db/msg", "-s3-bucket=att"}, cfgFlags, []string{}},
		{"dangling flag", []string{"-n", "nats://x", "-c"}, cfgFlags, []string{"-c"}},
		{"next token is a flag", []string{"-c", "-l", "text"}, cfgFlags, []string{"-c"}},
		{"value starting with dash via equals", []string{"-c=-odd.json"}, cfgFlags, []string{"-c=-odd.json"}},
		{"several allowed", []string{"-d", "postgres://db/msg", "-c", "msg.json", "-l", "zap"}, []string{"-c", "-d"}, []string{"-d", "postgres://db/msg", "-c", "msg.json"}},
		{"empty", nil, cfgFlags, []string{}},
		{"double dash matches single dash name", []string{"--c", "a.json", "--config=b.json"}, cfgFlags, []string{"--c", "a.json", "--config=b.json"}},
		{"positionals skipped", []string{"login", "alice", "-c", "conf.json"}, cfgFlags, []string{"-c", "conf.json"}},
		{"repeated", []string{"-c", "one.json", "-c", "two.json"}, cfgFlags, []string{"-c", "one.json", "-c", "two.json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, tt.allowed))
		})
	}
}

func TestJsonConfigFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	t.Run("short -c with value", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", "/path/short.json"}
		assert.Equal(t, "/path/short.json", JsonConfigFlags())
	})

	t.Run("long -config with value", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", "/path/long.json"}
		assert.Equal(t, "/path/long.json", JsonConfigFlags())
	})

	t.Run("unknown flags are ignored", func(t *testing.T) {
		os.Args = []string{"testbin", "-x", "1", "-y", "2"}
		assert.Empty(t, JsonConfigFlags())
	})

	t.Run("multiple flags, last wins", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", "/path/1.json", "-config", "/path/2.json"}
		assert.Equal(t, "/path/2.json", JsonConfigFlags())
	})
}

func TestConfigPath(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"none", []string{"-d", "dsn"}, ""},
		{"short", []string{"-c", "a.json", "-n", "nats://x"}, "a.json"},
		{"long equals", []string{"-config=b.json"}, "b.json"},
		{"double dash", []string{"--config", "c.json"}, "c.json"},
		{"last wins", []string{"-c", "a.json", "-c", "b.json"}, "b.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConfigPath(tt.args))
		})
	}
}
