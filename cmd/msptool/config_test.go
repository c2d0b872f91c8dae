package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
serial {
  port = "/dev/ttyACM0"
  baud = 57600
}

timeouts {
  request = "40ms"
  chunk   = "80ms"
}

metrics {
  listen = ":9100"
}
`

func TestSchema_Decode(t *testing.T) {
	s := new(ToolSchema)
	require.NoError(t, s.Decode([]byte(sampleConfig)))

	require.NotNil(t, s.Serial)
	assert.Equal(t, "/dev/ttyACM0", s.Serial.Port)
	assert.Equal(t, 57600, s.Serial.Baud)
	assert.Nil(t, s.MQTT)
	require.NotNil(t, s.Timeouts)
	assert.Equal(t, "40ms", s.Timeouts.Request)
	require.NotNil(t, s.Metrics)
	assert.Equal(t, ":9100", s.Metrics.Listen)
}

func TestSchema_DecodeMQTT(t *testing.T) {
	s := new(ToolSchema)
	require.NoError(t, s.Decode([]byte(`
mqtt {
  broker = "tcp://localhost:1883"
  device = "quad-1"
  tls    = true
}
`)))
	require.NotNil(t, s.MQTT)
	assert.Equal(t, "tcp://localhost:1883", s.MQTT.Broker)
	assert.Equal(t, "quad-1", s.MQTT.Device)
	assert.True(t, s.MQTT.TLS)
}

func TestSchema_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"syntax", `serial {`},
		{"missing port", "serial {\n  baud = 9600\n}\n"},
		{"bad duration", "timeouts {\n  request = \"soon\"\n}\n"},
		{"unknown block", "radio {}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, new(ToolSchema).Decode([]byte(tt.data)))
		})
	}
}

// newTestCommand returns a command carrying the root's persistent flags.
func newTestCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	flagConfig, flagPort, flagMQTTBroker, flagMQTTDevice, flagMetrics = "", "", "", "", ""
	flagBaud = 0
	flagRequestTimeout, flagChunkTimeout = 0, 0

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().AddFlagSet(rootCmd.PersistentFlags())
	require.NoError(t, cmd.Flags().Parse(args))
	t.Cleanup(func() {
		cmd.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
	})
	return cmd
}

func TestLoadSettings_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msptool.hcl")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cmd := newTestCommand(t, "--config", path, "--baud", "115200", "--chunk-timeout", "200ms")
	st, err := loadSettings(cmd)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", st.Port)
	assert.Equal(t, 115200, st.Baud)
	assert.Equal(t, 40*time.Millisecond, st.RequestTimeout)
	assert.Equal(t, 200*time.Millisecond, st.ChunkTimeout)
	assert.Equal(t, ":9100", st.MetricsListen)
	assert.Nil(t, st.MQTT)
}

func TestLoadSettings_MQTTFromFlags(t *testing.T) {
	cmd := newTestCommand(t, "--mqtt-broker", "tcp://localhost:1883", "--mqtt-device", "quad-1")
	st, err := loadSettings(cmd)
	require.NoError(t, err)

	require.NotNil(t, st.MQTT)
	assert.Equal(t, "tcp://localhost:1883", st.MQTT.Broker)
	assert.Equal(t, "quad-1", st.MQTT.Device)
}

func TestLoadSettings_RequiresDevice(t *testing.T) {
	_, err := loadSettings(newTestCommand(t))
	require.Error(t, err)

	_, err = loadSettings(newTestCommand(t, "--mqtt-broker", "tcp://localhost:1883"))
	require.Error(t, err)
}
