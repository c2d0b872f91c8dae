package main

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/spf13/cobra"
)

// ToolSchema is the msptool configuration file.
//
//	serial {
//	  port = "/dev/ttyACM0"
//	  baud = 115200
//	}
//	timeouts {
//	  request = "30ms"
//	  chunk   = "50ms"
//	}
//	metrics {
//	  listen = ":9100"
//	}
type ToolSchema struct {
	Serial   *SerialSchema   `hcl:"serial,block"`
	MQTT     *MQTTSchema     `hcl:"mqtt,block"`
	Timeouts *TimeoutsSchema `hcl:"timeouts,block"`
	Metrics  *MetricsSchema  `hcl:"metrics,block"`
}

type SerialSchema struct {
	Port string `hcl:"port,attr"`
	Baud int    `hcl:"baud,optional"`
}

type MQTTSchema struct {
	Broker   string `hcl:"broker,attr"`
	Device   string `hcl:"device,attr"`
	Username string `hcl:"username,optional"`
	Password string `hcl:"password,optional"`
	TLS      bool   `hcl:"tls,optional"`
	Prefix   string `hcl:"prefix,optional"`
	ClientID string `hcl:"client_id,optional"`
}

type TimeoutsSchema struct {
	Request string `hcl:"request,optional"`
	Chunk   string `hcl:"chunk,optional"`
}

type MetricsSchema struct {
	Listen string `hcl:"listen,attr"`
}

func ReadSchema(path string) (*ToolSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	s := new(ToolSchema)
	return s, s.Decode(data)
}

func (s *ToolSchema) Decode(data []byte) error {
	file, diag := hclsyntax.ParseConfig(data, "", hcl.Pos{Line: 1, Column: 1})
	if diag.HasErrors() {
		return diag.Errs()[0]
	}

	diag = gohcl.DecodeBody(file.Body, nil, s)
	if diag.HasErrors() {
		return diag.Errs()[0]
	}

	return s.validate()
}

func (s *ToolSchema) validate() error {
	if s.Timeouts == nil {
		return nil
	}
	if _, err := parseDuration(s.Timeouts.Request); err != nil {
		return fmt.Errorf("timeouts.request: %w", err)
	}
	if _, err := parseDuration(s.Timeouts.Chunk); err != nil {
		return fmt.Errorf("timeouts.chunk: %w", err)
	}
	return nil
}

func parseDuration(v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	return time.ParseDuration(v)
}

// settings is the merged view of the config file and command line flags.
type settings struct {
	Port           string
	Baud           int
	MQTT           *MQTTSchema
	RequestTimeout time.Duration
	ChunkTimeout   time.Duration
	MetricsListen  string
}

// loadSettings reads the config file, if any, and applies flags on top.
func loadSettings(cmd *cobra.Command) (*settings, error) {
	st := new(settings)

	if flagConfig != "" {
		schema, err := ReadSchema(flagConfig)
		if err != nil {
			return nil, err
		}
		st.apply(schema)
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		st.Port = flagPort
		st.MQTT = nil
	}
	if flags.Changed("baud") {
		st.Baud = flagBaud
	}
	if flags.Changed("mqtt-broker") {
		if st.MQTT == nil {
			st.MQTT = new(MQTTSchema)
		}
		st.MQTT.Broker = flagMQTTBroker
	}
	if st.MQTT != nil {
		if flags.Changed("mqtt-device") {
			st.MQTT.Device = flagMQTTDevice
		}
		if flags.Changed("mqtt-user") {
			st.MQTT.Username = flagMQTTUser
		}
		if flags.Changed("mqtt-pass") {
			st.MQTT.Password = flagMQTTPass
		}
		if flags.Changed("mqtt-tls") {
			st.MQTT.TLS = flagMQTTTLS
		}
	}
	if flags.Changed("request-timeout") {
		st.RequestTimeout = flagRequestTimeout
	}
	if flags.Changed("chunk-timeout") {
		st.ChunkTimeout = flagChunkTimeout
	}
	if flags.Changed("metrics") {
		st.MetricsListen = flagMetrics
	}

	if st.MQTT == nil && st.Port == "" {
		return nil, fmt.Errorf("no device: set --port, --mqtt-broker or a config file")
	}
	if st.MQTT != nil && st.MQTT.Device == "" {
		return nil, fmt.Errorf("mqtt device id is required")
	}
	return st, nil
}

func (st *settings) apply(s *ToolSchema) {
	if s.Serial != nil {
		st.Port = s.Serial.Port
		st.Baud = s.Serial.Baud
	}
	if s.MQTT != nil {
		m := *s.MQTT
		st.MQTT = &m
	}
	if s.Timeouts != nil {
		// Validated in Decode.
		st.RequestTimeout, _ = parseDuration(s.Timeouts.Request)
		st.ChunkTimeout, _ = parseDuration(s.Timeouts.Chunk)
	}
	if s.Metrics != nil {
		st.MetricsListen = s.Metrics.Listen
	}
}
