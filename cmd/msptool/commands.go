package main

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:           "msptool",
		Short:         "Talk to an INAV flight controller over MSP.",
		Long:          ``,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
)

var (
	flagConfig         string
	flagPort           string
	flagBaud           int
	flagMQTTBroker     string
	flagMQTTDevice     string
	flagMQTTUser       string
	flagMQTTPass       string
	flagMQTTTLS        bool
	flagRequestTimeout time.Duration
	flagChunkTimeout   time.Duration
	flagMetrics        string
	flagDebug          bool
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", "", "HCL configuration file")
	pf.StringVarP(&flagPort, "port", "p", "", "Serial port of the flight controller")
	pf.IntVarP(&flagBaud, "baud", "b", 0, "Serial baud rate (default 115200)")
	pf.StringVar(&flagMQTTBroker, "mqtt-broker", "", "MQTT broker URL, used instead of a serial port")
	pf.StringVar(&flagMQTTDevice, "mqtt-device", "", "Device ID of the MQTT serial bridge")
	pf.StringVar(&flagMQTTUser, "mqtt-user", "", "MQTT username")
	pf.StringVar(&flagMQTTPass, "mqtt-pass", "", "MQTT password")
	pf.BoolVar(&flagMQTTTLS, "mqtt-tls", false, "Connect to the MQTT broker over TLS")
	pf.DurationVar(&flagRequestTimeout, "request-timeout", 0, "Reply timeout per request (default 30ms)")
	pf.DurationVar(&flagChunkTimeout, "chunk-timeout", 0, "Reply timeout per dataflash chunk (default 50ms)")
	pf.StringVarP(&flagMetrics, "metrics", "m", "", "Serve Prometheus metrics on this address")
	pf.BoolVarP(&flagDebug, "debug", "d", false, "Debug logging")
}

func Execute() error {
	return rootCmd.Execute()
}
