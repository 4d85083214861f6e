package config

import (
	"time"

	"proof-capture-app/internal/pairing"
)

func Defaults() *Config {
	return &Config{
		Server: pairing.DefaultEndpoints(),
		Broker: BrokerConfig{
			Listen:         ":8080",
			UploadDir:      "uploads",
			DBPath:         "proof.db",
			SessionTTL:     15 * time.Minute,
			MaxUploadBytes: 10 << 20,
		},
		Agent: AgentConfig{
			MountLocationTimeout:   15 * time.Second,
			CaptureLocationTimeout: 10 * time.Second,
			ConfirmationWindow:     3 * time.Second,
		},
		Initiator: InitiatorConfig{
			Reconnect: ReconnectConfig{
				Enabled:        false,
				InitialBackoff: time.Second,
				MaxBackoff:     30 * time.Second,
				MaxAttempts:    10,
			},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
