package core

import (
	"fmt"
	"strings"
	"time"
)

type DeliveryConfig struct {
	MaxRetries     int   `koanf:"max_retries" mapstructure:"max_retries"`
	BackoffSeconds []int `koanf:"backoff_seconds" mapstructure:"backoff_seconds"`
	TimeoutSeconds int   `koanf:"timeout_seconds" mapstructure:"timeout_seconds"`
}

type SignatureConfig struct {
	MaxAgeSeconds     int `koanf:"max_age_seconds" mapstructure:"max_age_seconds"`
	FutureSkewSeconds int `koanf:"future_skew_seconds" mapstructure:"future_skew_seconds"`
}

type Config struct {
	ServiceName string          `koanf:"service_name" mapstructure:"service_name"`
	Delivery    DeliveryConfig  `koanf:"delivery" mapstructure:"delivery"`
	Signature   SignatureConfig `koanf:"signature" mapstructure:"signature"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "partners",
		Delivery: DeliveryConfig{
			MaxRetries:     3,
			BackoffSeconds: []int{1, 5, 15},
			TimeoutSeconds: 10,
		},
		Signature: SignatureConfig{
			MaxAgeSeconds:     300,
			FutureSkewSeconds: 60,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Delivery.MaxRetries < 0 {
		return fmt.Errorf("core: delivery.max_retries cannot be negative")
	}
	if c.Delivery.TimeoutSeconds <= 0 {
		return fmt.Errorf("core: delivery.timeout_seconds must be positive")
	}
	for _, seconds := range c.Delivery.BackoffSeconds {
		if seconds <= 0 {
			return fmt.Errorf("core: delivery.backoff_seconds entries must be positive")
		}
	}
	if c.Signature.MaxAgeSeconds <= 0 {
		return fmt.Errorf("core: signature.max_age_seconds must be positive")
	}
	if c.Signature.FutureSkewSeconds < 0 {
		return fmt.Errorf("core: signature.future_skew_seconds cannot be negative")
	}
	return nil
}

func (c Config) DeliveryTimeout() time.Duration {
	return time.Duration(c.Delivery.TimeoutSeconds) * time.Second
}

func (c Config) BackoffLadder() []time.Duration {
	ladder := make([]time.Duration, 0, len(c.Delivery.BackoffSeconds))
	for _, seconds := range c.Delivery.BackoffSeconds {
		ladder = append(ladder, time.Duration(seconds)*time.Second)
	}
	return ladder
}
