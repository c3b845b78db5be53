// Package config provides configuration loading for transitd.
//
// Defaults are compiled in, overridden by an optional YAML file and then by
// TRANSITD_* environment variables. Every classifier, follow-up, retrieval and
// learning threshold lives here so deployments can tune routing without code
// changes.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete transitd configuration.
type Config struct {
	Server         ServerConfig         `koanf:"server"`
	Observability  ObservabilityConfig  `koanf:"observability"`
	Logging        LoggingConfig        `koanf:"logging"`
	Classifier     ClassifierConfig     `koanf:"classifier"`
	Session        SessionConfig        `koanf:"session"`
	Retrieval      RetrievalConfig      `koanf:"retrieval"`
	Learning       LearningConfig       `koanf:"learning"`
	Store          StoreConfig          `koanf:"store"`
	Redis          RedisConfig          `koanf:"redis"`
	NATS           NATSConfig           `koanf:"nats"`
	Disambiguation DisambiguationConfig `koanf:"disambiguation"`
	Knowledge      KnowledgeConfig      `koanf:"knowledge"`
	Rules          RulesConfig          `koanf:"rules"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	Endpoint        string  `koanf:"endpoint"`
	Protocol        string  `koanf:"protocol"`
	Insecure        bool    `koanf:"insecure"`
	SampleRate      float64 `koanf:"sample_rate"`
}

// LoggingConfig holds the subset of logging settings exposed to operators.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ClassifierConfig holds topic classification thresholds.
type ClassifierConfig struct {
	OffTopicBase           float64 `koanf:"off_topic_base"`
	OffTopicStep           float64 `koanf:"off_topic_step"`
	OffTopicCap            float64 `koanf:"off_topic_cap"`
	SocialMaxChars         int     `koanf:"social_max_chars"`
	SocialConfidence       float64 `koanf:"social_confidence"`
	ClarificationThreshold float64 `koanf:"clarification_threshold"`
	MaxClarifications      int     `koanf:"max_clarifications"`
	FallbackConfidence     float64 `koanf:"fallback_confidence"`
	TriggerNormalizer      int     `koanf:"trigger_normalizer"`
}

// SessionConfig holds follow-up detection and session lifetime settings.
type SessionConfig struct {
	Backend               string   `koanf:"backend"`
	IdleTTL               Duration `koanf:"idle_ttl"`
	FollowUpMaxChars      int      `koanf:"follow_up_max_chars"`
	FollowUpMaxConfidence float64  `koanf:"follow_up_max_confidence"`
	CarryOverConfidence   float64  `koanf:"carry_over_confidence"`
	MinActiveConfidence   float64  `koanf:"min_active_confidence"`
}

// RetrievalConfig holds knowledge retrieval thresholds.
type RetrievalConfig struct {
	MaxResults         int     `koanf:"max_results"`
	IntentAcceptance   float64 `koanf:"intent_acceptance"`
	SemanticAcceptance float64 `koanf:"semantic_acceptance"`
	KeywordAcceptance  float64 `koanf:"keyword_acceptance"`
	MarkerPenalty      float64 `koanf:"marker_penalty"`
}

// LearningConfig holds feedback learning settings.
type LearningConfig struct {
	ReuseThreshold            int      `koanf:"reuse_threshold"`
	LearnedConfidence         float64  `koanf:"learned_confidence"`
	NeighbourSimilarity       float64  `koanf:"neighbour_similarity"`
	CorrectionWeight          int      `koanf:"correction_weight"`
	ImplicitSuccessConfidence float64  `koanf:"implicit_success_confidence"`
	StartupLoadLimit          int      `koanf:"startup_load_limit"`
	WriteQueueSize            int      `koanf:"write_queue_size"`
	WriteTimeout              Duration `koanf:"write_timeout"`
}

// StoreConfig selects the durable pattern mirror.
type StoreConfig struct {
	// Driver is one of "sqlite", "postgres", "mysql" or "none".
	Driver string `koanf:"driver"`
	DSN    Secret `koanf:"dsn"`
}

// RedisConfig configures the redis session backend.
type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  Secret `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

// NATSConfig configures cross-instance pattern fan-out.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
}

// DisambiguationConfig configures the clarification reply interpreter.
type DisambiguationConfig struct {
	// Provider is one of "local", "http" or "llm".
	Provider         string   `koanf:"provider"`
	Endpoint         string   `koanf:"endpoint"`
	Model            string   `koanf:"model"`
	APIKey           Secret   `koanf:"api_key"`
	Timeout          Duration `koanf:"timeout"`
	RateLimit        float64  `koanf:"rate_limit"`
	CertainThreshold float64  `koanf:"certain_threshold"`
}

// KnowledgeConfig locates the knowledge catalogue.
type KnowledgeConfig struct {
	// Path of a catalogue file. Empty uses the built-in catalogue.
	Path  string `koanf:"path"`
	Watch bool   `koanf:"watch"`
}

// RulesConfig locates an optional rule-set override (YAML or TOML).
type RulesConfig struct {
	Path string `koanf:"path"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9191,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Observability: ObservabilityConfig{
			EnableTelemetry: false,
			ServiceName:     "transitd",
			Endpoint:        "localhost:4317",
			Protocol:        "grpc",
			Insecure:        true,
			SampleRate:      1.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Classifier: ClassifierConfig{
			OffTopicBase:           0.6,
			OffTopicStep:           0.15,
			OffTopicCap:            0.95,
			SocialMaxChars:         40,
			SocialConfidence:       0.95,
			ClarificationThreshold: 0.6,
			MaxClarifications:      2,
			FallbackConfidence:     0.3,
			TriggerNormalizer:      5,
		},
		Session: SessionConfig{
			Backend:               "memory",
			IdleTTL:               Duration(30 * time.Minute),
			FollowUpMaxChars:      60,
			FollowUpMaxConfidence: 0.65,
			CarryOverConfidence:   0.7,
			MinActiveConfidence:   0.5,
		},
		Retrieval: RetrievalConfig{
			MaxResults:         3,
			IntentAcceptance:   0.5,
			SemanticAcceptance: 0.6,
			KeywordAcceptance:  0.2,
			MarkerPenalty:      0.3,
		},
		Learning: LearningConfig{
			ReuseThreshold:            3,
			LearnedConfidence:         0.85,
			NeighbourSimilarity:       0.6,
			CorrectionWeight:          3,
			ImplicitSuccessConfidence: 0.75,
			StartupLoadLimit:          1000,
			WriteQueueSize:            256,
			WriteTimeout:              Duration(5 * time.Second),
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "transitd.db",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "transitd:session:",
		},
		NATS: NATSConfig{
			URL:     "nats://127.0.0.1:4222",
			Subject: "transitd.patterns",
		},
		Disambiguation: DisambiguationConfig{
			Provider:         "local",
			Timeout:          Duration(3 * time.Second),
			RateLimit:        5,
			CertainThreshold: 0.8,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	unit := []struct {
		name string
		v    float64
	}{
		{"classifier.off_topic_base", c.Classifier.OffTopicBase},
		{"classifier.off_topic_step", c.Classifier.OffTopicStep},
		{"classifier.off_topic_cap", c.Classifier.OffTopicCap},
		{"classifier.social_confidence", c.Classifier.SocialConfidence},
		{"classifier.clarification_threshold", c.Classifier.ClarificationThreshold},
		{"classifier.fallback_confidence", c.Classifier.FallbackConfidence},
		{"session.follow_up_max_confidence", c.Session.FollowUpMaxConfidence},
		{"session.carry_over_confidence", c.Session.CarryOverConfidence},
		{"session.min_active_confidence", c.Session.MinActiveConfidence},
		{"retrieval.intent_acceptance", c.Retrieval.IntentAcceptance},
		{"retrieval.semantic_acceptance", c.Retrieval.SemanticAcceptance},
		{"retrieval.keyword_acceptance", c.Retrieval.KeywordAcceptance},
		{"retrieval.marker_penalty", c.Retrieval.MarkerPenalty},
		{"learning.learned_confidence", c.Learning.LearnedConfidence},
		{"learning.neighbour_similarity", c.Learning.NeighbourSimilarity},
		{"learning.implicit_success_confidence", c.Learning.ImplicitSuccessConfidence},
		{"disambiguation.certain_threshold", c.Disambiguation.CertainThreshold},
	}
	for _, u := range unit {
		if u.v < 0 || u.v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", u.name, u.v)
		}
	}
	if c.Classifier.OffTopicBase > c.Classifier.OffTopicCap {
		return errors.New("classifier.off_topic_base cannot exceed classifier.off_topic_cap")
	}
	if c.Classifier.TriggerNormalizer < 1 {
		return fmt.Errorf("classifier.trigger_normalizer must be >= 1, got %d", c.Classifier.TriggerNormalizer)
	}
	if c.Classifier.MaxClarifications < 0 {
		return errors.New("classifier.max_clarifications cannot be negative")
	}
	if c.Retrieval.MaxResults < 1 {
		return fmt.Errorf("retrieval.max_results must be >= 1, got %d", c.Retrieval.MaxResults)
	}
	if c.Learning.ReuseThreshold < 1 {
		return fmt.Errorf("learning.reuse_threshold must be >= 1, got %d", c.Learning.ReuseThreshold)
	}
	if c.Learning.CorrectionWeight < 1 {
		return fmt.Errorf("learning.correction_weight must be >= 1, got %d", c.Learning.CorrectionWeight)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres", "mysql", "none":
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	if c.Store.Driver != "none" && !c.Store.DSN.IsSet() {
		return fmt.Errorf("store.dsn required for driver %q", c.Store.Driver)
	}

	switch c.Session.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported session backend %q", c.Session.Backend)
	}
	if c.Session.Backend == "redis" && c.Redis.Addr == "" {
		return errors.New("redis.addr required for redis session backend")
	}

	switch c.Disambiguation.Provider {
	case "local":
	case "http", "llm":
		if c.Disambiguation.Provider == "http" && c.Disambiguation.Endpoint == "" {
			return errors.New("disambiguation.endpoint required for http provider")
		}
		if c.Disambiguation.Timeout <= 0 {
			return errors.New("disambiguation.timeout must be positive")
		}
	default:
		return fmt.Errorf("unsupported disambiguation provider %q", c.Disambiguation.Provider)
	}

	if c.NATS.Enabled && (c.NATS.URL == "" || c.NATS.Subject == "") {
		return errors.New("nats.url and nats.subject required when nats is enabled")
	}
	return nil
}
