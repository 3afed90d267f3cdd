package pipeline

import (
	"errors"
	"testing"
)

func TestDefaultPipelineConfig_Valid(t *testing.T) {
	cfg := DefaultPipelineConfig()
	if cfg.Filter.GeoIP.Source != "" || cfg.Filter.GeoIP.Field != "" {
		t.Fatalf("defaults must not pick a source field, got source=%q field=%q",
			cfg.Filter.GeoIP.Source, cfg.Filter.GeoIP.Field)
	}

	var cerr *ConfigError
	if err := cfg.Validate(); !errors.As(err, &cerr) || cerr.Field != "filter.geoip.source" {
		t.Fatalf("Validate() error = %v, want filter.geoip.source", err)
	}

	cfg.Filter.GeoIP.Source = "clientip"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestPipelineConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *PipelineConfig)
		field  string
	}{
		{"no input brokers", func(c *PipelineConfig) { c.Input.Kafka.Brokers = nil }, "input.kafka.brokers"},
		{"no input topic", func(c *PipelineConfig) { c.Input.Kafka.Topic = "" }, "input.kafka.topic"},
		{"no group", func(c *PipelineConfig) { c.Input.Kafka.ConsumerGroup = "" }, "input.kafka.consumer_group"},
		{"zero batch", func(c *PipelineConfig) { c.Processing.BatchSize = 0 }, "processing.batch_size"},
		{"zero timeout", func(c *PipelineConfig) { c.Processing.BatchTimeout = 0 }, "processing.batch_timeout"},
		{"zero workers", func(c *PipelineConfig) { c.Processing.WorkerCount = 0 }, "processing.worker_count"},
		{"no source", func(c *PipelineConfig) { c.Filter.GeoIP.Source = "" }, "filter.geoip.source"},
		{"no output topic", func(c *PipelineConfig) { c.Output.Kafka.Topic = "" }, "output.kafka.topic"},
		{"empty mirror", func(c *PipelineConfig) { c.Output.Kafka.MirrorTopics = []string{""} }, "output.kafka.mirror_topics"},
		{"mirror of main topic", func(c *PipelineConfig) { c.Output.Kafka.MirrorTopics = []string{"events.geoip"} }, "output.kafka.mirror_topics"},
		{"bad compression", func(c *PipelineConfig) { c.Output.Kafka.Compression = "brotli" }, "output.kafka.compression"},
		{"no admin addr", func(c *PipelineConfig) { c.Admin.Addr = "" }, "admin.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultPipelineConfig()
			cfg.Filter.GeoIP.Source = "clientip"
			tt.mutate(cfg)

			var cerr *ConfigError
			if err := cfg.Validate(); !errors.As(err, &cerr) || cerr.Field != tt.field {
				t.Errorf("Validate() error = %v, want field %s", err, tt.field)
			}
		})
	}
}

func TestPipelineConfig_DeprecatedFieldSatisfiesSource(t *testing.T) {
	cfg := DefaultPipelineConfig()
	cfg.Filter.GeoIP.Source = ""
	cfg.Filter.GeoIP.Field = "clientip"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	cfg.Filter.GeoIP.Enabled = false
	cfg.Filter.GeoIP.Field = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with disabled filter error = %v", err)
	}
}
