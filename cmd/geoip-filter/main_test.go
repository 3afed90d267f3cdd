package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/geoip-filter/internal/geoip"
	"github.com/houzhh15/geoip-filter/internal/geoip/geoiptest"
	"github.com/houzhh15/geoip-filter/internal/pipeline"
	"github.com/houzhh15/geoip-filter/internal/pipeline/writer"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "geoip-filter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestInspectCommand(t *testing.T) {
	out, err := execute(t, "inspect", geoiptest.CityDatabase(t))
	require.NoError(t, err)
	assert.Contains(t, out, "GeoLite2-City")
	assert.Contains(t, out, "schema:     city")

	_, err = execute(t, "inspect", geoiptest.UnsupportedDatabase(t))
	assert.ErrorIs(t, err, geoip.ErrUnsupportedDatabase)

	_, err = execute(t, "inspect")
	assert.Error(t, err)
}

func TestConfigCommand(t *testing.T) {
	path := writeConfig(t, `
filter:
  geoip:
    source: "[client][ip]"
    fields: [city_name]
`)
	out, err := execute(t, "config", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "[client][ip]")
	assert.Contains(t, out, "- city_name")

	_, err = execute(t, "config", "--config", writeConfig(t, "processing:\n  worker_count: -1\n"))
	assert.Error(t, err)
}

func TestRunCommand_FatalStartup(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{
			name:   "unsupported database",
			config: "filter:\n  geoip:\n    source: clientip\n    database: " + geoiptest.UnsupportedDatabase(t) + "\n",
		},
		{
			name:   "missing database",
			config: "filter:\n  geoip:\n    source: clientip\n    database: /nonexistent/GeoLite2-City.mmdb\n",
		},
		{
			name:   "missing source",
			config: "filter:\n  geoip:\n    fields: [city_name]\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, "run", "--config", writeConfig(t, tt.config))
			assert.Error(t, err)
		})
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}

func TestNewOutputs(t *testing.T) {
	cfg := pipeline.DefaultPipelineConfig()

	outputs, err := newOutputs(cfg)
	require.NoError(t, err)
	assert.IsType(t, &writer.KafkaWriter{}, outputs.Matched)
	assert.Nil(t, outputs.Unmatched)
	assert.NotNil(t, outputs.DLQ)
	require.NoError(t, closeOutputs(outputs))

	cfg.Output.Kafka.MirrorTopics = []string{"events.geoip.archive", "events.geoip.audit"}
	cfg.Output.Kafka.UnmatchedTopic = "events.nogeo"
	outputs, err = newOutputs(cfg)
	require.NoError(t, err)
	assert.IsType(t, &writer.MultiWriter{}, outputs.Matched)
	assert.IsType(t, &writer.KafkaWriter{}, outputs.Unmatched)
	require.NoError(t, closeOutputs(outputs))

	cfg.Output.Kafka.MirrorTopics = nil
	cfg.Output.Kafka.Compression = "brotli"
	_, err = newOutputs(cfg)
	assert.Error(t, err)
}
