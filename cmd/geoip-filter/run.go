package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/houzhh15/geoip-filter/internal/admin"
	"github.com/houzhh15/geoip-filter/internal/config"
	"github.com/houzhh15/geoip-filter/internal/geoip"
	"github.com/houzhh15/geoip-filter/internal/log"
	"github.com/houzhh15/geoip-filter/internal/pipeline"
	"github.com/houzhh15/geoip-filter/internal/pipeline/enricher"
	"github.com/houzhh15/geoip-filter/internal/pipeline/writer"
)

// run 启动管线直到收到退出信号；数据库或配置问题在消费任何事件前返回错误
func run(ctx context.Context, configPath string) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	logger, err := log.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	logger.Info("geoip-filter starting",
		zap.String("version", Version),
		zap.String("commit", GitCommit),
	)

	geo, err := enricher.OpenGeoIPEnricher(&cfg.Filter.GeoIP, logger.Named("geoip"))
	if err != nil {
		logger.Error("Failed to open geoip database", zap.Error(err))
		return err
	}
	chain := enricher.NewEnricherChain(geo)
	defer chain.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := pipeline.NewPipelineMetrics("")
	metrics.MustRegister(reg)
	geo.SetObserver(metrics)

	outputs, err := newOutputs(cfg)
	if err != nil {
		return err
	}

	p, err := pipeline.NewPipeline(cfg, nil, chain, outputs, metrics, logger.Named("pipeline"))
	if err != nil {
		_ = closeOutputs(outputs)
		return err
	}

	var adminSrv *admin.Server
	if cfg.Admin.Enabled {
		opts := admin.Options{
			Addr:        cfg.Admin.Addr,
			MetricsPath: cfg.Admin.MetricsPath,
			Version:     Version,
			Gatherer:    reg,
		}
		if info, ok := geo.DatabaseInfo(); ok {
			opts.Database = &info
		}
		adminSrv = admin.NewServer(opts, p, logger.Named("admin"))
		if err := adminSrv.Start(); err != nil {
			_ = closeOutputs(outputs)
			return fmt.Errorf("start admin server: %w", err)
		}
	}

	if configPath != "" {
		loader.Watch(func(next *pipeline.PipelineConfig) {
			if err := logger.SetLevel(next.Log.Level); err != nil {
				logger.Warn("Ignoring invalid log level", zap.String("level", next.Log.Level))
				return
			}
			logger.Info("Config reloaded", zap.String("log_level", logger.GetLevel()))
		})
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := p.Start(ctx); err != nil {
		return err
	}
	var errs error
	select {
	case <-ctx.Done():
		logger.Info("Received signal, shutting down")
	case <-p.Halted():
		errs = fmt.Errorf("pipeline halted: %w", p.Err())
	}

	errs = multierr.Append(errs, p.Stop())
	if adminSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = multierr.Append(errs, adminSrv.Shutdown(shutdownCtx))
	}
	return errs
}

// newOutputs 按配置创建输出写入器
func newOutputs(cfg *pipeline.PipelineConfig) (pipeline.Outputs, error) {
	out := cfg.Output.Kafka
	newWriter := func(topic string) (*writer.KafkaWriter, error) {
		return writer.NewKafkaWriter(&writer.KafkaWriterConfig{
			Brokers:      out.Brokers,
			Topic:        topic,
			BatchSize:    out.BatchSize,
			BatchTimeout: out.BatchTimeout,
			RequiredAcks: out.RequiredAcks,
			Compression:  out.Compression,
			MaxRetries:   cfg.ErrorHandling.MaxRetries,
			RetryBackoff: cfg.ErrorHandling.RetryBackoff,
		})
	}

	var outputs pipeline.Outputs
	matched, err := newWriter(out.Topic)
	if err != nil {
		return outputs, fmt.Errorf("create output writer: %w", err)
	}
	outputs.Matched = matched

	if len(out.MirrorTopics) > 0 {
		targets := []writer.Writer{matched}
		for _, topic := range out.MirrorTopics {
			mirror, err := newWriter(topic)
			if err != nil {
				_ = writer.NewMultiWriter(targets...).Close()
				return pipeline.Outputs{}, fmt.Errorf("create mirror writer %s: %w", topic, err)
			}
			targets = append(targets, mirror)
		}
		outputs.Matched = writer.NewMultiWriter(targets...)
	}

	if out.UnmatchedTopic != "" {
		unmatched, err := newWriter(out.UnmatchedTopic)
		if err != nil {
			_ = closeOutputs(outputs)
			return pipeline.Outputs{}, fmt.Errorf("create unmatched writer: %w", err)
		}
		outputs.Unmatched = unmatched
	}

	if cfg.ErrorHandling.DLQTopic != "" {
		dlq, err := newWriter(cfg.ErrorHandling.DLQTopic)
		if err != nil {
			_ = closeOutputs(outputs)
			return pipeline.Outputs{}, fmt.Errorf("create dlq writer: %w", err)
		}
		outputs.DLQ = dlq
	}
	return outputs, nil
}

func closeOutputs(o pipeline.Outputs) error {
	var errs error
	for _, w := range []writer.Writer{o.Matched, o.Unmatched, o.DLQ} {
		if w != nil {
			errs = multierr.Append(errs, w.Close())
		}
	}
	return errs
}

// inspect 打印数据库元数据
func inspect(w io.Writer, path string) error {
	info, err := geoip.Inspect(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "path:       %s\n", info.Path)
	fmt.Fprintf(w, "edition:    %s\n", info.Edition)
	fmt.Fprintf(w, "schema:     %s\n", info.Kind)
	fmt.Fprintf(w, "build time: %s\n", info.BuildTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "nodes:      %d\n", info.NodeCount)
	fmt.Fprintf(w, "ip version: %d\n", info.IPVersion)
	return nil
}

// printConfig 打印生效的配置
func printConfig(w io.Writer, path string) error {
	cfg, err := config.LoadAndValidate(path)
	if err != nil {
		return err
	}
	out, err := config.Render(cfg)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
