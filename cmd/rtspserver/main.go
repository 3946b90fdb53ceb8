package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/ethan/rtsp-cam-server/pkg/config"
	"github.com/ethan/rtsp-cam-server/pkg/demosource"
	"github.com/ethan/rtsp-cam-server/pkg/logger"
	"github.com/ethan/rtsp-cam-server/pkg/rtsp"
	"github.com/ethan/rtsp-cam-server/pkg/stream"
)

func main() {
	fs := flag.NewFlagSet("rtspserver", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)

	configPath := fs.String("config", "rtsp.conf", "path to the key=value config file")
	port := fs.Int("port", 0, "override rtsp_port")
	listen := fs.String("listen", "", "override rtsp_listen")
	username := fs.String("username", "", "override rtsp_username")
	password := fs.String("password", "", "override rtsp_password")
	streamID := fs.String("stream-id", "cam1", "stream_id the demo source publishes under")
	streamName := fs.String("stream-name", "Demo Camera", "display name for the demo stream")
	demoAudio := fs.Bool("demo-audio", false, "enable the synthetic PCMU audio track")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "RTSP camera streaming server\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		logger.PrintUsageExamples()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logger: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logger.SetDefault(log)

	log.Info("starting rtsp-cam-server", "log_config", logFlags.String())

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Warn("no usable config file, using defaults", "path", *configPath, "error", err)
		defaults := config.Defaults()
		cfg = &defaults
	}

	cfg.ApplyFlagOverrides(config.FlagOverrides{
		Port:     *port,
		Listen:   *listen,
		Username: *username,
		Password: *password,
	})

	if !cfg.RTSPEnabled {
		log.Info("rtsp_enabled is false, exiting")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	registry := stream.NewRegistry(cfg.RTSPListen, cfg.RTSPPort, log)

	streamCfg := &stream.Config{
		StreamID:     *streamID,
		Name:         *streamName,
		HasVideo:     true,
		HasAudio:     *demoAudio || cfg.RTSPAudioEnabled,
		VideoCodec:   stream.VideoCodecH264,
		AudioCodec:   "PCMU",
		PayloadTypeA: 0,
		ClockRateA:   8000,
		Width:        640,
		Height:       480,
		Framerate:    15,
		Bitrate:      cfg.RTSPVideoBitrate,
		Preset:       cfg.RTSPVideoPreset,
	}
	if err := registry.RegisterStream(*streamID, streamCfg); err != nil {
		log.Error("failed to register stream", "error", err)
		os.Exit(1)
	}
	log.Info("stream registered", "stream_id", *streamID, "audio", streamCfg.HasAudio)

	serverCfg := rtsp.Config{
		Listen:         cfg.RTSPListen,
		Port:           cfg.RTSPPort,
		ServerName:     "rtsp-cam-server",
		Username:       cfg.RTSPUsername,
		Password:       cfg.RTSPPassword,
		SessionTimeout: cfg.SessionTimeout,
		ReapInterval:   30 * time.Second,
		RateLimit:      rate.Limit(20),
		RateBurst:      40,
	}

	server := rtsp.NewServer(serverCfg, registry, log)
	if err := server.Start(ctx); err != nil {
		log.Error("failed to start rtsp server", "error", err)
		os.Exit(1)
	}
	log.Info("rtsp server started", "url", registry.StreamURL(*streamID))

	source := demosource.New(demosource.Config{
		StreamID:     *streamID,
		Framerate:    streamCfg.Framerate,
		AudioEnabled: streamCfg.HasAudio,
	}, registry, log)
	go source.Run(ctx)

	<-ctx.Done()

	log.Info("shutting down")
	if err := server.Stop(); err != nil {
		log.Error("error during shutdown", "error", err)
	}
	log.Info("shutdown complete")
}
