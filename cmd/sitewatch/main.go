package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"sitewatch/internal/alert"
	"sitewatch/internal/auth"
	"sitewatch/internal/config"
	"sitewatch/internal/database"
	"sitewatch/internal/detection"
	"sitewatch/internal/emitter"
	"sitewatch/internal/eventlog"
	"sitewatch/internal/metrics"
	"sitewatch/internal/pipeline"
	"sitewatch/internal/pipeline/detectors"
	"sitewatch/internal/services"
	"sitewatch/internal/session"
	"sitewatch/internal/speech"
	"sitewatch/internal/telegram"
	"sitewatch/internal/vision"
	"sitewatch/internal/ws"
)

func main() {
	var (
		hostF      = flag.String("host", "0.0.0.0", "Server host")
		httpPortF  = flag.String("http-port", "8080", "HTTP port")
		configF    = flag.String("config", "", "Session config file (YAML)")
		autostartF = flag.Bool("autostart", true, "Start monitoring on launch")
		retentionF = flag.Duration("retention", 30*24*time.Hour, "Delete violation events older than this, 0 keeps everything")
		dbgF       = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	var (
		logger *log.Logger
	)
	{
		logger = log.New(os.Stderr, "[sitewatch] ", log.Ltime)
	}

	settings, err := config.Load(*configF)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	collab := config.CollaboratorsFromEnv()

	ctx, cancel := context.WithCancel(context.Background())

	// Storage
	db, err := openDatabase(collab.DatabasePath)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer db.Close()

	csvLog, err := eventlog.NewCSVRecorder(collab.CSVLogPath)
	if err != nil {
		logger.Fatalf("%v", err)
	}

	// Detectors
	registry := detectors.NewRegistry()
	defer registry.Close()
	if err := registerDetectors(registry, collab); err != nil {
		logger.Fatalf("%v", err)
	}
	waitHealthy(registry, string(pipeline.DetectorRolePerson), collab.DetectorHealthWait, logger)

	// Alert channels
	m := metrics.New()
	dispatcher := alert.NewDispatcher(ctx, alert.DispatcherConfig{
		Timeout:  settings.ChannelTimeout,
		Observer: m,
	})

	speaker := speech.New(collab.SpeechCommand, collab.SpeechRate)

	var visionCh *alert.VisionChannel
	analyzer := vision.NewAnalyzer(vision.Config{
		BaseURL: collab.VisionBaseURL,
		Model:   collab.VisionModel,
		APIKey:  collab.VisionAPIKey,
		Timeout: settings.ChannelTimeout,
	})
	if analyzer.IsConfigured() {
		visionCh = alert.NewVisionChannel(analyzer, speaker, dispatcher, settings.VisionMaxWidth)
		dispatcher.Register(visionCh, settings.Gate(alert.ChannelVision))
	} else {
		logger.Printf("vision escalation disabled: %v", vision.ErrNotConfigured)
	}

	dispatcher.Register(alert.NewSpeechChannel(speaker), settings.Gate(alert.ChannelSpeech))

	bot := telegram.NewTelegramBot(telegram.Config{
		BotToken: collab.TelegramBotToken,
		ChatID:   collab.TelegramChatID,
		Enabled:  collab.TelegramBotToken != "" && collab.TelegramChatID != "",
	})
	if bot.IsEnabled() {
		dispatcher.Register(alert.NewPushChannel(bot), settings.Gate(alert.ChannelPush))
	} else {
		logger.Printf("push notifications disabled: TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID are not both set")
	}

	dispatcher.Register(alert.NewLogChannel(eventlog.Multi{csvLog, db}), settings.Gate(alert.ChannelLog))

	// Session
	source := pipeline.NewFFmpegSource(pipeline.SourceConfig{
		CameraID: collab.CameraID,
		Device:   collab.CameraDevice,
		FPS:      collab.CameraFPS,
	})
	sess, err := session.New(session.Config{
		CameraID:   collab.CameraID,
		Settings:   settings,
		Source:     source,
		Detectors:  registry,
		Dispatcher: dispatcher,
		Observer:   m,
	})
	if err != nil {
		logger.Fatalf("%v", err)
	}

	// Verdict sinks
	hub := ws.NewVerdictHub()
	unsubscribeHub := sess.Bus().Subscribe(hub)
	defer unsubscribeHub()

	var mqttEmitter *emitter.MQTTEmitter
	if collab.MQTTBroker != "" {
		mqttEmitter = emitter.NewMQTTEmitter(emitter.Config{
			Broker:   collab.MQTTBroker,
			ClientID: collab.MQTTClientID,
			Topic:    collab.MQTTTopic,
		})
		if err := mqttEmitter.Connect(ctx); err != nil {
			logger.Printf("MQTT telemetry disabled: %v", err)
			mqttEmitter = nil
		}
	}

	// API
	authenticator, err := auth.NewAuthenticator(auth.ConfigFromEnv())
	if err != nil {
		logger.Fatalf("%v", err)
	}

	var narration services.NarrationSource
	if visionCh != nil {
		narration = visionCh
	}
	svc := services.Services{
		Health:  services.NewHealthService(db, sess),
		Monitor: services.NewMonitorService(ctx, sess, narration),
		Events:  services.NewEventsService(db),
		Auth:    services.NewAuthService(authenticator),
	}

	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup

	if mqttEmitter != nil {
		events, unsubscribe := sess.Bus().SubscribeChannel(64)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer unsubscribe()
			mqttEmitter.Run(ctx, events)
			mqttEmitter.Disconnect()
		}()
	}

	if bot.IsEnabled() {
		commands := telegram.NewCommandHandler(bot, sess, db)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := commands.StartPolling(ctx); err != nil {
				logger.Printf("telegram commands disabled: %v", err)
			}
		}()
	}

	if *retentionF > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pruneEvents(ctx, db, *retentionF, logger)
		}()
	}

	if *autostartF {
		if err := sess.Start(ctx); err != nil {
			logger.Printf("monitoring not started: %v", err)
		}
	}

	u := &url.URL{Scheme: "http", Host: net.JoinHostPort(*hostF, *httpPortF)}
	handleHTTPServer(ctx, u, svc, m, ws.NewHandler(hub), authenticator, &wg, errc, logger, *dbgF)

	logger.Printf("exiting (%v)", <-errc)

	if err := sess.Stop(); err != nil {
		logger.Printf("failed to stop monitoring: %v", err)
	}

	cancel()

	wg.Wait()
	logger.Println("exited")
}

// openDatabase opens the event store and applies migrations
func openDatabase(path string) (*database.Database, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := database.New(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// registerDetectors builds the person and equipment detectors for the
// configured backend. The equipment detector is optional.
func registerDetectors(registry *detectors.Registry, c config.Collaborators) error {
	switch c.DetectorBackend {
	case "http":
		person := detection.NewYOLODetectorWithConfig(detection.YOLOConfig{
			ServiceEndpoint: c.PersonEndpoint,
			ClassesFilter:   "person",
			Timeout:         c.DetectorTimeout,
		})
		if err := registry.Register(detectors.NewYOLOAdapter(pipeline.DetectorRolePerson, person)); err != nil {
			return err
		}
		if c.EquipmentEndpoint == "" {
			return nil
		}
		equipment := detection.NewYOLODetectorWithConfig(detection.YOLOConfig{
			ServiceEndpoint: c.EquipmentEndpoint,
			ClassesFilter:   strings.Join(c.EquipmentClasses, ","),
			Timeout:         c.DetectorTimeout,
		})
		return registry.Register(detectors.NewYOLOAdapter(pipeline.DetectorRoleEquipment, equipment))

	case "grpc":
		person, err := detection.NewGRPCDetector(detection.GRPCDetectorConfig{
			Endpoint: c.PersonEndpoint,
			Classes:  []string{"person"},
			Timeout:  c.DetectorTimeout,
		})
		if err != nil {
			return err
		}
		if err := registry.Register(detectors.NewGRPCAdapter(pipeline.DetectorRolePerson, person)); err != nil {
			return err
		}
		if c.EquipmentEndpoint == "" {
			return nil
		}
		equipment, err := detection.NewGRPCDetector(detection.GRPCDetectorConfig{
			Endpoint: c.EquipmentEndpoint,
			Classes:  c.EquipmentClasses,
			Timeout:  c.DetectorTimeout,
		})
		if err != nil {
			return err
		}
		return registry.Register(detectors.NewGRPCAdapter(pipeline.DetectorRoleEquipment, equipment))

	default:
		return fmt.Errorf("unknown DETECTOR_BACKEND %q (valid: http|grpc)", c.DetectorBackend)
	}
}

// waitHealthy gives a freshly started inference service time to load its model
func waitHealthy(registry *detectors.Registry, name string, wait time.Duration, logger *log.Logger) {
	deadline := time.Now().Add(wait)
	for {
		if _, ok := registry.GetHealthy(name); ok {
			return
		}
		if time.Now().After(deadline) {
			logger.Printf("%s detector not healthy after %v", name, wait)
			return
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// pruneEvents deletes old violation events once an hour
func pruneEvents(ctx context.Context, db *database.Database, retention time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		n, err := db.DeleteEventsBefore(ctx, time.Now().Add(-retention))
		if err != nil {
			logger.Printf("failed to prune events: %v", err)
		} else if n > 0 {
			logger.Printf("pruned %d violation events older than %v", n, retention)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
