package config

import (
	"os"
	"strconv"
	"time"
)

// Collaborators locates the external services a session talks to.
// Values come from the environment, the same way the deployment charts set them.
type Collaborators struct {
	CameraID     string
	CameraDevice string // rtsp://, http:// or a v4l2 device path
	CameraFPS    int

	DetectorBackend    string // "http" (YOLO service) or "grpc"
	PersonEndpoint     string
	EquipmentEndpoint  string // Empty runs without equipment checks
	EquipmentClasses   []string
	DetectorTimeout    time.Duration
	DetectorHealthWait time.Duration

	VisionBaseURL string
	VisionModel   string
	VisionAPIKey  string

	SpeechCommand string
	SpeechRate    int

	TelegramBotToken string
	TelegramChatID   string

	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string

	DatabasePath string
	CSVLogPath   string
}

// CollaboratorsFromEnv reads collaborator locations with their defaults
func CollaboratorsFromEnv() Collaborators {
	return Collaborators{
		CameraID:     getenv("CAMERA_ID", "site"),
		CameraDevice: getenv("CAMERA_DEVICE", "/dev/video0"),
		CameraFPS:    getenvInt("CAMERA_FPS", 15),

		DetectorBackend:    getenv("DETECTOR_BACKEND", "http"),
		PersonEndpoint:     getenv("YOLO_ENDPOINT", "http://localhost:8081"),
		EquipmentEndpoint:  os.Getenv("PPE_ENDPOINT"),
		EquipmentClasses:   splitTrim(getenv("PPE_CLASSES", "helmet,hardhat,hard-hat"), ","),
		DetectorTimeout:    getenvDuration("DETECTOR_TIMEOUT", 10*time.Second),
		DetectorHealthWait: getenvDuration("DETECTOR_HEALTH_WAIT", 5*time.Second),

		VisionBaseURL: getenv("VISION_BASE_URL", "https://api.openai.com/v1/"),
		VisionModel:   getenv("VISION_MODEL", "gpt-4o"),
		VisionAPIKey:  os.Getenv("OPENAI_API_KEY"),

		SpeechCommand: getenv("SPEECH_COMMAND", "espeak"),
		SpeechRate:    getenvInt("SPEECH_RATE", 150),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),

		MQTTBroker:   os.Getenv("MQTT_BROKER"),
		MQTTTopic:    getenv("MQTT_TOPIC", "sitewatch/verdicts"),
		MQTTClientID: getenv("MQTT_CLIENT_ID", "sitewatch"),

		DatabasePath: getenv("DATABASE_PATH", "data/sitewatch.db"),
		CSVLogPath:   getenv("ACTIVITY_LOG_PATH", "logs/activity_log.csv"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
