package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ListenAddr     string
	DBPath         string
	PhotoPath      string
	LogLevel       string
	LogFormat      string
	LogFile        string
	BackendURL     string
	BackendToken   string
	BackendTimeout time.Duration
	CameraBackend  string
	CameraDevice   int
	CameraWidth    int
	CameraHeight   int
	CaptureTick    time.Duration
	JPEGQuality    int
	TestMode       bool
}

func Load() *Config {
	cfg := &Config{
		ListenAddr:     getEnv("LISTEN_ADDR", ":8080"),
		DBPath:         getEnv("DB_PATH", "/data/rideshare.db"),
		PhotoPath:      getEnv("PHOTO_LOCAL_PATH", "/data/previews"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		LogFile:        getEnv("LOG_FILE", ""),
		BackendURL:     getEnv("BACKEND_URL", "http://localhost:3000/api"),
		BackendToken:   getEnv("BACKEND_TOKEN", ""),
		BackendTimeout: getEnvDuration("BACKEND_TIMEOUT", 30*time.Second),
		CameraBackend:  getEnv("CAMERA_BACKEND", "auto"),
		CameraDevice:   getEnvInt("CAMERA_DEVICE", 0),
		CameraWidth:    getEnvInt("CAMERA_WIDTH", 1280),
		CameraHeight:   getEnvInt("CAMERA_HEIGHT", 720),
		CaptureTick:    getEnvDuration("CAPTURE_TICK", time.Second),
		JPEGQuality:    getEnvInt("JPEG_QUALITY", 90),
		TestMode:       os.Getenv("RIDESHARE_TEST_MODE") == "1",
	}
	if cfg.TestMode {
		cfg.CameraBackend = "synthetic"
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
