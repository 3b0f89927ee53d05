package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	ListenAddr string

	ReconnectGrace time.Duration
	ClockTick      time.Duration

	MaxRooms     int
	RoomIDLength int

	MessageDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:     ":3001",
		ReconnectGrace: 15 * time.Second,
		ClockTick:      time.Second,
		MaxRooms:       200,
		RoomIDLength:   6,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		cfg.ListenAddr = ":" + v
	}
	if v := strings.TrimSpace(os.Getenv("RECONNECT_GRACE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ReconnectGrace = time.Duration(n) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("CLOCK_TICK_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ClockTick = time.Duration(n) * time.Millisecond
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_ROOMS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxRooms = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ROOM_ID_LENGTH")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RoomIDLength = n
		}
	}
	cfg.MessageDir = strings.TrimSpace(os.Getenv("MESSAGE_DIR"))

	return cfg, nil
}
