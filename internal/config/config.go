package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Leonid-DD/Chess2/internal/board"
)

type AppConfig struct {
	RedisURL    string
	DatabaseURL string

	BridgeAddr string

	PlayerID   string
	OpponentID string
	Mode       board.Mode

	RulesDir        string
	SelfCheckFilter bool

	PersistTimeout time.Duration
	SessionTTL     time.Duration
	MatchWait      time.Duration

	// Initializer forces this process to create the session document
	// when both ids are configured up front.
	Initializer bool
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		BridgeAddr:      "127.0.0.1:8787",
		Mode:            board.ModeChess2,
		SelfCheckFilter: true,
		PersistTimeout:  5 * time.Second,
		SessionTTL:      24 * time.Hour,
		MatchWait:       10 * time.Minute,
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if v := strings.TrimSpace(os.Getenv("BRIDGE_ADDR")); v != "" {
		cfg.BridgeAddr = v
	}

	cfg.PlayerID = strings.TrimSpace(os.Getenv("PLAYER_ID"))
	cfg.OpponentID = strings.TrimSpace(os.Getenv("OPPONENT_ID"))
	if v := strings.TrimSpace(os.Getenv("GAME_MODE")); v != "" {
		cfg.Mode = board.ParseMode(v)
	}

	cfg.RulesDir = strings.TrimSpace(os.Getenv("RULES_DIR"))
	if v := strings.TrimSpace(os.Getenv("SELF_CHECK_FILTER")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SelfCheckFilter = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("INITIALIZER")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Initializer = b
		}
	}

	if v := strings.TrimSpace(os.Getenv("PERSIST_TIMEOUT_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PersistTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := strings.TrimSpace(os.Getenv("SESSION_TTL_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.SessionTTL = time.Duration(n) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("MATCH_WAIT_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MatchWait = time.Duration(n) * time.Second
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.PlayerID == "" {
		return nil, errors.New("PLAYER_ID is required")
	}
	if cfg.OpponentID == cfg.PlayerID {
		return nil, errors.New("OPPONENT_ID must differ from PLAYER_ID")
	}

	return cfg, nil
}
