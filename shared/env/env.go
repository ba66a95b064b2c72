package env

import (
	"callwatch/shared/utils"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const maxSessions = 3

var (
	APIID   int
	APIHash string

	BotToken        string
	SystemLogChatID int64
	AdminIDs        []int64
	Sessions        []Session

	MoralisAPIKey string

	DatabaseURL string
	ConfigPath  string
)

// Session is a userbot login read from SESSION_<n>.
type Session struct {
	Name   string
	String string
}

var hiddenKeys = map[string]bool{
	"API_HASH":        true,
	"BOT_TOKEN":       true,
	"MORALIS_API_KEY": true,
	"DATABASE_URL":    true,
}

func loadEnvVariable(key string, isRequired bool, missing *[]string) string {
	value := os.Getenv(key)
	if isRequired && value == "" {
		*missing = append(*missing, key)
		return ""
	}
	switch {
	case value == "":
		log.Printf("INFO: Environment variable %s is not set.", key)
	case hiddenKeys[key] || strings.HasPrefix(key, "SESSION_"):
		log.Printf("INFO: Loaded %s (value hidden)", key)
	default:
		log.Printf("INFO: Loaded %s = %s", key, value)
	}
	return value
}

func loadIntEnv(key string, required bool, missing *[]string) (int, error) {
	strValue := loadEnvVariable(key, required, missing)
	if strValue == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(strValue)
	if err != nil {
		return 0, fmt.Errorf("parse %s=%q: %w", key, strValue, err)
	}
	return v, nil
}

func loadInt64Env(key string, required bool, missing *[]string) (int64, error) {
	strValue := loadEnvVariable(key, required, missing)
	if strValue == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(strValue, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s=%q: %w", key, strValue, err)
	}
	return v, nil
}

// LoadEnv reads .env (if present) and the process environment into the
// package variables. It fails when a required variable is missing or
// malformed.
func LoadEnv() error {
	if err := godotenv.Load(); err != nil {
		log.Println("INFO: .env file not found or error loading, relying on system environment variables.")
	} else {
		log.Println("INFO: .env file loaded successfully.")
	}

	var missing []string
	var err error

	if APIID, err = loadIntEnv("API_ID", true, &missing); err != nil {
		return err
	}
	APIHash = loadEnvVariable("API_HASH", true, &missing)
	BotToken = loadEnvVariable("BOT_TOKEN", true, &missing)
	DatabaseURL = loadEnvVariable("DATABASE_URL", true, &missing)
	MoralisAPIKey = loadEnvVariable("MORALIS_API_KEY", false, &missing)
	if MoralisAPIKey == "" {
		log.Println("WARN: MORALIS_API_KEY is not set. Bonding status checks will report tokens as not bonded.")
	}

	ConfigPath = utils.GetEnv("CONFIG_PATH", "agent/config.yaml")

	if SystemLogChatID, err = loadInt64Env("SYSTEM_LOG_CHAT_ID", false, &missing); err != nil {
		return err
	}

	adminList := loadEnvVariable("ADMIN_IDS", false, &missing)
	if AdminIDs, err = utils.ParseInt64List(adminList); err != nil {
		return fmt.Errorf("parse ADMIN_IDS: %w", err)
	}
	if len(AdminIDs) == 0 {
		log.Println("WARN: ADMIN_IDS is empty. Only admins already stored in the database can manage the bot.")
	}

	Sessions = Sessions[:0]
	for i := 1; i <= maxSessions; i++ {
		key := fmt.Sprintf("SESSION_%d", i)
		if s := loadEnvVariable(key, false, &missing); s != "" {
			Sessions = append(Sessions, Session{Name: fmt.Sprintf("bot_%d", i), String: s})
		}
	}
	if len(Sessions) == 0 {
		log.Println("WARN: No SESSION_<n> variables set. Alerts cannot be posted until a bot is added with /add_bot.")
	}

	if len(missing) > 0 {
		return fmt.Errorf("required environment variables not set: %s", strings.Join(missing, ", "))
	}
	log.Println("INFO: Environment variables loading process complete.")
	return nil
}

// LoadDatabaseEnv reads only what schema migrations need.
func LoadDatabaseEnv() error {
	_ = godotenv.Load()
	var missing []string
	DatabaseURL = loadEnvVariable("DATABASE_URL", true, &missing)
	ConfigPath = utils.GetEnv("CONFIG_PATH", "agent/config.yaml")
	if len(missing) > 0 {
		return fmt.Errorf("required environment variables not set: %s", strings.Join(missing, ", "))
	}
	return nil
}
