package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/harentsoaR/dentist-scheduling/internal/models"
)

type Config struct {
	Port        string
	Env         string
	CORSOrigins []string
	JWTSecret   string
	Location    *time.Location

	StorageDriver string // memory, mongo, postgres, sqlite
	MongoURI      string
	MongoDatabase string
	DatabaseDSN   string

	LockBackend   string // memory, redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SlotBuffer           time.Duration
	AppointmentDurations map[models.AppointmentType]int

	RemindersEnabled   bool
	ReminderInterval   time.Duration
	ReminderPendingTTL time.Duration
	ReminderChannels   map[string][]string

	TextbeltAPIKey      string
	TextbeltURL         string
	InsuranceAutoVerify bool

	// SeedFile optionally points at a JSON file of providers and contacts loaded at startup.
	SeedFile string
}

// DefaultAppointmentDurations returns the stock minutes per appointment type.
func DefaultAppointmentDurations() map[models.AppointmentType]int {
	return map[models.AppointmentType]int{
		models.TypeCheckUp:      30,
		models.TypeCleaning:     60,
		models.TypeFilling:      60,
		models.TypeRootCanal:    90,
		models.TypeExtraction:   45,
		models.TypeConsultation: 30,
		models.TypeFollowUp:     20,
		models.TypeEmergency:    45,
	}
}

// DefaultReminderChannels returns the channels used per lead-time bucket.
func DefaultReminderChannels() map[string][]string {
	return map[string][]string{
		"24h":   {"sms", "email"},
		"48h":   {"email"},
		"1week": {"email"},
	}
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, relying on environment variables.")
	}

	cfg := &Config{
		Port:             getEnv("API_PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		CORSOrigins:      splitList(getEnv("CORS_ORIGINS", "https://dentaheal.netlify.app")),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		StorageDriver:    getEnv("STORAGE_DRIVER", "memory"),
		MongoURI:         os.Getenv("MONGO_URI"),
		MongoDatabase:    getEnv("MONGO_DATABASE", "dentist"),
		DatabaseDSN:      os.Getenv("DATABASE_DSN"),
		LockBackend:      getEnv("LOCK_BACKEND", "memory"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		SlotBuffer:       time.Duration(getEnvInt("SLOT_BUFFER_MINUTES", 10)) * time.Minute,
		RemindersEnabled: getEnv("REMINDERS_ENABLED", "true") == "true",
		TextbeltAPIKey:   os.Getenv("TEXTBELT_API_KEY"),
		TextbeltURL:      getEnv("TEXTBELT_URL", "https://textbelt.com"),
		SeedFile:         os.Getenv("SEED_FILE"),
	}

	loc, err := time.LoadLocation(getEnv("PRACTICE_TIMEZONE", "Local"))
	if err != nil {
		return nil, fmt.Errorf("invalid PRACTICE_TIMEZONE: %w", err)
	}
	cfg.Location = loc
	cfg.InsuranceAutoVerify = getEnv("INSURANCE_AUTO_VERIFY", "false") == "true"

	cfg.ReminderInterval, err = time.ParseDuration(getEnv("REMINDER_INTERVAL", "1h"))
	if err != nil || cfg.ReminderInterval <= 0 {
		return nil, fmt.Errorf("invalid REMINDER_INTERVAL %q", os.Getenv("REMINDER_INTERVAL"))
	}
	cfg.ReminderPendingTTL, err = time.ParseDuration(getEnv("REMINDER_PENDING_TTL", "72h"))
	if err != nil || cfg.ReminderPendingTTL <= 0 {
		return nil, fmt.Errorf("invalid REMINDER_PENDING_TTL %q", os.Getenv("REMINDER_PENDING_TTL"))
	}

	cfg.AppointmentDurations, err = ParseDurations(os.Getenv("APPOINTMENT_DURATIONS"))
	if err != nil {
		return nil, err
	}
	cfg.ReminderChannels, err = ParseReminderChannels(os.Getenv("REMINDER_CHANNELS"))
	if err != nil {
		return nil, err
	}

	if cfg.SlotBuffer < 0 {
		return nil, fmt.Errorf("SLOT_BUFFER_MINUTES must not be negative")
	}
	return cfg, nil
}

// ParseDurations overlays "type=minutes,..." on the default duration table.
func ParseDurations(raw string) (map[models.AppointmentType]int, error) {
	durations := DefaultAppointmentDurations()
	for _, pair := range splitList(raw) {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid APPOINTMENT_DURATIONS entry %q", pair)
		}
		t := models.AppointmentType(strings.TrimSpace(key))
		if !t.Valid() {
			return nil, fmt.Errorf("unknown appointment type %q", key)
		}
		minutes, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || minutes <= 0 {
			return nil, fmt.Errorf("invalid duration for %s: %q", t, value)
		}
		durations[t] = minutes
	}
	return durations, nil
}

// ParseReminderChannels overlays "bucket=ch1|ch2;bucket=ch" on the default channels.
func ParseReminderChannels(raw string) (map[string][]string, error) {
	channels := DefaultReminderChannels()
	if strings.TrimSpace(raw) == "" {
		return channels, nil
	}
	for _, entry := range strings.Split(raw, ";") {
		key, value, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid REMINDER_CHANNELS entry %q", entry)
		}
		if _, known := channels[key]; !known {
			return nil, fmt.Errorf("unknown reminder bucket %q", key)
		}
		var list []string
		for _, ch := range strings.Split(value, "|") {
			if ch = strings.TrimSpace(ch); ch != "" {
				list = append(list, ch)
			}
		}
		channels[key] = list
	}
	return channels, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
