package api

import (
	"strings"
	"sync"
	"time"

	"github.com/alex-thorne/ConsensusBot-sub002/logging"
	"github.com/spf13/viper"
)

type Config struct {
	StorageConfig
	ServerConfig
	RedisConfig
	KafkaConfig
	DiscordConfig
	ReminderConfig
}

type StorageConfig struct {
	// Backend is one of "dynamo", "sql" or "memory".
	Backend            string
	TableNameDecisions string
	TableNameVoters    string
	TableNameVotes     string
	SQLDriver          string
	SQLDSN             string
}

type ServerConfig struct {
	Port     int
	APIToken string
	// Timezone decides which calendar day a deadline ends on.
	Timezone       string
	AllowedOrigins []string
	LogLevel       string
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
	LockTTL  time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type DiscordConfig struct {
	Token string
}

type ReminderConfig struct {
	RatePerSecond float64
	Burst         int
}

var settingsOnce sync.Once

func ReadConfig() *Config {
	var conf = &Config{
		StorageConfig: StorageConfig{
			Backend:            getStringOrDefault("storage.backend", "dynamo"),
			TableNameDecisions: getStringOrDefault("storage.TableNameDecisions", "Decisions"),
			TableNameVoters:    getStringOrDefault("storage.TableNameVoters", "Voters"),
			TableNameVotes:     getStringOrDefault("storage.TableNameVotes", "Votes"),
			SQLDriver:          getStringOrDefault("storage.sqlDriver", "mysql"),
			SQLDSN:             viper.GetString("storage.sqlDSN"),
		},
		ServerConfig: ServerConfig{
			Port:           getIntOrDefault("server.port", 8080),
			APIToken:       viper.GetString("server.apiToken"),
			Timezone:       getStringOrDefault("server.timezone", "UTC"),
			AllowedOrigins: getStringSliceOrDefault("server.allowedOrigins", []string{"*"}),
			LogLevel:       getStringOrDefault("server.logLevel", "info"),
		},
		RedisConfig: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       getIntOrDefault("redis.db", 0),
			LockTTL:  getDurationOrDefault("redis.lockTTL", 5*time.Minute),
		},
		KafkaConfig: KafkaConfig{
			Brokers: getStringSliceOrDefault("kafka.brokers", nil),
			Topic:   getStringOrDefault("kafka.topic", "consensus.decisions"),
		},
		DiscordConfig: DiscordConfig{
			Token: viper.GetString("discord.token"),
		},
		ReminderConfig: ReminderConfig{
			RatePerSecond: getFloatOrDefault("reminders.ratePerSecond", 5),
			Burst:         getIntOrDefault("reminders.burst", 1),
		},
	}

	settingsOnce.Do(func() {
		logging.Log.Printf("Reading settings! storage backend '%s'", conf.Backend)
	})

	return conf
}

func getIntOrDefault(name string, def int) int {
	if viper.IsSet(name) {
		v := viper.GetInt(name)
		logging.Log.Printf("found '%s' in viper", name)
		return v
	}
	logging.Log.Printf("could not find '%s' in viper! Returning default", name)
	return def
}

func getFloatOrDefault(name string, def float64) float64 {
	if viper.IsSet(name) {
		v := viper.GetFloat64(name)
		logging.Log.Printf("found '%s' in viper", name)
		return v
	}
	logging.Log.Printf("could not find '%s' in viper! Returning default", name)
	return def
}

func getDurationOrDefault(name string, def time.Duration) time.Duration {
	if viper.IsSet(name) {
		v := viper.GetDuration(name)
		logging.Log.Printf("found '%s' in viper", name)
		return v
	}
	logging.Log.Printf("could not find '%s' in viper! Returning default", name)
	return def
}

func getStringOrDefault(name string, def string) string {
	if viper.IsSet(name) {
		v := viper.GetString(name)
		logging.Log.Printf("found '%s' in viper", name)
		return v
	}
	logging.Log.Printf("could not find '%s' in viper! Returning default", name)
	return def
}

// getStringSliceOrDefault also accepts a comma separated string, which is how
// list values arrive from the environment.
func getStringSliceOrDefault(name string, def []string) []string {
	if !viper.IsSet(name) {
		logging.Log.Printf("could not find '%s' in viper! Returning default", name)
		return def
	}
	logging.Log.Printf("found '%s' in viper", name)
	v := viper.GetStringSlice(name)
	if raw, ok := viper.Get(name).(string); ok {
		v = strings.Split(raw, ",")
	}
	out := make([]string, 0, len(v))
	for _, s := range v {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
