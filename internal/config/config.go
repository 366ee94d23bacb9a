package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Environment string
	ServiceName string
	// SQLite Configuration
	SQLitePath string
	// Redis Configuration
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration
	// Kafka Configuration
	KafkaBrokers        []string
	KafkaTopicOrders    string
	KafkaTopicInventory string
	KafkaTopicPayments  string
	KafkaGroupID        string
	KafkaClientID       string
	KafkaAcks           string
	KafkaRetries        int
	DeadLetterQueue     bool
	DLQTopic            string
	MaxRetries          int
	RetryDelayMs        int
	// Saga Configuration
	ReservationTTL time.Duration
	ReaperInterval time.Duration
	OutboxInterval time.Duration
	// Payment gateway simulation
	GatewaySuccessRate int // percent, 0-100
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Parse Kafka brokers (comma-separated)
	kafkaBrokersStr := getEnv("KAFKA_BROKERS", "localhost:9093")
	kafkaBrokers := strings.Split(kafkaBrokersStr, ",")
	for i, broker := range kafkaBrokers {
		kafkaBrokers[i] = strings.TrimSpace(broker)
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		ServiceName: getEnv("SERVICE_NAME", "orderflow"),
		// SQLite Configuration
		SQLitePath: getEnv("SQLITE_PATH", "./data/orderflow.db"),
		// Redis Configuration
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		CacheTTL:      time.Duration(getEnvAsInt("CACHE_TTL_SECONDS", 300)) * time.Second,
		// Kafka Configuration
		KafkaBrokers:        kafkaBrokers,
		KafkaTopicOrders:    getEnv("KAFKA_TOPIC_ORDERS", "order-events"),
		KafkaTopicInventory: getEnv("KAFKA_TOPIC_INVENTORY", "inventory-events"),
		KafkaTopicPayments:  getEnv("KAFKA_TOPIC_PAYMENTS", "payment-events"),
		KafkaGroupID:        getEnv("KAFKA_GROUP_ID", "orderflow-group"),
		KafkaClientID:       getEnv("KAFKA_CLIENT_ID", "orderflow"),
		KafkaAcks:           getEnv("KAFKA_ACKS", "all"),
		KafkaRetries:        getEnvAsInt("KAFKA_RETRIES", 3),
		DeadLetterQueue:     getEnvAsBool("KAFKA_DLQ_ENABLED", false),
		DLQTopic:            getEnv("KAFKA_DLQ_TOPIC", "orderflow-dlq"),
		MaxRetries:          getEnvAsInt("CONSUMER_MAX_RETRIES", 3),
		RetryDelayMs:        getEnvAsInt("CONSUMER_RETRY_DELAY_MS", 200),
		// Saga Configuration
		ReservationTTL: time.Duration(getEnvAsInt("RESERVATION_TTL_SECONDS", 900)) * time.Second,
		ReaperInterval: time.Duration(getEnvAsInt("REAPER_INTERVAL_SECONDS", 60)) * time.Second,
		OutboxInterval: time.Duration(getEnvAsInt("OUTBOX_INTERVAL_MS", 500)) * time.Millisecond,
		// Payment gateway simulation
		GatewaySuccessRate: getEnvAsInt("GATEWAY_SUCCESS_RATE", 90),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return result
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return result
}
