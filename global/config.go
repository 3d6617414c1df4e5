package global

import (
	"os"
	"strconv"
	"strings"
	"time"

	"MagicChat/service/mgo"
	"MagicChat/service/natsx"
	redisstore "MagicChat/service/storage/redis"
	"MagicChat/tools/ids"
)

// AppConfig 进程级配置,默认值面向本机调试,环境变量覆盖用于部署.
type AppConfig struct {
	HTTPAddr  string
	JWTSecret string
	NodeID    int64

	Mongo mgo.Config
	Redis redisstore.Config
	Nats  natsx.Config

	KafkaBrokers []string

	// DisableKafka 置位后扇出退化为进程内队列,开发环境免起 broker
	DisableKafka bool
	// DisableNats 置位后在线推送走空实现
	DisableNats bool
}

// Load 读取环境变量,缺省走本机默认值
func Load() *AppConfig {
	cfg := &AppConfig{
		HTTPAddr:  envStr("CHAT_HTTP_ADDR", ":8080"),
		JWTSecret: envStr("CHAT_JWT_SECRET", "mN9b1f8zPq+W2xjX/45sKcVd0TfyoG+3Hp5Z8q9Rj1o="),
		NodeID:    envInt64("CHAT_NODE_ID", 100),
		Mongo: mgo.Config{
			URI:         envStr("CHAT_MONGO_URI", "mongodb://localhost:27017"),
			Database:    envStr("CHAT_MONGO_DB", "magicChat"),
			ConnTimeout: 10 * time.Second,
		},
		Redis: redisstore.Config{
			Addr:     envStr("CHAT_REDIS_ADDR", "127.0.0.1:6379"),
			Password: envStr("CHAT_REDIS_PASSWORD", ""),
			DB:       int(envInt64("CHAT_REDIS_DB", 0)),
			PoolSize: 20,
		},
		Nats: natsx.Config{
			Servers: envList("CHAT_NATS_SERVERS", []string{"nats://127.0.0.1:4222"}),
			Name:    "magic-chat",
		},
		KafkaBrokers: envList("CHAT_KAFKA_BROKERS", []string{"127.0.0.1:9092"}),
		DisableKafka: envBool("CHAT_DISABLE_KAFKA"),
		DisableNats:  envBool("CHAT_DISABLE_NATS"),
	}
	return cfg
}

// ConfigIds 雪花 id 的节点号,多实例部署必须错开
func ConfigIds(nodeID int64) {
	ids.SetNodeID(nodeID)
}

func (c *AppConfig) JwtSecretBytes() []byte {
	return []byte(c.JWTSecret)
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
