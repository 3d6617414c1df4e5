// Package redis 连接引导. 分号器、流装配缓存、流锁、在线表都走这一个
// 共享连接,领域侧统一面向 redis.UniversalClient.
package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"MagicChat/tools/errs"
)

// Config 来自 global.AppConfig 的 redis 段
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

var (
	once   sync.Once
	client redis.UniversalClient
)

// InitRedis 建连并探活,进程内单例. 探活失败视为启动失败.
func InitRedis(c Config) error {
	var initErr error
	once.Do(func() {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{c.Addr},
			Password: c.Password,
			DB:       c.DB,
			PoolSize: c.PoolSize,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			initErr = errs.WrapMsg(err, "redis ping", "addr", c.Addr)
			return
		}
		client = rdb
	})
	return initErr
}

// GetRedis 取共享连接. 未初始化就取属于装配错误,直接 panic.
func GetRedis() redis.UniversalClient {
	if client == nil {
		panic("redis not initialized, call InitRedis first")
	}
	return client
}

func CloseRedis() error {
	if client == nil {
		return nil
	}
	return client.Close()
}
