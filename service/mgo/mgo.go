package mgo

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"MagicChat/tools/errs"
)

// Config Mongo 初始化配置
type Config struct {
	URI         string
	Database    string
	ConnTimeout time.Duration
}

type mongoManager struct {
	mu     sync.RWMutex
	client *mongo.Client
	db     *mongo.Database
}

var globalMgr mongoManager

// Init 建立连接并 ping 通过后才算就绪
func Init(ctx context.Context, cfg Config) error {
	if cfg.URI == "" {
		cfg.URI = "mongodb://127.0.0.1:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "magic_chat"
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnTimeout)
	defer cancel()

	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return errs.WrapMsg(err, "mongo connect", "uri", cfg.URI)
	}
	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		return errs.WrapMsg(err, "mongo ping", "uri", cfg.URI)
	}

	globalMgr.mu.Lock()
	globalMgr.client = cli
	globalMgr.db = cli.Database(cfg.Database)
	globalMgr.mu.Unlock()
	return nil
}

func GetDB() *mongo.Database {
	globalMgr.mu.RLock()
	defer globalMgr.mu.RUnlock()
	if globalMgr.db == nil {
		panic("Mongo not ready: call mgo.Init first")
	}
	return globalMgr.db
}

func TryGetDB() (*mongo.Database, bool) {
	globalMgr.mu.RLock()
	defer globalMgr.mu.RUnlock()
	if globalMgr.db == nil {
		return nil, false
	}
	return globalMgr.db, true
}

func Close(ctx context.Context) error {
	globalMgr.mu.Lock()
	defer globalMgr.mu.Unlock()
	if globalMgr.client == nil {
		return nil
	}
	err := globalMgr.client.Disconnect(ctx)
	globalMgr.client = nil
	globalMgr.db = nil
	return err
}
