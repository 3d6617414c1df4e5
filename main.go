package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Shopify/sarama"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"MagicChat/global"
	"MagicChat/logger"
	midsec "MagicChat/middleware/security"
	"MagicChat/module/chat/api"
	"MagicChat/module/chat/fanout"
	"MagicChat/module/chat/repo"
	chatseq "MagicChat/module/chat/seq"
	"MagicChat/module/chat/service"
	"MagicChat/module/chat/stream"
	"MagicChat/service/dispatcher"
	ka "MagicChat/service/kafka"
	"MagicChat/service/mgo"
	"MagicChat/service/natsx"
	"MagicChat/service/storage"
	redisstore "MagicChat/service/storage/redis"
	"MagicChat/tools/safe"
)

func main() {
	cfg := global.Load()
	global.ConfigIds(cfg.NodeID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 存储
	if err := mgo.Init(ctx, cfg.Mongo); err != nil {
		logger.Error("mongo init failed", zap.Error(err))
		return
	}
	defer func() { _ = mgo.Close(context.Background()) }()
	if err := repo.EnsureIndexes(ctx); err != nil {
		logger.Error("ensure indexes failed", zap.Error(err))
		return
	}
	if err := redisstore.InitRedis(cfg.Redis); err != nil {
		logger.Error("redis init failed", zap.Error(err))
		return
	}
	defer func() { _ = redisstore.CloseRedis() }()
	rdb := redisstore.GetRedis()

	convs := repo.NewMongoConversations()
	topics := repo.NewMongoTopics()
	messages := repo.NewMongoMessages()
	seqs := repo.NewMongoSeqs()
	outbox := repo.NewMongoOutbox()
	members := repo.NewMongoGroupMembers()

	alloc := chatseq.NewRedisAllocator(rdb, seqs)

	// 流式组装
	streamCache := stream.NewRedisCache(rdb)
	assembler := stream.NewAssembler(streamCache, stream.NewRedisLocker(rdb), messages, seqs)
	reaper := stream.NewReaper(streamCache, assembler)
	reaper.Start()

	// 在线推送
	var pusher fanout.Pusher = natsx.NopPusher{}
	if !cfg.DisableNats {
		nc, err := natsx.NewClient(cfg.Nats)
		if err != nil {
			logger.Error("nats connect failed", zap.Error(err))
			return
		}
		defer func() { _ = nc.Close() }()
		pusher = natsx.NewPusher(nc, storage.NewPresence(rdb, 2*time.Minute))
	}

	directory := service.NewDirectory(convs, topics)
	gate := service.NewAuthGate(messages)
	engine := fanout.NewEngine(seqs, messages, members, alloc, directory, pusher)
	orch := service.NewOrchestrator(convs, messages, seqs, outbox, members,
		alloc, directory, gate, assembler, engine, service.NopFileService{})

	// 扇出管道: outbox -> 队列 -> 消费者
	consumer := dispatcher.NewConsumer(seqs, engine)
	var queue dispatcher.Queue
	if cfg.DisableKafka {
		memq := dispatcher.NewMemQueue(4, 1024, consumer.Process)
		defer memq.Close()
		queue = memq
	} else {
		ka.Cfg.Brokers = cfg.KafkaBrokers
		if err := bootKafka(ctx, consumer); err != nil {
			logger.Error("kafka boot failed", zap.Error(err))
			return
		}
		defer ka.Close()
		queue = dispatcher.NewKafkaQueue()
	}
	poller := dispatcher.NewPoller(outbox, queue)
	poller.Start()
	defer poller.Stop()

	// HTTP
	r := gin.New()
	r.Use(gin.Recovery())
	auth := midsec.DefaultOptions(cfg.JwtSecretBytes())
	api.RegisterRoutes(r, api.NewHandler(orch), auth)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	safe.Go(func() {
		logger.Infof("http listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", zap.Error(err))
			stop()
		}
	})

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// bootKafka 建 topic,起 client/producer,注册 handler 并后台跑消费组.
func bootKafka(ctx context.Context, consumer *dispatcher.Consumer) error {
	topics := ka.DispatchTopics()

	adminCfg := ka.BuildBaseConfig()
	admin, err := sarama.NewClusterAdmin(ka.Cfg.Brokers, adminCfg)
	if err != nil {
		return err
	}
	if err := ka.EnsureTopics(admin, topics); err != nil {
		_ = admin.Close()
		return err
	}
	_ = admin.Close()

	if err := ka.InitKafkaClient(); err != nil {
		return err
	}
	if err := ka.InitSyncProducerFromClient(); err != nil {
		return err
	}

	ka.RegisterHandlers(topics, consumer.Handle)
	safe.Go(func() {
		if err := ka.StartConsumerGroup(ctx, ka.Cfg.Brokers, ka.Cfg.GroupID, topics); err != nil {
			logger.Error("consumer group exited", zap.Error(err))
		}
	})
	return nil
}
