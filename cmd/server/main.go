package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"banksim/internal/config"
	"banksim/internal/handler"
	"banksim/internal/infrastructure/cache"
	"banksim/internal/infrastructure/database"
	"banksim/internal/infrastructure/mq"
	"banksim/internal/job"
	"banksim/internal/notify"
	"banksim/pkg/idgen"
)

func main() {
	cfg := config.LoadConfig("config/config.yaml")

	idgen.Init(1)

	// 建表在这里一次完成，之后才开始监听
	db := database.InitMySQL(&cfg.MySQL)
	redisClient := cache.InitRedis(&cfg.Redis)
	defer redisClient.Close()

	publisher, err := mq.NewPublisher(cfg)
	if err != nil {
		log.Fatalf("初始化通知通道失败: %v", err)
	}
	defer publisher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	run := func(start func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start(ctx)
		}()
	}

	dispatcher := notify.NewDispatcher(db, cfg.Notify.Topic, cfg.Notify.QueueSize)
	run(dispatcher.Start)
	run(job.NewOutboxSender(db, publisher, &cfg.Notify).Start)
	run(job.NewBalanceAuditJob(db, &cfg.Business).Start)

	router := handler.SetupRouter(db, redisClient, cfg, dispatcher)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 先停 HTTP，保证不再有新的通知入队，再停后台任务
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	cancel()
	wg.Wait()

	log.Println("服务已关闭")
}
