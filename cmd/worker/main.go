package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"faceattend/internal/config"
	"faceattend/internal/ledger"
	"faceattend/internal/queue"
	"faceattend/internal/store"
)

// Worker consumes attendance.marked events and keeps the per-day
// summary counters current.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL, cfg.EmbeddingDim)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "faceattend:marks")
	}

	marks := ledger.NewPostgres(db.Client)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != "attendance.marked" {
			continue
		}

		id := string(msg.Body)
		rec, err := marks.GetRecord(ctx, id)
		if err != nil {
			log.Printf("fetch record %s failed: %v", id, err)
			continue
		}

		if err := marks.IncrementDaySummary(ctx, rec.Day); err != nil {
			log.Printf("day summary update failed for %s: %v", id, err)
			continue
		}
		log.Printf("record %s counted for %s", id, rec.Day.Format("2006-01-02"))
	}

	log.Println("worker stopped")
}
