package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/balance-ledger/internal/adapter/alert"
	"github.com/rl1809/balance-ledger/internal/adapter/storage"
	"github.com/rl1809/balance-ledger/internal/config"
	"github.com/rl1809/balance-ledger/internal/core/domain"
	"github.com/rl1809/balance-ledger/internal/core/service"
)

const (
	totalRequests = 50
	debitAmount   = 100
)

// Drives concurrent debits against a single owner funded for exactly
// totalRequests * debitAmount, then checks conservation: every unit either
// remains available or is accounted for by a COMPLETED entry.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx := context.Background()

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	mysqlAdapter := storage.NewMySQLAdapter(db)
	if err := mysqlAdapter.InitSchema(ctx); err != nil {
		log.Fatalf("failed to init schema: %v", err)
	}

	svc := service.NewLedgerService(
		mysqlAdapter, mysqlAdapter,
		storage.NewRedisAdapter(rdb),
		alert.NewLogSink(logger),
		logger,
	)

	ownerID := "stress-" + uuid.New().String()
	funding := decimal.NewFromInt(totalRequests * debitAmount)

	if _, err := svc.Credit(ctx, ownerID, funding, domain.Reference{Type: "stress", ID: uuid.New().String()}, "stress-test", "initial funding"); err != nil {
		log.Fatalf("failed to fund owner: %v", err)
	}

	var successCount atomic.Int32
	var failCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			ref := domain.Reference{Type: "stress", ID: uuid.New().String()}
			_, err := svc.Debit(ctx, ownerID, decimal.NewFromInt(debitAmount), ref, "stress-test", "")
			if err == nil {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	snapshot, err := svc.GetBalance(ctx, ownerID)
	if err != nil {
		log.Fatalf("failed to read balance: %v", err)
	}

	page, err := svc.ListLedger(ctx, ownerID,
		domain.EntryFilter{Types: []domain.EntryType{domain.EntryTypeDebit}, Status: domain.EntryStatusCompleted},
		domain.Page{Limit: totalRequests + 1})
	if err != nil {
		log.Fatalf("failed to list ledger: %v", err)
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Owner:            %s\n", ownerID)
	fmt.Printf("Funding:          %s\n", funding)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", successCount.Load())
	fmt.Printf("Failed:           %d\n", failCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Printf("Final Available:  %s\n", snapshot.Available)
	fmt.Printf("Debit Entries:    %d\n", page.Total)
	fmt.Println("==========================================")

	if successCount.Load() == totalRequests && snapshot.Available.IsZero() && page.Total == totalRequests {
		fmt.Println("PASS: no lost updates, balance drained to 0")
	} else {
		fmt.Println("FAIL: lost update or drift detected")
	}
}
