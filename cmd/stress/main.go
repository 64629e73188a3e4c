// Command stress fires a burst of concurrent checkouts at one product to
// demonstrate that stock never goes negative: with stock 20 and 50 orders
// of quantity 1, exactly 20 succeed and the rest are rejected.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/posterly/order-engine/internal/adapter/storage"
	"github.com/posterly/order-engine/internal/core/domain"
	"github.com/posterly/order-engine/internal/core/service"
)

const (
	productID     = "poster-classic-a2"
	initialStock  = 20
	totalRequests = 50
)

func main() {
	ctx := context.Background()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "root:root@tcp(localhost:3306)/posterly?parseTime=true"
	}
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	store := storage.NewMySQLStore(db)
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}
	if err := store.SeedProduct(ctx, domain.Product{
		ID:    productID,
		Name:  "Classic A2 Poster",
		Stock: initialStock,
	}); err != nil {
		log.Fatalf("failed to seed product: %v", err)
	}

	orderService := service.NewOrderService(store, storage.NewRedisCartStore(rdb), nil)

	price := decimal.NewFromInt(25)
	input := service.PlaceOrderInput{
		Items: []service.ItemInput{{
			ProductID: productID,
			Quantity:  1,
			Size:      "A2",
			UnitPrice: price,
		}},
		ShippingAddress: domain.Address{Name: "Stress Tester", Phone: "0000", Street: "1 Load Ln", City: "Dhaka"},
		PaymentMethod:   "cod",
		Pricing:         domain.Pricing{Subtotal: price, Shipping: decimal.Zero, Total: price},
	}

	var successCount, soldOutCount, conflictCount, otherCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()

			_, err := orderService.PlaceOrder(ctx, fmt.Sprintf("user-%d", userID), input)
			var stockErr *domain.InsufficientStockError
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.As(err, &stockErr):
				soldOutCount.Add(1)
			case errors.Is(err, domain.ErrTransactionConflict):
				conflictCount.Add(1)
			default:
				otherCount.Add(1)
				log.Printf("unexpected error: %v", err)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	p, err := store.GetProduct(ctx, productID)
	if err != nil || p == nil {
		log.Fatalf("failed to read final stock: %v", err)
	}

	fmt.Printf("requests:   %d in %s\n", totalRequests, elapsed)
	fmt.Printf("succeeded:  %d\n", successCount.Load())
	fmt.Printf("sold out:   %d\n", soldOutCount.Load())
	fmt.Printf("conflicts:  %d\n", conflictCount.Load())
	fmt.Printf("other:      %d\n", otherCount.Load())
	fmt.Printf("final stock: %d, sold: %d\n", p.Stock, p.Sold)

	if p.Stock < 0 {
		log.Fatal("INVARIANT VIOLATED: stock went negative")
	}
	if int(successCount.Load()) != initialStock-p.Stock {
		log.Fatal("INVARIANT VIOLATED: successes do not match consumed stock")
	}
	fmt.Println("stock invariant held")
}
