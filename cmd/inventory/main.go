// Command inventory serves the in-memory product catalog for local runs of the sales service.
package main

import (
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sales_service/internal/inventory"
	"sales_service/internal/observability"
)

func main() {
	_ = godotenv.Load()

	addr := os.Getenv("INVENTORY_HTTP_ADDR")
	if addr == "" {
		addr = ":5036"
	}

	logger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		panic(fmt.Errorf("error building logger: %v", err))
	}
	defer func() { _ = logger.Sync() }()

	store := inventory.NewStore(
		inventory.Product{ID: 1, Name: "Espresso beans 1kg", Price: decimal.RequireFromString("24.50"), Quantity: 40},
		inventory.Product{ID: 2, Name: "Milk frother", Price: decimal.RequireFromString("89.99"), Quantity: 5},
		inventory.Product{ID: 3, Name: "Paper cups x100", Price: decimal.RequireFromString("7.25"), Quantity: 200},
	)

	r := gin.New()
	r.Use(gin.Recovery())
	inventory.NewHandler(store, logger).Register(r)

	logger.Info("inventory listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		panic(fmt.Errorf("error trying to start server: %v", err))
	}
}
