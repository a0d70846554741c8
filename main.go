package main

import (
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"chatrelay/middleware"
	"chatrelay/models"
	"chatrelay/pkg/cache"
	"chatrelay/pkg/config"
	"chatrelay/routes"
)

func main() {
	// config loads via package init()

	// _fk=1 enables SQLite foreign keys so deleting a chat cascades to its
	// messages
	db, err := gorm.Open(sqlite.Open(config.DBPath+"?_fk=1"), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	if err := db.AutoMigrate(&models.Chat{}, &models.Message{}); err != nil {
		log.Fatalf("failed migrate: %v", err)
	}

	middleware.SetRateLimitConfig(
		time.Duration(config.RateLimitWindowSeconds)*time.Second,
		config.RateLimitCapacity,
	)
	modelCache := cache.NewModelCache(
		time.Duration(config.ModelCacheTTLSeconds)*time.Second,
		config.ModelCacheMaxItems,
	)

	r := gin.Default()

	// CORS configuration
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", "http://127.0.0.1:3000", "http://localhost:5173", "http://127.0.0.1:5173"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, db, modelCache)
	r.Run(":" + config.Port)
}
