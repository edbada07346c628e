package main

import (
	"context"
	"flag"
	"log"

	"hui-manager/internal/config"
	"hui-manager/internal/logger"
	"hui-manager/internal/model"
	"hui-manager/internal/service"
)

func main() {
	configFile := flag.String("config", "", "config file")
	email := flag.String("email", "admin@hui.local", "bootstrap admin email")
	password := flag.String("password", "", "bootstrap admin password (required on first run)")
	name := flag.String("name", "Administrator", "bootstrap admin name")
	flag.Parse()

	cfg := config.Load(*configFile)
	logger.Init(cfg.Log)

	db, err := cfg.OpenGormDB()
	if err != nil {
		log.Fatal("db connect failed: ", err)
	}
	ctx := context.Background()

	// Step 1: schema
	if err := model.AutoMigrate(db); err != nil {
		log.Fatal("migrate failed: ", err)
	}
	logger.Info("seed: schema migrated", "driver", cfg.Database.Driver)

	svc := service.New(db, service.Options{JWTSecret: cfg.Auth.JWTSecret})

	// Step 2: bootstrap admin
	if _, err := seedAdmin(ctx, db, svc.Users, *email, *password, *name); err != nil {
		log.Fatal("admin seed failed: ", err)
	}

	// Step 3: default settings
	if err := seedSettings(ctx, svc.Settings, cfg.Scheduler); err != nil {
		log.Fatal("settings seed failed: ", err)
	}

	logger.Info("=== all done ===")
}
