package main

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/sahilchouksey/campus-notes/config"
	"github.com/sahilchouksey/campus-notes/database"
)

func main() {
	if err := config.LoadENV(); err != nil {
		log.Warn("Warning: .env file not found, using system environment variables")
	}

	store, err := database.StartGORM()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	if err := store.Init(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	separator := strings.Repeat("=", 60)
	fmt.Println(separator)
	fmt.Println("Campus Notes - Database Seeding")
	fmt.Println(separator)

	if err := database.NewSeeder(store.DB()).SeedAll(); err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	fmt.Println(separator)
	fmt.Println("🎉 Seeding completed successfully!")
	fmt.Println("Admin user is created from ADMIN_EMAIL and ADMIN_PASSWORD when set.")
	fmt.Println(separator)
}
