// Command migrate manages the relational schema for alert deliveries and the
// moderation audit log.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"vibesync/internal/config"
	"vibesync/internal/database"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func usage() error {
	return fmt.Errorf("usage: go run ./cmd/migrate <up|status>")
}

func run() error {
	flag.Parse()
	if flag.NArg() < 1 {
		return usage()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Connect applies the migrations.
	db, err := database.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	switch strings.ToLower(strings.TrimSpace(flag.Arg(0))) {
	case "up":
		log.Println("migrations applied")
	case "status":
		for _, m := range database.PersistentModels() {
			stmt := db.Model(m).Statement
			if err := stmt.Parse(m); err != nil {
				return fmt.Errorf("parse model: %w", err)
			}
			log.Printf("%-24s present=%v", stmt.Schema.Table, db.Migrator().HasTable(m))
		}
	default:
		return usage()
	}
	return nil
}
