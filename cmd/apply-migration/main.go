package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"wisefido-medication/internal/config"

	"owl-common/database"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("Usage: %s <migration_file.sql> [more.sql ...]", os.Args[0])
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Cannot connect to database: %v", err)
	}
	defer db.Close()

	fmt.Printf("Connected to database: %s\n\n", cfg.Database.Database)

	for _, file := range os.Args[1:] {
		sqlContent, err := os.ReadFile(file)
		if err != nil {
			log.Fatalf("Failed to read migration file %s: %v", file, err)
		}

		statements := splitStatements(string(sqlContent))
		fmt.Printf("== %s (%d statements)\n", file, len(statements))
		for i, stmt := range statements {
			if _, err := db.Exec(stmt); err != nil {
				log.Fatalf("Failed to execute statement %d of %s: %v\nStatement: %s", i+1, file, err, stmt[:min(100, len(stmt))])
			}
			fmt.Printf("✅ Statement %d/%d executed\n", i+1, len(statements))
		}
		fmt.Println()
	}

	fmt.Println("✅ Migration completed successfully!")
}

// splitStatements 按分号拆分，去掉空语句和整行注释
func splitStatements(sql string) []string {
	var out []string
	for _, stmt := range strings.Split(sql, ";") {
		lines := []string{}
		for _, line := range strings.Split(stmt, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			lines = append(lines, line)
		}
		stmt = strings.TrimSpace(strings.Join(lines, "\n"))
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
