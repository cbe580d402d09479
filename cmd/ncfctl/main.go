// Package main provides the ncfpos operator CLI.
// Usage: ncfctl migrate up|down <steps>|version
//
//	ncfctl hash <secret>
//	ncfctl generate <comprobante-type-id> [--key <idempotency-key>]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"ncfpos/internal/config"
	"ncfpos/internal/domain/auth"
	"ncfpos/internal/domain/numbering"
	"ncfpos/internal/infrastructure/client"
	"ncfpos/internal/infrastructure/storage/postgres"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx := context.Background()

	switch os.Args[1] {
	case "migrate":
		runMigrate(ctx, os.Args[2:])
	case "hash":
		hashSecret(os.Args[2:])
	case "generate":
		generate(ctx, os.Args[2:])
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`ncfpos operator CLI

Usage:
  ncfctl <command> [options]

Commands:
  migrate up           Apply all pending migrations
  migrate down <n>     Roll back n migrations
  migrate version      Show the applied migration version
  hash <secret>        Print the bcrypt hash for a terminal secret (catalog secret_hash)
  generate <type-id>   Request one NCF from a running server
  help                 Show this help

Environment Variables:
  DATABASE_URL               PostgreSQL connection string (migrate)
  NUMBERING_URL              Server base URL (generate)
  NUMBERING_TERMINAL_ID      Terminal id used to log in (generate)
  NUMBERING_TERMINAL_SECRET  Terminal secret (generate)

Examples:
  ncfctl migrate up
  ncfctl migrate down 1
  ncfctl hash caja-secret
  ncfctl generate 2 --key 6f1c2a`)
}

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func runMigrate(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: ncfctl migrate up|down <steps>|version")
		os.Exit(1)
	}
	dsn := loadConfig().DB.URL
	if dsn == "" {
		fmt.Println("Error: DATABASE_URL environment variable is required")
		os.Exit(1)
	}

	switch args[0] {
	case "up":
		if err := postgres.MigrateUp(ctx, dsn); err != nil {
			fmt.Printf("Error applying migrations: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Migrations applied")
	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				fmt.Printf("Error: invalid step count %q\n", args[1])
				os.Exit(1)
			}
			steps = n
		}
		if err := postgres.MigrateDown(ctx, dsn, steps); err != nil {
			fmt.Printf("Error rolling back migrations: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Rolled back %d migration(s)\n", steps)
	case "version":
		version, dirty, err := postgres.MigrationVersion(dsn)
		if err != nil {
			fmt.Printf("Error reading migration version: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Version: %d\nDirty: %t\n", version, dirty)
	default:
		fmt.Printf("Unknown migrate command: %s\n", args[0])
		os.Exit(1)
	}
}

func hashSecret(args []string) {
	if len(args) != 1 || args[0] == "" {
		fmt.Println("Usage: ncfctl hash <secret>")
		os.Exit(1)
	}
	hash, err := auth.HashSecret(args[0])
	if err != nil {
		fmt.Printf("Error hashing secret: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}

func generate(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: ncfctl generate <comprobante-type-id> [--key <idempotency-key>]")
		os.Exit(1)
	}
	typeID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || typeID <= 0 {
		fmt.Printf("Error: invalid comprobante type id %q\n", args[0])
		os.Exit(1)
	}

	var key string
	for i := 1; i < len(args); i++ {
		if args[i] == "--key" && i+1 < len(args) {
			key = args[i+1]
			i++
		}
	}

	cc := loadConfig().Client
	breaker := client.DefaultBreakerConfig()
	if cc.FailureThreshold > 0 {
		breaker.FailureThreshold = cc.FailureThreshold
	}
	if cc.OpenTimeout > 0 {
		breaker.OpenTimeout = cc.OpenTimeout
	}
	c := client.NewNumberingClient(client.Config{
		BaseURL:    cc.BaseURL,
		TerminalID: cc.TerminalID,
		Secret:     cc.Secret,
		Timeout:    cc.Timeout,
		Breaker:    breaker,
	})

	var res numbering.Result
	if key != "" {
		res = c.GenerateNumberWithKey(ctx, typeID, key)
	} else {
		res = c.GenerateNumber(ctx, typeID)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(res)
	if !res.OK() {
		os.Exit(2)
	}
}
