package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"secure-auth/internal/config"
	"secure-auth/internal/db"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	open := func(ctx context.Context) (*db.Store, error) {
		cfg, err := config.LoadConfig()
		if err != nil {
			return nil, err
		}
		return db.Open(ctx, cfg)
	}

	if err := newRootCmd(open).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
