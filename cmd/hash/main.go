// Package main prints a bcrypt hash for a password. BoxIT stores only bcrypt hashes,
// so operators use this tool to reset a password by hand. With -email the hash is
// written straight to that account using the server's configuration.
//
//	hash [-cost 10] [-email user@example.com] <password>
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/FilipRus/boxItFindIt/internal/auth"
	"github.com/FilipRus/boxItFindIt/internal/config"
	"github.com/FilipRus/boxItFindIt/internal/db"
	"github.com/FilipRus/boxItFindIt/internal/db/repositories"
	"github.com/FilipRus/boxItFindIt/internal/validation"
)

func main() {
	cost := flag.Int("cost", 0, "bcrypt cost (default: auth.bcrypt_cost from config, else 10)")
	email := flag.String("email", "", "update the password hash of this account")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [-cost N] [-email address] <password>\n", os.Args[0])
		os.Exit(2)
	}
	password := flag.Arg(0)
	if err := validation.ValidatePassword(password); err != nil {
		log.Fatalf("Error: %v", err)
	}

	var cfg *config.Config
	if *cost == 0 || *email != "" {
		loaded, err := config.Load(os.Getenv("CONFIG_PATH"))
		if err != nil {
			if *email != "" {
				log.Fatalf("Error: failed to load config: %v", err)
			}
		} else {
			cfg = loaded
		}
	}
	if *cost == 0 && cfg != nil {
		*cost = cfg.Auth.BcryptCost
	}

	hash, err := auth.HashPassword(password, *cost)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	if *email == "" {
		fmt.Println(hash)
		return
	}

	database, err := db.Connect(cfg.Database.GetDSN(), 1, 1)
	if err != nil {
		log.Fatalf("Error: failed to connect to database: %v", err)
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	addr := validation.NormalizeEmail(*email)
	updated, err := repositories.NewUserRepository(database).UpdatePasswordHash(ctx, addr, hash)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	if !updated {
		log.Fatalf("Error: no account with email %s", addr)
	}
	fmt.Printf("Password updated for %s\n", addr)
}
