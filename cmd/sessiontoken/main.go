package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"studiodesk/internal/auth"
	"studiodesk/internal/config"
	"studiodesk/internal/models"
)

func main() {
	if len(os.Args) < 2 || len(os.Args) > 3 {
		fmt.Println("Usage: sessiontoken <user-id> [admin|client]")
		os.Exit(1)
	}

	cfg, err := config.Load(false)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	role := models.RoleClient
	if len(os.Args) == 3 {
		role = models.Role(os.Args[2])
	}
	if role != models.RoleAdmin && role != models.RoleClient {
		fmt.Printf("Unknown role %q\n", role)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	authService, err := auth.NewAuthService(ctx, auth.Config{
		Secret:      base64.StdEncoding.EncodeToString([]byte(cfg.AuthSecret)),
		TokenExpiry: cfg.TokenExpiry,
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	token, _, err := authService.IssueToken(models.Profile{ID: os.Args[1], Role: role})
	if err != nil {
		fmt.Printf("Error issuing token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
