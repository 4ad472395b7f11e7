package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/proxyhifi-dev/Bot/internal/broker"
	"github.com/proxyhifi-dev/Bot/internal/config"
)

func init() {
	zlog.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// main walks an operator through the broker OAuth flow: open the login URL,
// paste back the redirect URL (or bare auth code), and persist the token.
func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	gateway, err := broker.New(broker.Config{
		ClientID:            cfg.Broker.ClientID,
		SecretKey:           cfg.Broker.SecretKey,
		RedirectURI:         cfg.Broker.RedirectURI,
		BaseURL:             cfg.Broker.BaseURL,
		TokenFile:           cfg.Broker.TokenFile,
		MaxRetries:          cfg.Broker.MaxRetries,
		BackoffBase:         cfg.Broker.BackoffBase,
		Timeout:             cfg.Broker.Timeout,
		AuthFailureCooldown: cfg.Broker.AuthFailureCooldown,
	}, zlog.Logger)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize broker gateway")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if gateway.ValidateToken(ctx, true) {
		fmt.Println("Stored token is still valid, nothing to do.")
		return
	}

	fmt.Println("Open this URL in a browser and log in:")
	fmt.Println()
	fmt.Println("  " + gateway.LoginURL(""))
	fmt.Println()
	fmt.Print("Paste the redirect URL or auth code: ")

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		zlog.Fatal().Err(err).Msg("Failed to read input")
	}

	if err := gateway.Login(ctx, strings.TrimSpace(line)); err != nil {
		zlog.Fatal().Err(err).Msg("Login failed")
	}
	fmt.Printf("Token saved to %s\n", cfg.Broker.TokenFile)
}
