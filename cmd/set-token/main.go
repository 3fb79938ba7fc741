package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/stemsi/exam-gateway/internal/config"
	"github.com/stemsi/exam-gateway/internal/credential"
	"github.com/stemsi/exam-gateway/internal/database"
	"github.com/stemsi/exam-gateway/internal/logger"
	"golang.org/x/term"
)

// set-token stores an access token for a user in the shared credential store.
// Operators use it to replay a student's attempt calls against a staging exam
// service without going through the session manager.
func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	store := credential.NewRedisStore(rdb)

	secret, publicKey, err := cfg.SessionVerifyKeys()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load session token keys")
	}
	verifier, err := credential.NewVerifier(secret, publicKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load session token keys")
	}

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Store Access Token ===")

	// Token
	fmt.Print("Paste Token: ")
	byteToken, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		fmt.Println("\nError reading token")
		return
	}
	token := strings.TrimSpace(string(byteToken))
	fmt.Println() // Newline after hidden input

	now := time.Now()
	claims, err := verifier.ParseAccessToken(token, now)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	// User override
	userID := claims.UserID.String()
	fmt.Printf("Enter User ID (default %s): ", userID)
	override, _ := reader.ReadString('\n')
	if override = strings.TrimSpace(override); override != "" {
		userID = override
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	ttl := claims.TTL(now)
	if err := store.Set(ctx, userID, token, ttl); err != nil {
		log.Fatal().Err(err).Msg("Failed to store token")
	}

	if ttl > 0 {
		fmt.Printf("\nSuccess! Token for user %s stored, expires in %s\n", userID, ttl.Round(time.Second))
		return
	}
	fmt.Printf("\nSuccess! Token for user %s stored without expiry\n", userID)
}
