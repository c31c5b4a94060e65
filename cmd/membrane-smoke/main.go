// Command membrane-smoke wires a full engine against real or embedded
// backends and walks one account through the credential lifecycle:
// registration, lockout, unlock by login, a password change, a reset,
// and all-device logout. Exit status 0 means every transition behaved.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/membrane-auth/membrane"
	"github.com/membrane-auth/membrane/store/memory"
	"github.com/membrane-auth/membrane/store/postgres"
)

func main() {
	var (
		configPath  = flag.String("config", "", "optional YAML policy file")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or embedded miniredis")
		postgresDSN = flag.String("postgres-dsn", "", "postgres DSN; if empty, POSTGRES_DSN env or the in-memory store")
	)
	flag.Parse()

	if err := run(*configPath, *redisAddr, *postgresDSN); err != nil {
		fmt.Fprintf(os.Stderr, "smoke failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("smoke passed")
}

func run(configPath, redisAddr, postgresDSN string) error {
	ctx := context.Background()

	config := membrane.DefaultConfig()
	if configPath != "" {
		var err error
		config, err = membrane.LoadConfigFile(configPath)
		if err != nil {
			return err
		}
	}
	// The walk below needs immediate password changes.
	config.Policy.MinimumAge = 0
	config.TwoFactor.Issuer = "membrane-smoke"

	client, stop, err := openRedis(redisAddr)
	if err != nil {
		return err
	}
	defer stop()

	creds, sink, closeStore, err := openStore(postgresDSN)
	if err != nil {
		return err
	}
	defer closeStore()

	engine, err := membrane.New().
		WithConfig(config).
		WithRedis(client).
		WithCredentialStore(creds).
		WithAuditSink(sink).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	const (
		email   = "smoke@example.com"
		passwd  = "Correct-Horse-9"
		passwd2 = "Better-Stable-7"
		passwd3 = "Final-Meadow-3"
	)

	account, err := engine.CreateAccount(ctx, email, passwd)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}

	// Burn the attempt budget and confirm the lock trips.
	for i := 0; i < config.Lockout.MaxFailedAttempts; i++ {
		_, err = engine.Login(ctx, email, "wrong-password-0X")
	}
	if !errors.Is(err, membrane.ErrAccountLocked) {
		return fmt.Errorf("expected lockout, got %v", err)
	}
	if err := engine.ClearLockout(ctx, account.ID); err != nil {
		return fmt.Errorf("clear lockout: %w", err)
	}

	result, err := engine.Login(ctx, email, passwd)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if _, err := engine.ValidateSession(ctx, result.SessionToken); err != nil {
		return fmt.Errorf("validate session: %w", err)
	}

	if err := engine.ChangePassword(ctx, account.ID, passwd, passwd2); err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	if _, err := engine.ValidateSession(ctx, result.SessionToken); !errors.Is(err, membrane.ErrSessionStale) {
		return fmt.Errorf("expected stale session after password change, got %v", err)
	}

	token, err := engine.RequestPasswordReset(ctx, email)
	if err != nil {
		return fmt.Errorf("request reset: %w", err)
	}
	if err := engine.ResetPassword(ctx, token, passwd3); err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	if err := engine.ResetPassword(ctx, token, passwd3); !errors.Is(err, membrane.ErrResetTokenUsed) {
		return fmt.Errorf("expected used token, got %v", err)
	}

	result, err = engine.Login(ctx, email, passwd3)
	if err != nil {
		return fmt.Errorf("login after reset: %w", err)
	}
	if err := engine.LogoutAll(ctx, account.ID); err != nil {
		return fmt.Errorf("logout all: %w", err)
	}
	if _, err := engine.ValidateSession(ctx, result.SessionToken); !errors.Is(err, membrane.ErrSessionStale) {
		return fmt.Errorf("expected stale session after logout-all, got %v", err)
	}

	return nil
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start embedded redis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func openStore(dsn string) (membrane.CredentialStore, membrane.AuditSink, func(), error) {
	if dsn == "" {
		dsn = os.Getenv("POSTGRES_DSN")
	}
	if dsn == "" {
		return memory.New(), membrane.NewJSONWriterSink(os.Stdout), func() {}, nil
	}

	db, err := postgres.Open(dsn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, postgres.NewAuditSink(db), func() { _ = db.Close() }, nil
}
