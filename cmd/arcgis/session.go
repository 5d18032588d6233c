package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/Sternrassler/arcgis-client/pkg/arcgis"
)

const defaultRequestTimeout = 30 * time.Second

var envKeyReplacer = strings.NewReplacer("-", "_")

// sessionConfig builds the session configuration from flags, environment
// and config file.
func sessionConfig() arcgis.Config {
	cfg := arcgis.DefaultConfig(viper.GetString("user-agent"))

	if n := viper.GetInt("max-retries"); n > 0 {
		cfg.Client.MaxRetries = n
	}
	if d := viper.GetDuration("timeout"); d > 0 {
		cfg.Client.RequestTimeout = d
	}
	if n := viper.GetInt("concurrency"); n > 0 {
		cfg.Query.MaxConcurrency = n
	}
	if n := viper.GetInt("page-size"); n > 0 {
		cfg.Query.PageSizeHint = n
	}
	return cfg
}

// openSession creates a session, connecting to Redis when configured. The
// returned cleanup closes both.
func openSession(ctx context.Context) (*arcgis.Session, func(), error) {
	cfg := sessionConfig()

	var redisClient *redis.Client
	if addr := viper.GetString("redis"); addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: addr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
		}
		cfg.Client.Redis = redisClient
	}

	sess, err := arcgis.New(cfg)
	if err != nil {
		if redisClient != nil {
			redisClient.Close()
		}
		return nil, nil, err
	}

	token := viper.GetString("token")
	if viper.GetBool("ask-token") {
		if token, err = readToken(); err != nil {
			closeSession(sess, redisClient)
			return nil, nil, err
		}
	}
	if token != "" {
		sess.SetToken(token)
	}

	return sess, func() { closeSession(sess, redisClient) }, nil
}

func closeSession(sess *arcgis.Session, redisClient *redis.Client) {
	_ = sess.Close()
	if redisClient != nil {
		redisClient.Close()
	}
}

// readToken prompts on stderr and reads the token from the terminal without echo.
func readToken() (string, error) {
	if _, err := os.Stderr.WriteString("ArcGIS Token: "); err != nil {
		return "", fmt.Errorf("failed to write prompt: %w", err)
	}

	tokenBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}

	return strings.TrimSpace(string(tokenBytes)), nil
}
