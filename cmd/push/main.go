// Command push queues an out-of-band message for a connected user.
//
//	push -user u1 -payload '{"notice":"maintenance at noon"}'
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"translation-relay/config"
	"translation-relay/relay"
)

func main() {
	config.LoadDotEnv()

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logrus.Fatalf("Invalid REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := push(ctx, rdb, os.Args[1:], os.Stdout); err != nil {
		logrus.Fatal(err)
	}
}

func push(ctx context.Context, rdb *redis.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("push", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	userID := fs.String("user", "", "user id to deliver to")
	payload := fs.String("payload", "", "JSON document to deliver")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return errors.New("-user is required")
	}
	if !json.Valid([]byte(*payload)) {
		return fmt.Errorf("-payload must be valid JSON, got %q", *payload)
	}

	id, err := relay.Publish(ctx, rdb, *userID, json.RawMessage(*payload))
	if err != nil {
		return err
	}
	fmt.Fprintln(out, id)
	return nil
}
