package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

// Usage: seed_redis [-reset-violations] <api-key>=<device-id> ...
func main() {
	resetViolations := flag.Bool("reset-violations", false, "delete every open violation key")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file, using system environment variables")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisGetEnv("REDIS_ADDR", "localhost:6379"),
		Password: redisGetEnv("REDIS_PASSWORD", ""),
		DB:       0,
	})
	defer client.Close()

	ctx := context.Background()

	fmt.Println("Connecting to Redis...")
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Redis is running:\n  docker-compose up -d redis", err)
	}
	fmt.Println("✓ Connected")

	keys, err := parsePairs(flag.Args())
	if err != nil {
		log.Fatal(err)
	}

	step1APIKeys(ctx, client, keys)
	if *resetViolations {
		step2ResetViolations(ctx, client)
	}
	step3Verify(ctx, client)

	fmt.Println("\n✅ Redis seeded successfully")
}

// parsePairs reads api-key=device-id arguments.
func parsePairs(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		key, deviceID, ok := strings.Cut(arg, "=")
		if !ok || key == "" || deviceID == "" {
			return nil, fmt.Errorf("invalid argument %q, want <api-key>=<device-id>", arg)
		}
		out[key] = deviceID
	}
	return out, nil
}

func step1APIKeys(ctx context.Context, client *redis.Client, keys map[string]string) {
	fmt.Println("\n── Step 1: Seeding device API keys ─────────────")

	// Key pattern: device:auth:{api_key} → device_id
	// TTL = 0 means permanent
	for apiKey, deviceID := range keys {
		key := "device:auth:" + apiKey
		if err := client.Set(ctx, key, deviceID, 0).Err(); err != nil {
			log.Fatalf("Failed to set key %s: %v", key, err)
		}
		fmt.Printf("  ✓ %-45s → %s\n", key, deviceID)
	}
}

func step2ResetViolations(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── Step 2: Resetting violation keys ────────────")

	deleted := 0
	iter := client.Scan(ctx, 0, "violation:*", 100).Iterator()
	for iter.Next(ctx) {
		if err := client.Del(ctx, iter.Val()).Err(); err != nil {
			log.Fatalf("Failed to delete %s: %v", iter.Val(), err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		log.Fatalf("Scan failed: %v", err)
	}
	fmt.Printf("  ✓ %d violation keys deleted\n", deleted)
}

func step3Verify(ctx context.Context, client *redis.Client) {
	fmt.Println("\n── Step 3: Verification ────────────────────────")

	keys, err := client.Keys(ctx, "device:auth:*").Result()
	if err != nil {
		log.Fatalf("Verification failed: %v", err)
	}
	fmt.Printf("  ✓ %d device API keys found in Redis\n", len(keys))
}

func redisGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
