// cmd/doctor/main.go
// Checks that the environment the service needs is reachable

package main

import (
    "context"
    "fmt"
    "os"
    "time"

    "github.com/joho/godotenv"

    "github.com/imadgeboyega/kiekky-matchmaking/internal/common/database"
    "github.com/imadgeboyega/kiekky-matchmaking/internal/config"
    "github.com/imadgeboyega/kiekky-matchmaking/internal/store"
)

func main() {
    if err := godotenv.Load(); err != nil {
        fmt.Println("no .env file found, using environment variables")
    } else {
        fmt.Println(".env loaded")
    }

    cfg := config.Load()
    if err := cfg.Validate(); err != nil {
        fail("configuration invalid", err)
    }
    fmt.Println("configuration valid")

    ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
    defer cancel()

    db, err := database.NewPostgresDBFromURL(ctx, cfg.DatabaseURL, database.DefaultPostgresConfig())
    if err != nil {
        fail("can't reach database", err)
    }
    defer db.Close()

    var tables int
    if err := db.GetContext(ctx, &tables, "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = 'public'"); err != nil {
        fail("can't list tables", err)
    }
    fmt.Printf("connected to database, %d tables\n", tables)

    client, err := database.NewRedisClientFromURL(ctx, cfg.RedisURL, 2)
    if err != nil {
        fail("can't reach redis", err)
    }
    defer client.Close()

    queued, err := client.LLen(ctx, store.QueueKey).Result()
    if err != nil {
        fail("can't read match queue", err)
    }
    live, err := client.ZCard(ctx, store.ExpiryKey).Result()
    if err != nil {
        fail("can't read session index", err)
    }
    fmt.Printf("connected to redis, %d queued users, %d live chats\n", queued, live)
}

func fail(msg string, err error) {
    fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
    os.Exit(1)
}
