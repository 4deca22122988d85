// Command orchestrator-registry runs the source registry (C1) as a
// standalone gRPC server, for deployments that split query orchestration
// across multiple processes sharing one source catalog.
//
// Multiple nodes with the same REGISTRY_NAME and REDIS_URL form a
// cluster, replicating their source snapshot through Pulse and
// coordinating health pings, mirroring how the teacher's toolset
// registry clusters.
//
// # Configuration
//
// Environment variables:
//
//	REGISTRY_ADDR   - gRPC listen address (default: ":9090")
//	REGISTRY_NAME   - registry cluster name (default: "sourcereg")
//	REDIS_URL       - Redis connection address (default: "localhost:6379")
//	REDIS_PASSWORD  - Redis password (optional)
//	SOURCES_FILE    - YAML file of initial sources (optional; an empty
//	                  registry can still be populated later via Replace)
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"gopkg.in/yaml.v3"

	"github.com/queryorch/orchestrator/internal/model"
	"github.com/queryorch/orchestrator/internal/sourcereg"
	"github.com/queryorch/orchestrator/internal/sourcereg/grpctransport"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := envOr("REGISTRY_ADDR", ":9090")
	name := envOr("REGISTRY_NAME", "sourcereg")
	redisURL := envOr("REDIS_URL", "localhost:6379")
	redisPassword := os.Getenv("REDIS_PASSWORD")
	sourcesFile := os.Getenv("SOURCES_FILE")

	rdb := redis.NewClient(&redis.Options{
		Addr:     redisURL,
		Password: redisPassword,
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("close redis: %v", err)
		}
	}()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	sources, err := loadSources(sourcesFile)
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}

	reg, err := sourcereg.New(ctx, sourcereg.Config{
		Sources: sources,
		Redis:   rdb,
		Name:    name,
	})
	if err != nil {
		return fmt.Errorf("create source registry: %w", err)
	}
	defer reg.Close()

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := grpc.NewServer()
	grpctransport.Register(srv, reg)

	go func() {
		<-ctx.Done()
		log.Printf("shutting down orchestrator-registry")
		srv.GracefulStop()
	}()

	log.Printf("starting orchestrator-registry on %s (name=%s, sources=%d)", addr, name, len(sources))
	if err := srv.Serve(lis); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func loadSources(path string) ([]model.Source, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Sources []model.Source `yaml:"sources"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Sources, nil
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
