package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetsnap/fleetsnap/internal/agent"
)

const (
	defaultConsulAddr     = "127.0.0.1:8500"
	defaultReportInterval = 10 * time.Second
	defaultRetryDelay     = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	collectorURL := os.Getenv("COLLECTOR_URL")
	consulAddr := getEnv("CONSUL_HTTP_ADDR", "")
	apiKey := os.Getenv("API_KEY")

	if apiKey == "" {
		log.Fatal("API_KEY must be set")
	}
	if collectorURL == "" && consulAddr == "" {
		log.Fatal("Either COLLECTOR_URL or CONSUL_HTTP_ADDR must be set")
	}

	interval := defaultReportInterval
	if v := os.Getenv("REPORT_INTERVAL"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("Invalid REPORT_INTERVAL: %v", err)
		}
		interval = parsed
	}

	log.Printf("Starting agent service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v", sig)
		cancel()
	}()

	if collectorURL != "" {
		log.Printf("Using direct collector URL: %s", collectorURL)
		for {
			select {
			case <-ctx.Done():
				log.Println("Shutting down")
				return nil
			default:
				if err := runClient(ctx, collectorURL, apiKey, interval); err != nil && ctx.Err() == nil {
					log.Printf("Client error: %v, retrying...", err)
					time.Sleep(defaultRetryDelay)
				}
			}
		}
	}

	if consulAddr == "" {
		consulAddr = defaultConsulAddr
	}
	log.Printf("Using Consul service discovery at: %s", consulAddr)

	var discovery *agent.ServiceDiscovery
	for {
		select {
		case <-ctx.Done():
			log.Println("Shutting down")
			return nil
		default:
		}

		var err error
		discovery, err = agent.NewServiceDiscovery(consulAddr)
		if err != nil {
			log.Printf("Failed to create service discovery: %v, retrying...", err)
			time.Sleep(defaultRetryDelay)
			continue
		}
		break
	}

	urlChan := discovery.WatchCollector()

	for {
		select {
		case <-ctx.Done():
			log.Println("Shutting down")
			return nil

		case url := <-urlChan:
			if err := runClient(ctx, url, apiKey, interval); err != nil && ctx.Err() == nil {
				log.Printf("Client error: %v, retrying...", err)
				time.Sleep(defaultRetryDelay)
			}
		}
	}
}

func runClient(ctx context.Context, collectorURL, apiKey string, interval time.Duration) error {
	log.Printf("Reporting to collector at: %s", collectorURL)

	client, err := agent.NewClient(collectorURL, apiKey)
	if err != nil {
		return err
	}

	return client.Start(ctx, interval)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
