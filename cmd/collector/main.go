package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	consul "github.com/hashicorp/consul/api"

	"github.com/fleetsnap/fleetsnap/internal/collector"
)

const (
	defaultHTTPPort = "8080"
	defaultDBPath   = "./fleetsnap.db"

	consulServiceID   = "fleetsnap-collector"
	consulServiceName = "fleetsnap-collector"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	httpPort := getEnv("HTTP_PORT", defaultHTTPPort)
	dbPath := getEnv("DB_PATH", defaultDBPath)

	db, err := collector.NewDB(dbPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer db.Close()

	hub := collector.NewHub()

	mux := http.NewServeMux()
	api := collector.NewAPI(db, hub)
	api.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", httpPort),
		Handler: mux,
	}

	if err := registerConsul(httpPort); err != nil {
		log.Printf("Warning: failed to register with Consul: %v", err)
	}
	defer deregisterConsul()

	errChan := make(chan error, 1)
	go func() {
		log.Printf("Collector listening on :%s", httpPort)
		errChan <- httpServer.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
		httpServer.Shutdown(context.Background())
		return nil
	}
}

func registerConsul(httpPort string) error {
	consulAddr := getEnv("CONSUL_HTTP_ADDR", "")
	if consulAddr == "" {
		return nil
	}

	config := consul.DefaultConfig()
	config.Address = consulAddr
	client, err := consul.NewClient(config)
	if err != nil {
		return err
	}

	nodeIP := getEnv("NOMAD_IP_http", "")
	if nodeIP == "" {
		nodeIP = getLocalIP()
	}

	registration := &consul.AgentServiceRegistration{
		ID:      consulServiceID,
		Name:    consulServiceName,
		Port:    mustAtoi(httpPort),
		Address: nodeIP,
		Check: &consul.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%s/health", nodeIP, httpPort),
			Interval:                       "10s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "30s",
		},
		Tags: []string{"snapshots", "collector", "http", "api"},
	}

	return client.Agent().ServiceRegister(registration)
}

func deregisterConsul() {
	consulAddr := getEnv("CONSUL_HTTP_ADDR", "")
	if consulAddr == "" {
		return
	}

	config := consul.DefaultConfig()
	config.Address = consulAddr
	client, err := consul.NewClient(config)
	if err != nil {
		log.Printf("Error creating consul client for deregistration: %v", err)
		return
	}

	if err := client.Agent().ServiceDeregister(consulServiceID); err != nil {
		log.Printf("Error deregistering collector service: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func mustAtoi(s string) int {
	i, _ := strconv.Atoi(s)
	return i
}

func getLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}

	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}

	return "127.0.0.1"
}
