package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/regiscop/decuma/config"
	"github.com/regiscop/decuma/core"
	"github.com/regiscop/decuma/server"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  server -config <config-file>\n")
	os.Exit(1)
}

func main() {
	configPath := flag.String("config", "", "path to the KEY=value config file")
	flag.Parse()

	if *configPath == "" {
		usage()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("could not load config: %v", err)
	}

	db, err := core.Open(cfg.Path, cfg.MaxSegmentSize, cfg.MaxSegmentsInMemory)
	if err != nil {
		log.Fatalf("could not open the database: %v", err)
	}

	srv := server.New(db, cfg.Patience, cfg.MaxClients)
	addr := net.JoinHostPort("", fmt.Sprintf("%d", cfg.Port))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(addr) }()
	log.Printf("decuma listening on %s, data dir %s", addr, cfg.Path)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received %v", sig)
	case err := <-errCh:
		log.Printf("server error: %v", err)
	}

	log.Println("shutting down...")
	if err := srv.Close(); err != nil {
		log.Printf("close listener: %v", err)
	}
	if err := db.Shutdown(); err != nil {
		log.Fatalf("db shutdown: %v", err)
	}
}
