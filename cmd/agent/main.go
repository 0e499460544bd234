package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"example.com/openrobot-bhv/internal/agent"
	"example.com/openrobot-bhv/internal/db"
	httpserver "example.com/openrobot-bhv/internal/http"
	"example.com/openrobot-bhv/internal/scenario"
)

func main() {
	cfgPath := os.Getenv("AGENT_CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "/etc/openrobot-agent/config.yaml"
	}
	cfg, err := agent.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.WorkspacePath != "" {
		log.Printf("workspace path: %s", cfg.WorkspacePath)
	}

	store, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open run history %s: %v", cfg.DBPath, err)
	}
	defer store.Close()

	hub := httpserver.NewHub()
	defer hub.Close()

	engine := agent.NewAgentEngine(cfg)
	engine.Store = store
	engine.Hub = hub
	if cfg.TreesDir != "" {
		specs, err := scenario.LoadDir(cfg.TreesDir)
		if err != nil {
			log.Fatalf("failed to load trees from %s: %v", cfg.TreesDir, err)
		}
		if err := scenario.Register(engine.Catalog, engine.Blackboard, specs); err != nil {
			log.Fatalf("failed to register trees: %v", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		engine.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		srv := httpserver.NewServer(cfg.HTTPAddr, engine, store, hub)
		if err := srv.Start(ctx); err != nil {
			log.Printf("[http] server stopped: %v", err)
			cancel()
		}
	}()

	log.Printf("agent %s running trees %v", cfg.AgentID, engine.TreeNames())
	<-ctx.Done()
	log.Printf("shutting down agent")
	wg.Wait()
}
