// Command ssrgate runs the local SOCKS5-to-obfuscated-upstream front
// end. Wiring follows the teacher's cmd/local/main.go: load the ini
// config, init logging, load auxiliary JSON config, then hand off to
// the long-running server.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"ssrgate/internal/app"
	"ssrgate/internal/shared/config"
	"ssrgate/internal/shared/logger"
	"ssrgate/internal/shared/types"
)

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	flag.Parse()

	iniPath := filepath.Join(*configDir, "ssrgate.ini")
	firewallPath := filepath.Join(*configDir, "firewall.json")

	cfg := new(types.Config)
	if err := config.LoadIni(cfg, iniPath); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: failed to load config file %q: %v\n", iniPath, err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	rules, err := config.LoadFirewallRules(firewallPath)
	if err != nil {
		logger.Fatal().Err(err).Msgf("failed to load firewall rules file %q", firewallPath)
	}
	cfg.FirewallRules = rules

	appServer, err := app.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct server")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("shutdown signal received")
		appServer.Stop()
	}()

	if err := appServer.Run(); err != nil {
		logger.Fatal().Err(err).Msg("server exited with error")
	}
}
