package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/CadenzaCast/cadenza-client/pkg/crypto"
	"github.com/CadenzaCast/cadenza-client/pkg/discovery"
	"github.com/CadenzaCast/cadenza-client/pkg/session"
	"github.com/CadenzaCast/cadenza-client/pkg/store"
)

var (
	configPath = flag.String("config", "./cadenza.toml", "Path to config file")
	username   = flag.String("username", "", "Account username")
	password   = flag.String("password", "", "Account password (stores a reusable token on success)")
	deviceName = flag.String("device", "", "Device name override")
	dataDir    = flag.String("data", "", "Data directory override")
	discover   = flag.Bool("discover", false, "Obtain credentials by local-network pairing")
)

func main() {
	flag.Parse()

	printBanner()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *deviceName != "" {
		cfg.DeviceName = *deviceName
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *username != "" {
		cfg.Username = *username
	}

	serverKey, err := cfg.DecodeServerKey()
	if err != nil {
		log.Fatalf("Invalid server key: %v", err)
	}

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to open credential store: %v", err)
	}
	defer db.Close()
	log.Printf("Credential store at %s", db.Path())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deviceID := crypto.DeviceID(cfg.DeviceName)
	creds, err := resolveCredentials(ctx, cfg, db, deviceID)
	if err != nil {
		log.Fatalf("No usable credentials: %v", err)
	}

	aps := session.ResolveAPs(cfg.ResolverURL, cfg.FallbackAPs)
	log.Printf("Access points: %v", aps.Addresses())

	sessionCfg := session.Config{
		DeviceName: cfg.DeviceName,
		DeviceID:   deviceID,
		ServerKey:  serverKey,
	}

	r := &session.Reconnector{
		APs:    aps,
		Creds:  creds,
		Config: sessionCfg,
		OnSession: func(s *session.Session) {
			log.Printf("Logged in as %s", s.Username())
			if token := s.ReusableToken(); len(token) > 0 {
				if err := db.SaveToken(s.Username(), deviceID, token); err != nil {
					log.Printf("Failed to store reusable token: %v", err)
				}
			}
		},
	}

	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Client stopped: %v", err)
	}
	log.Println("Shutdown complete")
}

// resolveCredentials picks the login credentials in order of preference:
// explicit password, stored reusable token, local-network pairing.
func resolveCredentials(ctx context.Context, cfg *Config, db *store.Store, deviceID string) (session.Credentials, error) {
	if *password != "" {
		if cfg.Username == "" {
			return session.Credentials{}, fmt.Errorf("-password requires a username")
		}
		return session.WithPassword(cfg.Username, *password), nil
	}

	name := cfg.Username
	if name == "" {
		last, err := db.LastUsername()
		if err == nil {
			name = last
		}
	}
	if name != "" {
		token, err := db.LoadToken(name)
		if err == nil {
			log.Printf("Using stored token for %s", name)
			return session.WithToken(name, token), nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return session.Credentials{}, err
		}
	}

	if *discover {
		return pairCredentials(ctx, cfg, deviceID)
	}

	return session.Credentials{}, fmt.Errorf("no stored token for %q; pass -password or -discover", name)
}

// pairCredentials runs the discovery server until a peer hands over
// credentials or ctx ends.
func pairCredentials(ctx context.Context, cfg *Config, deviceID string) (session.Credentials, error) {
	dcfg := discovery.DefaultConfig()
	dcfg.Port = cfg.DiscoveryPort
	dcfg.DeviceName = cfg.DeviceName
	dcfg.DeviceID = deviceID
	dcfg.PairingSecret = []byte(cfg.PairingSecret)

	server := discovery.NewServer(dcfg)
	if err := server.Start(); err != nil {
		return session.Credentials{}, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Stop(shutdownCtx)
	}()

	log.Printf("Waiting for pairing on port %d...", dcfg.Port)
	paired, err := server.Await(ctx)
	if err != nil {
		return session.Credentials{}, err
	}

	log.Printf("Paired as %s", paired.Username)
	return session.WithToken(paired.Username, paired.Token), nil
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════════╗")
	fmt.Println("║              Cadenza Client v1.0                  ║")
	fmt.Println("║        Streaming session and protocol core        ║")
	fmt.Println("╚═══════════════════════════════════════════════════╝")
	fmt.Println()
}
