package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"tiddlysync/application"
	"tiddlysync/domain/room"
	"tiddlysync/infrastructure/bridge"
	"tiddlysync/infrastructure/collab"
	"tiddlysync/infrastructure/conflict"
	"tiddlysync/infrastructure/discovery"
	"tiddlysync/infrastructure/logging"
	"tiddlysync/infrastructure/pairing"
	"tiddlysync/infrastructure/replication"
	"tiddlysync/infrastructure/transport/lan"
	"tiddlysync/infrastructure/transport/relay"
	"tiddlysync/infrastructure/transport/router"
	"tiddlysync/presentation/cli"
	"tiddlysync/presentation/tui"
	"tiddlysync/syncmanager"
)

func main() {
	cfg, err := cli.Parse(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	logger := logging.NewStdLogger()

	appDataDir := cfg.AppDataDir
	if appDataDir == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "tiddlysyncd: resolve app data dir: %v\n", err)
			os.Exit(1)
		}
		appDataDir = filepath.Join(dir, "tiddlysync")
	}
	if err := os.MkdirAll(appDataDir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "tiddlysyncd: create app data dir: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Printf("sync: interrupt received, shutting down")
		cancel()
	}()

	if err := run(ctx, cfg, appDataDir, logger); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "tiddlysyncd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg cli.Config, appDataDir string, logger application.Logger) error {
	configStore, err := pairing.NewStore(appDataDir)
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	deviceID, deviceName, err := configStore.LoadOrCreateDeviceIdentity()
	if err != nil {
		return fmt.Errorf("load device identity: %w", err)
	}
	logger.Printf("sync: device %s (%s)", deviceName, deviceID)

	if cfg.CreateRoom != "" {
		if err := createRoom(configStore, cfg.CreateRoom); err != nil {
			return fmt.Errorf("create room: %w", err)
		}
	}
	if cfg.JoinCode != "" {
		if err := joinRoom(configStore, cfg.JoinCode, cfg.JoinPassword); err != nil {
			return fmt.Errorf("join room: %w", err)
		}
	}

	keyring, err := pairing.NewKeyring(configStore)
	if err != nil {
		return fmt.Errorf("build keyring: %w", err)
	}

	lanListener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.LANPort))
	if err != nil {
		return fmt.Errorf("listen on LAN port: %w", err)
	}
	lanServer := lan.NewServer(ctx, lanListener, deviceID, deviceName, keyring, logger)

	rtr := router.New(lanServer, logger)

	clockStore := conflict.NewStore(filepath.Join(appDataDir, "lan_sync_tombstones"), conflict.DefaultTombstoneRetention)
	conflictMgr := conflict.NewManager(deviceID, clockStore)

	fpStore := replication.NewFingerprintStore(appDataDir)
	replEngine := replication.NewEngine(fpStore, logger)

	presence := collab.NewPresence()
	hub, err := collab.NewLoopbackHub(ctx, logger)
	if err != nil {
		return fmt.Errorf("start collab loopback hub: %w", err)
	}
	logger.Printf("sync: collab loopback listening on %s", hub.Addr())

	ipcToken, err := randomToken()
	if err != nil {
		return fmt.Errorf("generate IPC token: %w", err)
	}
	ipcListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen for editor IPC: %w", err)
	}
	ipcServer := bridge.NewIPCServer(ipcListener, ipcToken, logger)
	logger.Printf("sync: editor IPC listening on %s (token set via env)", ipcListener.Addr())
	os.Setenv("TIDDLYSYNC_IPC_TOKEN", ipcToken)
	os.Setenv("TIDDLYSYNC_IPC_ADDR", ipcListener.Addr().String())

	wikisDir := filepath.Join(appDataDir, "wiki-mirrors")

	mgr := syncmanager.New(syncmanager.Config{
		DeviceID:     deviceID,
		BaseWikisDir: wikisDir,
		Logger:       logger,
		Router:       rtr,
		Keyring:      keyring,
		LANServer:    lanServer,
		Conflict:     conflictMgr,
		Replication:  replEngine,
		Presence:     presence,
		Hub:          hub,
		Bridge:       ipcServer,
	})

	lanPort := addrPort(lanListener.Addr())
	beacon := discovery.NewBeacon(deviceID, deviceName, lanPort, keyring, logger)
	listener := discovery.NewListener(deviceID, connectedPeerIDs(rtr), logger)
	membership := discovery.NewMembership(deviceID, keyring, mgr, logger)

	if cfg.RelayURL != "" {
		for _, roomCode := range configuredRoomCodes(configStore) {
			relayClient, err := relay.NewClient(relay.Config{
				RelayURL:        cfg.RelayURL,
				RoomCode:        roomCode,
				LocalDeviceID:   deviceID,
				LocalDeviceName: deviceName,
			}, keyring, logger)
			if err != nil {
				logger.Printf("sync: relay client for room %s: %v", roomCode, err)
				continue
			}
			mgr.JoinRoom(ctx, roomCode, relayClient)
			go func(c *relay.Client) {
				if err := c.Run(ctx); err != nil && ctx.Err() == nil {
					logger.Printf("sync: relay client stopped: %v", err)
				}
			}(relayClient)
		}
	}

	if err := ipcServer.Start(ctx); err != nil {
		return fmt.Errorf("start editor IPC: %w", err)
	}
	defer func() { _ = ipcServer.Stop() }()

	go func() {
		if err := beacon.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("sync: beacon stopped: %v", err)
		}
	}()
	go func() {
		if err := listener.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("sync: discovery listener stopped: %v", err)
		}
	}()
	defer func() { _ = listener.Stop() }()
	go membership.Run(ctx, listener)

	if cfg.TUI {
		go func() {
			prog := tea.NewProgram(tui.NewModel(func() tui.Snapshot {
				return tui.Snapshot{
					DeviceID: deviceID,
					Peers:    rtr.Peers(),
					Editing:  editingLines(presence),
				}
			}))
			if _, err := prog.Run(); err != nil {
				logger.Printf("sync: tui exited: %v", err)
			}
			cancel()
		}()
	}

	return mgr.Run(ctx)
}

func createRoom(store *pairing.Store, displayName string) error {
	code, err := room.NewCode()
	if err != nil {
		return err
	}
	password, err := randomToken()
	if err != nil {
		return err
	}
	encPassword, err := store.EncryptSecret(password)
	if err != nil {
		return err
	}
	if err := store.SaveRoom(application.RoomRecord{
		Code:              string(code),
		DisplayName:       displayName,
		AutoConnect:       true,
		EncryptedPassword: encPassword,
	}); err != nil {
		return err
	}
	cli.SharePrompt(code)
	fmt.Printf("password: %s\n", password)
	return nil
}

func joinRoom(store *pairing.Store, code, password string) error {
	if err := room.Code(code).Validate(); err != nil {
		return err
	}
	encPassword, err := store.EncryptSecret(password)
	if err != nil {
		return err
	}
	return store.SaveRoom(application.RoomRecord{
		Code:              code,
		DisplayName:       code,
		AutoConnect:       true,
		EncryptedPassword: encPassword,
	})
}

func configuredRoomCodes(store *pairing.Store) []string {
	rooms, err := store.LoadRooms()
	if err != nil {
		return nil
	}
	codes := make([]string, 0, len(rooms))
	for _, r := range rooms {
		if r.AutoConnect {
			codes = append(codes, r.Code)
		}
	}
	return codes
}

func connectedPeerIDs(rtr *router.Router) func() map[string]bool {
	return func() map[string]bool {
		out := make(map[string]bool)
		for _, p := range rtr.Peers() {
			out[p.DeviceID] = true
		}
		return out
	}
}

func editingLines(presence *collab.Presence) []string {
	sessions := presence.LocalSessions()
	lines := make([]string, 0, len(sessions))
	for _, s := range sessions {
		lines = append(lines, fmt.Sprintf("%s editing %q in %s", s.DeviceID, s.Title, s.WikiID))
	}
	return lines
}

func randomToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func addrPort(addr net.Addr) int {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.Port
	}
	return 0
}
