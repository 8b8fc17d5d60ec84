// Package cli parses tiddlysyncd's command-line flags and implements
// the small pairing-share helper (print a fresh room code and copy it
// to the clipboard), mirroring the teacher's own presentation/ui/cli
// configurator in spirit: a thin layer translating operator input into
// calls against the infrastructure packages, no business logic of its
// own.
package cli

import (
	"flag"
	"fmt"

	"github.com/atotto/clipboard"

	"tiddlysync/domain/room"
)

// Config is the resolved set of flags tiddlysyncd starts with.
type Config struct {
	AppDataDir string
	LANPort    int
	RelayURL   string
	TUI        bool

	// CreateRoom, if non-empty, asks main to mint a brand-new room with
	// this display name instead of joining an existing one.
	CreateRoom string
	// JoinCode/JoinPassword join an existing room at startup.
	JoinCode     string
	JoinPassword string
}

// Parse reads args (normally os.Args[1:]) into a Config.
func Parse(args []string) (Config, error) {
	fs := flag.NewFlagSet("tiddlysyncd", flag.ContinueOnError)

	appDataDir := fs.String("data-dir", "", "override the application data directory")
	lanPort := fs.Int("lan-port", 0, "LAN sync port (0 picks any free port)")
	relayURL := fs.String("relay", "", "relay server URL, e.g. wss://relay.example.com/ws")
	tuiFlag := fs.Bool("tui", false, "show the interactive status dashboard")
	createRoom := fs.String("create-room", "", "mint a new room with this display name and print its code")
	joinCode := fs.String("join-code", "", "room code to join at startup")
	joinPassword := fs.String("join-password", "", "password for -join-code")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	return Config{
		AppDataDir:   *appDataDir,
		LANPort:      *lanPort,
		RelayURL:     *relayURL,
		TUI:          *tuiFlag,
		CreateRoom:   *createRoom,
		JoinCode:     *joinCode,
		JoinPassword: *joinPassword,
	}, nil
}

// SharePrompt prints a freshly generated room code and, best-effort,
// copies it to the clipboard for pasting into a pairing invite. Clipboard
// access can fail headlessly (no X server, no pbcopy); that's reported
// but never fatal, since the code is printed either way.
func SharePrompt(code room.Code) {
	fmt.Printf("room code: %s\n", code)
	if err := clipboard.WriteAll(string(code)); err != nil {
		fmt.Printf("(could not copy to clipboard: %v)\n", err)
		return
	}
	fmt.Println("(copied to clipboard)")
}
