package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/Muhammad18557/telegram-mcp/internal/daemon"
	"github.com/Muhammad18557/telegram-mcp/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	upstreamFlag := flag.String("upstream", "", "account client socket path (overrides session default)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			SessionName:  sessionName,
			UpstreamPath: *upstreamFlag,
		}),
	)

	app.Run()
}
