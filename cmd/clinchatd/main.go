package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/clinchat/clinchat/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	userFlag := flag.String("user", "", "user ID of the authenticated account")
	nameFlag := flag.String("name", "", "display name broadcast with outgoing messages")
	roleFlag := flag.String("role", "patient", "account role: patient, doctor, nurse or laboratory")
	tokenFlag := flag.String("token", "", "bearer token (defaults to $CLINCHAT_TOKEN)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	token := *tokenFlag
	if token == "" {
		token = os.Getenv("CLINCHAT_TOKEN")
	}
	if *userFlag == "" || token == "" {
		fmt.Fprintln(os.Stderr, "error: --user and a bearer token are required")
		os.Exit(1)
	}

	app := fx.New(
		session.Module(session.Params{
			SessionName: sessionName,
			UserID:      *userFlag,
			UserName:    *nameFlag,
			Role:        *roleFlag,
			Token:       token,
		}),
	)

	app.Run()
}
