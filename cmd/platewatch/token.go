package main

import (
	"fmt"

	"platewatch/internal/auth"
)

func runToken(args []string) error {
	fs := newFlagSet("token")
	subject := fs.String("subject", "platewatch-ingest", "token subject")
	cfg, _, err := setup(fs, args)
	if err != nil {
		return err
	}

	token, err := auth.IssueToken(cfg.Auth.JWTSecret, *subject, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
