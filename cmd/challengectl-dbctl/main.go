// Command challengectl-dbctl is an operational CLI against a running
// controller's database: bootstrap the first operator account, inspect
// agents, and toggle the global pause flag without going through HTTP.
// Adapted from the teacher's cmd/dbctl (flag -action dispatch straight
// against the database), generalized from its single agent_control table
// to the full Store transaction API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/CLIAIMONITOR/internal/auth"
	"github.com/CLIAIMONITOR/internal/store"
	"github.com/CLIAIMONITOR/internal/types"
)

func main() {
	dbPath := flag.String("db", "data/challengectl.db", "Path to the controller's SQLite database")
	action := flag.String("action", "", "Action: create-admin, list-users, list-agents, pause, resume")
	username := flag.String("username", "", "Username (create-admin)")
	password := flag.String("password", "", "Password (create-admin)")
	jsonOutput := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	if *action == "" {
		fmt.Fprintln(os.Stderr, "Usage: challengectl-dbctl -db <path> -action <action> [flags]")
		fmt.Fprintln(os.Stderr, "Actions: create-admin, list-users, list-agents, pause, resume")
		os.Exit(1)
	}

	s, err := store.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	ctx := context.Background()

	switch *action {
	case "create-admin":
		if *username == "" || *password == "" {
			fmt.Fprintln(os.Stderr, "create-admin requires -username and -password")
			os.Exit(1)
		}
		if err := createAdmin(ctx, s, *username, *password); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("admin user %q created; run the login flow to enroll TOTP\n", *username)

	case "list-users":
		var users []*types.OperatorUser
		err := s.WithRead(ctx, func(tx *store.Tx) error {
			var err error
			users, err = tx.ListUsers()
			return err
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to list users: %v\n", err)
			os.Exit(1)
		}
		printJSONOrText(*jsonOutput, users, func() {
			for _, u := range users {
				fmt.Printf("%-20s enabled=%-5v must_change_password=%v\n", u.Username, u.Enabled, u.MustChangePassword)
			}
		})

	case "list-agents":
		var agents []*types.Agent
		err := s.WithRead(ctx, func(tx *store.Tx) error {
			var err error
			agents, err = tx.ListAgents()
			return err
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to list agents: %v\n", err)
			os.Exit(1)
		}
		printJSONOrText(*jsonOutput, agents, func() {
			for _, a := range agents {
				fmt.Printf("%-36s %-10s kind=%-12s enabled=%v\n", a.ID, a.Status, a.Kind, a.Enabled)
			}
		})

	case "pause":
		if err := s.WithWrite(ctx, func(tx *store.Tx) error { return tx.SetPaused(true) }); err != nil {
			fmt.Fprintf(os.Stderr, "failed to pause: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("dispatch paused")

	case "resume":
		if err := s.WithWrite(ctx, func(tx *store.Tx) error { return tx.SetPaused(false) }); err != nil {
			fmt.Fprintf(os.Stderr, "failed to resume: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("dispatch resumed")

	default:
		fmt.Fprintf(os.Stderr, "unknown action: %s\n", *action)
		os.Exit(1)
	}
}

// createAdmin inserts an operator user with every permission, granting no
// TOTP secret — because the account has no secret, its first login yields
// a fully authenticated session, and a TOTP secret can be enrolled from
// there (spec.md §4.2 "new account has no TOTP secret until enrollment").
func createAdmin(ctx context.Context, s *store.Store, username, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u := &types.OperatorUser{
		Username:           username,
		PasswordHash:       hash,
		Enabled:            true,
		MustChangePassword: false,
		CreatedAt:          time.Now().UTC(),
	}
	permissions := []string{
		types.PermissionCreateUsers,
		types.PermissionManageChallenge,
		types.PermissionManageAgents,
		types.PermissionProvision,
	}
	return s.WithWrite(ctx, func(tx *store.Tx) error {
		if err := tx.CreateUser(u); err != nil {
			return err
		}
		for _, p := range permissions {
			if err := tx.GrantPermission(username, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func printJSONOrText(asJSON bool, v interface{}, printText func()) {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(v)
		return
	}
	printText()
}
