package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"

	"github.com/pbartlett/gatehouse/identity"
	bboltidentity "github.com/pbartlett/gatehouse/identity/bbolt"
	"github.com/pbartlett/gatehouse/session"
)

var (
	bootstrapDataDir    string
	bootstrapEmail      string
	bootstrapName       string
	bootstrapWorkspaces []string
	bootstrapAdmin      bool
	bootstrapSessionTTL time.Duration
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Seed a development user, workspaces and session",
	Long: `Creates a user with workspace memberships in the data directory and issues
a session for it, so a development server has something to authorize against.
The printed token authenticates as a bearer credential or session cookie.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(bootstrapWorkspaces) == 0 {
			return fmt.Errorf("at least one --workspace is required")
		}
		if err := os.MkdirAll(bootstrapDataDir, 0o700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		db, err := bbolt.Open(filepath.Join(bootstrapDataDir, "gatehouse.db"), 0600, nil)
		if err != nil {
			return fmt.Errorf("failed to open data store: %w", err)
		}
		defer db.Close()

		ids, err := bboltidentity.NewStore(db)
		if err != nil {
			return fmt.Errorf("failed to open identity store: %w", err)
		}
		sessions, err := session.NewBoltStore(db, 0)
		if err != nil {
			return fmt.Errorf("failed to open session store: %w", err)
		}
		defer sessions.Close()

		ctx := cmd.Context()
		user, err := ids.LinkIdentity(ctx, "bootstrap", bootstrapEmail, identity.Profile{
			Email:       bootstrapEmail,
			DisplayName: bootstrapName,
		})
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}

		var first identity.Workspace
		for i, name := range bootstrapWorkspaces {
			ws, err := ids.CreateWorkspace(ctx, name)
			if err != nil {
				return fmt.Errorf("failed to create workspace %q: %w", name, err)
			}
			role := identity.RoleMember
			if i == 0 {
				role = identity.RoleOwner
				first = ws
			}
			if err := ids.AddMembership(ctx, ws.ID, user.ID, role); err != nil {
				return fmt.Errorf("failed to add membership: %w", err)
			}
			fmt.Printf("Workspace %q: %s (%s)\n", name, ws.ID, role)
		}
		if err := ids.SetActiveWorkspace(ctx, user.ID, first.ID); err != nil {
			return fmt.Errorf("failed to set active workspace: %w", err)
		}

		if bootstrapAdmin {
			if err := ids.SetDeploymentAdmin(ctx, user.ID, true); err != nil {
				return fmt.Errorf("failed to grant deployment admin: %w", err)
			}
		}

		token, rec, err := session.Issue(sessions, user.ID, "bootstrap", bootstrapSessionTTL)
		if err != nil {
			return fmt.Errorf("failed to issue session: %w", err)
		}

		fmt.Printf("\nUser:           %s (%s)\n", user.ID, bootstrapEmail)
		fmt.Printf("Active:         %s\n", first.ID)
		fmt.Printf("Session token:  %s\n", token)
		fmt.Printf("Expires:        %s\n", rec.ExpiresAt.Format(time.RFC3339))
		fmt.Printf("\nTry it:\n  curl -k -H 'Authorization: Bearer %s' https://localhost:8443/api/v1/auth/session\n", token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(bootstrapCmd)
	bootstrapCmd.Flags().StringVar(&bootstrapDataDir, "data-dir", "./data", "Directory for persistent data")
	bootstrapCmd.Flags().StringVar(&bootstrapEmail, "email", "dev@example.com", "Email of the seeded user")
	bootstrapCmd.Flags().StringVar(&bootstrapName, "name", "Development User", "Display name of the seeded user")
	bootstrapCmd.Flags().StringSliceVar(&bootstrapWorkspaces, "workspace", []string{"default"}, "Workspace to create and join (repeatable; first becomes active)")
	bootstrapCmd.Flags().BoolVar(&bootstrapAdmin, "admin", false, "Grant the seeded user deployment admin")
	bootstrapCmd.Flags().DurationVar(&bootstrapSessionTTL, "session-ttl", 24*time.Hour, "Lifetime of the issued session")
}
