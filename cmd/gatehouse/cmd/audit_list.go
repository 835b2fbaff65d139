package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"
)

// auditLogEntry matches the persisted audit JSON structure. It mirrors the
// api audit entry without importing the api package and its heavy dependency
// chain.
type auditLogEntry struct {
	ID        string            `json:"id"`
	Event     string            `json:"event"`
	Subject   string            `json:"subject,omitempty"`
	RemoteIP  string            `json:"remote_ip,omitempty"`
	CreatedAt string            `json:"created_at"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

var (
	auditListDataDir string
	auditListLimit   int
	auditListJSON    bool
)

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print recent audit entries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Read-only open; a server holding the write lock makes this fail
		// after the timeout instead of hanging.
		db, err := bbolt.Open(filepath.Join(auditListDataDir, "gatehouse.db"), 0600,
			&bbolt.Options{ReadOnly: true, Timeout: time.Second})
		if err != nil {
			return fmt.Errorf("failed to open data store: %w", err)
		}
		defer db.Close()

		entries, err := readAuditEntries(db, auditListLimit)
		if err != nil {
			return err
		}
		return printAuditEntries(cmd.OutOrStdout(), entries, auditListJSON)
	},
}

func readAuditEntries(db *bbolt.DB, limit int) ([]auditLogEntry, error) {
	var out []auditLogEntry
	err := db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte("audit"))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var e auditLogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decoding audit entry: %w", err)
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func printAuditEntries(w io.Writer, entries []auditLogEntry, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No audit entries.")
		return nil
	}
	for _, e := range entries {
		subject := e.Subject
		if subject == "" {
			subject = "-"
		}
		remote := e.RemoteIP
		if remote == "" {
			remote = "-"
		}
		fmt.Fprintf(w, "%-20s  %-26s  %-20s  %s\n", e.CreatedAt, e.Event, subject, remote)
		for k, v := range e.Attrs {
			fmt.Fprintf(w, "%-20s    %s=%s\n", "", k, v)
		}
	}
	return nil
}

func init() {
	auditCmd.AddCommand(auditListCmd)
	auditListCmd.Flags().StringVar(&auditListDataDir, "data-dir", "./data", "Directory for persistent data")
	auditListCmd.Flags().IntVar(&auditListLimit, "limit", 50, "Maximum entries to print")
	auditListCmd.Flags().BoolVar(&auditListJSON, "json", false, "Print entries as JSON")
}
