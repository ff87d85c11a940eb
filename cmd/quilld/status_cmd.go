package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quillcms/quilld"
	"github.com/quillcms/quilld/internal/registry"
	"pkt.systems/pslog"
)

// staleLockThreshold is how long a lock may be held before the status view
// flags it as possibly stale. The lock itself never expires; a crashed
// holder is pruned by session liveness, so anything older than this is
// worth a human look.
const staleLockThreshold = 30 * time.Minute

func newStatusCommand() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connected sessions, the write lock, recent activity, and deploy state",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfigFile()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, err := resolveDataDir(cmd)
			if err != nil {
				return err
			}
			logger := pslog.NoopLogger()
			status := registry.NewStore(dataDir, logger)
			activity := registry.NewActivityLog(dataDir, logger, 0)
			deploys := registry.NewDeployStatus(dataDir, logger)

			out := cmd.OutOrStdout()
			if err := printStatus(out, status, activity, deploys); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			return watchStatus(cmd, dataDir, func() error {
				fmt.Fprintf(out, "\n--- %s ---\n", time.Now().Format(time.RFC3339))
				return printStatus(out, status, activity, deploys)
			})
		},
	}
	flags := cmd.Flags()
	flags.StringP("sites-dir", "d", "", "sites root directory (defaults to ~/"+quilld.DefaultSitesDir+")")
	flags.String("data-dir", "", "status directory (defaults to <sites-dir>/.quilld)")
	flags.BoolVarP(&watch, "watch", "w", false, "keep running and reprint on status file changes")
	return cmd
}

func resolveDataDir(cmd *cobra.Command) (string, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	if dataDir == "" {
		dataDir = viper.GetString("data-dir")
	}
	if dataDir != "" {
		return expandPath(dataDir)
	}
	sitesDir, _ := cmd.Flags().GetString("sites-dir")
	if sitesDir == "" {
		sitesDir = viper.GetString("sites-dir")
	}
	if sitesDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		sitesDir = filepath.Join(home, quilld.DefaultSitesDir)
	}
	expanded, err := expandPath(sitesDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(expanded, ".quilld"), nil
}

func watchStatus(cmd *cobra.Command, dataDir string, reprint func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dataDir); err != nil {
		return fmt.Errorf("watch %s: %w", dataDir, err)
	}
	ctx := cmd.Context()
	// Coalesce bursts: the registry replaces files atomically, so one
	// logical update shows up as several filesystem events.
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if pending == nil {
				pending = time.After(200 * time.Millisecond)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "watch error: %v\n", err)
		case <-pending:
			pending = nil
			if err := reprint(); err != nil {
				return err
			}
		}
	}
}

func printStatus(out io.Writer, status *registry.Store, activity *registry.ActivityLog, deploys *registry.DeployStatus) error {
	doc, err := status.Read()
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	activityDoc, err := activity.Read()
	if err != nil {
		return fmt.Errorf("read activity: %w", err)
	}
	deployDoc, err := deploys.Read()
	if err != nil {
		return fmt.Errorf("read deploy status: %w", err)
	}

	now := time.Now()

	fmt.Fprintln(out, "Sessions:")
	if len(doc.Clients) == 0 {
		fmt.Fprintln(out, "  (none)")
	}
	for _, sess := range doc.Clients {
		fmt.Fprintf(out, "  %s  pid %d  %d calls  last activity %s\n",
			sess.ClientName, sess.PID, sess.ToolCallCount, humanize.Time(sess.LastActivity))
	}

	fmt.Fprintln(out, "Write lock:")
	switch {
	case doc.ActiveLock != nil:
		l := doc.ActiveLock
		held := now.Sub(l.StartedAt).Round(time.Second)
		fmt.Fprintf(out, "  %s on %q held by %s (pid %d) for %s", l.Operation, l.Site, l.ClientName, l.PID, held)
		if held > staleLockThreshold {
			fmt.Fprint(out, "  [possibly stale]")
		}
		fmt.Fprintln(out)
	case doc.LastLock != nil:
		l := doc.LastLock
		fmt.Fprintf(out, "  free; last held for %s by %s (%s on %q, released %s)\n",
			(time.Duration(l.DurationMS) * time.Millisecond).Round(time.Millisecond),
			l.ClientName, l.Operation, l.Site, humanize.Time(l.ClearedAt))
	default:
		fmt.Fprintln(out, "  free")
	}

	fmt.Fprintln(out, "Recent activity:")
	if len(activityDoc.Entries) == 0 {
		fmt.Fprintln(out, "  (none)")
	}
	for i, entry := range activityDoc.Entries {
		if i >= 10 {
			break
		}
		site := entry.Site
		if site == "" {
			site = "-"
		}
		fmt.Fprintf(out, "  %-15s %-20s %-12s %s (%s)\n",
			humanize.Time(entry.Timestamp), entry.Tool, site, entry.Summary, entry.ClientName)
	}

	fmt.Fprintln(out, "Deploy status:")
	if len(deployDoc) == 0 {
		fmt.Fprintln(out, "  (none)")
	}
	sites := make([]string, 0, len(deployDoc))
	for site := range deployDoc {
		sites = append(sites, site)
	}
	sort.Strings(sites)
	for _, site := range sites {
		rec := deployDoc[site]
		label := string(rec.Result)
		if rec.Operation != "" {
			label = rec.Operation + " " + label
		}
		line := fmt.Sprintf("  %s: %s %s", site, label, humanize.Time(rec.Timestamp))
		if rec.Protocol != "" {
			line += fmt.Sprintf(" via %s", rec.Protocol)
		}
		if rec.Path != "" {
			line += fmt.Sprintf(" (%s)", rec.Path)
		}
		if rec.DurationMS > 0 {
			line += fmt.Sprintf(", took %s", (time.Duration(rec.DurationMS) * time.Millisecond).Round(time.Millisecond))
		}
		fmt.Fprintln(out, line)
		if rec.Error != "" {
			fmt.Fprintf(out, "    error: %s\n", firstLineOf(rec.Error))
		}
	}
	return nil
}

func firstLineOf(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
