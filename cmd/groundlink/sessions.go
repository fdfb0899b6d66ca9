package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/groundlink/internal/catalog"
	"github.com/banshee-data/groundlink/internal/fsutil"
	"github.com/banshee-data/groundlink/internal/session"
)

func handleSessions(args []string) {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	catalogPath := fs.String("catalog", catalog.DefaultPath, "Session catalog database")
	dir := fs.String("sessions", session.DefaultRoot, "Sessions directory, used when the catalog does not exist")
	limit := fs.Int("limit", 20, "Maximum sessions to list (0 for all)")
	asJSON := fs.Bool("json", false, "Print JSON instead of a table")
	fs.Parse(args)

	var err error
	if (fsutil.OSFileSystem{}).Exists(*catalogPath) {
		err = listCatalogSessions(os.Stdout, *catalogPath, *limit, *asJSON)
	} else {
		err = listDirSessions(os.Stdout, *dir, *limit, *asJSON)
	}
	if err != nil {
		log.Fatalf("sessions: %v", err)
	}
}

func listCatalogSessions(w io.Writer, path string, limit int, asJSON bool) error {
	cat, err := catalog.Open(path)
	if err != nil {
		return err
	}
	defer cat.Close()

	entries, err := cat.ListSessions(limit)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTART\tDURATION\tPARAMS\tTHROTTLE MEAN\tLOOP HZ")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.3f\t%.1f\n",
			e.Name, e.Start.Local().Format(time.DateTime), e.End.Sub(e.Start).Round(time.Second),
			e.TotalParameters, e.ThrottleMean, e.LoopFrequencyMean)
	}
	return tw.Flush()
}

// listDirSessions falls back to the session directories themselves.
func listDirSessions(w io.Writer, root string, limit int, asJSON bool) error {
	rec := session.NewRecorder(session.Config{Root: root})
	names, err := rec.Sessions()
	if err != nil {
		return err
	}
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}

	var infos []*session.Info
	for _, name := range names {
		info, err := rec.ReadInfo(name)
		if err != nil {
			// still recording, or stopped uncleanly
			info = &session.Info{Name: name}
		}
		infos = append(infos, info)
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTART\tDURATION\tPARAMS")
	for _, info := range infos {
		if info.Start.IsZero() {
			fmt.Fprintf(tw, "%s\t-\t-\t-\n", info.Name)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n",
			info.Name, info.Start.Local().Format(time.DateTime), info.Duration().Round(time.Second), info.TotalParameters)
	}
	return tw.Flush()
}

func handleMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	catalogPath := fs.String("catalog", catalog.DefaultPath, "Session catalog database")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: groundlink migrate [-catalog path] [up|down|version]")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	action := "version"
	if fs.NArg() > 0 {
		action = fs.Arg(0)
	}
	if err := runMigrate(os.Stdout, *catalogPath, action); err != nil {
		log.Fatalf("migrate: %v", err)
	}
}

// runMigrate applies action to the catalog and prints the resulting schema
// version.
func runMigrate(w io.Writer, path, action string) error {
	switch action {
	case "up", "down", "version":
	default:
		return fmt.Errorf("unknown action %q (want up, down or version)", action)
	}

	cat, err := catalog.OpenUnmigrated(path)
	if err != nil {
		return err
	}
	defer cat.Close()

	switch action {
	case "up":
		if err := cat.MigrateUp(); err != nil {
			return err
		}
	case "down":
		if err := cat.MigrateDown(); err != nil {
			return err
		}
	}

	v, dirty, err := cat.SchemaVersion()
	if err != nil {
		return err
	}
	if dirty {
		fmt.Fprintf(w, "schema version %d (dirty)\n", v)
	} else {
		fmt.Fprintf(w, "schema version %d\n", v)
	}
	return nil
}
