package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/tendant/replace-files/pkg/replacefiles"
	"github.com/tendant/replace-files/pkg/replacefiles/api"
	"github.com/tendant/replace-files/pkg/replacefiles/config"
)

const usage = `Replace Files Admin CLI

Maintenance commands for attachment replacements. Uses the same
configuration as the server.

USAGE:
  admin <command> [options]

COMMANDS:
  pending <parent-id>          List replacements waiting under an attachment
  merge <replacement-id>       Merge a replacement into its original now
  reject <replacement-id>      Delete a replacement without merging it
  clone-meta                   Copy meta between attachments
  token                        Sign an admin token for the HTTP surface
  migrate                      Create the Postgres schema and tables

ENVIRONMENT VARIABLES:
  DATABASE_URL      PostgreSQL connection string, or "memory" (default)
  DB_SCHEMA         PostgreSQL schema name (default: replace_files)
  STORAGE_URL       memory://, file:///path or s3://bucket
  JWT_SECRET        Secret the server verifies admin tokens with

  Configuration can be loaded from a .env file in the current directory.
  Command line environment variables override .env file values.

EXAMPLES:
  admin pending 10
  admin pending 10 --json
  admin merge 11
  admin clone-meta --from=10 --to=12 --overwrite
  admin token --user-id=7 --name=Ada --caps=upload_files,approve_attachments --ttl=8h

OPTIONS:
  --json                       Output as JSON (pending)
  --from=<id> --to=<id>        Source and target (clone-meta)
  --overwrite                  Replace existing keys on the target (clone-meta)
  --user-id=<id>               Token subject (token)
  --name=<display name>        Display name shown as uploader (token)
  --caps=<a,b,...>             Capabilities (token)
  --ttl=<duration>             Token lifetime, 0 for none (token, default: 24h)
`

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}

	command := os.Args[1]
	if command == "help" || command == "--help" || command == "-h" {
		printUsage(os.Stdout)
		os.Exit(0)
	}

	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	args, flags := parseArgs(os.Args[2:])

	// token needs no storage
	if command == "token" {
		if err := handleToken(os.Stdout, cfg, flags); err != nil {
			log.Fatalf("Failed to sign token: %v", err)
		}
		return
	}

	if command == "migrate" {
		cfg.AutoMigrate = true
	}
	svc, err := cfg.BuildService(ctx)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}

	switch command {
	case "migrate":
		fmt.Printf("Schema %q is up to date\n", cfg.DBSchema)
	case "pending":
		err = handlePending(ctx, os.Stdout, svc, args, flags)
	case "merge":
		err = withID(args, func(id int64) error { return svc.MergeReplacement(ctx, id) })
	case "reject":
		err = withID(args, func(id int64) error { return svc.DeleteReplacement(ctx, id) })
	case "clone-meta":
		err = handleCloneMeta(ctx, svc, flags)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage(os.Stdout)
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", command, err)
	}
}

// printUsage writes the help text; usage already ends with a newline
func printUsage(out io.Writer) {
	fmt.Fprint(out, usage)
}

// parseArgs splits positional arguments from --key[=value] flags
func parseArgs(args []string) ([]string, map[string]string) {
	var positional []string
	flags := make(map[string]string)
	for _, arg := range args {
		key, value, ok := parseFlag(arg)
		if !ok {
			positional = append(positional, arg)
			continue
		}
		flags[key] = value
	}
	return positional, flags
}

func parseFlag(arg string) (string, string, bool) {
	if !strings.HasPrefix(arg, "--") || len(arg) <= 2 {
		return "", "", false
	}
	key, value, found := strings.Cut(arg[2:], "=")
	if !found {
		value = "true"
	}
	return key, value, true
}

func parseID(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected exactly one attachment id")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid attachment id %q", args[0])
	}
	return id, nil
}

func withID(args []string, fn func(id int64) error) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	if err := fn(id); err != nil {
		return err
	}
	fmt.Println("OK")
	return nil
}

func handlePending(ctx context.Context, out io.Writer, svc replacefiles.Service, args []string, flags map[string]string) error {
	parentID, err := parseID(args)
	if err != nil {
		return err
	}
	pending, err := svc.ListPendingReplacements(ctx, parentID)
	if err != nil {
		return err
	}

	if flags["json"] == "true" {
		data, _ := json.MarshalIndent(pending, "", "  ")
		fmt.Fprintln(out, string(data))
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tFILE\tSTATUS\tUPLOADED BY\tUPLOADED\n")
	for _, p := range pending {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			p.Attachment.ID,
			truncate(p.Attachment.FileName(), 30),
			p.Attachment.Status,
			p.Uploader,
			humanize.Time(p.Attachment.CreatedAt),
		)
	}
	w.Flush()

	fmt.Fprintf(out, "\nTotal: %d\n", len(pending))
	return nil
}

func handleCloneMeta(ctx context.Context, svc replacefiles.Service, flags map[string]string) error {
	from, err := strconv.ParseInt(flags["from"], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid --from: %q", flags["from"])
	}
	to, err := strconv.ParseInt(flags["to"], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid --to: %q", flags["to"])
	}
	if err := svc.CloneMeta(ctx, from, to, flags["overwrite"] == "true"); err != nil {
		return err
	}
	fmt.Printf("Copied meta from %d to %d\n", from, to)
	return nil
}

func handleToken(out io.Writer, cfg *config.ServerConfig, flags map[string]string) error {
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is not set")
	}
	userID, err := strconv.ParseInt(flags["user-id"], 10, 64)
	if err != nil || userID <= 0 {
		return fmt.Errorf("invalid --user-id: %q", flags["user-id"])
	}

	ttl := 24 * time.Hour
	if v, ok := flags["ttl"]; ok {
		if ttl, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid --ttl: %w", err)
		}
	}

	caller := replacefiles.Caller{UserID: userID, DisplayName: flags["name"]}
	if caps := flags["caps"]; caps != "" {
		for _, c := range strings.Split(caps, ",") {
			caller.Capabilities = append(caller.Capabilities, replacefiles.Capability(strings.TrimSpace(c)))
		}
	}

	token, err := api.EncodeCaller(api.NewJWTAuth(cfg.JWTSecret), caller, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
