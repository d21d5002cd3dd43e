package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"text/tabwriter"
	"time"

	"sharelink/internal/client"
)

const usage = `usage: sharelink [-server URL] <command> [flags] [args]

commands:
  upload <file>            share a file
  info <token>             show file metadata
  get <token>              download a file
  ls <owner>               list an owner's files
  rm <token>               delete a file
  update <token>           change password, expiry or download limit
  transfer <from> <to>     move all files of one owner to another
  stats                    show server statistics
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	global := flag.NewFlagSet("sharelink", flag.ContinueOnError)
	server := global.String("server", envOr("SHARELINK_SERVER", "http://localhost:8080"), "server base URL")
	global.Usage = func() { fmt.Fprint(global.Output(), usage) }
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errors.New("no command given")
	}

	c := client.New(*server, nil)
	cmd, rest := global.Arg(0), global.Args()[1:]

	switch cmd {
	case "upload":
		return runUpload(ctx, c, rest, out)
	case "info":
		return runInfo(ctx, c, rest, out)
	case "get":
		return runGet(ctx, c, rest, out)
	case "ls":
		return runList(ctx, c, rest, out)
	case "rm":
		return runDelete(ctx, c, rest, out)
	case "update":
		return runUpdate(ctx, c, rest, out)
	case "transfer":
		return runTransfer(ctx, c, rest, out)
	case "stats":
		return runStats(ctx, c, out)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runUpload(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	password := fs.String("password", "", "require this password to download")
	ttlDays := fs.String("ttl-days", "", "expire after this many days")
	ttlHours := fs.String("ttl-hours", "", "expire after this many hours")
	maxDownloads := fs.String("max-downloads", "", "allow at most this many downloads")
	owner := fs.String("owner", "", "owner id to list the file under")
	if err := fs.Parse(args); err != nil {
		return err
	}

	src, err := client.ParseUploadArgs(fs.Args())
	if err != nil {
		return err
	}
	opts := client.UploadOptions{Password: *password, OwnerID: *owner}
	if opts.TTLDays, err = client.ParseOptionalInt("ttl-days", *ttlDays); err != nil {
		return err
	}
	if opts.TTLHours, err = client.ParseOptionalInt("ttl-hours", *ttlHours); err != nil {
		return err
	}
	if opts.MaxDownloads, err = client.ParseOptionalInt("max-downloads", *maxDownloads); err != nil {
		return err
	}

	f, err := os.Open(src.FullPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src.FullPath, err)
	}
	defer f.Close()

	res, err := c.Upload(ctx, src.Name, f, opts)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "✓ Uploaded %s (%d bytes)\n", res.Filename, res.Size)
	fmt.Fprintf(out, "  token:    %s\n", res.Token)
	fmt.Fprintf(out, "  link:     %s\n", res.DownloadURL)
	if res.ExpiresAt != nil {
		fmt.Fprintf(out, "  expires:  %s\n", res.ExpiresAt.Local().Format(time.RFC1123))
	}
	if res.MaxDownloads != nil {
		fmt.Fprintf(out, "  limit:    %d downloads\n", *res.MaxDownloads)
	}
	if res.RequiresPassword {
		fmt.Fprintln(out, "  password: required")
	}
	return nil
}

func runInfo(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	token, err := oneArg("info", "<token>", args)
	if err != nil {
		return err
	}
	info, err := c.Info(ctx, token)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s (%d bytes)\n", info.Filename, info.Size)
	fmt.Fprintf(out, "  created:   %s\n", info.CreatedAt.Local().Format(time.RFC1123))
	fmt.Fprintf(out, "  expires:   %s\n", formatExpiry(info.ExpiresAt))
	fmt.Fprintf(out, "  downloads: %s\n", formatDownloads(info.DownloadsCount, info.MaxDownloads))
	fmt.Fprintf(out, "  password:  %t\n", info.RequiresPassword)
	fmt.Fprintf(out, "  status:    %s\n", status(info))
	if info.OwnerID != "" {
		fmt.Fprintf(out, "  owner:     %s\n", info.OwnerID)
	}
	return nil
}

func runGet(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	password := fs.String("password", "", "file password")
	dest := fs.String("o", "", "output path (default: the shared file name in the current directory)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	token, err := oneArg("get", "<token>", fs.Args())
	if err != nil {
		return err
	}

	d, err := c.Download(ctx, token, *password)
	if err != nil {
		return err
	}
	defer d.Body.Close()

	path := *dest
	if path == "" {
		path = filepath.Base(d.Filename)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	n, err := io.Copy(f, d.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	fmt.Fprintf(out, "✓ Saved %s (%d bytes, download #%d)\n", path, n, d.DownloadsCount)
	return nil
}

func runList(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	owner, err := oneArg("ls", "<owner>", args)
	if err != nil {
		return err
	}
	files, err := c.ListByOwner(ctx, owner)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(out, "no files")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOKEN\tNAME\tSIZE\tDOWNLOADS\tEXPIRES\tSTATUS")
	for _, f := range files {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			f.Token, f.Filename, f.Size,
			formatDownloads(f.DownloadsCount, f.MaxDownloads),
			formatExpiry(f.ExpiresAt), status(&f))
	}
	return w.Flush()
}

func runDelete(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("rm", flag.ContinueOnError)
	owner := fs.String("owner", "", "owner id the file must belong to")
	if err := fs.Parse(args); err != nil {
		return err
	}
	token, err := oneArg("rm", "<token>", fs.Args())
	if err != nil {
		return err
	}

	if err := c.Delete(ctx, token, *owner); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Deleted %s\n", token)
	return nil
}

func runUpdate(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	owner := fs.String("owner", "", "owner id the file must belong to")
	password := fs.String("password", "", "set a new password")
	removePassword := fs.Bool("remove-password", false, "remove the password")
	ttlDays := fs.String("ttl-days", "", "expire this many days from now")
	ttlHours := fs.String("ttl-hours", "", "expire this many hours from now")
	removeExpiry := fs.Bool("no-expiry", false, "never expire")
	maxDownloads := fs.String("max-downloads", "", "set the download limit")
	unlimited := fs.Bool("unlimited", false, "remove the download limit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	token, err := oneArg("update", "<token>", fs.Args())
	if err != nil {
		return err
	}

	update := client.PolicyUpdate{
		Password:          *password,
		RemovePassword:    *removePassword,
		RemoveExpiry:      *removeExpiry,
		UnlimitedDownload: *unlimited,
	}
	if update.TTLDays, err = client.ParseOptionalInt("ttl-days", *ttlDays); err != nil {
		return err
	}
	if update.TTLHours, err = client.ParseOptionalInt("ttl-hours", *ttlHours); err != nil {
		return err
	}
	if update.MaxDownloads, err = client.ParseOptionalInt("max-downloads", *maxDownloads); err != nil {
		return err
	}

	info, err := c.UpdatePolicy(ctx, token, *owner, update)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Updated %s: expires %s, downloads %s, password %t\n",
		info.Token, formatExpiry(info.ExpiresAt),
		formatDownloads(info.DownloadsCount, info.MaxDownloads), info.RequiresPassword)
	return nil
}

func runTransfer(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	if len(args) != 2 {
		return &client.ValidationError{Arg: "<from> <to>", Cause: "transfer needs exactly two owner ids"}
	}
	n, err := c.TransferOwner(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Moved %d file(s) from %s to %s\n", n, args[0], args[1])
	return nil
}

func runStats(ctx context.Context, c *client.Client, out io.Writer) error {
	stats, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "files:     %d (%d active)\n", stats.TotalFiles, stats.ActiveFiles)
	fmt.Fprintf(out, "downloads: %d\n", stats.TotalDownloads)
	fmt.Fprintf(out, "storage:   %s\n", stats.StorageUsedHuman)
	return nil
}

func oneArg(cmd, name string, args []string) (string, error) {
	if len(args) != 1 {
		return "", &client.ValidationError{Arg: name, Cause: cmd + " needs exactly one argument"}
	}
	return args[0], nil
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(time.RFC1123)
}

func formatDownloads(count int, max *int) string {
	if max == nil {
		return fmt.Sprintf("%d", count)
	}
	return fmt.Sprintf("%d/%d", count, *max)
}

func status(info *client.FileInfo) string {
	switch {
	case info.IsExpired:
		return "expired"
	case info.LimitReached:
		return "used up"
	default:
		return "active"
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
