// Command docproof is the operator CLI: it hashes files, checks hash strings,
// builds and reads QR payloads, and moves record snapshots in and out of the
// configured store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"

	"docproof/internal/document/hashing"
	"docproof/internal/document/store"
	"docproof/internal/events"
	"docproof/internal/platform/config"
	"docproof/internal/platform/kafka"
	"docproof/internal/platform/kafka/producer"
	"docproof/internal/qr"
)

// errInvalid signals a completed check with a negative answer (exit status 1
// without an error message).
var errInvalid = errors.New("invalid")

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, args []string, stdout io.Writer) error
}

func commands() []command {
	return []command{
		{"hash", "hash FILE...            print the 0x-prefixed Keccak-256 of each file", runHash},
		{"validate", "validate HASH           check that HASH is 64 hex digits", runValidate},
		{"qr-encode", "qr-encode -hash H [-meta k=v]...  print a QR verification payload", runQREncode},
		{"qr-decode", "qr-decode PAYLOAD|-     decode a QR payload", runQRDecode},
		{"import", "import [-config F] SNAPSHOT   load a snapshot into the configured store", runImport},
		{"export", "export [-config F] [-o FILE]  write the configured store as a snapshot", runExport},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(dispatch(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func dispatch(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}
	for _, c := range commands() {
		if c.name != args[0] {
			continue
		}
		err := c.run(ctx, args[1:], stdout)
		switch {
		case err == nil:
			return 0
		case errors.Is(err, errInvalid):
			return 1
		case errors.Is(err, flag.ErrHelp):
			return 2
		default:
			fmt.Fprintf(stderr, "docproof %s: %v\n", c.name, err)
			return 1
		}
	}
	fmt.Fprintf(stderr, "docproof: unknown command %q\n", args[0])
	printUsage(stderr)
	return 2
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: docproof <command> [arguments]")
	fmt.Fprintln(w)
	for _, c := range commands() {
		fmt.Fprintf(w, "  %s\n", c.usage)
	}
}

func runHash(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New("at least one file is required")
	}
	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		digest, err := hashing.DigestReader(ctx, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintf(stdout, "%s  %s\n", digest, path)
	}
	return nil
}

func runValidate(_ context.Context, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("exactly one hash is required")
	}
	v := hashing.Validate(args[0])
	if err := writeJSON(stdout, v); err != nil {
		return err
	}
	if !v.IsValid {
		return errInvalid
	}
	return nil
}

// metaFlags collects repeated -meta key=value pairs.
type metaFlags map[string]any

func (m metaFlags) String() string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

func (m metaFlags) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("metadata must be key=value, got %q", s)
	}
	m[strings.TrimSpace(k)] = v
	return nil
}

func runQREncode(_ context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("qr-encode", flag.ContinueOnError)
	hash := fs.String("hash", "", "document hash (with or without 0x)")
	meta := metaFlags{}
	fs.Var(meta, "meta", "metadata key=value, repeatable")
	if err := fs.Parse(args); err != nil {
		return err
	}

	v := hashing.Validate(*hash)
	if err := v.Err(); err != nil {
		return err
	}
	payload, err := qr.New().Encode(hashing.Prefixed(v.Normalized), meta)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, payload)
	return nil
}

func runQRDecode(_ context.Context, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("a payload or - for stdin is required")
	}
	payload := args[0]
	if payload == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		payload = string(data)
	}
	env, err := qr.New().Decode(payload)
	if err != nil {
		return err
	}
	v := hashing.Validate(env.Hash)
	if err := writeJSON(stdout, struct {
		Envelope   *qr.Envelope       `json:"envelope"`
		Validation hashing.Validation `json:"validation"`
	}{env, v}); err != nil {
		return err
	}
	if !v.IsValid {
		return errInvalid
	}
	return nil
}

func runImport(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file naming the target store")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("exactly one snapshot file is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	records, closeFn, err := store.Open(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer closeFn()

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := store.LoadSnapshot(ctx, records, f)
	if err != nil {
		return fmt.Errorf("imported %d records before failing: %w", n, err)
	}
	fmt.Fprintf(stdout, "imported %d records\n", n)

	// Servers sharing the store only hear about the import over Kafka; the
	// in-process bus has no listeners outside this command.
	if n == 0 || cfg.Events.Backend != "kafka" {
		return nil
	}
	pub, closePub, err := announcer(cfg.Events)
	if err != nil {
		return fmt.Errorf("notify running servers: %w", err)
	}
	defer closePub()
	if err := pub.PublishStorageChanged(ctx); err != nil {
		return fmt.Errorf("notify running servers: %w", err)
	}
	return nil
}

// announcer builds the publisher that reaches running servers.
var announcer = func(cfg config.EventsConfig) (events.Publisher, func(), error) {
	client, err := kafka.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return events.NewKafkaPublisher(producer.New(client), cfg.Topic), client.Close, nil
}

func runExport(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file naming the source store")
	out := fs.String("o", "", "output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	records, closeFn, err := openStore(ctx, *configPath)
	if err != nil {
		return err
	}
	defer closeFn()

	w := stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return store.WriteSnapshot(ctx, records, w)
}

func openStore(ctx context.Context, configPath string) (store.Backend, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	return store.Open(ctx, cfg, nil)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
