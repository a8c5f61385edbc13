package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"vestvault/cmd/internal/passphrase"
	"vestvault/core/state"
	"vestvault/crypto"
	"vestvault/services/custodyd/config"
	"vestvault/services/custodyd/recon"
	journalstore "vestvault/services/custodyd/storage"
	"vestvault/storage"
)

const (
	defaultPassEnv  = "VESTVAULT_KEY_PASS"
	defaultKeystore = "operator.keystore"
	defaultServer   = "http://127.0.0.1:7080"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case "keygen":
		err = runKeygen(os.Args[2:], os.Stdout)
	case "address":
		err = runAddress(os.Args[2:], os.Stdout)
	case "call":
		err = runCall(os.Args[2:], os.Stdout)
	case "get":
		err = runGet(os.Args[2:], os.Stdout)
	case "recon":
		err = runRecon(os.Args[2:], os.Stdout)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "custodyctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: custodyctl <command> [flags]

commands:
  keygen   generate an operator key and write it to an encrypted keystore
  address  print the identity stored in a keystore
  call     send a signed request to custodyd
  get      send an unsigned read request to custodyd
  recon    reconcile a stopped daemon's state and write reports`)
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	keystorePath := fs.String("keystore", defaultKeystore, "output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "environment variable containing the keystore passphrase")
	force := fs.Bool("force", false, "overwrite an existing keystore file")
	fs.Parse(args)

	pass, err := passphrase.NewSource(*passEnv, "operator keystore").WithConfirmation().Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*keystorePath, key, pass, *force); err != nil {
		if errors.Is(err, crypto.ErrKeystoreExists) {
			return fmt.Errorf("%s already exists; pass -force to overwrite", *keystorePath)
		}
		return err
	}
	fmt.Fprintf(out, "wrote %s\naddress %s\n", *keystorePath, key.PubKey().Address().String())
	return nil
}

func loadKey(path, passEnv string) (*crypto.PrivateKey, error) {
	pass, err := passphrase.NewSource(passEnv, "operator keystore").Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(path, pass)
}

func runAddress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	keystorePath := fs.String("keystore", defaultKeystore, "keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "environment variable containing the keystore passphrase")
	fs.Parse(args)

	key, err := loadKey(*keystorePath, *passEnv)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, key.PubKey().Address().String())
	return nil
}

func runCall(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	keystorePath := fs.String("keystore", defaultKeystore, "keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "environment variable containing the keystore passphrase")
	server := fs.String("server", defaultServer, "custodyd base URL")
	method := fs.String("method", http.MethodPost, "HTTP method")
	path := fs.String("path", "", "request path, for example /v1/vaults")
	data := fs.String("data", "", "JSON request body")
	fs.Parse(args)

	if strings.TrimSpace(*path) == "" {
		return errors.New("-path is required")
	}
	key, err := loadKey(*keystorePath, *passEnv)
	if err != nil {
		return err
	}
	req, err := newSignedRequest(key, strings.ToUpper(*method), *server, *path, []byte(*data), time.Now())
	if err != nil {
		return err
	}
	return send(req, out)
}

func runGet(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	server := fs.String("server", defaultServer, "custodyd base URL")
	path := fs.String("path", "/healthz", "request path")
	fs.Parse(args)

	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(*server, "/")+*path, nil)
	if err != nil {
		return err
	}
	return send(req, out)
}

func runRecon(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("recon", flag.ExitOnError)
	cfgPath := fs.String("config", "services/custodyd/config.yaml", "custodyd configuration file")
	outputDir := fs.String("out", "", "report directory; defaults to recon.output_dir")
	fs.Parse(args)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	var db storage.Database
	switch strings.ToLower(cfg.State.Backend) {
	case "leveldb":
		db, err = storage.NewLevelDB(cfg.State.Path)
	case "bolt":
		db, err = storage.NewBoltDB(cfg.State.Path, nil)
	default:
		return fmt.Errorf("recon needs a persistent state backend, got %q", cfg.State.Backend)
	}
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer db.Close()

	journal, err := journalstore.Open(cfg.Journal.DSN)
	if err != nil {
		return err
	}
	defer journal.Close()

	dir := cfg.Recon.OutputDir
	if *outputDir != "" {
		dir = *outputDir
	}
	reconciler, err := recon.NewReconciler(recon.Config{
		State:     state.NewManager(db),
		Purchases: journal,
		OutputDir: dir,
	})
	if err != nil {
		return err
	}
	result, err := reconciler.Run(context.Background())
	if err != nil {
		return err
	}
	printRecon(out, result)
	return nil
}
