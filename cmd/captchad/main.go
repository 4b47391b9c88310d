// Command captchad serves behavioral CAPTCHA challenges over HTTP.
package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/facebookgo/flagenv"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/habuha/captcha"
	"github.com/habuha/captcha/internal"
	"github.com/habuha/captcha/lib"
	"github.com/habuha/captcha/lib/render"
	"github.com/habuha/captcha/lib/store"
	_ "github.com/habuha/captcha/lib/store/all"
)

var (
	bind                     = flag.String("bind", ":8923", "network address to bind HTTP to")
	configFname              = flag.String("config-fname", "", "full path to the captcha config file (defaults to built-in settings)")
	ed25519PrivateKeyHex     = flag.String("ed25519-private-key-hex", "", "private key used to sign pass tokens, if not set a random one will be assigned")
	ed25519PrivateKeyHexFile = flag.String("ed25519-private-key-hex-file", "", "file name containing value for ed25519-private-key-hex")
	healthcheck              = flag.Bool("healthcheck", false, "run a health check against captchad")
	hs512Secret              = flag.String("hs512-secret", "", "secret used to sign pass tokens, uses ed25519 if not set")
	metricsBind              = flag.String("metrics-bind", ":9090", "network address to bind metrics to")
	passTokenExpiration      = flag.Duration("pass-token-expiration", captcha.PassTokenValidity, "how long a minted pass token stays valid")
	slogLevel                = flag.String("slog-level", "INFO", "logging level (see https://pkg.go.dev/log/slog#hdr-Levels)")
	storeBackend             = flag.String("store-backend", "memory", fmt.Sprintf("which challenge store backend to use (one of: %s)", strings.Join(store.Methods(), ", ")))
	storeConfig              = flag.String("store-config", "{}", "JSON configuration for the challenge store backend")
	useRemoteAddress         = flag.Bool("use-remote-address", false, "read the client's IP address from the network request, useful for debugging and running captchad on bare metal")
	versionFlag              = flag.Bool("version", false, "print captchad version")
)

func keyFromHex(value string) (ed25519.PrivateKey, error) {
	keyBytes, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("supplied key is not hex-encoded: %w", err)
	}

	if len(keyBytes) != ed25519.SeedSize {
		return nil, fmt.Errorf("supplied key is not %d bytes long, got %d bytes", ed25519.SeedSize, len(keyBytes))
	}

	return ed25519.NewKeyFromSeed(keyBytes), nil
}

func doHealthCheck() error {
	resp, err := http.Get("http://localhost" + *metricsBind + "/healthz")
	if err != nil {
		return fmt.Errorf("failed to fetch healthz: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

func loadSigningKey() (ed25519.PrivateKey, error) {
	switch {
	case *hs512Secret != "" && (*ed25519PrivateKeyHex != "" || *ed25519PrivateKeyHexFile != ""):
		return nil, errors.New("do not specify both HS512 and ED25519 secrets")
	case *hs512Secret != "":
		return nil, nil
	case *ed25519PrivateKeyHex != "" && *ed25519PrivateKeyHexFile != "":
		return nil, errors.New("do not specify both ED25519_PRIVATE_KEY_HEX and ED25519_PRIVATE_KEY_HEX_FILE")
	case *ed25519PrivateKeyHex != "":
		return keyFromHex(*ed25519PrivateKeyHex)
	case *ed25519PrivateKeyHexFile != "":
		hexFile, err := os.ReadFile(*ed25519PrivateKeyHexFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read ED25519_PRIVATE_KEY_HEX_FILE %s: %w", *ed25519PrivateKeyHexFile, err)
		}
		return keyFromHex(string(bytes.TrimSpace(hexFile)))
	default:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
		}

		slog.Warn("generating random signing key, pass tokens will not survive restarts and will not validate across multiple instances")
		return priv, nil
	}
}

func buildStore(ctx context.Context) (store.Interface, error) {
	factory, ok := store.Get(*storeBackend)
	if !ok {
		return nil, fmt.Errorf("unknown store backend %q, must be one of: %s", *storeBackend, strings.Join(store.Methods(), ", "))
	}

	rawConfig := json.RawMessage(*storeConfig)
	if err := factory.Valid(rawConfig); err != nil {
		return nil, fmt.Errorf("invalid config for store backend %q: %w", *storeBackend, err)
	}

	return factory.Build(ctx, rawConfig)
}

func main() {
	flagenv.Parse()
	flag.Parse()

	if *versionFlag {
		fmt.Println("captchad", captcha.Version)
		return
	}

	internal.InitSlog(*slogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := lib.LoadConfigOrDefault(*configFname)
	if err != nil {
		log.Fatalf("can't load config: %v", err)
	}

	backend, err := buildStore(ctx)
	if err != nil {
		log.Fatalf("can't build challenge store: %v", err)
	}

	ed25519Priv, err := loadSigningKey()
	if err != nil {
		log.Fatalf("can't load signing key: %v", err)
	}

	s, err := lib.New(ctx, lib.Options{
		Store:               backend,
		Renderer:            render.Placeholder{},
		Config:              cfg,
		ED25519PrivateKey:   ed25519Priv,
		HS512Secret:         []byte(*hs512Secret),
		PassTokenExpiration: *passTokenExpiration,
	})
	if err != nil {
		log.Fatalf("can't construct challenge server: %v", err)
	}

	wg := new(sync.WaitGroup)
	if *metricsBind != "" {
		wg.Add(1)
		go metricsServer(ctx, wg.Done)
	}

	var h http.Handler = s
	h = internal.XForwardedForUpdate(*useRemoteAddress, h)

	srv := http.Server{Handler: h, ErrorLog: internal.GetFilteredHTTPLogger()}
	listener, err := net.Listen("tcp", *bind)
	if err != nil {
		log.Fatal(fmt.Errorf("failed to bind to %s: %w", *bind, err))
	}

	slog.Info(
		"listening",
		"bind", *bind,
		"store-backend", *storeBackend,
		"challenge-expiry", cfg.ChallengeExpiry,
		"pass-token-expiration", *passTokenExpiration,
		"use-remote-address", *useRemoteAddress,
		"version", captcha.Version,
	)

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	wg.Wait()
}

func metricsServer(ctx context.Context, done func()) {
	defer done()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", lib.Healthz)

	srv := http.Server{Handler: mux, ErrorLog: internal.GetFilteredHTTPLogger()}
	listener, err := net.Listen("tcp", *metricsBind)
	if err != nil {
		log.Fatal(fmt.Errorf("failed to bind metrics to %s: %w", *metricsBind, err))
	}
	slog.Debug("listening for metrics", "bind", *metricsBind)

	if *healthcheck {
		log.Println("running healthcheck")
		if err := doHealthCheck(); err != nil {
			log.Fatal(err)
		}
		return
	}

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
