package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/driftline/netsync"
	"github.com/driftline/netsync/net"
	"github.com/driftline/netsync/snapstore"
	"github.com/driftline/netsync/statsd"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if err := run(logger); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func run(logger zerolog.Logger) error {
	cfg := netsync.GetConfig()

	if cfg.StatsdAddress != "" {
		if err := statsd.Init(cfg.StatsdAddress, nil); err != nil {
			return eris.Wrap(err, "initializing statsd")
		}
	}

	engine, err := netsync.NewServerEngine(logger, cfg)
	if err != nil {
		return eris.Wrap(err, "building engine")
	}
	if err := engine.RegisterSystems(
		netsync.IntegrateSystem,
		netsync.ShapeSyncSystem,
	); err != nil {
		return err
	}

	store := snapstore.New(logger, cfg.RedisAddress, cfg.RedisPassword)
	defer store.Close()
	if err := restore(engine, store); err != nil {
		return err
	}

	tlsConf, err := loadTLS(cfg)
	if err != nil {
		return err
	}
	listener, err := net.ListenQUIC(logger, cfg.ListenAddress, tlsConf, engine.Server().Network())
	if err != nil {
		return err
	}
	defer listener.Close()

	// Browser clients cannot speak QUIC datagrams, so a websocket endpoint
	// serves the same network over a single reliable channel.
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           net.WebSocketHandler(logger, engine.Server().Network()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("websocket listener failed")
		}
	}()
	defer httpSrv.Close()

	logger.Info().
		Str("quic", listener.Addr()).
		Str("websocket", cfg.HTTPAddress).
		Int("tick_rate", cfg.TickRate).
		Msg("serving")

	stop := make(chan struct{})
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		close(stop)
	}()

	if err := engine.Run(stop); err != nil {
		return err
	}
	return persist(engine, store)
}

func restore(engine *netsync.Engine, store *snapstore.Store) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := store.Load(ctx)
	if eris.Is(err, snapstore.ErrNoSnapshot) {
		return nil
	}
	if err != nil {
		return eris.Wrap(err, "restoring session")
	}
	if err := engine.Replica().ApplyFullSnapshot(snap.Payload); err != nil {
		return eris.Wrap(err, "applying persisted snapshot")
	}
	engine.SetTick(snap.Tick)
	return nil
}

func persist(engine *netsync.Engine, store *snapstore.Store) error {
	payload, err := engine.Replica().CreateFullSnapshot()
	if err != nil {
		return eris.Wrap(err, "building shutdown snapshot")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return store.Save(ctx, snapstore.Snapshot{
		Tick:    engine.Tick(),
		StateID: engine.Replica().StateID(),
		Payload: payload,
	})
}

func loadTLS(cfg netsync.Config) (*tls.Config, error) {
	if cfg.TLSCertPath != "" || cfg.TLSKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertPath, cfg.TLSKeyPath)
		if err != nil {
			return nil, eris.Wrap(err, "loading tls keypair")
		}
		return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS13}, nil
	}
	return selfSignedTLS()
}

// selfSignedTLS generates an ephemeral certificate for development runs
// where no keypair is configured. Clients must skip verification.
func selfSignedTLS() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, eris.Wrap(err, "generating tls key")
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "netsyncd"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, eris.Wrap(err, "creating tls certificate")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		MinVersion:   tls.VersionTLS13,
	}, nil
}
