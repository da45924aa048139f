package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/mevdschee/mxbackend/adminusers"
	"github.com/mevdschee/mxbackend/auth"
	"github.com/mevdschee/mxbackend/backend"
	"github.com/mevdschee/mxbackend/config"
	"github.com/mevdschee/mxbackend/metrics"
	"github.com/mevdschee/mxbackend/replica"
)

func main() {
	configPath := flag.String("config", "config.ini", "Path to configuration file")
	metricsAddr := flag.String("metrics", ":9090", "Metrics endpoint address")
	probeQuery := flag.String("probe-query", "SELECT 1", "Query issued once after the handshake completes, to exercise the reply tracker")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	users, err := adminusers.Load()
	if err != nil {
		log.Fatalf("Failed to load admin users: %v", err)
	}
	log.Printf("[Admin] loaded %d admin account(s) from %s", len(users), adminusers.PasswdPath())

	metrics.Init()
	go func() {
		http.Handle("/metrics", metrics.Handler())
		log.Printf("Metrics endpoint at http://localhost%s/metrics", *metricsAddr)
		log.Printf("Pprof endpoints at http://localhost%s/debug/pprof/", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	pool := replica.NewPool(cfg.Backend.Primary, cfg.Backend.Replicas)
	log.Printf("[Backend] primary: %s, %d replica(s)", pool.GetPrimary(), len(cfg.Backend.Replicas))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.StartHealthChecks(ctx, 10*time.Second)

	addr, name := pool.GetReplica()
	log.Printf("[Backend] dialing %s (%s)", addr, name)

	if err := probeBackend(ctx, cfg, pool, addr, *probeQuery); err != nil {
		log.Fatalf("[Backend] probe failed: %v", err)
	}
}

// probeBackend dials one backend, drives the handshake, issues a probe
// query, resets the session with COM_CHANGE_USER the way a connection
// pool hands a backend to its next logical owner, then issues the probe
// query again over the reset connection. It stands in for the router
// this module treats as an external collaborator (§1): a real
// deployment binds each Connection's upstream.Adapter to a session that
// came from the client-facing router instead of calling PumpReply
// directly.
func probeBackend(ctx context.Context, cfg *config.Config, mon *replica.Pool, addr, query string) error {
	opts := auth.Options{
		TLS:             tlsModeFor(cfg.Backend.TLSMode),
		SessionTrack:    true,
		MultiStatements: false,
	}
	creds := auth.Credentials{
		Username: cfg.Backend.User,
		Password: cfg.Backend.Password,
		Database: cfg.Backend.Database,
	}

	conn := backend.NewConnection(addr, creds, opts, mon, true)
	if err := conn.Dial(ctx, cfg.Backend.DialTimeout); err != nil {
		return err
	}
	defer conn.Close()

	if cfg.Backend.ProxyProtocol {
		header := auth.BuildProxyProtocolHeader(auth.ProxyTCP4, "0.0.0.0", "0.0.0.0", 0, 0)
		if err := conn.WriteProxyHeader(header); err != nil {
			return err
		}
	}

	start := time.Now()
	if err := conn.Handshake(ctx); err != nil {
		metrics.HandshakeTotal.WithLabelValues(addr, "failure").Inc()
		return err
	}
	metrics.HandshakeTotal.WithLabelValues(addr, "success").Inc()
	metrics.HandshakeLatency.WithLabelValues(addr).Observe(time.Since(start).Seconds())
	log.Printf("[Backend] handshake with %s complete", addr)

	if err := runProbeQuery(conn, addr, query); err != nil {
		return err
	}

	metrics.IdleSeconds.WithLabelValues(addr).Observe(conn.IdleSeconds(time.Now()))

	if err := conn.ChangeUser(creds); err != nil {
		metrics.PoolReuseTotal.WithLabelValues(addr, "failure").Inc()
		return err
	}
	metrics.PoolReuseTotal.WithLabelValues(addr, "success").Inc()
	log.Printf("[Backend] session on %s reset via COM_CHANGE_USER for reuse", addr)

	return runProbeQuery(conn, addr, query)
}

// runProbeQuery issues one COM_QUERY over conn and prints its tracked
// reply, recording a reply-tracker desync as a metric rather than just
// an error return since it is the one failure mode that means the
// connection itself, not just the query, is no longer usable.
func runProbeQuery(conn *backend.Connection, addr, query string) error {
	cmd := append([]byte{0x03}, []byte(query)...) // COM_QUERY
	if err := conn.Dispatch(cmd); err != nil {
		return err
	}

	r, err := conn.PumpReply()
	if err != nil {
		var pe *backend.ProtocolError
		if errors.As(err, &pe) && pe.Kind == backend.ProtocolDesync {
			metrics.ReplyDesyncTotal.WithLabelValues(addr).Inc()
		}
		return err
	}
	log.Printf("[Backend] reply from %s: rows=%d affected=%d error=%v", addr, r.RowCount, r.AffectedRows, r.Error)

	return nil
}

func tlsModeFor(mode string) auth.TLSMode {
	if mode == "required" || mode == "preferred" {
		return auth.TLSRequired
	}
	return auth.TLSDisabled
}
