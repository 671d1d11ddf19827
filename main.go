package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/HunanTV/redis-cerberus/proxy"
)

var (
	bindAddr           = flag.String("bind", ":8889", "address to accept clients on")
	startupNodes       = flag.String("startup-nodes", "", "comma separated host:port seed nodes of the cluster")
	connTimeout        = flag.Duration("conn-timeout", 1*time.Second, "backend connect timeout")
	slotReloadInterval = flag.Duration("slot-reload-interval", 100*time.Millisecond, "minimum pause between slot map reloads")
	fetchTimeout       = flag.Duration("fetch-timeout", 3*time.Second, "timeout for one CLUSTER NODES fetch")
	backendQueueDepth  = flag.Int("backend-queue-depth", 1024, "staged commands per backend before client reads pause")
	sessionQueueDepth  = flag.Int("session-queue-depth", 1024, "pending responses per client session")
	metricsAddr        = flag.String("metrics-addr", "", "address to serve prometheus metrics on, empty to disable")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	cfg, err := buildConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	p := proxy.NewProxy(cfg)
	if err := p.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "initial slot map fetch failed: %v\n", err)
		os.Exit(1)
	}

	ln, err := p.Listen(*bindAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bind %s: %v\n", *bindAddr, err)
		os.Exit(1)
	}
	glog.Infof("listening on %s, cluster seeds %v", *bindAddr, cfg.StartupNodes)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Serve(ln)
	})
	if *metricsAddr != "" {
		mln, err := net.Listen("tcp", *metricsAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bind metrics %s: %v\n", *metricsAddr, err)
			os.Exit(1)
		}
		g.Go(func() error {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			return http.Serve(mln, mux)
		})
		g.Go(func() error {
			<-ctx.Done()
			return mln.Close()
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})

	err = g.Wait()
	if ctx.Err() != nil {
		glog.Info("shutting down")
		return
	}
	if err != nil && !errors.Is(err, net.ErrClosed) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildConfig() (proxy.Config, error) {
	if *startupNodes == "" {
		return proxy.Config{}, errors.New("at least one startup node is required, see -startup-nodes")
	}
	var seeds []proxy.Address
	for _, s := range strings.Split(*startupNodes, ",") {
		addr, err := proxy.ParseAddress(strings.TrimSpace(s))
		if err != nil {
			return proxy.Config{}, fmt.Errorf("startup node %q: %w", s, err)
		}
		seeds = append(seeds, addr)
	}
	return proxy.Config{
		StartupNodes:       seeds,
		ConnTimeout:        *connTimeout,
		SlotReloadInterval: *slotReloadInterval,
		FetchTimeout:       *fetchTimeout,
		BackendQueueDepth:  *backendQueueDepth,
		SessionQueueDepth:  *sessionQueueDepth,
	}, nil
}
