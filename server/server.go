package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/kfsoftware/drivenet/auth"
	"github.com/kfsoftware/drivenet/log"
	"github.com/kfsoftware/drivenet/registry"
	"github.com/kfsoftware/drivenet/server/metrics"
	"github.com/pkg/errors"
	"github.com/slok/go-http-metrics/metrics/prometheus"
	"github.com/slok/go-http-metrics/middleware"
	middlewarestd "github.com/slok/go-http-metrics/middleware/std"
)

const shutdownTimeout = 10 * time.Second

// httpMetrics registers its collectors on first use, so it is shared by every handler.
var httpMetrics = sync.OnceValue(func() middleware.Middleware {
	return middleware.New(middleware.Config{
		Recorder: prometheus.NewRecorder(prometheus.Config{}),
	})
})

type MetricsRegistry interface {
	IncLogin(success bool)
}

// Ledger is what the REST layer needs from the ledger proxy.
type Ledger interface {
	registry.Ledger
	EnsureIdentity(ctx context.Context, user string, secret string) (string, error)
	Ready(ctx context.Context) error
}

type DriveNetServerOpts struct {
	Address        string
	MetricsAddress string
	Ledger         Ledger
	Issuer         *auth.Issuer
	UIDir          string
	Metrics        MetricsRegistry
}

type DriveNetAPIServer struct {
	DriveNetServerOpts
	stopping atomic.Bool
}

type nopMetrics struct{}

func (nopMetrics) IncLogin(bool) {}

func NewServer(opts DriveNetServerOpts) *DriveNetAPIServer {
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	return &DriveNetAPIServer{
		DriveNetServerOpts: opts,
	}
}

// Run serves the API (and metrics, when an address is set) until ctx is done.
func (a *DriveNetAPIServer) Run(ctx context.Context) error {
	handler := a.Handler()
	servers := []*http.Server{{
		Addr:              a.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}}
	names := []string{"server"}
	if a.MetricsAddress != "" {
		metrics.Register()
		servers = append(servers, metrics.NewMetricsServer(a.MetricsAddress))
		names = append(names, "metrics")
	}

	errCh := make(chan error, len(servers))
	for i, srv := range servers {
		name, srv := names[i], srv
		go func() {
			log.Infof("%s listening on %s", name, srv.Addr)
			errCh <- a.checkServeErr(name, srv.ListenAndServe())
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	a.stopping.Store(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("failed to shut down %s: %v", names[i], err)
		}
	}
	return runErr
}

// Handler builds the full HTTP handler: API routes, static UI and middleware.
func (a *DriveNetAPIServer) Handler() http.Handler {
	router := mux.NewRouter()
	a.registerRoutes(router)
	if a.UIDir != "" {
		router.PathPrefix("/").Methods(http.MethodGet, http.MethodHead).Handler(newSPAHandler(a.UIDir))
	}

	var handler http.Handler = router
	handler = securityHeaders(handler)
	handler = cors(handler)
	handler = requestID(handler)

	return middlewarestd.Handler("", httpMetrics(), handler)
}

// checkServeErr checks the error from a .ListenAndServe() call to decide if it was a graceful shutdown
func (a *DriveNetAPIServer) checkServeErr(name string, err error) error {
	if err == nil || errors.Is(err, http.ErrServerClosed) || a.stopping.Load() {
		log.Infof("graceful shutdown %s", name)
		return nil
	}
	log.Errorf("%s: %v", name, err)
	return errors.Wrap(err, name)
}
