package serverapi

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/chainscribe/chainscribe/apiframework"
	"github.com/chainscribe/chainscribe/chainengine"
	"github.com/chainscribe/chainscribe/chainexecservice"
	"github.com/chainscribe/chainscribe/chainservice"
	"github.com/chainscribe/chainscribe/internal/chainapi"
	"github.com/chainscribe/chainscribe/internal/templateapi"
	libbus "github.com/chainscribe/chainscribe/libbus"
	libdb "github.com/chainscribe/chainscribe/libdbexec"
	"github.com/chainscribe/chainscribe/libkvstore"
	"github.com/chainscribe/chainscribe/libroutine"
	"github.com/chainscribe/chainscribe/libtracker"
	"github.com/chainscribe/chainscribe/templateservice"
)

func New(
	ctx context.Context,
	mux *http.ServeMux,
	nodeInstanceID string,
	config *Config,
	dbInstance libdb.DBManager,
	pubsub libbus.Messenger,
	kvManager libkvstore.KVManager,
	backend chainengine.ExecutionBackend,
	catalog *chainengine.Catalog,
) (func() error, error) {
	cleanup := func() error { return nil }

	stdOuttracker := libtracker.NewLogActivityTracker(slog.Default())
	serveropsChainedTracker := libtracker.ChainedTracker{
		stdOuttracker,
	}
	if kvManager != nil {
		serveropsChainedTracker = append(serveropsChainedTracker, libtracker.NewKVActivityTracker(kvManager))
	}

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		_ = apiframework.Error(w, r, apiframework.ErrNotFound, apiframework.ListOperation)
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		// OK
	})

	chainService := chainservice.New(dbInstance, catalog)
	chainService = chainservice.WithActivityTracker(chainService, serveropsChainedTracker)

	templateService := templateservice.New(dbInstance, catalog)
	templateService = templateservice.WithActivityTracker(templateService, serveropsChainedTracker)

	execService := chainexecservice.New(dbInstance, catalog, templateService, backend, pubsub, serveropsChainedTracker)
	execService = chainexecservice.WithActivityTracker(execService, serveropsChainedTracker)

	chainapi.AddChainRoutes(mux, chainService, execService)
	templateapi.AddTemplateRoutes(mux, templateService, catalog)

	// Keep the backend health probe running behind a circuit breaker so a
	// dead backend trips fast instead of stacking timeouts.
	group := libroutine.GetGroup()
	group.StartLoop(
		ctx,
		&libroutine.LoopConfig{
			Key:          "backendProbe",
			Threshold:    3,
			ResetTimeout: 10 * time.Second,
			Interval:     30 * time.Second,
			Operation: func(ctx context.Context) error {
				probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				defer cancel()
				_, err := backend.DryRunChain(probeCtx, &chainengine.ExecRequest{
					Payload: &chainengine.ChainPayload{Name: "health-probe"},
				})
				return err
			},
		},
	)

	// Force an immediate probe whenever someone publishes a trigger.
	triggerCh := make(chan []byte, 10)
	sub, err := pubsub.Stream(ctx, "trigger_probe", triggerCh)
	if err != nil {
		log.Printf("%s failed to subscribe to trigger_probe topic: %v", nodeInstanceID, err)
		return cleanup, nil
	}
	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-triggerCh:
				if !ok {
					return
				}
				group.ForceUpdate("backendProbe")
			}
		}
	}()

	return cleanup, nil
}
