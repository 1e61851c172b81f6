package routerd

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	ipfslog "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/omnihop/router/pkg/common"
	"github.com/omnihop/router/pkg/db"
	"github.com/omnihop/router/pkg/events"
	"github.com/omnihop/router/pkg/registry"
	"github.com/omnihop/router/pkg/router"
	"github.com/omnihop/router/pkg/types"
)

var (
	dataDir *string

	chainID *uint32
	env     *string

	listenAddr *string
	statusAddr *string

	adminAccount    *string
	endpointAccount *string
	custodyAccount  *string

	transportFee *uint64

	logLevel *string
)

func init() {
	dataDir = NodeCmd.Flags().String("dataDir", "", "Data directory")

	chainID = NodeCmd.Flags().Uint32("chainID", 30, "Chain identifier of the hub this node routes for")
	env = NodeCmd.Flags().String("env", "dev", "Environment (dev, test, prod)")

	listenAddr = NodeCmd.Flags().String("listenAddr", "[::]:7071", "Listen address for the HTTP API")
	statusAddr = NodeCmd.Flags().String("statusAddr", "[::]:6060", "Listen address for status server (disabled if blank)")

	adminAccount = NodeCmd.Flags().String("adminAccount", "", "Account allowed to register routes (32-byte hex)")
	endpointAccount = NodeCmd.Flags().String("endpointAccount", "", "Transport endpoint account messages are accepted from (32-byte hex)")
	custodyAccount = NodeCmd.Flags().String("custodyAccount", "", "Router custody account (32-byte hex)")

	transportFee = NodeCmd.Flags().Uint64("transportFee", 100, "Flat native fee charged by the devnet transport adapter")

	logLevel = NodeCmd.Flags().String("logLevel", "info", "Logging level (debug, info, warn, error, dpanic, panic, fatal)")
}

// NodeCmd represents the node command
var NodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run the routing node",
	Run:   runNode,
}

// routeConfig is one bootstrap route entry from the viper config file.
type routeConfig struct {
	SourceAsset      string `mapstructure:"sourceAsset"`
	Converter        string `mapstructure:"converter"`
	TransportAdapter string `mapstructure:"transportAdapter"`
}

func runNode(cmd *cobra.Command, args []string) {
	lvl, err := ipfslog.LevelFromString(*logLevel)
	if err != nil {
		fmt.Println("Invalid log level")
		os.Exit(1)
	}

	logger := ipfslog.Logger("routerd").Desugar()

	ipfslog.SetAllLoggers(lvl)

	// Status server
	if *statusAddr != "" {
		statusRouter := mux.NewRouter()

		statusRouter.Handle("/metrics", promhttp.Handler())
		statusRouter.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		})

		go func() {
			logger.Info("status server listening", zap.String("addr", *statusAddr))
			logger.Error("status server crashed", zap.Error(http.ListenAndServe(*statusAddr, statusRouter)))
		}()
	}

	// Verify flags

	environment, err := common.ParseEnvironment(*env)
	if err != nil {
		logger.Fatal("Invalid value for --env", zap.Error(err))
	}
	if environment != common.UnsafeDevNet {
		// Only the in-memory collaborator set is wired so far. Binding real
		// on-chain collaborators needs per-environment client configuration.
		logger.Fatal("only the dev environment is supported", zap.String("env", *env))
	}

	if *dataDir == "" {
		logger.Fatal("Please specify --dataDir")
	}

	admin, err := types.StringToAccount(*adminAccount)
	if err != nil {
		logger.Fatal("Invalid --adminAccount", zap.Error(err))
	}
	endpoint, err := types.StringToAccount(*endpointAccount)
	if err != nil {
		logger.Fatal("Invalid --endpointAccount", zap.Error(err))
	}
	custody, err := types.StringToAccount(*custodyAccount)
	if err != nil {
		logger.Fatal("Invalid --custodyAccount", zap.Error(err))
	}
	if admin.IsZero() || endpoint.IsZero() || custody.IsZero() {
		logger.Fatal("--adminAccount, --endpointAccount and --custodyAccount must all be non-zero")
	}

	// Node's main lifecycle context.
	rootCtx, rootCtxCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCtxCancel()

	database := db.OpenDb(logger, dataDir)
	defer database.Close()

	collaborators := buildDevnetCollaborators(logger, new(big.Int).SetUint64(*transportFee))
	reg := registry.New()

	rtr := router.New(logger, router.Config{
		ChainID:       types.ChainID(*chainID),
		Custody:       custody,
		Endpoint:      endpoint,
		Admin:         admin,
		WrappedNative: devnetWrappedNativeAddr,
		Payout:        collaborators.payout,
		Registry:      reg,
		DB:            database,
		Native:        collaborators.bank,
		Emitter:       events.NewLogEmitter(logger),
	})

	// Rebind persisted routes, then apply bootstrap routes from the config
	// file. Records naming collaborators this node does not know are skipped;
	// they belong to a differently provisioned deployment.
	bound := rebindPersistedRoutes(logger, database, reg, collaborators)
	bound += bootstrapConfigRoutes(logger, rtr, admin, collaborators)

	if bound == 0 {
		logger.Info("no routes configured, registering the devnet default route")
		conv, _ := collaborators.converter(devnetConverterAddr)
		adapter, _ := collaborators.adapter(devnetAdapterAddr)
		if err := rtr.RegisterRoute(admin, devnetSourceAssetAddr, conv, adapter); err != nil {
			logger.Fatal("failed to register devnet default route", zap.Error(err))
		}
	}

	// HTTP API
	api := newAPIServer(logger, rtr, collaborators, endpoint, environment)
	srv := &http.Server{
		Addr:    *listenAddr,
		Handler: api.handler(),
	}
	go func() {
		logger.Info("api server listening", zap.String("addr", *listenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server crashed", zap.Error(err))
			rootCtxCancel()
		}
	}()

	<-rootCtx.Done()
	logger.Info("root context cancelled, exiting...")
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("api server shutdown failed", zap.Error(err))
	}
}

// rebindPersistedRoutes reloads route records from the database and binds
// them straight into the registry. They were persisted by RegisterRoute, so
// they are already authorized and already on disk.
func rebindPersistedRoutes(logger *zap.Logger, database *db.Database, reg *registry.Registry, collaborators *collaboratorSet) int {
	records, err := database.LoadRoutes(logger)
	if err != nil {
		logger.Fatal("failed to load persisted routes", zap.Error(err))
	}

	bound := 0
	for _, rec := range records {
		conv, ok := collaborators.converter(rec.Converter)
		if !ok {
			logger.Warn("skipping persisted route with unknown converter",
				zap.String("converter", rec.Converter.Hex()))
			continue
		}
		adapter, ok := collaborators.adapter(rec.TransportAdapter)
		if !ok {
			logger.Warn("skipping persisted route with unknown transport adapter",
				zap.String("transportAdapter", rec.TransportAdapter.Hex()))
			continue
		}
		if err := reg.Register(rec.SourceAsset, conv, adapter); err != nil {
			logger.Error("failed to rebind persisted route",
				zap.String("sourceAsset", rec.SourceAsset.Hex()), zap.Error(err))
			continue
		}
		bound++
	}
	if bound > 0 {
		logger.Info("rebound persisted routes", zap.Int("count", bound))
	}
	return bound
}

// bootstrapConfigRoutes registers the routes listed under the `routes` key of
// the config file, going through RegisterRoute so they are persisted.
func bootstrapConfigRoutes(logger *zap.Logger, rtr *router.Router, admin types.Account, collaborators *collaboratorSet) int {
	var configured []routeConfig
	if err := viper.UnmarshalKey("routes", &configured); err != nil {
		logger.Fatal("failed to parse routes from config", zap.Error(err))
	}

	bound := 0
	for _, rc := range configured {
		conv, ok := collaborators.converter(ethCommon.HexToAddress(rc.Converter))
		if !ok {
			logger.Fatal("configured route names an unknown converter", zap.String("converter", rc.Converter))
		}
		adapter, ok := collaborators.adapter(ethCommon.HexToAddress(rc.TransportAdapter))
		if !ok {
			logger.Fatal("configured route names an unknown transport adapter", zap.String("transportAdapter", rc.TransportAdapter))
		}
		if err := rtr.RegisterRoute(admin, ethCommon.HexToAddress(rc.SourceAsset), conv, adapter); err != nil {
			logger.Fatal("failed to register configured route",
				zap.String("sourceAsset", rc.SourceAsset), zap.Error(err))
		}
		bound++
	}
	return bound
}
