package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/netlog/netlog"
	"github.com/vx-labs/netlog/netlog/stats"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	config := viper.New()
	config.SetEnvPrefix("NETLOG")
	config.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	config.AutomaticEnv()
	cmd := cobra.Command{
		Use:   "netlog",
		Short: "Serve the network log store over HTTP.",
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			config.BindPFlags(cmd.Flags())
			if path := config.GetString("config"); path != "" {
				config.SetConfigFile(path)
				if err := config.ReadInConfig(); err != nil {
					return err
				}
			}
			if config.IsSet("server-network-log-file") && !cmd.Flags().Changed("data-dir") {
				config.Set("data-dir", config.GetString("server-network-log-file"))
			}
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			logger := getLogger(config)
			defer logger.Sync()
			ctx = netlog.StoreLogger(ctx, logger)
			err := os.MkdirAll(config.GetString("data-dir"), 0700)
			if err != nil {
				netlog.L(ctx).Fatal("failed to create data directory", zap.Error(err))
			}
			if config.GetBool("pprof") {
				address := fmt.Sprintf("%s:%d", config.GetString("pprof-address"), config.GetInt("pprof-port"))
				go func() {
					mux := http.NewServeMux()
					mux.HandleFunc("/debug/pprof/", pprof.Index)
					mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
					mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
					mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
					mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
					panic(http.ListenAndServe(address, mux))
				}()
				netlog.L(ctx).Info("started pprof", zap.String("pprof_url", fmt.Sprintf("http://%s/", address)))
			}
			healthServer := health.NewServer()
			healthServer.SetServingStatus(netlog.HealthService, healthpb.HealthCheckResponse_NOT_SERVING)

			store, err := netlog.Open(ctx, netlog.StoreConfig{
				Datadir:               config.GetString("data-dir"),
				SegmentMaxRecordCount: config.GetUint64("segment-max-record-count"),
				IndexBackend:          config.GetString("index-backend"),
			})
			if err != nil {
				netlog.L(ctx).Fatal("failed to open store", zap.Error(err))
			}
			codec, err := netlog.NewZstdCodec()
			if err != nil {
				netlog.L(ctx).Fatal("failed to create codec", zap.Error(err))
			}
			server := netlog.NewServer(ctx, store, netlog.NewEncoder(codec), healthServer)
			for _, route := range server.Routes() {
				netlog.L(ctx).Debug("registered route", zap.String("http_route", route))
			}

			operations, ctx := errgroup.WithContext(ctx)
			operations.Go(func() error {
				return server.ListenAndServe(ctx, net.JoinHostPort(config.GetString("address"), fmt.Sprintf("%d", config.GetInt("port"))))
			})
			if port := config.GetInt("metrics-port"); port > 0 {
				operations.Go(func() error {
					return stats.ListenAndServe(ctx, port)
				})
			}
			if broker := config.GetString("mqtt-broker"); broker != "" {
				collector, err := netlog.MQTTCollector(store, netlog.CollectorConfig{
					Broker:         broker,
					Topic:          config.GetString("mqtt-topic"),
					Username:       config.GetString("mqtt-username"),
					Password:       config.GetString("mqtt-password"),
					ClientID:       config.GetString("mqtt-client-id"),
					TimestampField: config.GetString("mqtt-timestamp-field"),
				})
				if err != nil {
					netlog.L(ctx).Fatal("failed to create mqtt collector", zap.Error(err))
				}
				operations.Go(func() error {
					return collector.Run(ctx)
				})
			}
			healthServer.SetServingStatus(netlog.HealthService, healthpb.HealthCheckResponse_SERVING)

			sigc := make(chan os.Signal, 1)
			signal.Notify(sigc,
				syscall.SIGINT,
				syscall.SIGTERM,
				syscall.SIGQUIT)
			select {
			case <-sigc:
			case <-ctx.Done():
			}
			netlog.L(ctx).Info("netlog shutdown initiated")
			healthServer.Shutdown()
			cancel()
			err = operations.Wait()
			if err != nil {
				netlog.L(ctx).Error("asynchronous operation failed", zap.Error(err))
			} else {
				netlog.L(ctx).Debug("asynchronous operations stopped")
			}
			err = store.Close()
			if err != nil {
				netlog.L(ctx).Error("failed to close store", zap.Error(err))
			} else {
				netlog.L(ctx).Debug("store closed")
			}
			netlog.L(ctx).Info("netlog successfully stopped")
		},
	}
	cmd.Flags().StringP("config", "c", "", "Configuration file (TOML, YAML or JSON).")
	cmd.Flags().Bool("pprof", false, "Start pprof endpoint.")
	cmd.Flags().Int("pprof-port", 8080, "Profiling (pprof) port.")
	cmd.Flags().String("pprof-address", "127.0.0.1", "Profiling (pprof) address.")
	cmd.Flags().Bool("debug", false, "Use a fancy logger and increase logging level.")
	cmd.Flags().String("address", "0.0.0.0", "HTTP listening address.")
	cmd.Flags().IntP("port", "p", 3000, "HTTP listening port.")
	cmd.Flags().Int("metrics-port", 0, "Start Prometheus HTTP metrics server on this port.")
	cmd.Flags().StringP("data-dir", "d", "/tmp/netlog", "Network log persistent data location.")
	cmd.Flags().Uint64("segment-max-record-count", 10000, "Maximum entry count of a log segment. Must not change once the log is created.")
	cmd.Flags().String("index-backend", "memory", "Timestamp index backend: memory (rebuilt on start) or badger (persisted).")
	cmd.Flags().String("mqtt-broker", "", "Collect network log events from this MQTT broker (tcp://host:1883 or tls://host:8883).")
	cmd.Flags().String("mqtt-topic", "#", "MQTT topic filter to collect.")
	cmd.Flags().String("mqtt-username", "", "MQTT username.")
	cmd.Flags().String("mqtt-password", "", "MQTT password.")
	cmd.Flags().String("mqtt-client-id", "netlog", "MQTT client ID.")
	cmd.Flags().String("mqtt-timestamp-field", "timestamp", "JSON field holding the event timestamp in collected messages.")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
