package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/netlog/netlog"
	"go.uber.org/zap"
)

const infoTemplate = `{{ "Entries:" | bold }} {{ .Count | humanCount }}
{{- if .MinTimestamp }}
{{ "Oldest:" | bold }}  {{ .MinTimestamp | parseDate | yellow }} ({{ .MinTimestamp | timeToDuration }})
{{ "Newest:" | bold }}  {{ .MaxTimestamp | parseDate | yellow }} ({{ .MaxTimestamp | timeToDuration }})
{{- end }}
{{ "Segments:" | bold }} {{ .SegmentCount }}
{{ "Size:" | bold }}     {{ .StoredBytes | humanBytes }}`

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "netlogctl")
}

func getLogger(config *viper.Viper) *zap.Logger {
	var logger *zap.Logger
	var err error
	if config.GetBool("debug") {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}

func mustClient(config *viper.Viper) (*client, *zap.Logger) {
	l := getLogger(config).With(zap.String("remote_host", config.GetString("host")))
	return newClient(config), l
}

func main() {
	config := viper.New()
	config.AddConfigPath(configDir())
	config.SetConfigType("yaml")
	config.SetConfigName("config")
	config.SetEnvPrefix("NETLOGCTL")
	config.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	config.AutomaticEnv()

	ctx := context.Background()
	rootCmd := &cobra.Command{
		Use: "netlogctl",
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			config.BindPFlags(cmd.Flags())
			config.BindPFlags(cmd.PersistentFlags())
			if err := config.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					log.Fatal(err)
				}
			}
		},
	}

	get := &cobra.Command{
		Use:  "get <timestamp>",
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			c, l := mustClient(config)
			mode, err := netlog.ParseTime(args[0])
			if err != nil || mode.Kind != netlog.ModeSingle {
				l.Fatal("invalid timestamp", zap.String("timestamp", args[0]))
			}
			entry, err := c.Get(ctx, mode.From)
			if err != nil {
				l.Fatal("failed to get entry", zap.Error(err))
			}
			if !config.GetBool("raw") {
				fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", entry.Timestamp, entry.Text())
				return
			}
			payload, err := entry.Bytes()
			if err != nil {
				l.Fatal("failed to decode payload", zap.Error(err))
			}
			cmd.OutOrStdout().Write(payload)
		},
	}
	get.Flags().Bool("raw", false, "Write the payload bytes only.")
	rootCmd.AddCommand(get)

	rangeCmd := &cobra.Command{
		Use:  "range <from>..<to>",
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			c, l := mustClient(config)
			mode, err := netlog.ParseTime(args[0])
			if err != nil || mode.Kind != netlog.ModeRange {
				l.Fatal("invalid range", zap.String("range", args[0]))
			}
			body, err := c.Range(ctx, mode.From, mode.To, !config.GetBool("uncompressed"))
			if err != nil {
				l.Fatal("failed to get entries", zap.Error(err))
			}
			if !config.GetBool("table") {
				cmd.OutOrStdout().Write(body)
				return
			}
			entries, err := parseLines(body)
			if err != nil {
				l.Fatal("failed to decode entries", zap.Error(err))
			}
			table := getTable([]string{"Timestamp", "Date", "Payload"}, cmd.OutOrStdout())
			for _, entry := range entries {
				table.Append([]string{
					fmt.Sprintf("%d", entry.Timestamp),
					formatDate(entry.Timestamp),
					entry.Text(),
				})
			}
			table.Render()
		},
	}
	rangeCmd.Flags().Bool("uncompressed", false, "Ask the server for a plain text result.")
	rangeCmd.Flags().BoolP("table", "t", false, "Render entries as a table.")
	rootCmd.AddCommand(rangeCmd)

	info := &cobra.Command{
		Use:  "info",
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			c, l := mustClient(config)
			metadata, err := c.Info(ctx)
			if err != nil {
				l.Fatal("failed to get store information", zap.Error(err))
			}
			tpl := ParseTemplate(infoTemplate)
			if err := tpl.Execute(cmd.OutOrStdout(), metadata); err != nil {
				l.Fatal("failed to render store information", zap.Error(err))
			}
		},
	}
	rootCmd.AddCommand(info)

	put := &cobra.Command{
		Use:   "put [payload]",
		Short: "Append an entry. The payload is read from stdin when not provided.",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			c, l := mustClient(config)
			var payload []byte
			var err error
			if len(args) == 1 {
				payload = []byte(args[0])
			} else {
				payload, err = ioutil.ReadAll(cmd.InOrStdin())
				if err != nil {
					l.Fatal("failed to read payload", zap.Error(err))
				}
			}
			var ts *uint64
			if cmd.Flags().Changed("time") {
				v := config.GetUint64("time")
				ts = &v
			}
			entry, err := c.Put(ctx, ts, payload)
			if err != nil {
				l.Fatal("failed to put entry", zap.Error(err))
			}
			l.Info("entry stored", zap.Uint64("timestamp", entry.Timestamp))
		},
	}
	put.Flags().Uint64("time", 0, "Entry timestamp. Defaults to the server time.")
	rootCmd.AddCommand(put)

	export := &cobra.Command{
		Use:   "export",
		Short: "Download the raw log of the remote store.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			c, l := mustClient(config)
			out := cmd.OutOrStdout()
			if path := config.GetString("output"); path != "" {
				fd, err := os.Create(path)
				if err != nil {
					l.Fatal("failed to create output file", zap.Error(err))
				}
				defer fd.Close()
				out = fd
			}
			n, err := c.Export(ctx, out)
			if err != nil {
				l.Fatal("failed to export log", zap.Error(err))
			}
			l.Info("log exported", zap.String("exported_size", humanize.Bytes(uint64(n))))
		},
	}
	export.Flags().StringP("output", "o", "", "Write the export to this file instead of stdout.")
	rootCmd.AddCommand(export)

	routes := &cobra.Command{
		Use:  "routes",
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			c, l := mustClient(config)
			out, err := c.Routes(ctx)
			if err != nil {
				l.Fatal("failed to list routes", zap.Error(err))
			}
			for _, route := range out {
				fmt.Fprintln(cmd.OutOrStdout(), route)
			}
		},
	}
	rootCmd.AddCommand(routes)

	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Increase log verbosity.")
	rootCmd.PersistentFlags().String("host", "127.0.0.1:3000", "remote netlog HTTP endpoint")
	rootCmd.PersistentFlags().Duration("timeout", defaultTimeout(), "HTTP request timeout.")
	rootCmd.Execute()
}
