package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-transfer/pkg/simpletransfer/client"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "transfer",
		Short: "Upload and download files through a simple-transfer server",
		Long: `Command line client for simple-transfer.

The server only issues signed URLs; file bytes go directly to the object store.
Large files are uploaded as concurrent multipart uploads.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("server", getEnv("SIMPLE_TRANSFER_URL", "http://localhost:8080"), "server base URL")
	rootCmd.PersistentFlags().String("api-key", os.Getenv("SIMPLE_TRANSFER_API_KEY"), "API key sent as X-API-KEY")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")

	rootCmd.AddCommand(NewUploadCommand())
	rootCmd.AddCommand(NewDownloadCommand())

	return rootCmd
}

// newClientFromFlags builds a client from the persistent flags plus extra options
func newClientFromFlags(cmd *cobra.Command, opts ...client.Option) (*client.Client, error) {
	server, _ := cmd.Flags().GetString("server")
	apiKey, _ := cmd.Flags().GetString("api-key")
	verbose, _ := cmd.Flags().GetBool("verbose")

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	all := []client.Option{client.WithLogger(logger)}
	if apiKey != "" {
		all = append(all, client.WithAPIKey(apiKey))
	}
	all = append(all, opts...)
	return client.New(server, all...)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
