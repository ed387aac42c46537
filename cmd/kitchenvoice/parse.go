package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"kitchen-voice/internal/infra/orderstore"
)

var (
	parseAPIKey     string
	parseOrdersFile string
)

var parseCmd = &cobra.Command{
	Use:   "parse [text]",
	Short: "Parse one command and print the result as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runParse,
}

func init() {
	parseCmd.Flags().StringVar(&parseAPIKey, "api-key", "", "API key for the configured NLP provider")
	parseCmd.Flags().StringVar(&parseOrdersFile, "orders", "", "JSON file with the current orders")
}

func runParse(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, logCloser := setupLogger(cfg.Log, cmd.ErrOrStderr())
	defer logCloser.Close()

	_, service, cloud := parserStack(cfg.NLP, func(string, string) {}, logger)
	defer cloud.Close()

	if parseOrdersFile != "" {
		f, err := os.Open(parseOrdersFile)
		if err != nil {
			return fmt.Errorf("opening orders file: %w", err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("reading orders file: %w", err)
		}
		orders, err := orderstore.DecodeOrders(data)
		if err != nil {
			return fmt.Errorf("parsing orders file: %w", err)
		}
		service.UpdateOrderNumbers(orders)
	}

	result := service.ParseText(cmd.Context(), strings.Join(args, " "), parseAPIKey)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
