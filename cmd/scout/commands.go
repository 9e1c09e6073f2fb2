package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-market/intent"
	"github.com/aluiziolira/go-scrape-market/models"
	"github.com/aluiziolira/go-scrape-market/pipeline"
	"github.com/aluiziolira/go-scrape-market/scraper"
	"github.com/aluiziolira/go-scrape-market/search"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search a marketplace, falling back to cached results",
	Long: `Search a marketplace, falling back to cached results.

Examples:
  scout search iphone 13
  scout search "electric kettle" --limit 10 --page 2
  scout search tv --csv out/tv.csv --jsonl out/tv.jsonl`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		marketplace, _ := cmd.Flags().GetString("marketplace")
		page, _ := cmd.Flags().GetInt("page")
		limit, _ := cmd.Flags().GetInt("limit")
		csvPath, _ := cmd.Flags().GetString("csv")
		jsonPath, _ := cmd.Flags().GetString("jsonl")
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		outcome, err := a.orchestrator.Search(cmd.Context(), query,
			models.SearchOptions{Marketplace: marketplace, Page: page, Limit: limit})
		if err != nil {
			return fmt.Errorf("%s", scraper.UserMessage(err))
		}

		if err := exportProducts(cmd, outcome.Products, csvPath, jsonPath); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			return writeJSON(out, outcome.Products)
		}
		if outcome.Source == search.SourceCache {
			fmt.Fprintf(cmd.ErrOrStderr(), "live search failed (%s), showing cached results\n", scraper.UserMessage(outcome.LiveErr))
		}
		printProducts(out, outcome.Products)
		return nil
	},
}

// exportProducts streams products through a deduplicating pipeline into the
// requested files.
func exportProducts(cmd *cobra.Command, products []models.ScrapedProduct, csvPath, jsonPath string) error {
	if csvPath == "" && jsonPath == "" {
		return nil
	}

	var writers []pipeline.OutputWriter
	if csvPath != "" {
		w, err := pipeline.NewCSVWriter(csvPath)
		if err != nil {
			return err
		}
		writers = append(writers, w)
	}
	if jsonPath != "" {
		w, err := pipeline.NewJSONWriter(jsonPath)
		if err != nil {
			pipeline.NewMultiWriter(writers...).Close()
			return err
		}
		writers = append(writers, w)
	}
	writer := pipeline.NewMultiWriter(writers...)
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close export writer", slog.Any("error", err))
		}
	}()

	p := pipeline.NewPipeline(cmd.Context(), writer, cfg, pipeline.WithDedupe(len(products)+1))
	p.Start(1)
	if err := p.Process(products...); err != nil {
		p.Close()
		return fmt.Errorf("export: %w", err)
	}
	if err := p.Close(); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if len(products) > 0 {
		if err := writer.Validate(); err != nil {
			return fmt.Errorf("export: %w", err)
		}
	}

	stats := p.GetMetrics()
	slog.Info("export complete",
		slog.Int64("written", stats.Processed),
		slog.Any("rejected", stats.Rejected),
		slog.String("csv", csvPath),
		slog.String("jsonl", jsonPath),
	)
	return nil
}

var productCmd = &cobra.Command{
	Use:   "product",
	Short: "Inspect cached products",
}

var productGetCmd = &cobra.Command{
	Use:   "get <marketplace> <product-id>",
	Short: "Show a cached product",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		p, err := a.orchestrator.GetProductByMarketplaceID(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), map[string]any{"product": p, "fresh": a.orchestrator.IsFresh(p)})
	},
}

var productRefreshCmd = &cobra.Command{
	Use:   "refresh <marketplace> <product-id>",
	Short: "Re-scrape a cached product and update the cache",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		p, err := a.orchestrator.RefreshProductData(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), p)
	},
}

var intentCmd = &cobra.Command{
	Use:   "intent [json]",
	Short: "Route a chat model intent, reading it from stdin when no argument is given",
	Long: `Route a chat model intent.

Examples:
  scout intent '{"action":"search_products","query":"iphone 13","reply":""}'
  echo '{"action":"ask_question","query":null,"reply":"Which size?"}' | scout intent`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw := ""
		if len(args) == 1 {
			raw = args[0]
		} else {
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			raw = string(b)
		}

		in, err := intent.Parse(raw)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		return writeJSON(cmd.OutOrStdout(), a.router.Route(cmd.Context(), in))
	},
}

func init() {
	searchCmd.Flags().String("marketplace", "", "marketplace to search (default from config)")
	searchCmd.Flags().Int("page", 1, "result page")
	searchCmd.Flags().Int("limit", 0, "maximum results (default from config)")
	searchCmd.Flags().String("csv", "", "also export results to this CSV file")
	searchCmd.Flags().String("jsonl", "", "also export results to this JSON lines file")
	searchCmd.Flags().Bool("json", false, "print results as JSON")
	rootCmd.AddCommand(searchCmd)

	productCmd.AddCommand(productGetCmd)
	productCmd.AddCommand(productRefreshCmd)
	rootCmd.AddCommand(productCmd)

	rootCmd.AddCommand(intentCmd)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printProducts(w io.Writer, products []models.ScrapedProduct) {
	if len(products) == 0 {
		fmt.Fprintln(w, "no products found")
		return
	}
	for i, p := range products {
		rating := "-"
		if p.Rating != nil {
			rating = fmt.Sprintf("%.1f", *p.Rating)
		}
		fmt.Fprintf(w, "%2d. %s\n    %s %.2f  rating %s (%d reviews)  [%s/%s]\n    %s\n",
			i+1, p.Title, p.Currency, p.Price, rating, p.ReviewsCount, p.Marketplace, p.ProductID, p.ProductURL)
	}
}

