// Package main provides the nornic CLI: a Bolt client shell for NornicDB
// and other Bolt-compatible graph databases.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orneryd/nornic-go/pkg/config"
	"github.com/orneryd/nornic-go/pkg/graph"
	"github.com/orneryd/nornic-go/pkg/nornic"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

var (
	flagURI      string
	flagUser     string
	flagPassword string
	flagConfig   string
	flagVerbose  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nornic",
		Short: "nornic - Bolt client shell for NornicDB",
		Long: `nornic is a command-line client for NornicDB and other graph
databases speaking the Neo4j Bolt protocol.

Features:
  • Run Cypher queries from the command line or an interactive shell
  • Parameterized queries with typed values
  • Local query history and bookmark tracking per server`,
	}

	rootCmd.PersistentFlags().StringVar(&flagURI, "uri", "", "server URI (bolt://host:port)")
	rootCmd.PersistentFlags().StringVarP(&flagUser, "username", "u", "", "username")
	rootCmd.PersistentFlags().StringVarP(&flagPassword, "password", "p", "", "password")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "trace protocol messages")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nornic v%s (%s)\n", version, commit)
		},
	})

	queryCmd := &cobra.Command{
		Use:   "query <cypher>",
		Short: "Run a single Cypher query",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuery,
	}
	queryCmd.Flags().StringArrayP("param", "P", nil, "query parameter as key=value (repeatable)")
	rootCmd.AddCommand(queryCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "shell",
		Short: "Start an interactive query shell",
		RunE:  runShell,
	})

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent queries from the local history",
		RunE:  runHistory,
	}
	historyCmd.Flags().Int("limit", 20, "number of entries to show")
	rootCmd.AddCommand(historyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig layers flags over the config file and environment.
func loadConfig() (config.Config, error) {
	var cfg config.Config
	if flagConfig != "" {
		loaded, err := config.LoadFile(flagConfig)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	} else {
		cfg = config.LoadFromEnv()
	}
	if flagURI != "" {
		cfg.URI = flagURI
	}
	if flagUser != "" {
		cfg.Username = flagUser
	}
	if flagPassword != "" {
		cfg.Password = flagPassword
	}
	return cfg, cfg.Validate()
}

func open() (*nornic.Graph, config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, cfg, err
	}
	g, err := nornic.Open(cfg)
	if err != nil {
		return nil, cfg, err
	}
	if flagVerbose {
		g.Logger = func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, "[bolt] "+format+"\n", args...)
		}
	}
	return g, cfg, nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	g, cfg, err := open()
	if err != nil {
		return err
	}
	defer g.Close()

	params, _ := cmd.Flags().GetStringArray("param")
	q := nornic.NewQuery(args[0])
	for _, p := range params {
		key, raw, ok := strings.Cut(p, "=")
		if !ok {
			return fmt.Errorf("invalid --param %q, want key=value", p)
		}
		q.Param(key, parseParam(raw))
	}

	store, storeErr := OpenStateStore("")
	if storeErr == nil {
		defer store.Close()
		// Chain causally after the previous session against this server.
		if bookmark, err := store.Bookmark(cfg.URI); err == nil && bookmark != "" {
			q.After(bookmark)
		}
	}

	ctx := context.Background()
	bookmark, err := executeAndPrint(ctx, g, q)
	if err != nil {
		return err
	}

	if store != nil {
		store.AppendHistory(cfg.URI, args[0])
		if bookmark != "" {
			store.SetBookmark(cfg.URI, bookmark)
		}
	}
	return nil
}

func runShell(cmd *cobra.Command, args []string) error {
	g, cfg, err := open()
	if err != nil {
		return err
	}
	defer g.Close()

	store, storeErr := OpenStateStore("")
	if storeErr == nil {
		defer store.Close()
	}

	fmt.Printf("Connected to %s. Type a Cypher query, or :quit to exit.\n", cfg.URI)
	scanner := bufio.NewScanner(os.Stdin)
	ctx := context.Background()
	for {
		fmt.Print("nornic> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == ":quit" || line == ":exit" {
			return nil
		}
		bookmark, err := executeAndPrint(ctx, g, nornic.NewQuery(line))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		if store != nil {
			store.AppendHistory(cfg.URI, line)
			if bookmark != "" {
				store.SetBookmark(cfg.URI, bookmark)
			}
		}
	}
}

func runHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	store, err := OpenStateStore("")
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.History(limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s  %s  %s\n", e.At.Format("2006-01-02 15:04:05"), e.URI, e.Query)
	}
	return nil
}

// executeAndPrint streams a query's rows to stdout, returning the bookmark
// issued when the query completed.
func executeAndPrint(ctx context.Context, g *nornic.Graph, q *nornic.Query) (string, error) {
	result, err := g.Execute(ctx, q)
	if err != nil {
		return "", err
	}
	defer result.Close(ctx)

	fmt.Println(strings.Join(result.Keys(), "\t"))
	count := 0
	for {
		row, err := result.Next(ctx)
		if err != nil {
			return "", err
		}
		if row == nil {
			break
		}
		cells := make([]string, row.Len())
		for i := range cells {
			cells[i] = formatValue(row.Index(i))
		}
		fmt.Println(strings.Join(cells, "\t"))
		count++
	}
	fmt.Printf("(%d rows)\n", count)
	return result.Bookmark(), nil
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case graph.Node:
		return fmt.Sprintf("(:%s %v)", strings.Join(val.Labels, ":"), val.Props)
	case graph.Relationship:
		return fmt.Sprintf("-[:%s %v]->", val.Type, val.Props)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// parseParam guesses a typed value from a flag string: int, float, bool,
// then string.
func parseParam(raw string) any {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}
