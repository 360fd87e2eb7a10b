// Package main is the entry point for strongroom-meta, the metadata export tool.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/strongroom/strongroom/internal/config"
	"github.com/strongroom/strongroom/internal/serialization"
)

func main() {
	fs := flag.NewFlagSet("strongroom-meta", flag.ExitOnError)
	configPath := fs.String("config", "strongroom.yaml", "Config file path")
	dbPath := fs.String("db", "", "SQLite database path (overrides config)")
	output := fs.String("output", "-", "Output file path (- for stdout)")
	tables := fs.String("tables", "", "Comma-separated table names")
	includeCreds := fs.Bool("include-credentials", false, "Include real secret keys")
	fs.Parse(os.Args[1:])

	db := *dbPath
	if db == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
			os.Exit(1)
		}
		db = cfg.Metadata.SQLite.Path
	}

	tableList := serialization.AllTables
	if *tables != "" {
		tableList = strings.Split(*tables, ",")
		valid := make(map[string]bool)
		for _, t := range serialization.AllTables {
			valid[t] = true
		}
		for i := range tableList {
			tableList[i] = strings.TrimSpace(tableList[i])
			if !valid[tableList[i]] {
				fmt.Fprintf(os.Stderr, "Error: invalid table name: %s\n", tableList[i])
				os.Exit(1)
			}
		}
	}

	handle, err := sql.Open("sqlite", db+"?mode=ro")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer handle.Close()

	result, err := serialization.ExportMetadata(context.Background(), handle, &serialization.ExportOptions{
		Tables:             tableList,
		IncludeCredentials: *includeCreds,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error exporting: %v\n", err)
		os.Exit(1)
	}

	if *output == "-" {
		fmt.Println(string(result))
		return
	}
	if err := os.WriteFile(*output, append(result, '\n'), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Exported to %s\n", *output)
}
