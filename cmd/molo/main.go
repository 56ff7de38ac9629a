package main

import (
	"fmt"
	"os"

	"github.com/bdobrica/Molo/common/environment"
	"github.com/bdobrica/Molo/common/version"
	"github.com/bdobrica/Molo/internal/molo/app"
	"github.com/bdobrica/Molo/internal/molo/language"
	"github.com/bdobrica/Molo/internal/molo/stream"
)

func main() {
	fmt.Printf("Molo WhatsApp Assistant\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	config := loadConfig()

	if _, ok := language.Canonical(config.DefaultLanguage); !ok {
		fmt.Fprintf(os.Stderr, "Error: MOLO_DEFAULT_LANGUAGE must be one of en, xh, af\n")
		os.Exit(1)
	}

	molo, err := app.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Molo: %v\n", err)
		os.Exit(1)
	}
	defer molo.Stop()

	if err := molo.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running Molo: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from environment variables
func loadConfig() *app.Config {
	return &app.Config{
		DatabasePath:    environment.StringOr("MOLO_DB_PATH", "./molo.db"),
		HTTPAddr:        environment.StringOr("MOLO_HTTP_ADDR", ":8000"),
		RedisURL:        environment.StringOr("REDIS_URL", ""),
		RedisStream:     environment.StringOr("REDIS_STREAM_NAME", stream.DefaultStreamName),
		TemplatesDir:    environment.StringOr("MOLO_TEMPLATES_DIR", ""),
		BundlesFile:     environment.StringOr("MOLO_BUNDLES_FILE", ""),
		DefaultLanguage: environment.StringOr("MOLO_DEFAULT_LANGUAGE", language.Default),
	}
}
