// ABOUTME: init command: writes a config file from interactive prompts
// ABOUTME: Defaults come from the config package so a bare Enter is always valid

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/2389/parley/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new config file interactively",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInit(cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func runInit(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "parley configuration setup")
	fmt.Fprintln(out, "==========================")
	fmt.Fprintln(out)

	outputFile := prompt(reader, out, "Config file path", resolveConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, out, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	httpAddr := prompt(reader, out, "HTTP address", config.DefaultHTTPAddr)

	fmt.Fprintln(out, "\n--- Database Configuration ---")
	dbPath := prompt(reader, out, "SQLite database path", filepath.Join(config.DataDir(), "parley.db"))

	fmt.Fprintln(out, "\n--- Hosted Backend ---")
	hostedURL := prompt(reader, out, "Hosted API base URL", config.DefaultHostedBaseURL)

	fmt.Fprintln(out, "\n--- Direct Model Backend ---")
	modelKey := prompt(reader, out, "Default API key (\"none\" to require per-app keys)", "${OPENAI_API_KEY}")
	if strings.EqualFold(modelKey, "none") {
		modelKey = ""
	}
	defaultModel := prompt(reader, out, "Default model", config.DefaultModel)

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	logLevel := prompt(reader, out, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, out, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# parley configuration\n")
	cfg.WriteString("# Generated by parley init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n\n", httpAddr)

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  driver: %q\n", config.DefaultDriver)
	fmt.Fprintf(&cfg, "  path: %q\n\n", dbPath)

	cfg.WriteString("hosted:\n")
	fmt.Fprintf(&cfg, "  base_url: %q\n", hostedURL)
	fmt.Fprintf(&cfg, "  user: %q\n", config.DefaultHostedUser)
	fmt.Fprintf(&cfg, "  timeout: %q\n\n", config.DefaultTimeout.String())

	cfg.WriteString("model:\n")
	if modelKey != "" {
		fmt.Fprintf(&cfg, "  api_key: %q\n", modelKey)
	}
	fmt.Fprintf(&cfg, "  default_model: %q\n", defaultModel)
	fmt.Fprintf(&cfg, "  title_timeout: %q\n\n", config.DefaultTitleTimeout.String())

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n\n", logFormat)

	cfg.WriteString("# apps:\n")
	cfg.WriteString("#   - name: \"Support\"\n")
	cfg.WriteString("#     kind: \"hosted\"\n")
	cfg.WriteString("#     credential: \"${DIFY_APP_KEY}\"\n")
	cfg.WriteString("#   - name: \"GPT\"\n")
	cfg.WriteString("#     kind: \"direct-model\"\n")
	cfg.WriteString("#     model: \"gpt-4o\"\n")
	cfg.WriteString("#     system_prompt: \"You are a helpful assistant.\"\n")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// Keys may be written inline, so keep the file private.
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintf(out, "Data directory: %s\n", dataDir)
	fmt.Fprintln(out, "\nTo start chatting:")
	fmt.Fprintln(out, "  parley apps add --name GPT --kind direct-model")
	fmt.Fprintln(out, "  parley chat")

	return nil
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	if input == "" {
		return defaultVal
	}
	return input
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}
