// Forge CLI — инструмент командной строки для отправки запросов на
// сборку индексов и просмотра их состояния через HTTP API.
//
// Использование:
//
//	forge [--api-url URL] [--user NAME] [--json] <command> [flags]
//
// Команды:
//
//	add                Отправить запрос add
//	rm                 Отправить запрос rm
//	regenerate-bundle  Отправить запрос regenerate-bundle
//	builds             Просмотр запросов и логов
//	batch              Работа с батчами
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Forge/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var username string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "forge",
		Short:         "Forge CLI — operator index build tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", cli.DefaultAPIURL(), "API server URL")
	rootCmd.PersistentFlags().StringVar(&username, "user", os.Getenv("FORGE_USER"), "Identity sent as X-Remote-User")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL, username) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewAddCmd(clientFn, outputFn),
		cli.NewRmCmd(clientFn, outputFn),
		cli.NewRegenerateBundleCmd(clientFn, outputFn),
		cli.NewBuildsCmd(clientFn, outputFn),
		cli.NewBatchCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
