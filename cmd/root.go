package cmd

import (
	"fmt"
	"io"
	"maps"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tanq16/mydm/internal/config"
	"github.com/tanq16/mydm/internal/utils"
)

var (
	configFile string
	headers    []string

	v         = config.New()
	cfg       *config.Config
	logCloser io.Closer
)

var MyDMVersion = "dev"

var rootCmd = &cobra.Command{
	Use:   "mydm [browser origin]",
	Short: "MyDM is a segmented download host for the browser extension",
	Long: `MyDM accelerates browser downloads by fetching byte ranges in parallel.
Launched by the browser it speaks native messaging on stdin/stdout; the
get and batch commands run the same engine from a terminal.`,
	Version:      MyDMVersion,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	// browsers append their own arguments (origin, manifest path, --parent-window)
	FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHost(cmd.Context(), args)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() error {
	loaded, err := config.Load(v, configFile)
	if err != nil {
		return err
	}
	if len(headers) > 0 {
		if loaded.HTTP.Headers == nil {
			loaded.HTTP.Headers = make(map[string]string)
		}
		maps.Copy(loaded.HTTP.Headers, utils.ParseHeaderArgs(headers))
	}
	closer, err := utils.InitLogger(loaded.Log.Path, loaded.Log.Debug)
	if err != nil {
		return err
	}
	cfg, logCloser = loaded, closer
	log := utils.GetLogger("cmd")
	log.Debug().
		Str("downloadDir", cfg.DownloadDir).
		Str("tempDir", cfg.TempDir).
		Int("threads", cfg.Threads).
		Int("maxWorkers", cfg.MaxWorkers).
		Msg("Configuration loaded")
	return nil
}

func bindFlag(key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", flag, err))
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (default is <user config dir>/mydm/config.yaml)")
	flags.StringP("output-dir", "o", "", "Directory finished downloads are written to (default ~/Downloads)")
	flags.String("temp-dir", "", "Directory for part files (default <output-dir>/"+utils.TempDirName+")")
	flags.IntP("threads", "c", utils.DefaultThreads, "Segments per download (above 5 enables high-thread-mode)")
	flags.IntP("workers", "w", utils.DefaultMaxWorkers, "Segment transfers running at once across all downloads")
	flags.Int("max-retries", utils.DefaultMaxRetries, "Retries per segment before the download fails")
	flags.DurationP("timeout", "t", 30*time.Second, "Connection timeout (eg. 5s, 10m)")
	flags.DurationP("keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	flags.Duration("read-timeout", 60*time.Second, "Abort and retry a segment when no data arrives for this long")
	flags.StringP("user-agent", "a", utils.ToolUserAgent, "User agent")
	flags.StringP("proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., http://proxy.example.com:8080)")
	flags.String("proxy-username", "", "Proxy username (if not provided in proxy URL)")
	flags.String("proxy-password", "", "Proxy password (if not provided in proxy URL)")
	flags.StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	flags.String("log-file", "", "Log file path (default <user config dir>/mydm/host.log)")
	flags.Bool("debug", false, "Enable debug logging")

	bindFlag("download_dir", "output-dir")
	bindFlag("temp_dir", "temp-dir")
	bindFlag("threads", "threads")
	bindFlag("max_workers", "workers")
	bindFlag("max_retries", "max-retries")
	bindFlag("http.timeout", "timeout")
	bindFlag("http.keep_alive_timeout", "keep-alive-timeout")
	bindFlag("read_timeout", "read-timeout")
	bindFlag("http.user_agent", "user-agent")
	bindFlag("http.proxy", "proxy")
	bindFlag("http.proxy_username", "proxy-username")
	bindFlag("http.proxy_password", "proxy-password")
	bindFlag("log.path", "log-file")
	bindFlag("log.debug", "debug")

	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newCleanCmd())
}
