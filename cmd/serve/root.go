package serve

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdUtil "github.com/tenkv/tenkv/cmd/util"
	"github.com/tenkv/tenkv/server"
)

var (
	serveCmdConfig = &server.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the tenkv server",
		Long:    `Start the tenkv server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is TENKV_<flag> (e.g. TENKV_ROOT_PASSWORD=secret)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:4000", cmdUtil.WrapString("The address on which the server will listen for client connections (e.g. 0.0.0.0:4000)"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("DataDir is the directory used for storing the snapshot, the command log and the user and ownership files"))

	key = "root-user"
	ServeCmd.PersistentFlags().String(key, "root", cmdUtil.WrapString("Username of the root account. The root account is provisioned on first start and can never be deleted"))

	key = "root-password"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Password of the root account. Required on first start, ignored afterwards. Prefer setting this via the TENKV_ROOT_PASSWORD environment variable"))

	key = "pbkdf2-iterations"
	ServeCmd.PersistentFlags().Int(key, 10000, cmdUtil.WrapString("Number of PBKDF2 iterations used when hashing passwords. Changing this only affects newly created users"))

	key = "sweep-interval"
	ServeCmd.PersistentFlags().Duration(key, time.Second, cmdUtil.WrapString("Interval at which expired keys are swept from all databases"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Read timeout in seconds for idle client connections"))

	key = "tcp-no-delay"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("TCPNoDelay enables TCP_NODELAY (disables Nagle's algorithm). This option can reduce the latency of the server"))

	key = "tcp-keep-alive"
	ServeCmd.PersistentFlags().Int(key, 30, cmdUtil.WrapString("TCPKeepAlive sets the TCP keep-alive interval in seconds. Set to 0 to disable keep-alive"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Optional address on which Prometheus metrics are exposed under /metrics (e.g. 0.0.0.0:4001). Leave empty to disable"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd, nil); err != nil {
		return err
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.RootUser = viper.GetString("root-user")
	serveCmdConfig.RootPassword = viper.GetString("root-password")
	serveCmdConfig.PBKDF2Iterations = viper.GetInt("pbkdf2-iterations")
	serveCmdConfig.SweepInterval = viper.GetDuration("sweep-interval")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.TCPNoDelay = viper.GetBool("tcp-no-delay")
	serveCmdConfig.TCPKeepAliveSec = viper.GetInt("tcp-keep-alive")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")

	if serveCmdConfig.RootUser == "" {
		return fmt.Errorf("root-user must not be empty")
	}
	if serveCmdConfig.RootPassword == "" {
		return fmt.Errorf("root-password is required (flag --root-password or env TENKV_ROOT_PASSWORD)")
	}
	if serveCmdConfig.PBKDF2Iterations < 1 {
		return fmt.Errorf("pbkdf2-iterations must be positive")
	}

	return nil
}

// run starts the tenkv server
func run(_ *cobra.Command, _ []string) error {
	srv, err := server.New(*serveCmdConfig)
	if err != nil {
		return err
	}

	// shut down gracefully on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Serve(ctx)
}

// initConfig reads in serveCmdConfig file and ENV variables if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("tenkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}
