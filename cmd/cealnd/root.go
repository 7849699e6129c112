// cealnd is the build engine's server binary: it serves the incremental
// query graph, the content-addressed cache, and the BuildEvent protocol
// over HTTP (spec.md §6). Command wiring follows the teacher's
// cli/root.go: a Cobra root command whose flags bind into Viper, which
// then layers over config.LoadBuildConfig's environment defaults.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cealn-go/cealn/buildevent"
	"github.com/cealn-go/cealn/common"
	"github.com/cealn-go/cealn/config"
	"github.com/cealn-go/cealn/coordinator"
	"github.com/cealn-go/cealn/server"
	"github.com/cealn-go/cealn/version"
)

var cfgFile string

// RootCmd is cealnd's entry point: start a server rooted at --build-root
// watching --workspace, exposing its HTTP surface on --listen.
var RootCmd = &cobra.Command{
	Use:   "cealnd",
	Short: "hermetic, content-addressed build engine server",
	Long: `cealnd serves an incremental query graph over a workspace: it
analyzes build rules, executes actions in Linux sandboxes, and reports
progress over a WebSocket BuildEvent stream to connecting clients.`,
	RunE: runServer,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.cealnd.yaml)")
	RootCmd.PersistentFlags().String("build-root", "", "server state directory (default: $HOME/.cache/cealn)")
	RootCmd.PersistentFlags().String("workspace", ".", "workspace root to watch")
	RootCmd.PersistentFlags().String("listen", "127.0.0.1:0", "HTTP listen address")
	RootCmd.PersistentFlags().Int("jobs", 0, "maximum concurrent actions (default: $CEALN_JOBS or 4)")
	RootCmd.PersistentFlags().Bool("use-fuse", true, "serve Run action inputs over FUSE instead of materializing them")
	RootCmd.PersistentFlags().String("log", "", "log level (debug, info, warn, error)")

	viper.BindPFlag("build_root", RootCmd.PersistentFlags().Lookup("build-root"))
	viper.BindPFlag("workspace", RootCmd.PersistentFlags().Lookup("workspace"))
	viper.BindPFlag("listen", RootCmd.PersistentFlags().Lookup("listen"))
	viper.BindPFlag("jobs", RootCmd.PersistentFlags().Lookup("jobs"))
	viper.BindPFlag("use_fuse", RootCmd.PersistentFlags().Lookup("use-fuse"))
	viper.BindPFlag("log", RootCmd.PersistentFlags().Lookup("log"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".cealnd")
	}

	viper.SetEnvPrefix("CEALN")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("using config file:", viper.ConfigFileUsed())
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	buildCfg := config.LoadBuildConfig()
	if v := viper.GetString("build_root"); v != "" {
		buildCfg.BuildRoot = v
	}
	if v := viper.GetInt("jobs"); v > 0 {
		buildCfg.Jobs = v
	}
	buildCfg.UseFUSE = viper.GetBool("use_fuse")
	if v := viper.GetString("log"); v != "" {
		buildCfg.LogLevel = v
	}
	if err := config.ValidateBuildConfig(buildCfg); err != nil {
		return err
	}

	logger := common.NewLogger(common.LoggerConfig{
		Level:   common.LogLevel(buildCfg.LogLevel),
		Format:  buildCfg.LogFormat,
		Service: "cealnd",
		Version: version.GetEngineVersion(),
	})
	log := common.NewContextLogger(logger, map[string]interface{}{"component": "cealnd"})

	workspace := viper.GetString("workspace")

	lock, err := server.AcquireLock(server.NewLayout(buildCfg.BuildRoot).LockPath)
	if err != nil {
		return err
	}
	defer lock.Release()

	svc, err := server.NewServices(buildCfg.BuildRoot, workspace, buildCfg.Jobs, buildCfg.UseFUSE, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	driver := func(ctx context.Context, req buildevent.Request, s *coordinator.Session) {
		runBuild(ctx, svc, req, s, log)
	}

	httpSrv, err := server.NewHTTPServer(viper.GetString("listen"), svc, driver)
	if err != nil {
		return err
	}
	if err := svc.Layout.WriteRunFiles(httpSrv.URL()); err != nil {
		return err
	}
	defer svc.Layout.Cleanup()

	go func() {
		log.WithField("addr", httpSrv.Addr()).Info("cealnd listening")
		if err := httpSrv.Serve(); err != nil {
			log.WithError(err).Error("http server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}
