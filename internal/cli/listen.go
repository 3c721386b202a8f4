package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yok-tottii/ezs2t-live/internal/api"
	"github.com/yok-tottii/ezs2t-live/internal/hotkey"
	"github.com/yok-tottii/ezs2t-live/internal/server"
)

func NewListenCmd(deps *Dependencies) *cobra.Command {
	var port int
	var noHotkey bool

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Run the local control API and the global hotkey",
		Long: "Serves the recording control API on 127.0.0.1 and, unless --no-hotkey is\n" +
			"given, registers the configured global hotkey. Ctrl+C to quit.",
		PersistentPreRunE: loadDeps(deps),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := deps.App
			log := a.Logger

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			serverConfig := server.DefaultConfig()
			serverConfig.Port = a.Config.Server.Port
			if cmd.Flags().Changed("port") {
				serverConfig.Port = port
			}

			srv := server.New(serverConfig, log)
			api.New(a.Controller, a.Config, a.Metrics, log).RegisterRoutes(srv.Mux())
			srv.HandleMetrics(a.Registry)
			log.Info("APIルート登録完了")

			if err := srv.Start(); err != nil {
				return fmt.Errorf("failed to start server: %w", err)
			}
			defer srv.Stop()

			go func() {
				if granted := <-a.Controller.RequestPermissions(ctx); granted {
					log.Info("マイク・音声認識の権限: 許可済み")
				} else {
					log.Warn("権限が未許可です - 録音機能が無効化されます")
				}
			}()

			hotkeyLabel := "無効"
			if !noHotkey {
				hc, err := hotkey.FromConfig(a.Config.Hotkey, a.Config.RecordingMode)
				if err != nil {
					return fmt.Errorf("invalid hotkey config: %w", err)
				}

				mgr := hotkey.New()
				if err := mgr.Register(hc); err != nil {
					log.Error("ホットキーの登録に失敗: %v", err)
				} else {
					defer mgr.Close()
					hotkeyLabel = fmt.Sprintf("%s (%s)", hotkey.FormatHotkey(hc.Modifiers, hc.Key), hc.Mode)
					log.Info("ホットキー登録完了: %s", hotkeyLabel)
					go hotkey.Run(ctx, mgr.Events(), hc.Mode, a.Controller, log)
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "==========================================================")
			fmt.Fprintln(out, "[起動] ezs2t-live が起動しました")
			fmt.Fprintln(out, "==========================================================")
			fmt.Fprintf(out, "[API] %s/api/status\n", srv.URL())
			fmt.Fprintf(out, "[メトリクス] %s/metrics\n", srv.URL())
			fmt.Fprintf(out, "[設定] ホットキー: %s\n", hotkeyLabel)
			fmt.Fprintln(out, "[終了] Ctrl+C")
			fmt.Fprintln(out, "==========================================================")

			<-ctx.Done()
			log.Info("終了シグナルを受信しました")

			// 録音中のセッションを破棄してから停止
			a.Controller.Reset()
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Override server.port (0 picks a free port)")
	cmd.Flags().BoolVar(&noHotkey, "no-hotkey", false, "Do not register the global hotkey")

	return cmd
}
