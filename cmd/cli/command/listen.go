package command

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loudfits/internal/client"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// listen.go holds one shared connection open and renders toasts, like a browser tab would.

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Listen for realtime notifications",
	Long: `Connect to the notification socket, sync unread notifications and print a toast
for every new one. Admin tokens also receive order, payment and stock events.
The connection is retried with backoff; after the last attempt the command exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := credentials()
		if err != nil {
			return err
		}
		noHistory, _ := cmd.Flags().GetBool("no-history")

		wsURL, err := client.WebSocketURL(apiURL, cfg.WSPath, creds.AccessToken)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		fatal := make(chan error, 1)

		toaster := client.NewColorToaster(cmd.OutOrStdout())
		store := notificationStore(toaster)

		manager := client.NewManager(client.ManagerOptions{
			URL: wsURL,
			Policy: client.Policy{
				BaseDelay:    cfg.ReconnectBaseDelay,
				CapDelay:     cfg.ReconnectCapDelay,
				MaxAttempts:  cfg.ReconnectMaxAttempts,
				Multiplier:   1.5,
				PingInterval: cfg.PingInterval,
			},
			Identity: &client.Identity{UserID: creds.UserID, Role: creds.Role, IsAdmin: creds.IsAdmin()},
			OnStatus: func(s client.Status) { printStatus(s) },
			OnFatal: func(err error) {
				select {
				case fatal <- err:
				default:
				}
			},
		}, client.NewWebSocketDialer(nil), log)

		var overlay *client.AdminOverlay
		if creds.IsAdmin() {
			overlay = client.NewAdminOverlay(store, toaster, localStore(), log)
			// markers are session scoped
			defer overlay.EndSession()
		}
		defer attachHandlers(manager, store, overlay)()

		if !noHistory {
			fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			history, err := apiClient(creds).FetchNotifications(fetchCtx)
			cancel()
			if err != nil {
				log.Warn().Err(err).Msg("history_fetch_failed")
			} else {
				added := store.Merge(history)
				log.Debug().Int("added", added).Int("fetched", len(history)).Msg("history_merged")
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d notifications, %d unread\n", len(store.List()), store.UnreadCount())

		manager.Start(ctx)
		defer manager.Stop()

		select {
		case <-ctx.Done():
			return nil
		case err := <-fatal:
			color.New(color.FgWhite, color.BgRed, color.Bold).Fprintln(cmd.ErrOrStderr(), " connection lost ")
			return fmt.Errorf("could not reconnect, please run the command again: %w", err)
		}
	},
}

// attachHandlers subscribes the store for every client and the overlay for admins.
// overlay is nil for non-admin tokens.
func attachHandlers(m *client.Manager, store *client.NotificationStore, overlay *client.AdminOverlay) func() {
	detach := []func(){store.Attach(m)}
	if overlay != nil {
		detach = append(detach, overlay.Attach(m))
	}
	return func() {
		for _, d := range detach {
			d()
		}
	}
}

func printStatus(s client.Status) {
	switch s {
	case client.StatusConnected:
		color.Green("● connected")
	case client.StatusConnecting:
		color.Yellow("○ connecting")
	case client.StatusDisconnected:
		color.Red("○ disconnected")
	case client.StatusGivenUp:
		color.Red("✗ gave up")
	}
}

func init() {
	listenCmd.Flags().Bool("no-history", false, "skip merging the server-side notification history")
}
