package command

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"loudfits/internal/client"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// notifications.go manages the local notification cache.

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"notif"},
	Short:   "Local notification history",
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show cached notifications, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		unreadOnly, _ := cmd.Flags().GetBool("unread")
		store := notificationStore(client.NopToaster{})

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, " \tTIME\tTITLE\tID")
		shown := 0
		for _, n := range store.List() {
			if unreadOnly && n.Read {
				continue
			}
			mark := " "
			if !n.Read {
				mark = "●"
			}
			style := client.ClassifyNotification(n.Type).Style()
			fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\n", mark, n.CreatedAt.Local().Format(time.DateTime), style.Icon, n.Title, n.ID)
			shown++
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("%d shown, %d unread\n", shown, store.UnreadCount())
		return nil
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read [id]",
	Short: "Mark one notification (or all with --all) as read",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if !all && len(args) == 0 {
			return fmt.Errorf("pass a notification id or --all")
		}
		creds, err := credentials()
		if err != nil {
			return err
		}
		store := notificationStore(client.NopToaster{})
		api := apiClient(creds)

		if all {
			store.MarkAllAsRead()
			if err := api.MarkAllRead(cmd.Context()); err != nil {
				log.Warn().Err(err).Msg("server_mark_all_read_failed")
			}
			color.Green("✓ all notifications marked as read")
			return nil
		}

		id := args[0]
		if !store.MarkAsRead(id) {
			return fmt.Errorf("notification %s is not in the local cache", id)
		}
		if err := api.MarkRead(cmd.Context(), id); err != nil {
			log.Warn().Err(err).Str("notification_id", id).Msg("server_mark_read_failed")
		}
		color.Green("✓ %s marked as read", id)
		return nil
	},
}

var notificationsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty the local cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := notificationStore(client.NopToaster{}).Clear(); err != nil {
			return err
		}
		fmt.Println("✓ local notification cache cleared")
		return nil
	},
}

func init() {
	notificationsCmd.AddCommand(notificationsListCmd)
	notificationsCmd.AddCommand(notificationsReadCmd)
	notificationsCmd.AddCommand(notificationsClearCmd)

	notificationsListCmd.Flags().Bool("unread", false, "only unread notifications")
	notificationsReadCmd.Flags().Bool("all", false, "mark everything as read")
}
