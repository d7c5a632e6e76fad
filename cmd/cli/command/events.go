package command

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"loudfits/internal/client"
	"loudfits/internal/events"
	"loudfits/pkg/protocol"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// events.go wraps the admin event endpoints.

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Admin event history and test broadcasts",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show recent broadcasts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := credentials()
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		history, err := apiClient(creds).FetchHistory(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			fmt.Println("no events yet")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tTYPE\tTO\tDELIVERED")
		for _, e := range history {
			style := client.Classify(e.Type).Style()
			fmt.Fprintf(w, "%s\t%s %s\t%s\t%d/%d\n",
				e.Timestamp.Local().Format(time.DateTime), style.Icon, e.Type, e.Recipients,
				e.Result.Delivered, e.Result.Targeted)
		}
		return w.Flush()
	},
}

var eventsSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Broadcast a test event",
	Example: `  loudfits events send --type broadcast --data '{"id":"m1","type":"system","title":"Maintenance tonight"}'
  loudfits events send --type stock_alert --to admins --data '{"productId":5,"stock":1,"threshold":3}'
  loudfits events send --type notification --to u1,u2 --data '{"id":"n1","title":"Your order shipped"}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := credentials()
		if err != nil {
			return err
		}
		msgType, _ := cmd.Flags().GetString("type")
		data, _ := cmd.Flags().GetString("data")
		to, _ := cmd.Flags().GetString("to")

		if !json.Valid([]byte(data)) {
			return fmt.Errorf("--data must be valid JSON")
		}
		req := events.TestEventRequest{
			Type:       protocol.MessageType(msgType),
			Data:       json.RawMessage(data),
			Recipients: recipientsJSON(to),
		}

		result, err := apiClient(creds).SendTestEvent(cmd.Context(), req)
		if err != nil {
			return err
		}
		color.Green("✓ %s sent to %s: %d delivered, %d skipped, %d failed",
			result.Type, result.Recipients, result.Result.Delivered, result.Result.Skipped, result.Result.Failed)
		return nil
	},
}

// recipientsJSON maps the --to flag onto the API's recipients field
func recipientsJSON(to string) json.RawMessage {
	to = strings.TrimSpace(to)
	switch to {
	case "", "all":
		return nil
	case "admins":
		return json.RawMessage(`"admins"`)
	}
	var ids []string
	for _, id := range strings.Split(to, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	raw, _ := json.Marshal(ids)
	return raw
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show live connection counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := credentials()
		if err != nil {
			return err
		}
		stats, err := apiClient(creds).Stats(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "connections\t%d\n", stats.Connections.Total)
		fmt.Fprintf(w, "  admins\t%d\n", stats.Connections.Admins)
		fmt.Fprintf(w, "  identified\t%d\n", stats.Connections.Identified)
		fmt.Fprintf(w, "  anonymous\t%d\n", stats.Connections.Anonymous)
		fmt.Fprintf(w, "  distinct users\t%d\n", stats.Connections.Users)
		fmt.Fprintf(w, "messages sent\t%.0f\n", stats.Counters.MessagesSent)
		fmt.Fprintf(w, "send failures\t%.0f\n", stats.Counters.SendFailures)
		fmt.Fprintf(w, "broadcasts\t%.0f\n", stats.Counters.Broadcasts)
		fmt.Fprintf(w, "dropped frames\t%.0f\n", stats.Counters.DroppedFrames)
		return w.Flush()
	},
}

func init() {
	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsSendCmd)

	eventsListCmd.Flags().IntP("limit", "n", 20, "number of events to show")

	eventsSendCmd.Flags().StringP("type", "t", "", "server-to-client message type")
	eventsSendCmd.Flags().StringP("data", "d", "{}", "JSON payload")
	eventsSendCmd.Flags().String("to", "all", `recipients: "all", "admins" or comma separated user ids`)
	eventsSendCmd.MarkFlagRequired("type")
}
