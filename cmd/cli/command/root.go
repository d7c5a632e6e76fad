package command

// root.go defines the root command for the loudfits CLI.
// set up the global flags and configuration here.

import (
	"fmt"
	"os"
	"time"

	"loudfits/cmd/cli/authentication"
	"loudfits/internal/client"
	"loudfits/internal/config"
	"loudfits/internal/logger"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	apiURL   string // Global flag for API server URL
	cacheDir string // local notification cache
	token    string // authentication token(jwt), overrides the keyring
	verbose  bool

	cfg *config.ClientConfig
	log zerolog.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "loudfits",
	Short: "loudfits - Loudfits notification client",
	Long: `loudfits connects to the Loudfits API the way a browser tab does. User can use this application to:
- Listen for realtime notifications and admin events
- Keep a local notification history across runs
- Inspect and trigger admin events

Use "loudfits command --help" to see all available commands.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadClientConfig()
		if err != nil {
			return err
		}
		cfg = loaded
		if !cmd.Flags().Changed("api") && cfg.APIURL != "" {
			apiURL = cfg.APIURL
		}
		if !cmd.Flags().Changed("cache-dir") && cfg.CacheDir != "" {
			cacheDir = cfg.CacheDir
		}
		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		log = logger.New(logger.Options{
			Service: "cli",
			Level:   level,
			Format:  cfg.LogFormat,
			Output:  os.Stderr,
		})
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err) // Print error to standard error
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags = available to all subcommands
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", ".loudfits", "directory for the local notification cache")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "bearer token (defaults to the one stored by `auth set-token`)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(notificationsCmd)
}

// credentials resolves the token from --token or the keyring
func credentials() (*authentication.StoredCredentials, error) {
	if token != "" {
		return authentication.FromToken(token)
	}
	creds, err := authentication.GetTokens()
	if err != nil {
		return nil, err
	}
	if creds.Expired(time.Now()) {
		return nil, fmt.Errorf("stored token expired, run `loudfits auth set-token` again")
	}
	return creds, nil
}

// apiClient builds the HTTP client with auth headers as transport middleware
func apiClient(creds *authentication.StoredCredentials) *client.APIClient {
	transports := []client.Transport{client.BearerToken(creds.AccessToken)}
	if creds.IsAdmin() {
		transports = append(transports, client.AdminID(creds.UserID))
	}
	return client.NewAPIClient(apiURL, client.Chain(nil, transports...), 10*time.Second)
}

func localStore() client.Store {
	return client.NewFileStore(cacheDir)
}

func notificationStore(toaster client.Toaster) *client.NotificationStore {
	return client.NewNotificationStore(localStore(), client.StoreOptions{
		Limit:   cfg.NotificationLimit,
		Toaster: toaster,
	}, log)
}
