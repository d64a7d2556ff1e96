package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/example/chatsync/client"
	"github.com/example/chatsync/modules/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
)

var (
	configPath string
	serverURL  string
	apiURL     string
	token      string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "chatcli",
	Short: "Terminal client for the chatsync broker",
	Long: `chatcli talks to a chatsync broker over its WebSocket and REST APIs.

Quick Start:
  chatcli register alice s3cretpass
  export CHAT_TOKEN=$(chatcli login alice s3cretpass)
  chatcli listen --group 3              # stream live messages
  chatcli send --to 2 hello there       # send and wait for delivery
  chatcli history --peer 2              # print the reconciled conversation`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML client config")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Broker WebSocket URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "Broker REST base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("CHAT_TOKEN"), "Access token (defaults to $CHAT_TOKEN)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// loadConfig merges the config file and the URL flags over the defaults.
func loadConfig() (client.Config, error) {
	cfg := client.DefaultConfig()
	if configPath != "" {
		loaded, err := client.LoadConfig(configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if apiURL != "" {
		cfg.APIURL = apiURL
	}
	return cfg, cfg.Validate()
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// identityFromToken reads the user id carried by an access token. The
// signature is checked by the broker, not here.
func identityFromToken(raw string) (client.Identity, error) {
	if raw == "" {
		return client.Identity{}, errors.New("no token: pass --token or set CHAT_TOKEN (see 'chatcli login')")
	}
	var claims auth.JWTClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return client.Identity{}, fmt.Errorf("malformed token: %w", err)
	}
	if claims.UserID == 0 {
		return client.Identity{}, errors.New("token carries no user id")
	}
	return client.Identity{UserID: claims.UserID, Token: raw}, nil
}

// newRESTClient builds an API client authenticated as id.
func newRESTClient(cfg client.Config, id *client.Identity) (*client.RESTClient, error) {
	rest, err := client.NewRESTClient(cfg.APIURL, cfg.Reconnect.AttemptTimeout)
	if err != nil {
		return nil, err
	}
	if id != nil {
		rest.SetIdentity(id.UserID, id.Token)
	}
	return rest, nil
}
