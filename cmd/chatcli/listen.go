package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/chatsync/client"
	"github.com/spf13/cobra"
)

var listenGroups []int64

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Stream live messages until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		id, err := identityFromToken(token)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sess, err := client.NewSession(cfg, client.WithLogger(newLogger()))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		terminated := make(chan error, 1)
		sess.On("cli", client.EventStateChanged, func(ev client.Event) {
			fmt.Fprintln(out, formatState(*ev.State))
			if ev.State.To == client.StateDisconnected && ev.State.Err != nil {
				select {
				case terminated <- ev.State.Err:
				default:
				}
			}
		})
		printMessage := func(ev client.Event) {
			fmt.Fprintln(out, formatMessage(*ev.Message, id.UserID))
		}
		sess.On("cli", client.EventNewMessage, printMessage)
		sess.On("cli", client.EventNewGroupMessage, printMessage)
		sess.On("cli", client.EventMessageDeleted, func(ev client.Event) {
			fmt.Fprintf(out, "%s %s deleted\n", roomStyle.Render(string(ev.Room)), idStyle.Render(ev.MessageID))
		})
		sess.On("cli", client.EventError, func(ev client.Event) {
			fmt.Fprintln(out, errorStyle.Render("broker: "+ev.Err.Error()))
		})

		for _, g := range listenGroups {
			if err := sess.JoinGroup(g); err != nil {
				return err
			}
		}
		if err := sess.Open(ctx, id); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer sess.Close()

		select {
		case <-ctx.Done():
			return nil
		case err := <-terminated:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	},
}

func init() {
	listenCmd.Flags().Int64SliceVarP(&listenGroups, "group", "g", nil, "Group id to join (repeatable)")
	rootCmd.AddCommand(listenCmd)
}
