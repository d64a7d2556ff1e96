package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/chatsync/client"
	"github.com/example/chatsync/domain/chat"
	"github.com/spf13/cobra"
)

var (
	sendTo    int64
	sendGroup int64
	sendWait  time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send (--to <user> | --group <id>) <text>",
	Short: "Send a message and wait until it is delivered",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if (sendTo == 0) == (sendGroup == 0) {
			return errors.New("exactly one of --to and --group is required")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		id, err := identityFromToken(token)
		if err != nil {
			return err
		}

		sess, err := client.NewSession(cfg, client.WithLogger(newLogger()))
		if err != nil {
			return err
		}

		states := make(chan client.ConnectionState, 8)
		sess.On("cli", client.EventStateChanged, func(ev client.Event) {
			select {
			case states <- ev.State.To:
			default:
			}
		})
		deliveries := make(chan chat.Message, 16)
		sess.On("cli", client.EventDeliveryChanged, func(ev client.Event) {
			select {
			case deliveries <- *ev.Message:
			default:
			}
		})

		timeout := time.After(sendWait)
		if err := sess.Open(cmd.Context(), id); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer sess.Close()

	wait:
		for {
			select {
			case state := <-states:
				switch state {
				case client.StateConnected:
					break wait
				case client.StateDisconnected:
					return fmt.Errorf("connect: %w", sess.LastError())
				}
			case <-timeout:
				return fmt.Errorf("not connected within %s", sendWait)
			}
		}

		text := strings.Join(args, " ")
		var msg chat.Message
		if sendGroup != 0 {
			msg, err = sess.SendGroup(sendGroup, text)
		} else {
			msg, err = sess.SendDirect(sendTo, text)
		}
		if err != nil {
			return fmt.Errorf("send: %w", err)
		}

		for {
			select {
			case d := <-deliveries:
				if d.ID != msg.ID || d.State == chat.StatePending {
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), formatDelivery(d))
				if d.State == chat.StateFailed {
					return errors.New("message was not delivered")
				}
				return nil
			case <-timeout:
				fmt.Fprintln(cmd.OutOrStdout(), formatDelivery(msg))
				return fmt.Errorf("no delivery confirmation within %s", sendWait)
			}
		}
	},
}

func init() {
	sendCmd.Flags().Int64Var(&sendTo, "to", 0, "Recipient user id")
	sendCmd.Flags().Int64Var(&sendGroup, "group", 0, "Group id")
	sendCmd.Flags().DurationVar(&sendWait, "wait", 10*time.Second, "How long to wait for delivery")
	rootCmd.AddCommand(sendCmd)
}
