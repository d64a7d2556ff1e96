package main

import (
	"errors"
	"fmt"

	"github.com/example/chatsync/client"
	"github.com/example/chatsync/domain/chat"
	"github.com/spf13/cobra"
)

var (
	historyPeer  int64
	historyGroup int64
)

var historyCmd = &cobra.Command{
	Use:   "history (--peer <user> | --group <id>)",
	Short: "Print a conversation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		room, id, err := historyTarget()
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rest, err := newRESTClient(cfg, &id)
		if err != nil {
			return err
		}

		reconciler := client.NewReconciler(rest, cfg.Retention, newLogger())
		view, err := reconciler.Reconcile(cmd.Context(), room)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(view) == 0 {
			fmt.Fprintln(out, timeStyle.Render("no messages in "+string(room)))
			return nil
		}
		for _, msg := range view {
			fmt.Fprintln(out, formatMessage(msg, id.UserID))
		}
		return nil
	},
}

func historyTarget() (chat.RoomID, client.Identity, error) {
	if (historyPeer == 0) == (historyGroup == 0) {
		return "", client.Identity{}, errors.New("exactly one of --peer and --group is required")
	}
	id, err := identityFromToken(token)
	if err != nil {
		return "", id, err
	}
	if historyGroup != 0 {
		return chat.GroupRoom(historyGroup), id, nil
	}
	return chat.DirectRoom(id.UserID, historyPeer), id, nil
}

func init() {
	historyCmd.Flags().Int64Var(&historyPeer, "peer", 0, "Direct conversation with this user id")
	historyCmd.Flags().Int64Var(&historyGroup, "group", 0, "Group id")
	rootCmd.AddCommand(historyCmd)
}
