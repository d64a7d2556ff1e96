package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/example/chatsync/client"
	"github.com/example/chatsync/domain/chat"
)

var (
	// Styles
	senderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	selfStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	roomStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Italic(true)

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	stateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

var deliveryStyles = map[chat.DeliveryState]lipgloss.Style{
	chat.StatePending:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	chat.StateDelivered: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	chat.StateFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
}

// formatMessage renders one message line as seen by self.
func formatMessage(msg chat.Message, self int64) string {
	sender := senderStyle.Render(fmt.Sprintf("user %d", msg.SenderID))
	if msg.SenderID == self {
		sender = selfStyle.Render("you")
	}
	return fmt.Sprintf("%s %s %s: %s",
		timeStyle.Render(msg.CreatedAt.Local().Format(time.TimeOnly)),
		roomStyle.Render(string(msg.Conversation())),
		sender,
		msg.Content,
	)
}

// formatState renders a connection state transition.
func formatState(sc client.StateChange) string {
	line := stateStyle.Render(fmt.Sprintf("[%s → %s]", sc.From, sc.To))
	if sc.Attempt > 0 {
		line += timeStyle.Render(fmt.Sprintf(" attempt %d", sc.Attempt))
	}
	if sc.Err != nil {
		line += " " + errorStyle.Render(sc.Err.Error())
	}
	return line
}

// formatDelivery renders the delivery state of a sent message.
func formatDelivery(msg chat.Message) string {
	style, ok := deliveryStyles[msg.State]
	if !ok {
		style = lipgloss.NewStyle()
	}
	return fmt.Sprintf("%s %s", style.Render(string(msg.State)), idStyle.Render(msg.ID))
}
