package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/veepo/veeposync/internal/domain"
	"github.com/veepo/veeposync/internal/georank"
)

const timeLayout = "2006-01-02 15:04"

func writeRanked(w io.Writer, ranked []georank.Ranked, withScore bool) {
	if len(ranked) == 0 {
		fmt.Fprintln(w, "no providers found")

		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	header := "#\tID\tNAME\tCITY\tPLAN"
	if withScore {
		header += "\tSCORE"
	}
	fmt.Fprintln(tw, header+"\tDISTANCE")
	for i, r := range ranked {
		p := r.Provider
		line := fmt.Sprintf("%d\t%s\t%s\t%s\t%s", i+1, p.ID, providerName(p), cityState(p), p.Plan)
		if withScore {
			line += fmt.Sprintf("\t%.3f", r.Score)
		}
		fmt.Fprintln(tw, line+"\t"+formatDistance(r))
	}
	_ = tw.Flush()
}

func writeConversations(w io.Writer, items []domain.Conversation) {
	if len(items) == 0 {
		fmt.Fprintln(w, "no conversations")

		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWITH\tLAST ACTIVITY\tLAST MESSAGE")
	for _, c := range items {
		with := strings.TrimSpace(c.OtherName)
		if with == "" {
			with = c.OtherParticipantID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, with, formatTime(c.ActivityAt()), truncate(c.LastMessage, 40))
	}
	_ = tw.Flush()
}

func formatNotification(e domain.Entry[domain.Notification]) string {
	n := e.Value
	state := "unread"
	if n.IsRead {
		state = "read"
	}
	if e.Pending {
		state += "*"
	}

	return fmt.Sprintf("%s [%s] %s %s: %s", formatTime(n.CreatedAt), state, n.ID, n.Type, strings.TrimSpace(n.Message))
}

func formatMessage(m domain.Message, userID string) string {
	from := m.SenderID
	if m.SenderID == userID {
		from = "me"
	}

	return fmt.Sprintf("%s %s: %s", formatTime(m.CreatedAt), from, m.Content)
}

func providerName(p domain.Provider) string {
	if name := strings.TrimSpace(p.BusinessName); name != "" {
		return name
	}

	return strings.TrimSpace(p.Name)
}

func cityState(p domain.Provider) string {
	switch {
	case p.City != "" && p.State != "":
		return p.City + "/" + p.State
	case p.City != "":
		return p.City
	default:
		return p.State
	}
}

func formatDistance(r georank.Ranked) string {
	if !r.HasDistance {
		return "-"
	}
	if r.DistanceMeters < 1000 {
		return fmt.Sprintf("%.0f m", r.DistanceMeters)
	}

	return fmt.Sprintf("%.1f km", r.DistanceMeters/1000)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	return t.Local().Format(timeLayout)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}

	return string(runes[:n-1]) + "…"
}
