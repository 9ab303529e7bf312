package main

import (
	"github.com/spf13/pflag"

	"github.com/veepo/veeposync/internal/app"
	"github.com/veepo/veeposync/internal/bus"
	"github.com/veepo/veeposync/internal/connectors"
)

func tailCommand() *command {
	return &command{
		Name:    "tail",
		Summary: "Follow live notifications and, optionally, one conversation",
		Usage:   "tail [--conversation id]",
		Flags: func(fs *pflag.FlagSet) func(*env, []string) error {
			conversationID := fs.StringP("conversation", "c", "", "also follow this conversation")

			return func(e *env, _ []string) error {
				rt, err := e.runtime()
				if err != nil {
					return err
				}

				connSub := rt.Bus.Subscribe(connectors.TopicConnStatus)
				defer bus.Release(rt.Bus, connSub, connectors.TopicConnStatus)

				if err := rt.StartLive(); err != nil {
					return err
				}
				if *conversationID != "" {
					if err := rt.Messages.Open(e.ctx, *conversationID); err != nil {
						return err
					}
				}

				t := newTailer(e, rt)
				t.printNotifications()
				t.printMessages()

				for {
					select {
					case <-e.ctx.Done():
						return nil
					case raw, ok := <-connSub:
						if !ok {
							return nil
						}
						if status, ok := raw.(connectors.ConnectionStatus); ok {
							t.printStatus(status)
						}
					case <-rt.Notifications.Changes():
						t.printNotifications()
					case <-rt.Messages.Changes():
						t.printMessages()
						if err := rt.Messages.Err(); err != nil {
							return err
						}
					}
				}
			}
		},
	}
}

// tailer prints each confirmed record once. Read-state changes of already
// printed notifications are printed again.
type tailer struct {
	e             *env
	rt            *app.Runtime
	notifications map[string]bool
	messages      map[string]struct{}
}

func newTailer(e *env, rt *app.Runtime) *tailer {
	return &tailer{
		e:             e,
		rt:            rt,
		notifications: make(map[string]bool),
		messages:      make(map[string]struct{}),
	}
}

func (t *tailer) printNotifications() {
	entries := t.rt.Notifications.Entries()
	// Entries are newest first; print oldest first like a log.
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if entry.Pending {
			continue
		}
		read, seen := t.notifications[entry.Value.ID]
		if seen && read == entry.Value.IsRead {
			continue
		}
		t.notifications[entry.Value.ID] = entry.Value.IsRead
		t.e.printf("notification %s\n", formatNotification(entry))
	}
}

func (t *tailer) printMessages() {
	for _, entry := range t.rt.Messages.Entries() {
		if entry.Pending || entry.Value.IsTemporary() {
			continue
		}
		if _, seen := t.messages[entry.Value.ID]; seen {
			continue
		}
		t.messages[entry.Value.ID] = struct{}{}
		t.e.printf("message %s\n", formatMessage(entry.Value, t.rt.Session.UserID))
	}
}

func (t *tailer) printStatus(status connectors.ConnectionStatus) {
	if status.Err != "" {
		t.e.printf("-- realtime %s: %s\n", status.State, status.Err)

		return
	}
	t.e.printf("-- realtime %s\n", status.State)
}

