package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/veepo/veeposync/internal/app"
	"github.com/veepo/veeposync/internal/domain"
	"github.com/veepo/veeposync/internal/georank"
	"github.com/veepo/veeposync/internal/presence"
)

func commands() []*command {
	return []*command{
		tailCommand(),
		sendCommand(),
		startCommand(),
		readCommand(),
		conversationsCommand(),
		searchCommand(),
		nearbyCommand(),
		rankCommand(),
		availabilityCommand("online", true),
		availabilityCommand("offline", false),
		clearCacheCommand(),
		versionCommand(),
	}
}

func sendCommand() *command {
	return &command{
		Name:    "send",
		Summary: "Send a message to a conversation",
		Usage:   "send --conversation <id> <text>",
		Flags: func(fs *pflag.FlagSet) func(*env, []string) error {
			conversationID := fs.StringP("conversation", "c", "", "conversation id")

			return func(e *env, args []string) error {
				rt, err := e.runtime()
				if err != nil {
					return err
				}
				rt.Realtime.Start(e.ctx)
				if err := rt.Messages.Open(e.ctx, *conversationID); err != nil {
					return err
				}

				res := <-rt.Messages.Send(e.ctx, strings.Join(args, " "))
				if res.Err != nil {
					return res.Err
				}
				e.printf("sent %s\n", res.Message.ID)

				return nil
			}
		},
	}
}

func startCommand() *command {
	return &command{
		Name:    "start",
		Summary: "Start a conversation with a user and send the first message",
		Usage:   "start --to <user-id> <text>",
		Flags: func(fs *pflag.FlagSet) func(*env, []string) error {
			receiverID := fs.String("to", "", "user id of the other participant")

			return func(e *env, args []string) error {
				rt, err := e.runtime()
				if err != nil {
					return err
				}
				if err := rt.Conversations.Start(e.ctx, *receiverID, strings.Join(args, " ")); err != nil {
					return err
				}
				for _, c := range rt.Conversations.Items() {
					if c.OtherParticipantID == strings.TrimSpace(*receiverID) {
						e.printf("conversation %s\n", c.ID)

						return nil
					}
				}
				e.printf("message sent\n")

				return nil
			}
		},
	}
}

func readCommand() *command {
	return &command{
		Name:    "read",
		Summary: "Mark notifications as read",
		Usage:   "read <notification-id>...",
		Flags: func(fs *pflag.FlagSet) func(*env, []string) error {
			return func(e *env, args []string) error {
				if len(args) == 0 {
					return errors.New("read: at least one notification id is required")
				}
				rt, err := e.runtime()
				if err != nil {
					return err
				}
				if err := rt.StartLive(); err != nil {
					return err
				}

				var errs []error
				for _, id := range args {
					if err := rt.Notifications.MarkRead(e.ctx, id); err != nil {
						errs = append(errs, err)

						continue
					}
					e.printf("read %s\n", id)
				}
				e.printf("%d unread\n", rt.Notifications.UnreadCount())

				return errors.Join(errs...)
			}
		},
	}
}

func conversationsCommand() *command {
	return &command{
		Name:    "conversations",
		Summary: "List conversations, most recently active first",
		Usage:   "conversations [--cached]",
		Flags: func(fs *pflag.FlagSet) func(*env, []string) error {
			cached := fs.Bool("cached", false, "list the local cache without contacting the backend")

			return func(e *env, _ []string) error {
				rt, err := e.runtime()
				if err != nil {
					return err
				}
				items := []domain.Conversation(nil)
				if *cached {
					items, err = rt.ConversationRepo.ListByActivity(e.ctx)
				} else {
					err = rt.Conversations.Refresh(e.ctx)
					items = rt.Conversations.Items()
				}
				if err != nil {
					return err
				}
				writeConversations(e.out, items)

				return nil
			}
		},
	}
}

func searchCommand() *command {
	return &command{
		Name:    "search",
		Summary: "Search providers by name and location attributes",
		Usage:   "search [--query text] [--state s] [--city c] [--segment s]",
		Flags: func(fs *pflag.FlagSet) func(*env, []string) error {
			criteria := criteriaFlags(fs)

			return func(e *env, _ []string) error {
				rt, err := e.runtime()
				if err != nil {
					return err
				}
				providers, err := rt.SearchProviders(e.ctx, *criteria)
				if err != nil {
					return err
				}
				ranked := make([]georank.Ranked, 0, len(providers))
				for _, p := range providers {
					ranked = append(ranked, georank.Ranked{Provider: p})
				}
				writeRanked(e.out, ranked, false)

				return nil
			}
		},
	}
}

func nearbyCommand() *command {
	return &command{
		Name:    "nearby",
		Summary: "List providers around a point, closest first",
		Usage:   "nearby --lat <deg> --lon <deg> [--radius meters]",
		Flags: func(fs *pflag.FlagSet) func(*env, []string) error {
			center := pointFlags(fs)
			radius := fs.Float64("radius", 0, "search radius in meters (default from config)")

			return func(e *env, _ []string) error {
				if !fs.Changed("lat") || !fs.Changed("lon") {
					return errors.New("nearby: --lat and --lon are required")
				}
				rt, err := e.runtime()
				if err != nil {
					return err
				}
				ranked, err := rt.NearbyProviders(e.ctx, *center, *radius)
				if err != nil {
					return err
				}
				writeRanked(e.out, ranked, false)

				return nil
			}
		},
	}
}

func rankCommand() *command {
	return &command{
		Name:    "rank",
		Summary: "Rank providers by the composite score",
		Usage:   "rank [--query text] [--lat deg --lon deg [--radius meters]] [--cached]",
		Flags: func(fs *pflag.FlagSet) func(*env, []string) error {
			criteria := criteriaFlags(fs)
			center := pointFlags(fs)
			radius := fs.Float64("radius", 0, "restrict to this radius in meters around --lat/--lon")
			cached := fs.Bool("cached", false, "rank the local provider cache without contacting the backend")

			return func(e *env, _ []string) error {
				req := app.RankRequest{Criteria: *criteria, RadiusMeters: *radius, Cached: *cached}
				switch {
				case fs.Changed("lat") && fs.Changed("lon"):
					req.Center = center
				case fs.Changed("lat") || fs.Changed("lon"):
					return errors.New("rank: --lat and --lon must be given together")
				}
				rt, err := e.runtime()
				if err != nil {
					return err
				}
				ranked, err := rt.RankProviders(e.ctx, req)
				if err != nil {
					return err
				}
				writeRanked(e.out, ranked, true)

				return nil
			}
		},
	}
}

func availabilityCommand(name string, online bool) *command {
	c := &command{
		Name:    name,
		Summary: "Mark yourself unavailable for new clients",
		Usage:   name,
	}
	if online {
		c.Summary = "Mark yourself available and share your location"
		c.Usage = name + " [--lat deg --lon deg]"
	}
	c.Flags = func(fs *pflag.FlagSet) func(*env, []string) error {
		var center *georank.Point
		if online {
			center = pointFlags(fs)
		}

		return func(e *env, _ []string) error {
			if online && fs.Changed("lat") != fs.Changed("lon") {
				return fmt.Errorf("%s: --lat and --lon must be given together", name)
			}
			if online && fs.Changed("lat") {
				e.opts.Locator = presence.StaticLocator{Location: &domain.Location{
					Latitude:  center.Latitude,
					Longitude: center.Longitude,
				}}
			}
			rt, err := e.runtime()
			if err != nil {
				return err
			}
			if err := rt.Presence.Load(e.ctx); err != nil {
				return err
			}

			out := <-rt.Presence.Toggle(e.ctx, online)
			if out.Err != nil {
				return out.Err
			}
			e.printf("%s\n", rt.Presence.State().Phase)

			return nil
		}
	}

	return c
}

func clearCacheCommand() *command {
	return &command{
		Name:    "clear-cache",
		Summary: "Delete every locally cached record",
		Usage:   "clear-cache",
		Flags: func(*pflag.FlagSet) func(*env, []string) error {
			return func(e *env, _ []string) error {
				rt, err := e.runtime()
				if err != nil {
					return err
				}

				return rt.ClearCache(e.ctx)
			}
		},
	}
}

func versionCommand() *command {
	return &command{
		Name:    "version",
		Summary: "Print the version",
		Usage:   "version",
		Flags: func(*pflag.FlagSet) func(*env, []string) error {
			return func(e *env, _ []string) error {
				e.printf("%s %s\n", binaryName, app.BuildVersionWithDate())

				return nil
			}
		},
	}
}

func criteriaFlags(fs *pflag.FlagSet) *georank.Criteria {
	c := &georank.Criteria{}
	fs.StringVarP(&c.Text, "query", "q", "", "substring of the provider or business name")
	fs.StringVar(&c.State, "state", "", "state")
	fs.StringVar(&c.City, "city", "", "city")
	fs.StringVar(&c.Segment, "segment", "", "business segment")

	return c
}

func pointFlags(fs *pflag.FlagSet) *georank.Point {
	p := &georank.Point{}
	fs.Float64Var(&p.Latitude, "lat", 0, "latitude in degrees")
	fs.Float64Var(&p.Longitude, "lon", 0, "longitude in degrees")

	return p
}
