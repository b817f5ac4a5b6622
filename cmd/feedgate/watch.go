package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/omochice/socket-feed/internal/client"
	"github.com/omochice/socket-feed/internal/readside"
	"github.com/omochice/socket-feed/internal/reconcile"
	"github.com/omochice/socket-feed/pkg/protocol"
)

var kindColors = map[protocol.Kind]*color.Color{
	protocol.KindNewPost:        color.New(color.FgGreen, color.Bold),
	protocol.KindPostLiked:      color.New(color.FgGreen),
	protocol.KindPostUpdated:    color.New(color.FgGreen),
	protocol.KindPostDeleted:    color.New(color.FgHiRed),
	protocol.KindCommentAdded:   color.New(color.FgGreen),
	protocol.KindNotification:   color.New(color.FgYellow, color.Bold),
	protocol.KindNewMessage:     color.New(color.FgMagenta),
	protocol.KindUserTyping:     color.New(color.FgHiBlack),
	protocol.KindUserOnline:     color.New(color.FgCyan),
	protocol.KindUserOffline:    color.New(color.FgBlue),
	protocol.KindResyncRequired: color.New(color.FgRed, color.Bold),
}

type watchOptions struct {
	url           string
	api           string
	token         string
	conversations []string
	pageSize      int
}

func newWatchCmd() *cobra.Command {
	opts := watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the live feed as a reconciling client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.token == "" {
				opts.token = os.Getenv("FEEDGATE_TOKEN")
			}
			if opts.token == "" {
				return errors.New("a token is required (--token or FEEDGATE_TOKEN)")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "ws://127.0.0.1:8080/ws", "gateway websocket url")
	cmd.Flags().StringVar(&opts.api, "api", "http://127.0.0.1:5000", "read side base url")
	cmd.Flags().StringVarP(&opts.token, "token", "t", "", "bearer token")
	cmd.Flags().StringSliceVar(&opts.conversations, "conversation", nil, "conversation id to join (repeatable)")
	cmd.Flags().IntVar(&opts.pageSize, "page-size", reconcile.DefaultPageSize, "feed page size")
	return cmd
}

func runWatch(ctx context.Context, out io.Writer, opts watchOptions) error {
	self, err := client.SubjectFromToken(opts.token)
	if err != nil {
		return err
	}

	p := &printer{out: out}
	c := client.New(opts.url, opts.token, client.Options{})
	s := client.NewSession(c, self, readside.NewHTTPLister(opts.api, opts.token, nil),
		reconcile.WithPageSize(opts.pageSize),
		reconcile.WithOnChange(p.feed),
	)
	c.Subscribe(p.event)
	for _, id := range opts.conversations {
		if _, err := s.OpenConversation(id); err != nil {
			return err
		}
	}

	color.New(color.Faint).Fprintf(out, "watching %s as %s\n", opts.url, self)
	err = s.Run(ctx)
	if errors.Is(err, client.ErrUnauthorized) {
		return fmt.Errorf("gateway refused the token for %s", self)
	}
	return err
}

// printer serializes output from the read loop and feed fetches.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) event(_ context.Context, f protocol.Frame) error {
	payload, err := protojson.Marshal(f.Payload)
	if err != nil {
		payload = []byte("?")
	}
	c, ok := kindColors[f.Kind]
	if !ok {
		c = color.New(color.Reset)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	c.Fprintf(p.out, "%-16s", f.Kind)
	_, err = fmt.Fprintf(p.out, " %s\n", payload)
	return err
}

func (p *printer) feed(s reconcile.Snapshot) {
	if s.State == reconcile.Fetching {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	bold := color.New(color.Bold)
	bold.Fprintf(p.out, "feed: %d posts (next page %d, end %t)\n", len(s.Items), s.NextPage, s.End)
	for _, post := range s.Items {
		fmt.Fprintf(p.out, "  %s  %-12s %s  %s %d  %s %d\n",
			color.CyanString(post.ID), post.Author.Name, truncate(post.Content, 40),
			color.RedString("♥"), post.LikesCount, color.BlueString("✎"), len(post.Comments))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
