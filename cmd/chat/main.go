package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kmarchetti/go-chatsync/internal/config"
	"github.com/kmarchetti/go-chatsync/internal/rest"
	"github.com/kmarchetti/go-chatsync/internal/session"
	"github.com/kmarchetti/go-chatsync/internal/stream"
	"github.com/kmarchetti/go-chatsync/internal/types"
)

var (
	cfgPath      string
	username     string
	userId       string
	accessToken  string
	refreshToken string
	verbose      bool
)

func main() {
	root := &cobra.Command{
		Use:           "chat",
		Short:         "Terminal client for the chat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to TOML config file")
	root.PersistentFlags().StringVar(&username, "username", "", "username")
	root.PersistentFlags().StringVar(&userId, "user-id", "", "user id")
	root.PersistentFlags().StringVar(&accessToken, "token", "", "access token")
	root.PersistentFlags().StringVar(&refreshToken, "refresh-token", "", "refresh token")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(roomCmd(), dmCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func setup() (*config.Config, *session.Session, *stream.Conn, error) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if username == "" || userId == "" || accessToken == "" {
		return nil, nil, nil, fmt.Errorf("username, user-id and token are required")
	}

	creds := types.Credentials{Username: username, UserId: userId, Token: accessToken}

	var tokens rest.TokenSource = rest.StaticTokenSource(accessToken)
	if refreshToken != "" {
		tokens = rest.NewRefreshTokenSource(cfg.APIBaseURL+"/refresh", accessToken, refreshToken)
	}

	api, err := rest.NewClient(cfg.APIBaseURL, tokens, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	conn := stream.New(cfg, logger)
	sess, err := session.New(cfg, conn, api, creds, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	sess.Start()
	conn.Connect(creds)
	return cfg, sess, conn, nil
}

func roomCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "room <room-id>",
		Short: "Join a chat room and send/receive messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roomId, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid room id %q", args[0])
			}

			_, sess, conn, err := setup()
			if err != nil {
				return err
			}
			defer conn.Disconnect()
			defer sess.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := sess.OpenRoom(ctx, roomId); err != nil {
				return err
			}
			defer sess.LeaveRoom(roomId, "")

			go renderRoom(ctx, sess, roomId)
			go readInput(ctx, func(line string) {
				if err := sess.SendMessage(roomId, line, nil); err != nil {
					fmt.Fprintln(os.Stderr, "send failed:", err)
				}
			})

			<-ctx.Done()
			return nil
		},
	}
}

func dmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dm <user-id>",
		Short: "Open a direct message thread with a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			otherId, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q", args[0])
			}

			_, sess, conn, err := setup()
			if err != nil {
				return err
			}
			defer conn.Disconnect()
			defer sess.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := sess.OpenThread(ctx, otherId); err != nil {
				return err
			}
			defer sess.CloseThread("")

			go renderThread(ctx, sess)
			go readInput(ctx, func(line string) {
				if err := sess.SendDirect(line); err != nil {
					fmt.Fprintln(os.Stderr, "send failed:", err)
				}
			})

			<-ctx.Done()
			return nil
		},
	}
}

func renderRoom(ctx context.Context, sess *session.Session, roomId int64) {
	var lastId int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Updates():
		}

		snap, ok := sess.RoomSnapshot(roomId)
		if !ok {
			continue
		}
		for _, msg := range snap.Messages {
			if msg.Id <= lastId {
				continue
			}
			lastId = msg.Id
			fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Format("15:04:05"), msg.Username, msg.Message)
		}
	}
}

func renderThread(ctx context.Context, sess *session.Session) {
	var lastId int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Updates():
		}

		snap, ok := sess.ThreadSnapshot()
		if !ok {
			continue
		}
		for _, msg := range snap.Messages {
			if msg.Id <= lastId {
				continue
			}
			lastId = msg.Id
			fmt.Printf("[%s] %d: %s\n", msg.CreatedAt.Format("15:04:05"), msg.SenderId, msg.Message)
		}
	}
}

func readInput(ctx context.Context, send func(string)) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		send(line)
	}
}
