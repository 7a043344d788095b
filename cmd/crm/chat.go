package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/jconstantine618/ai-consulting-crm/internal/app"
	"github.com/jconstantine618/ai-consulting-crm/internal/assistant"
	"github.com/jconstantine618/ai-consulting-crm/internal/session"
	crmsdk "github.com/jconstantine618/ai-consulting-crm/sdk/go"
)

// chatBackend is either an in-process session or a remote server.
type chatBackend interface {
	Transcript(ctx context.Context) ([]assistant.ChatTurn, error)
	Send(ctx context.Context, text string) (assistant.Reply, error)
	Reset(ctx context.Context) error
}

type localChat struct {
	sessions *session.Manager
	userID   string
}

func (l localChat) Transcript(ctx context.Context) ([]assistant.ChatTurn, error) {
	s, err := l.sessions.Get(ctx, l.userID)
	if err != nil {
		return nil, err
	}
	return s.Pipeline.Transcript(), nil
}

func (l localChat) Send(ctx context.Context, text string) (assistant.Reply, error) {
	return l.sessions.Submit(ctx, l.userID, text)
}

func (l localChat) Reset(context.Context) error {
	return l.sessions.Reset(l.userID)
}

type remoteChat struct {
	client *crmsdk.Client
}

func (r remoteChat) Transcript(ctx context.Context) ([]assistant.ChatTurn, error) {
	chat, err := r.client.Chat(ctx)
	if err != nil {
		return nil, err
	}
	turns := make([]assistant.ChatTurn, 0, len(chat.Transcript))
	for _, t := range chat.Transcript {
		turns = append(turns, assistant.ChatTurn{Role: assistant.Role(t.Role), Text: t.Text})
	}
	return turns, nil
}

func (r remoteChat) Send(ctx context.Context, text string) (assistant.Reply, error) {
	resp, err := r.client.Send(ctx, text)
	if err != nil {
		return assistant.Reply{}, err
	}
	return assistant.Reply{
		Turn:    assistant.ChatTurn{Role: assistant.Role(resp.Reply.Turn.Role), Text: resp.Reply.Turn.Text},
		State:   assistant.State(resp.Reply.State),
		Outcome: resp.Reply.Outcome,
		Skipped: resp.Reply.Skipped,
	}, nil
}

func (r remoteChat) Reset(ctx context.Context) error {
	return r.client.ResetChat(ctx)
}

func chatCmd() *cobra.Command {
	var remote, token string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the CRM assistant",
		Long: `Describe a change in plain words ("add Jane from Acme as a contact", "the Acme deal is won").
The assistant asks for anything missing, then asks you to confirm; only "yes" or "y" saves.
Type /reset to start over and /quit to leave.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			workspace := viper.GetString("workspace")
			loadDotEnv(workspace)

			var backend chatBackend
			if remote != "" {
				client := crmsdk.New(remote)
				switch {
				case token != "":
					client.BearerToken = token
				case cmd.Flags().Changed("user-id"):
					client.UserID = viper.GetString("user-id")
				default:
					if _, err := client.SignInAnonymous(ctx); err != nil {
						return fmt.Errorf("sign in: %w", err)
					}
				}
				backend = remoteChat{client: client}
			} else {
				a, err := app.Open(ctx, app.Options{Workspace: workspace, Log: zap.NewNop()})
				if err != nil {
					return err
				}
				defer a.Close()
				ext, err := newExtractor(ctx, a.Config, a.Log)
				if err != nil {
					return err
				}
				sessions := session.NewManager(a.Engine, session.Options{
					Extractor:      ext,
					ExtractTimeout: a.Config.Assistant.ExtractTimeout,
					ExecuteTimeout: a.Config.Assistant.ExecuteTimeout,
					Log:            a.Log,
				})
				defer sessions.Close()
				backend = localChat{sessions: sessions, userID: app.UserID(viper.GetString("user-id"))}
			}
			return runChat(ctx, backend, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&remote, "remote", "", "server base URL, e.g. http://127.0.0.1:8080")
	cmd.Flags().StringVar(&token, "token", "", "bearer token for --remote (default: anonymous sign-in)")
	return cmd
}

func runChat(ctx context.Context, backend chatBackend, in io.Reader, out io.Writer) error {
	interactive := isTerminal(in) && isTerminal(out)
	render := newRenderer(out, interactive)

	transcript, err := backend.Transcript(ctx)
	if err != nil {
		return err
	}
	for _, turn := range transcript {
		printTurn(out, render, turn)
	}

	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			if err := backend.Reset(ctx); err != nil {
				return err
			}
			transcript, err := backend.Transcript(ctx)
			if err != nil {
				return err
			}
			if len(transcript) > 0 {
				printTurn(out, render, transcript[0])
			}
			continue
		}
		reply, err := backend.Send(ctx, line)
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			continue
		}
		if !reply.Skipped {
			printTurn(out, render, reply.Turn)
		}
	}
}

func printTurn(out io.Writer, render func(string) string, turn assistant.ChatTurn) {
	if turn.Role == assistant.RoleUser {
		fmt.Fprintf(out, "you: %s\n", turn.Text)
		return
	}
	fmt.Fprintln(out, render(turn.Text))
}

// newRenderer renders assistant markdown for terminals and passes text
// through unchanged otherwise.
func newRenderer(out io.Writer, interactive bool) func(string) string {
	plain := func(s string) string { return s }
	if !interactive {
		return plain
	}
	width := 80
	if f, ok := out.(*os.File); ok {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			width = w
		}
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
	if err != nil {
		return plain
	}
	return func(s string) string {
		rendered, err := r.Render(s)
		if err != nil {
			return s
		}
		return strings.TrimRight(rendered, "\n")
	}
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
