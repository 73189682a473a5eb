package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/tcap/internal/app"
	"github.com/hpungsan/tcap/internal/capsule"
	"github.com/hpungsan/tcap/internal/errors"
	"github.com/hpungsan/tcap/internal/ops"
	"github.com/hpungsan/tcap/internal/upload"
	"github.com/hpungsan/tcap/internal/web"
)

// Stdin limits
const (
	maxMessageBytes  = 1 << 20
	maxPasswordBytes = 1 << 10
)

// newCLIApp creates the CLI application with all commands.
// rt is nil when only help or version output is needed.
func newCLIApp(rt *runtime) *cli.App {
	app := &cli.App{
		Name:    "tcap",
		Usage:   "Schedule time capsules for email delivery",
		Version: Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Usage: "Log requests and session checks to stderr"},
		},
		Before: func(c *cli.Context) error {
			if rt != nil && c.Bool("verbose") {
				rt.level.Set(slog.LevelDebug)
			}
			return nil
		},
		Commands: []*cli.Command{
			registerCmd(rt),
			verifyCmd(rt),
			resendCmd(rt),
			loginCmd(rt),
			logoutCmd(rt),
			whoamiCmd(rt),
			listCmd(rt),
			getCmd(rt),
			createCmd(rt),
			updateCmd(rt),
			deleteCmd(rt),
			serveCmd(rt),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// messageOutput is printed by the account commands.
type messageOutput struct {
	Message string `json:"message"`
	Email   string `json:"email,omitempty"`
}

// sessionOutput describes the current login.
type sessionOutput struct {
	LoggedIn  bool       `json:"logged_in"`
	Email     string     `json:"email,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func emailFlag() cli.Flag {
	return &cli.StringFlag{Name: "email", Aliases: []string{"e"}, Usage: "Account email"}
}

func passwordFlag() cli.Flag {
	return &cli.StringFlag{Name: "password", Aliases: []string{"p"}, EnvVars: []string{"TCAP_PASSWORD"}, Usage: "Account password (or pipe it via stdin)"}
}

// registerCmd creates the register command.
func registerCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "Create an account; a verification code is emailed",
		Flags: []cli.Flag{emailFlag(), passwordFlag()},
		Action: func(c *cli.Context) error {
			password, err := passwordFrom(c)
			if err != nil {
				return outputError(err)
			}
			email := strings.TrimSpace(c.String("email"))
			if err := rt.sessions.Register(c.Context, email, password); err != nil {
				return outputError(err)
			}
			return outputJSON(messageOutput{
				Message: "Registration successful! Please check your email for verification.",
				Email:   email,
			})
		},
	}
}

// verifyCmd creates the verify command.
func verifyCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Confirm an account with the emailed code",
		Flags: []cli.Flag{
			emailFlag(),
			&cli.StringFlag{Name: "code", Aliases: []string{"c"}, Required: true, Usage: "Verification code"},
		},
		Action: func(c *cli.Context) error {
			email := strings.TrimSpace(c.String("email"))
			if err := rt.sessions.VerifyEmail(c.Context, email, strings.TrimSpace(c.String("code"))); err != nil {
				return outputError(err)
			}
			return outputJSON(messageOutput{Message: "Email verified successfully! You can now log in.", Email: email})
		},
	}
}

// resendCmd creates the resend-code command.
func resendCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "resend-code",
		Usage: "Email a new verification code",
		Flags: []cli.Flag{emailFlag()},
		Action: func(c *cli.Context) error {
			email := strings.TrimSpace(c.String("email"))
			if err := rt.sessions.ResendVerificationCode(c.Context, email); err != nil {
				return outputError(err)
			}
			return outputJSON(messageOutput{Message: "Verification code resent!", Email: email})
		},
	}
}

// loginCmd creates the login command.
func loginCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Log in; the session is kept for later commands",
		Flags: []cli.Flag{emailFlag(), passwordFlag()},
		Action: func(c *cli.Context) error {
			password, err := passwordFrom(c)
			if err != nil {
				return outputError(err)
			}
			sess, err := rt.sessions.Login(c.Context, c.String("email"), password)
			if err != nil {
				return outputError(err)
			}
			exp := sess.ExpiresAt
			return outputJSON(sessionOutput{LoggedIn: true, Email: sess.Email, ExpiresAt: &exp})
		},
	}
}

// logoutCmd creates the logout command.
func logoutCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Forget the stored session",
		Action: func(c *cli.Context) error {
			rt.sessions.Logout(c.Context)
			return outputJSON(messageOutput{Message: "Logged out successfully"})
		},
	}
}

// whoamiCmd creates the whoami command.
func whoamiCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "Show the logged-in user",
		Action: func(c *cli.Context) error {
			sess := rt.sessions.CurrentSession(c.Context)
			if sess == nil {
				return outputJSON(sessionOutput{})
			}
			exp := sess.ExpiresAt
			return outputJSON(sessionOutput{LoggedIn: true, Email: sess.Email, ExpiresAt: &exp})
		},
	}
}

// listCmd creates the list command.
func listCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List your capsules, most recent first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Filter: pending|delivered|failed"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum items to return"},
			&cli.StringFlag{Name: "last-key", Usage: "Cursor from the previous page"},
		},
		Action: func(c *cli.Context) error {
			if err := requireLogin(c, rt); err != nil {
				return outputError(err)
			}

			output, err := ops.List(c.Context, rt.deps, ops.ListInput{
				Status:  capsule.Status(c.String("status")),
				Limit:   c.Int("limit"),
				LastKey: c.String("last-key"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// getCmd creates the get command.
func getCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show one capsule",
		ArgsUsage: "<id>",
		Action: idAction(func(c *cli.Context) error {
			if err := requireLogin(c, rt); err != nil {
				return outputError(err)
			}

			output, err := ops.Get(c.Context, rt.deps, ops.GetInput{ID: c.Args().First()})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		}),
	}
}

// idAction lets flags follow the positional id ("update <id> --title X").
// cli stops parsing flags at the first argument, so the command runs again
// with every flag ahead of the id.
func idAction(action cli.ActionFunc) cli.ActionFunc {
	return func(c *cli.Context) error {
		tail := c.Args().Tail()
		if len(tail) == 0 || !strings.HasPrefix(tail[0], "-") {
			return action(c)
		}
		args := []string{c.App.Name, c.Command.Name}
		for _, f := range c.Command.Flags {
			name := f.Names()[0]
			if !c.IsSet(name) {
				continue
			}
			if _, ok := f.(*cli.StringSliceFlag); ok {
				for _, v := range c.StringSlice(name) {
					args = append(args, "--"+name+"="+v)
				}
				continue
			}
			args = append(args, "--"+name+"="+c.String(name))
		}
		args = append(args, tail...)
		return c.App.RunContext(c.Context, append(args, c.Args().First()))
	}
}

// capsuleFlags are shared by create and update.
func capsuleFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Capsule title"},
		&cli.StringFlag{Name: "to", Usage: "Recipient email"},
		&cli.StringFlag{Name: "date", Aliases: []string{"d"}, Usage: "Delivery time: 2030-01-31T09:00 (local) or RFC 3339"},
		&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Usage: "Message in Markdown (or pipe it via stdin)"},
		&cli.StringFlag{Name: "occasion", Usage: "birthday, anniversary, graduation, ..."},
		&cli.StringFlag{Name: "tags", Usage: "Comma-separated tags"},
		&cli.StringSliceFlag{Name: "file", Aliases: []string{"f"}, Usage: "Image to attach (repeatable, max 5, 10MB each)"},
	}
}

// createCmd creates the create command.
func createCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Schedule a new capsule",
		Flags: capsuleFlags(),
		Action: func(c *cli.Context) error {
			if err := requireLogin(c, rt); err != nil {
				return outputError(err)
			}

			draft := capsule.Draft{
				Title:          strings.TrimSpace(c.String("title")),
				Occasion:       strings.TrimSpace(c.String("occasion")),
				RecipientEmail: strings.TrimSpace(c.String("to")),
				Message:        c.String("message"),
				Tags:           capsule.ParseTags(c.String("tags")),
				Attachments:    []string{},
			}
			if draft.Message == "" && stdinHasData() {
				text, err := readStdin(maxMessageBytes)
				if err != nil {
					return outputError(errors.NewValidation(err.Error()))
				}
				draft.Message = text
			}
			if date := c.String("date"); date != "" {
				ts, err := capsule.ParseSchedule(date, rt.cfg.Location())
				if err != nil {
					return outputError(err)
				}
				draft.ScheduledDate = ts
			}

			files, err := readFiles(c.StringSlice("file"))
			if err != nil {
				return outputError(err)
			}

			output, err := ops.Create(c.Context, rt.deps, ops.CreateInput{
				Draft:      draft,
				Files:      files,
				OnProgress: rt.progress,
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// updateCmd creates the update command.
func updateCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "update",
		Usage:     "Change a pending capsule; --file appends attachments",
		ArgsUsage: "<id>",
		Flags:     capsuleFlags(),
		Action: idAction(func(c *cli.Context) error {
			if err := requireLogin(c, rt); err != nil {
				return outputError(err)
			}

			var patch capsule.Patch
			if c.IsSet("title") {
				title := strings.TrimSpace(c.String("title"))
				patch.Title = &title
			}
			if c.IsSet("to") {
				to := strings.TrimSpace(c.String("to"))
				patch.RecipientEmail = &to
			}
			if c.IsSet("message") {
				message := c.String("message")
				patch.Message = &message
			}
			if c.IsSet("occasion") {
				occasion := strings.TrimSpace(c.String("occasion"))
				patch.Occasion = &occasion
			}
			if c.IsSet("tags") {
				tags := capsule.ParseTags(c.String("tags"))
				patch.Tags = &tags
			}
			if c.IsSet("date") {
				ts, err := capsule.ParseSchedule(c.String("date"), rt.cfg.Location())
				if err != nil {
					return outputError(err)
				}
				patch.ScheduledDate = &ts
			}

			files, err := readFiles(c.StringSlice("file"))
			if err != nil {
				return outputError(err)
			}

			id := c.Args().First()
			current, err := ops.Get(c.Context, rt.deps, ops.GetInput{ID: id})
			if err != nil {
				return outputError(err)
			}

			output, err := ops.Update(c.Context, rt.deps, ops.UpdateInput{
				ID:         id,
				Current:    current,
				Patch:      patch,
				Files:      files,
				OnProgress: rt.progress,
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		}),
	}
}

// deleteCmd creates the delete command.
func deleteCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a pending capsule",
		ArgsUsage: "<id>",
		Action: idAction(func(c *cli.Context) error {
			if err := requireLogin(c, rt); err != nil {
				return outputError(err)
			}

			id := c.Args().First()
			current, err := ops.Get(c.Context, rt.deps, ops.GetInput{ID: id})
			if err != nil {
				return outputError(err)
			}

			output, err := ops.Delete(c.Context, rt.deps, ops.DeleteInput{ID: id, Current: current})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		}),
	}
}

// serveCmd creates the serve command.
func serveCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the web dashboard",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind to"},
			&cli.IntFlag{Name: "port", Value: 7341, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			flash := web.NewFlash()
			a := app.New(rt.sessions, rt.deps, flash, app.Options{
				Location: rt.cfg.Location(),
				Logger:   rt.logger,
			})
			// Restores a persisted session; a failed check lands on the logged-out landing page
			_ = a.Dispatch(c.Context, app.Start{})

			srv := web.NewServer(a, flash, Version, c.String("bind"), c.Int("port"))
			if err := web.Run(srv); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// Helper functions

// requireLogin rehydrates the stored session and refuses to continue without one.
func requireLogin(c *cli.Context, rt *runtime) error {
	if rt.sessions.CurrentSession(c.Context) == nil {
		return errors.NewAuth(errors.ReasonNoSession, "Not logged in. Run `tcap login` first.", nil)
	}
	return nil
}

// progress logs each finished upload.
func (rt *runtime) progress(p upload.Progress) {
	rt.logger.Info(p.String(), "percent", p.Percent())
}

// passwordFrom reads --password, falling back to piped stdin.
func passwordFrom(c *cli.Context) (string, error) {
	if p := c.String("password"); p != "" {
		return p, nil
	}
	if !stdinHasData() {
		return "", nil
	}
	p, err := readStdin(maxPasswordBytes)
	if err != nil {
		return "", errors.NewValidation(err.Error())
	}
	return p, nil
}

func readFiles(paths []string) ([]upload.File, error) {
	files := make([]upload.File, 0, len(paths))
	for _, p := range paths {
		f, err := upload.FromPath(p)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	return cli.Exit(describe(err), 1)
}

// describe renders err as "[CODE] message", naming the config fields at fault.
func describe(err error) string {
	var tErr *errors.TcapError
	if !errors.As(err, &tErr) {
		return err.Error()
	}
	msg := fmt.Sprintf("[%s] %s", tErr.Code, tErr.Message)
	if fields, ok := tErr.Details["fields"].([]string); ok && len(fields) > 0 {
		msg += " (check: " + strings.Join(fields, ", ") + ")"
	}
	return msg
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads at most maxBytes from stdin.
func readStdin(maxBytes int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, maxBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > maxBytes {
		return "", fmt.Errorf("stdin exceeds %d bytes", maxBytes)
	}
	return strings.TrimSpace(string(data)), nil
}
