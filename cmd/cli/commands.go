package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/and161185/duochat/internal/convert"
)

func registerCmd(a *app) *cobra.Command {
	var username, email, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and save the token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, _ := a.api(false)
			ctx, cancel := request(cmd)
			defer cancel()
			s, err := api.Register(ctx, username, email, password)
			if err != nil {
				return err
			}
			if err := a.saveSession(s); err != nil {
				return err
			}
			a.printJSON(s.User)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "display name")
	cmd.Flags().StringVarP(&email, "email", "e", "", "email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password, at least 6 characters")
	for _, f := range []string{"username", "email", "password"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func loginCmd(a *app) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and save the token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, _ := a.api(false)
			ctx, cancel := request(cmd)
			defer cancel()
			s, err := api.Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := a.saveSession(s); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "signed in as %s\n", s.User.Username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func whoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := a.api(true)
			if err != nil {
				return err
			}
			ctx, cancel := request(cmd)
			defer cancel()
			u, err := api.Profile(ctx)
			if err != nil {
				return err
			}
			a.printJSON(u)
			return nil
		},
	}
}

func contactsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "contacts",
		Short: "List contacts with online status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := a.api(true)
			if err != nil {
				return err
			}
			ctx, cancel := request(cmd)
			defer cancel()
			cs, err := api.Contacts(ctx)
			if err != nil {
				return err
			}
			for _, c := range cs {
				mark := " "
				if c.Online {
					mark = "*"
				}
				fmt.Fprintf(a.out, "%s %s  %s  %s\n", mark, c.ID, c.Username, c.Email)
			}
			return nil
		},
	}
}

func addCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add <user-id>",
		Short: "Add a contact (both directions)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := convert.ParseID(args[0])
			if err != nil {
				return err
			}
			api, err := a.api(true)
			if err != nil {
				return err
			}
			ctx, cancel := request(cmd)
			defer cancel()
			c, err := api.AddContact(ctx, id)
			if err != nil {
				return err
			}
			a.printJSON(c)
			return nil
		},
	}
}

func searchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Find users by name or email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := a.api(true)
			if err != nil {
				return err
			}
			ctx, cancel := request(cmd)
			defer cancel()
			us, err := api.Search(ctx, args[0])
			if err != nil {
				return err
			}
			a.printJSON(us)
			return nil
		},
	}
}

func historyCmd(a *app) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "history <contact-id>",
		Short: "Show a conversation, oldest first (marks inbound messages read)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := convert.ParseID(args[0])
			if err != nil {
				return err
			}
			api, err := a.api(true)
			if err != nil {
				return err
			}
			ctx, cancel := request(cmd)
			defer cancel()
			ms, err := api.Conversation(ctx, id, limit, offset)
			if err != nil {
				return err
			}
			for i := len(ms) - 1; i >= 0; i-- {
				fmt.Fprintln(a.out, formatLine(ms[i].CreatedAt, ms[i].SenderName, ms[i].Content))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "messages to skip")
	return cmd
}

func unreadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unread",
		Short: "Show unread counters per sender",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := a.api(true)
			if err != nil {
				return err
			}
			ctx, cancel := request(cmd)
			defer cancel()
			c, err := api.Unread(ctx)
			if err != nil {
				return err
			}
			a.printJSON(convert.ToWireUnread(c))
			return nil
		},
	}
}

func sendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send <contact-id> <text...|->",
		Short: "Send one message over HTTP",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := convert.ParseID(args[0])
			if err != nil {
				return err
			}
			text, err := a.readText(args[1:])
			if err != nil {
				return err
			}
			api, err := a.api(true)
			if err != nil {
				return err
			}
			ctx, cancel := request(cmd)
			defer cancel()
			m, err := api.Send(ctx, id, text)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "sent #%d\n", m.ID)
			return nil
		},
	}
}

func readCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "read <message-id>",
		Short: "Mark a message read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return errors.New("message id must be a positive number")
			}
			api, err := a.api(true)
			if err != nil {
				return err
			}
			ctx, cancel := request(cmd)
			defer cancel()
			if _, err := api.MarkRead(ctx, id); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "ok")
			return nil
		},
	}
}

func configCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the client configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the configuration (token redacted)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				b, err := a.cfg.redacted()
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "# %s\n%s", cfgPath(), b)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Set a configuration value (server.url)",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.cfg.set(args[0], args[1]); err != nil {
					return err
				}
				return saveConfig(a.cfg)
			},
		},
	)
	return cmd
}
