package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tg-inviter-bot/internal/app"
	"tg-inviter-bot/internal/domain"
)

func newMenuCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{Use: "menu", Short: "Главное меню бота"}

	var item domain.MenuItem
	var kind string
	add := &cobra.Command{
		Use:   "add",
		Short: "Добавить кнопку меню",
		RunE: func(cmd *cobra.Command, _ []string) error {
			item.Name = strings.TrimSpace(item.Name)
			if item.Name == "" {
				return errors.New("нужно название кнопки")
			}
			t, ok := domain.ParseMenuButtonType(kind)
			if !ok {
				return fmt.Errorf("неизвестный тип кнопки %q: link, text или inline", kind)
			}
			item.Type = t
			switch t {
			case domain.MenuInline:
				links, err := item.Links()
				if err != nil {
					return err
				}
				if len(links) == 0 {
					return errors.New("для inline-кнопки нужен хотя бы один элемент {\"text\", \"url\"} в --buttons")
				}
			default:
				if strings.TrimSpace(item.ActionValue) == "" {
					return errors.New("нужно --value")
				}
			}
			item.Active = true
			return withDeps(cmd, open, func(ctx context.Context, deps *app.Deps, out io.Writer) error {
				created, err := deps.Store.CreateMenuItem(ctx, item)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "добавлена кнопка %d\n", created.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&item.Name, "name", "", "текст кнопки")
	add.Flags().IntVar(&item.Order, "order", 0, "порядок")
	add.Flags().StringVar(&kind, "type", "text", "link, text или inline")
	add.Flags().StringVar(&item.ActionValue, "value", "", "ссылка или текст ответа")
	add.Flags().StringVar(&item.InlineButtons, "buttons", "", `JSON: [{"text":"...","url":"..."}]`)

	list := &cobra.Command{
		Use:   "list",
		Short: "Показать кнопки меню",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDeps(cmd, open, func(ctx context.Context, deps *app.Deps, out io.Writer) error {
				items, err := deps.Store.ListMenuItems(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tПОРЯДОК\tТИП\tАКТИВНА\tНАЗВАНИЕ\tДЕЙСТВИЕ")
				for _, m := range items {
					action := m.ActionValue
					if m.Type == domain.MenuInline {
						action = m.InlineButtons
					}
					fmt.Fprintf(w, "%d\t%d\t%s\t%t\t%s\t%s\n", m.ID, m.Order, m.Type, m.Active, m.Name, preview(action))
				}
				return w.Flush()
			})
		},
	}

	cmd.AddCommand(add, list, toggleCmd(open, "enable", true, setMenuActive), toggleCmd(open, "disable", false, setMenuActive))
	return cmd
}

func setMenuActive(ctx context.Context, deps *app.Deps, id int64, active bool) error {
	return deps.Store.SetMenuItemActive(ctx, id, active)
}

func newInvitesCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{Use: "invites", Short: "Коды пригласительных ссылок"}

	var label string
	add := &cobra.Command{
		Use:   "add <code>",
		Short: "Добавить код для ссылки t.me/<бот>?start=<code>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := strings.TrimSpace(args[0])
			if code == "" || strings.ContainsAny(code, " \t") {
				return fmt.Errorf("некорректный код %q", args[0])
			}
			return withDeps(cmd, open, func(ctx context.Context, deps *app.Deps, out io.Writer) error {
				created, err := deps.Store.CreateInviteLink(ctx, domain.InviteLink{Code: code, Label: label, Active: true})
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "добавлен код %s\n", created.Code)
				return nil
			})
		},
	}
	add.Flags().StringVar(&label, "label", "", "пометка для админки")

	list := &cobra.Command{
		Use:   "list",
		Short: "Показать коды",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDeps(cmd, open, func(ctx context.Context, deps *app.Deps, out io.Writer) error {
				links, err := deps.Store.ListInviteLinks(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "КОД\tАКТИВЕН\tСОЗДАН\tПОМЕТКА")
				for _, l := range links {
					fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", l.Code, l.Active, l.CreatedAt.Format("2006-01-02 15:04"), l.Label)
				}
				return w.Flush()
			})
		},
	}

	cmd.AddCommand(add, list, inviteToggleCmd(open, "enable", true), inviteToggleCmd(open, "disable", false))
	return cmd
}

func inviteToggleCmd(open opener, use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <code>",
		Short: "Включить или выключить код",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := strings.TrimSpace(args[0])
			return withDeps(cmd, open, func(ctx context.Context, deps *app.Deps, out io.Writer) error {
				if err := deps.Store.SetInviteLinkActive(ctx, code, active); err != nil {
					return err
				}
				fmt.Fprintf(out, "код %s: active=%t\n", code, active)
				return nil
			})
		},
	}
}
