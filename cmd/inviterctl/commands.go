package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tg-inviter-bot/internal/app"
	"tg-inviter-bot/internal/domain"
	"tg-inviter-bot/internal/usecase/schedule"
)

type opener func(ctx context.Context) (*app.Deps, error)

// newRootCmd собирает дерево команд администратора.
func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:          "inviterctl",
		Short:        "Администрирование бота-приглашателя",
		SilenceUsage: true,
	}
	root.AddCommand(
		newContentCmd(open),
		newQuestionsCmd(open),
		newMenuCmd(open),
		newInvitesCmd(open),
		newBroadcastCmd(open),
		newBanCmd(open, true),
		newBanCmd(open, false),
		newModeCmd(open),
		newPurgeCmd(open),
		newActionsCmd(open),
		newProgressCmd(open),
		newTailCmd(open),
	)
	return root
}

// withDeps открывает зависимости на время команды.
func withDeps(cmd *cobra.Command, open opener, fn func(ctx context.Context, deps *app.Deps, out io.Writer) error) error {
	ctx := cmd.Context()
	deps, err := open(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()
	return fn(ctx, deps, cmd.OutOrStdout())
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("некорректный id %q", raw)
	}
	return id, nil
}

func newContentCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{Use: "content", Short: "Сообщения цепочки"}

	var item domain.ContentItem
	var media string
	add := &cobra.Command{
		Use:   "add",
		Short: "Добавить сообщение",
		Long: `Добавляет сообщение цепочки.

День 0 отправляется сразу после вступления. Для остальных дней нужно время HH:MM
и смещение в минутах. Кнопки задаются строками "текст | ссылка", кнопки ряда через запятую.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if item.DayNumber < 0 {
				return errors.New("день не может быть отрицательным")
			}
			if !item.Immediate() {
				if _, err := schedule.ParseSendTime(item.SendTime); err != nil {
					return err
				}
			}
			if strings.TrimSpace(item.Text) == "" && strings.TrimSpace(item.HTMLText) == "" && item.MediaFileID == "" {
				return errors.New("нужен текст, html или вложение")
			}
			item.MediaType = domain.NormalizeMediaType(media)
			item.Active = true
			return withDeps(cmd, open, func(ctx context.Context, deps *app.Deps, out io.Writer) error {
				created, err := deps.Store.CreateContentItem(ctx, item)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "добавлено сообщение %d\n", created.ID)
				return nil
			})
		},
	}
	add.Flags().IntVar(&item.DayNumber, "day", 0, "день после вступления")
	add.Flags().StringVar(&item.SendTime, "time", "", "время отправки HH:MM")
	add.Flags().IntVar(&item.OffsetMinutes, "offset", 0, "смещение в минутах")
	add.Flags().StringVar(&item.Text, "text", "", "текст")
	add.Flags().StringVar(&item.HTMLText, "html", "", "текст с HTML-разметкой")
	add.Flags().StringVar(&media, "media", "text", "тип вложения")
	add.Flags().StringVar(&item.MediaFileID, "file", "", "file_id вложения")
	add.Flags().StringVar(&item.ButtonsConfig, "buttons", "", "кнопки-ссылки")

	list := &cobra.Command{
		Use:   "list",
		Short: "Показать сообщения",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDeps(cmd, open, func(ctx context.Context, deps *app.Deps, out io.Writer) error {
				items, err := deps.Store.ListContentItems(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tДЕНЬ\tВРЕМЯ\tСМЕЩЕНИЕ\tТИП\tАКТИВНО\tТЕКСТ")
				for _, it := range items {
					body, _ := it.Message().Body()
					fmt.Fprintf(w, "%d\t%d\t%s\t%d\t%s\t%t\t%s\n", it.ID, it.DayNumber, it.SendTime, it.OffsetMinutes, it.MediaType, it.Active, preview(body))
				}
				return w.Flush()
			})
		},
	}

	cmd.AddCommand(add, list, toggleCmd(open, "enable", true, setContentActive), toggleCmd(open, "disable", false, setContentActive))
	return cmd
}

func setContentActive(ctx context.Context, deps *app.Deps, id int64, active bool) error {
	return deps.Store.SetContentItemActive(ctx, id, active)
}

func setQuestionActive(ctx context.Context, deps *app.Deps, id int64, active bool) error {
	return deps.Store.SetQuestionActive(ctx, id, active)
}

func toggleCmd(open opener, use string, active bool, set func(context.Context, *app.Deps, int64, bool) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: "Включить или выключить запись",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withDeps(cmd, open, func(ctx context.Context, deps *app.Deps, out io.Writer) error {
				if err := set(ctx, deps, id, active); err != nil {
					return err
				}
				fmt.Fprintf(out, "запись %d: active=%t\n", id, active)
				return nil
			})
		},
	}
}

func newQuestionsCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{Use: "questions", Short: "Вопросы анкеты"}

	var q domain.Question
	var kind, options string
	var optional bool
	add := &cobra.Command{
		Use:   "add",
		Short: "Добавить вопрос",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(q.Text) == "" {
				return errors.New("нужен текст вопроса")
			}
			q.Kind = domain.ParseQuestionKind(kind)
			q.Options = domain.ParseOptions(options)
			if q.Kind == domain.QuestionChoice && len(q.Options) == 0 {
				return errors.New("для вопроса с вариантами нужны --options")
			}
			q.Required = !optional
			q.Active = true
			return withDeps(cmd, open, func(ctx context.Context, deps *app.Deps, out io.Writer) error {
				created, err := deps.Store.CreateQuestion(ctx, q)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "добавлен вопрос %d\n", created.ID)
				return nil
			})
		},
	}
	add.Flags().IntVar(&q.Order, "order", 0, "порядок")
	add.Flags().StringVar(&q.Text, "text", "", "текст вопроса")
	add.Flags().StringVar(&kind, "kind", "text", "text или choice")
	add.Flags().StringVar(&options, "options", "", "варианты через запятую")
	add.Flags().BoolVar(&optional, "optional", false, "вопрос можно пропустить")

	list := &cobra.Command{
		Use:   "list",
		Short: "Показать вопросы",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDeps(cmd, open, func(ctx context.Context, deps *app.Deps, out io.Writer) error {
				questions, err := deps.Store.ListQuestions(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tПОРЯДОК\tТИП\tОБЯЗАТЕЛЬНЫЙ\tАКТИВЕН\tТЕКСТ\tВАРИАНТЫ")
				for _, q := range questions {
					fmt.Fprintf(w, "%d\t%d\t%s\t%t\t%t\t%s\t%s\n", q.ID, q.Order, q.Kind, q.Required, q.Active, preview(q.Text), strings.Join(q.Options, ", "))
				}
				return w.Flush()
			})
		},
	}

	cmd.AddCommand(add, list, toggleCmd(open, "enable", true, setQuestionActive), toggleCmd(open, "disable", false, setQuestionActive))
	return cmd
}

func newBroadcastCmd(open opener) *cobra.Command {
	var text, html, at string
	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "Запланировать рассылку всем активным участникам",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(text) == "" && strings.TrimSpace(html) == "" {
				return errors.New("нужен --text или --html")
			}
			scheduled := time.Now().UTC()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("некорректное время --at: %w", err)
				}
				scheduled = parsed.UTC()
			}
			return withDeps(cmd, open, func(ctx context.Context, deps *app.Deps, out io.Writer) error {
				b, err := deps.Store.CreateBroadcast(ctx, domain.Broadcast{Text: text, HTMLText: html, ScheduledAt: scheduled})
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "рассылка %d запланирована на %s\n", b.ID, b.ScheduledAt.Format(time.RFC3339))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "текст")
	cmd.Flags().StringVar(&html, "html", "", "текст с HTML-разметкой")
	cmd.Flags().StringVar(&at, "at", "", "время в RFC3339, по умолчанию сейчас")
	return cmd
}

func newBanCmd(open opener, banned bool) *cobra.Command {
	use, short := "ban", "Заблокировать участника"
	if !banned {
		use, short = "unban", "Разблокировать участника"
	}
	return &cobra.Command{
		Use:   use + " <recipient_id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withDeps(cmd, open, func(ctx context.Context, deps *app.Deps, out io.Writer) error {
				if err := deps.Store.SetBanned(ctx, id, banned); err != nil {
					return err
				}
				fmt.Fprintf(out, "участник %d: banned=%t\n", id, banned)
				return nil
			})
		},
	}
}

func newModeCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{Use: "mode", Short: "Режим одобрения заявок"}
	get := &cobra.Command{
		Use:   "get",
		Short: "Показать режим",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDeps(cmd, open, func(ctx context.Context, deps *app.Deps, out io.Writer) error {
				raw, ok, err := deps.Store.GetSetting(ctx, domain.SettingApprovalMode)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, "не задан, используется DEFAULT_APPROVAL_MODE")
					return nil
				}
				fmt.Fprintln(out, raw)
				return nil
			})
		},
	}
	set := &cobra.Command{
		Use:       "set <manual|immediate|after_onboarding>",
		Short:     "Сменить режим",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(domain.ApprovalManual), string(domain.ApprovalImmediate), string(domain.ApprovalAfterOnboarding)},
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, ok := domain.ParseApprovalMode(args[0])
			if !ok {
				return fmt.Errorf("неизвестный режим %q", args[0])
			}
			return withDeps(cmd, open, func(ctx context.Context, deps *app.Deps, out io.Writer) error {
				if err := deps.Store.SetSetting(ctx, domain.SettingApprovalMode, string(mode)); err != nil {
					return err
				}
				fmt.Fprintf(out, "режим: %s\n", mode)
				return nil
			})
		},
	}
	cmd.AddCommand(get, set)
	return cmd
}

func newPurgeCmd(open opener) *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "purge <recipient_id>",
		Short: "Удалить записи журнала доставки участника (только для отладки)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if !confirm {
				return errors.New("сообщения будут отправлены повторно, подтвердите флагом --yes")
			}
			return withDeps(cmd, open, func(ctx context.Context, deps *app.Deps, out io.Writer) error {
				n, err := deps.Store.PurgeDeliveries(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "удалено записей: %d\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "подтвердить удаление")
	return cmd
}

func newActionsCmd(open opener) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "actions <recipient_id>",
		Short: "Показать последние действия участника",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withDeps(cmd, open, func(ctx context.Context, deps *app.Deps, out io.Writer) error {
				actions, err := deps.Store.ListActions(ctx, id, limit)
				if err != nil {
					return err
				}
				for _, a := range actions {
					printAction(out, a)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "сколько записей показать")
	return cmd
}

func newProgressCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <recipient_id>",
		Short: "Показать прогресс анкеты и ответы",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withDeps(cmd, open, func(ctx context.Context, deps *app.Deps, out io.Writer) error {
				progress, err := deps.Store.GetProgress(ctx, id)
				if errors.Is(err, domain.ErrNotFound) {
					fmt.Fprintln(out, "состояние: "+string(domain.OnboardingNotStarted))
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(out, "состояние: "+string(progress.State()))
				if progress.CurrentQuestionID != nil {
					fmt.Fprintf(out, "текущий вопрос: %d\n", *progress.CurrentQuestionID)
				}
				answers, err := deps.Store.ListAnswers(ctx, id)
				if err != nil {
					return err
				}
				for _, a := range answers {
					fmt.Fprintf(out, "вопрос %d: %s\n", a.QuestionID, a.Value)
				}
				return nil
			})
		},
	}
}

func newTailCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "tail",
		Short: "Читать поток действий из брокера (ACTIONS_SINK=redis|rabbitmq)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDeps(cmd, open, func(ctx context.Context, deps *app.Deps, out io.Writer) error {
				if deps.Source == nil {
					return errors.New("брокер действий не настроен")
				}
				for {
					action, err := deps.Source.Pop(ctx)
					if err != nil {
						if ctx.Err() != nil {
							return nil
						}
						return err
					}
					printAction(out, action)
				}
			})
		},
	}
}

func printAction(out io.Writer, a domain.Action) {
	fmt.Fprintf(out, "%s\t%d\t%s\t%s\n", a.OccurredAt.Format(time.RFC3339), a.RecipientID, a.Type, a.Data)
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) > 40 {
		return string(runes[:40]) + "…"
	}
	return text
}
