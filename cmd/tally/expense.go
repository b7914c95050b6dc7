package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tally/internal/api"
	"tally/internal/config"
)

func newExpenseCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{Use: "expense", Short: "Manage expenses"}
	cmd.AddCommand(
		newExpenseCreateCmd(cfg, jsonOutput),
		newExpenseListCmd(cfg, jsonOutput),
		newExpenseShowCmd(cfg, jsonOutput),
		newExpenseUpdateCmd(cfg, jsonOutput),
		newExpenseRemoveCmd(cfg, jsonOutput),
	)
	return cmd
}

func newExpenseCreateCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var (
		req    api.ExpenseCreateRequest
		amount string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an expense",
		Args:  requireExactlyArgs(1, "name is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cents, err := parseAmountCents(amount)
			if err != nil {
				return err
			}
			req.Name = args[0]
			req.AmountCents = cents

			return withClient(cfg, func(client *api.Client) error {
				resp, err := client.CreateExpense(cmd.Context(), req)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(resp)
				}
				return writePlain("%s\n", resp.ID)
			})
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "0", "amount in major units, e.g. 12.50")
	cmd.Flags().StringVar(&req.Currency, "currency", "", "ISO currency code (default EUR)")
	cmd.Flags().StringVar(&req.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&req.Category, "category", "", "category")
	cmd.Flags().StringVar(&req.SpentOn, "spent-on", "", "date spent (YYYY-MM-DD)")
	cmd.Flags().StringVarP(&req.Description, "description", "d", "", "description")
	return cmd
}

func newExpenseListCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var (
		project string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List expenses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			setIfNotEmpty(query, "project_id", project)
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			return withClient(cfg, func(client *api.Client) error {
				expenses, err := client.ListExpenses(cmd.Context(), query)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(expenses)
				}
				return writeExpenseList(expenses)
			})
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "only expenses of this project")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of expenses")
	return cmd
}

func newExpenseShowCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "show <expense-id>",
		Short: "Show an expense and its attachments",
		Args:  requireExactlyArgs(1, "expense id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				expense, err := client.GetExpense(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				attachments, err := client.ListAttachments(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(struct {
						api.ExpenseResponse
						Attachments []api.AttachmentResponse `json:"attachments"`
					}{expense, attachments})
				}
				if err := writeExpenseDetail(expense.Expense); err != nil {
					return err
				}
				if len(attachments) == 0 {
					return nil
				}
				if err := writePlain("attachments:\n"); err != nil {
					return err
				}
				for _, attachment := range attachments {
					if err := writePlain("  %s\n", formatAttachmentLine(attachment.Attachment)); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

type expenseUpdateFlags struct {
	name        string
	description string
	amount      string
	currency    string
	category    string
	spentOn     string
}

func newExpenseUpdateCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var flags expenseUpdateFlags

	cmd := &cobra.Command{
		Use:   "update <expense-id>",
		Short: "Change fields of an expense",
		Args:  requireExactlyArgs(1, "expense id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := expenseUpdateFromFlags(cmd, flags)
			if err != nil {
				return err
			}
			return withClient(cfg, func(client *api.Client) error {
				resp, err := client.UpdateExpense(cmd.Context(), args[0], req)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(resp)
				}
				return writeExpenseDetail(resp.Expense)
			})
		},
	}

	cmd.Flags().StringVar(&flags.name, "name", "", "new name")
	cmd.Flags().StringVar(&flags.amount, "amount", "", "amount in major units, e.g. 12.50")
	cmd.Flags().StringVar(&flags.currency, "currency", "", "ISO currency code")
	cmd.Flags().StringVar(&flags.category, "category", "", "category (empty clears it)")
	cmd.Flags().StringVar(&flags.spentOn, "spent-on", "", "date spent (YYYY-MM-DD, empty clears it)")
	cmd.Flags().StringVarP(&flags.description, "description", "d", "", "description (empty clears it)")
	return cmd
}

// expenseUpdateFromFlags sends only the flags given on the command line.
func expenseUpdateFromFlags(cmd *cobra.Command, flags expenseUpdateFlags) (api.ExpenseUpdateRequest, error) {
	var req api.ExpenseUpdateRequest
	changed := cmd.Flags().Changed
	if changed("name") {
		req.Name = &flags.name
	}
	if changed("description") {
		req.Description = &flags.description
	}
	if changed("amount") {
		cents, err := parseAmountCents(flags.amount)
		if err != nil {
			return req, err
		}
		req.AmountCents = &cents
	}
	if changed("currency") {
		req.Currency = &flags.currency
	}
	if changed("category") {
		req.Category = &flags.category
	}
	if changed("spent-on") {
		req.SpentOn = &flags.spentOn
	}
	if req == (api.ExpenseUpdateRequest{}) {
		return req, fmt.Errorf("nothing to update")
	}
	return req, nil
}

func newExpenseRemoveCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <expense-id>",
		Short: "Delete an expense with all of its attachments",
		Args:  requireExactlyArgs(1, "expense id is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				resp, err := client.DeleteExpense(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(resp)
				}
				return writeDeleteResult(resp)
			})
		},
	}
}

// parseAmountCents converts "12", "12.5" or "-3.05" into minor units.
func parseAmountCents(raw string) (int64, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, nil
	}
	negative := strings.HasPrefix(value, "-")
	value = strings.TrimPrefix(value, "-")

	whole, frac, hasFrac := strings.Cut(value, ".")
	if whole == "" && !hasFrac {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	if len(frac) > 2 || (hasFrac && frac == "") {
		return 0, fmt.Errorf("invalid amount %q: at most two decimals", raw)
	}
	if whole == "" {
		whole = "0"
	}
	for len(frac) < 2 {
		frac += "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || strings.ContainsAny(whole+frac, "+-") {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	total := units*100 + cents
	if negative {
		total = -total
	}
	return total, nil
}

func setIfNotEmpty(values url.Values, key, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	values.Set(key, value)
}
