package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/shopcore-backend/internal/app"
	"github.com/angelmondragon/shopcore-backend/internal/inventory"
	"github.com/angelmondragon/shopcore-backend/pkg/db/models"
	"github.com/angelmondragon/shopcore-backend/pkg/pagination"
)

type loader func(ctx context.Context) (*app.Components, func(), error)

// newRootCmd builds the stockctl command tree. Every subcommand connects
// through load and closes the stores when done.
func newRootCmd(load loader) *cobra.Command {
	root := &cobra.Command{
		Use:          "stockctl",
		Short:        "Operate the stock reservation backend",
		SilenceUsage: true,
	}
	root.AddCommand(
		newSweepCmd(load),
		newAuditCmd(load),
		newShowCmd(load),
		newAdjustCmd(load),
		newReleaseCmd(load),
		newHistoryCmd(load),
	)
	return root
}

func withComponents(cmd *cobra.Command, load loader, fn func(ctx context.Context, c *app.Components) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	components, closeFn, err := load(ctx)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	return fn(ctx, components)
}

func newSweepCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Release reservations of sub-orders past the reservation timeout once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, load, func(ctx context.Context, c *app.Components) error {
				job, err := c.SweepJob()
				if err != nil {
					return err
				}
				if err := job.Run(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "sweep completed")
				return nil
			})
		},
	}
}

func newAuditCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Compare inventory records against the stock ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, load, func(ctx context.Context, c *app.Components) error {
				report, err := c.Auditor.Audit(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "records checked: %d\n", report.Records)
				for _, d := range report.Discrepancies {
					fmt.Fprintln(out, d.String())
				}
				if !report.OK() {
					return fmt.Errorf("%d discrepancies found", len(report.Discrepancies))
				}
				fmt.Fprintln(out, "no discrepancies")
				return nil
			})
		},
	}
}

type keyFlags struct {
	product string
	seller  string
	variant string
}

func (k *keyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&k.product, "product", "", "product id")
	cmd.Flags().StringVar(&k.seller, "seller", "", "seller id")
	cmd.Flags().StringVar(&k.variant, "variant", "", "variant id, empty for the base product")
	_ = cmd.MarkFlagRequired("product")
	_ = cmd.MarkFlagRequired("seller")
}

func (k *keyFlags) key() (inventory.Key, error) {
	productID, err := uuid.Parse(k.product)
	if err != nil {
		return inventory.Key{}, fmt.Errorf("--product: %w", err)
	}
	sellerID, err := uuid.Parse(k.seller)
	if err != nil {
		return inventory.Key{}, fmt.Errorf("--seller: %w", err)
	}
	key := inventory.Key{ProductID: productID, SellerID: sellerID}
	if k.variant != "" {
		variantID, err := uuid.Parse(k.variant)
		if err != nil {
			return inventory.Key{}, fmt.Errorf("--variant: %w", err)
		}
		key.VariantID = &variantID
	}
	return key, nil
}

func newShowCmd(load loader) *cobra.Command {
	var flags keyFlags
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print an inventory record and its cached stock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := flags.key()
			if err != nil {
				return err
			}
			return withComponents(cmd, load, func(ctx context.Context, c *app.Components) error {
				rec, err := c.Inventory.Get(ctx, key)
				if err != nil {
					return err
				}
				printRecord(cmd, rec)
				cached, err := c.Mirror.Get(ctx, key.Line(nil))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cached total: %d\n", cached)
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newAdjustCmd(load loader) *cobra.Command {
	var (
		flags     keyFlags
		stock     int
		sizes     []string
		requestID string
	)
	cmd := &cobra.Command{
		Use:   "adjust",
		Short: "Set the available stock of a record",
		Long: `Set the available stock of a record. Sized records take one --size
flag per size (--size M=3 --size L=0); their total is derived from the sizes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := flags.key()
			if err != nil {
				return err
			}
			sizeStock, err := parseSizes(sizes)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("stock") && len(sizeStock) == 0 {
				return fmt.Errorf("either --stock or --size is required")
			}
			if requestID == "" {
				requestID = "stockctl:" + uuid.NewString()
			}
			return withComponents(cmd, load, func(ctx context.Context, c *app.Components) error {
				rec, err := c.Inventory.SetStock(ctx, inventory.SetStockInput{
					ProductID: key.ProductID,
					SellerID:  key.SellerID,
					VariantID: key.VariantID,
					Stock:     stock,
					SizeStock: sizeStock,
					RequestID: requestID,
				})
				if err != nil {
					return err
				}
				printRecord(cmd, rec)
				return nil
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&stock, "stock", 0, "available stock of an unsized record")
	cmd.Flags().StringArrayVar(&sizes, "size", nil, "size=quantity, repeatable")
	cmd.Flags().StringVar(&requestID, "request-id", "", "idempotency key, generated when empty")
	return cmd
}

func newHistoryCmd(load loader) *cobra.Command {
	var (
		flags  keyFlags
		limit  int
		cursor string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the stock ledger rows of a record, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := flags.key()
			if err != nil {
				return err
			}
			return withComponents(cmd, load, func(ctx context.Context, c *app.Components) error {
				page, err := c.Inventory.History(ctx, key, pagination.Params{Limit: limit, Cursor: cursor})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, row := range page.Items {
					size := "-"
					if row.Size != nil {
						size = *row.Size
					}
					fmt.Fprintf(out, "%s %-9s %-4s %+d %s\n",
						row.CreatedAt.UTC().Format(time.RFC3339), row.Action, size, row.Quantity, row.RequestID)
				}
				if page.Next != "" {
					fmt.Fprintf(out, "next cursor: %s\n", page.Next)
				}
				return nil
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", pagination.DefaultLimit, "rows per page")
	cmd.Flags().StringVar(&cursor, "cursor", "", "cursor printed by the previous page")
	return cmd
}

func newReleaseCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "release [order-id] [sub-order-id]",
		Short: "Release the reservation of a pending sub-order now",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("order id: %w", err)
			}
			subOrderID, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("sub-order id: %w", err)
			}
			return withComponents(cmd, load, func(ctx context.Context, c *app.Components) error {
				released, err := c.Engine.Release(ctx, orderID, subOrderID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "released %d lines\n", released)
				return nil
			})
		},
	}
}

func parseSizes(raw []string) (map[string]int, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	sizes := make(map[string]int, len(raw))
	for _, entry := range raw {
		name, qty, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("--size %q: expected size=quantity", entry)
		}
		value, err := strconv.Atoi(strings.TrimSpace(qty))
		if err != nil {
			return nil, fmt.Errorf("--size %q: %w", entry, err)
		}
		sizes[name] = value
	}
	return sizes, nil
}

func printRecord(cmd *cobra.Command, rec *models.InventoryRecord) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "record %s\n", inventory.KeyOf(rec))
	fmt.Fprintf(out, "stock: %d reserved: %d\n", rec.Stock, rec.ReservedQuantity)
	for _, size := range rec.SizeStock.Sizes() {
		fmt.Fprintf(out, "  %s: %d\n", size, rec.SizeStock[size])
	}
}
