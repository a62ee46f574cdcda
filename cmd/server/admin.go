package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"fifoshop/backend/internal/cache"
	"fifoshop/backend/internal/config"
	"fifoshop/backend/internal/domain"
	"fifoshop/backend/internal/httpapi"
	"fifoshop/backend/internal/logger"
	"fifoshop/backend/internal/store"
)

func newMigrateCmd(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the postgres schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pg, err := openPostgres(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pg.Close()

			if err := pg.Migrate(cmd.Context()); err != nil {
				return err
			}
			logger.WithComponent("migrate").Info().Msg("schema applied")
			return nil
		},
	}
}

type userAddOptions struct {
	shop     string
	username string
	password string
	role     string
}

func newUserCmd(cfg config.Config) *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage login accounts",
	}

	var opts userAddOptions
	add := &cobra.Command{
		Use:   "add",
		Short: "Create an account, creating its shop when missing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pg, err := openPostgres(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pg.Close()

			view, err := addUser(cmd.Context(), pg, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s) in shop %d\n", view.Username, view.Role, view.ShopID)
			return nil
		},
	}
	add.Flags().StringVar(&opts.shop, "shop", cfg.DefaultShopName, "shop name")
	add.Flags().StringVar(&opts.username, "username", "", "login name")
	add.Flags().StringVar(&opts.password, "password", "", "password (min 6 characters)")
	add.Flags().StringVar(&opts.role, "role", domain.RoleOperator, "admin or operator")
	_ = add.MarkFlagRequired("username")
	_ = add.MarkFlagRequired("password")

	userCmd.AddCommand(add)
	return userCmd
}

func addUser(ctx context.Context, repo store.Repository, opts userAddOptions) (domain.UserView, error) {
	shopName := strings.TrimSpace(opts.shop)
	if shopName == "" {
		return domain.UserView{}, fmt.Errorf("%w: shop name is required", domain.ErrInvalidInput)
	}

	shop, err := repo.GetShopByName(ctx, shopName)
	if errors.Is(err, domain.ErrNotFound) {
		shop, err = repo.CreateShop(ctx, shopName)
	}
	if err != nil {
		return domain.UserView{}, err
	}

	auth := httpapi.NewAuthManager("", time.Hour, repo, cache.NewMemoryTokenBlocklist())
	return auth.RegisterUser(ctx, shop.ID, domain.UserCreateRequest{
		Username: opts.username,
		Password: opts.password,
		Role:     opts.role,
	})
}
