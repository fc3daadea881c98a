package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"waveline/internal/domain"
	"waveline/internal/repo"
)

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys stored in the workspace journal",
	}
	cmd.AddCommand(apiKeyCreateCmd())
	cmd.AddCommand(apiKeyListCmd())
	cmd.AddCommand(apiKeyRevokeCmd())
	return cmd
}

func apiKeyCreateCmd() *cobra.Command {
	var subject, name string
	var roles []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the secret is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(subject) == "" {
				return errors.New("--subject required")
			}
			secret, err := repo.NewAPIKeySecret()
			if err != nil {
				return err
			}
			key := domain.APIKey{
				ID:        uuid.NewString(),
				Subject:   subject,
				Name:      name,
				Roles:     roles,
				KeyHash:   repo.HashAPIKey(secret),
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
			}
			err = withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.InsertAPIKey(ctx, nil, key)
			})
			if err != nil {
				return err
			}
			return printJSONOrTable(map[string]any{"id": key.ID, "subject": key.Subject, "roles": key.Roles, "key": secret}, func(tw table.Writer) {
				tw.AppendHeader(table.Row{"ID", "Subject", "Roles", "Key"})
				tw.AppendRow(table.Row{key.ID, key.Subject, strings.Join(key.Roles, ","), secret})
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "subject the key acts as")
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	cmd.Flags().StringSliceVar(&roles, "role", []string{"viewer"}, "roles to grant")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, subject)
				if err != nil {
					return err
				}
				if keys == nil {
					keys = []domain.APIKey{}
				}
				return printJSONOrTable(keys, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "Subject", "Name", "Roles", "Created"})
					for _, k := range keys {
						tw.AppendRow(table.Row{k.ID, k.Subject, k.Name, strings.Join(k.Roles, ","), k.CreatedAt})
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "only keys of this subject")
	return cmd
}

func apiKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, args[0]); err != nil {
					if errors.Is(err, repo.ErrNotFound) {
						return fmt.Errorf("api key %s not found", args[0])
					}
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	}
}
