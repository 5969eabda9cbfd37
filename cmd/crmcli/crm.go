package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"crmcli/internal/api"
)

func conversationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "List chat conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthenticated(func(ctx context.Context, a *app) error {
				conversations, err := a.backend.ListConversations(ctx)
				if err != nil {
					return err
				}
				for _, conversation := range conversations {
					fmt.Printf("%s  %s  (%s)\n",
						conversation.ID, conversation.Title,
						conversation.CreatedAt.Format("2006-01-02"))
				}
				return nil
			})
		},
	}
}

func contactsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "contacts",
		Short: "List CRM contacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthenticated(func(ctx context.Context, a *app) error {
				contacts, err := a.backend.ListContacts(ctx)
				if err != nil {
					return err
				}
				for _, contact := range contacts {
					line := fmt.Sprintf("%s  <%s>", contact.Name, contact.Email)
					if contact.Company != "" {
						line += "  @" + contact.Company
					}
					if len(contact.Tags) > 0 {
						line += "  [" + strings.Join(contact.Tags, ", ") + "]"
					}
					fmt.Println(line)
				}
				return nil
			})
		},
	}
}

func tagsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthenticated(func(ctx context.Context, a *app) error {
				tags, err := a.backend.ListTags(ctx)
				if err != nil {
					return err
				}
				for _, tag := range tags {
					fmt.Printf("%s  %s\n", tag.Color, tag.Name)
				}
				return nil
			})
		},
	}
}

func activitiesCmd() *cobra.Command {
	var page int
	var action string

	cmd := &cobra.Command{
		Use:   "activities",
		Short: "Show the activity log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthenticated(func(ctx context.Context, a *app) error {
				activities, err := a.backend.ListActivities(ctx, api.ActivityFilter{
					Page:   page,
					Action: action,
				})
				if err != nil {
					return err
				}
				for _, activity := range activities {
					fmt.Printf("%s  %-10s  %s %q\n",
						activity.Timestamp.Format("2006-01-02 15:04"),
						activity.Action, activity.TargetType, activity.TargetName)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().StringVar(&action, "action", "", "filter by action")
	return cmd
}
