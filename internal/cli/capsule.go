package cli

import (
	"context"

	"github.com/spf13/cobra"

	"capsule-go/internal/services"
)

// NewCapsuleCommand groups capsule lifecycle commands.
func NewCapsuleCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capsule",
		Short: "Create, inspect and configure capsules",
	}

	cmd.AddCommand(newCapsuleCreateCommand(opts))
	cmd.AddCommand(actionCommand(opts, "get <capsule-id>", "Show a capsule's membership state", 1,
		func(ctx context.Context, a *app, actor string, args []string) (any, error) {
			return a.membership.GetMembership(ctx, actor, args[0])
		}))
	cmd.AddCommand(actionCommand(opts, "show <slug>", "Show a capsule's membership state by slug", 1,
		func(ctx context.Context, a *app, actor string, args []string) (any, error) {
			return a.membership.GetMembershipBySlug(ctx, actor, args[0])
		}))
	cmd.AddCommand(newCapsuleListCommand(opts))
	cmd.AddCommand(newCapsuleUpdateCommand(opts))
	cmd.AddCommand(actionCommand(opts, "policy <capsule-id> <open|invite_only|request_approval>", "Change the membership policy", 2,
		func(ctx context.Context, a *app, actor string, args []string) (any, error) {
			return a.membership.SetMembershipPolicy(ctx, actor, args[0], args[1])
		}))

	return cmd
}

func newCapsuleCreateCommand(opts *RootOptions) *cobra.Command {
	var in services.CreateCapsuleInput
	cmd := actionCommand(opts, "create", "Create a capsule owned by the acting user", 0,
		func(ctx context.Context, a *app, actor string, _ []string) (any, error) {
			return a.membership.CreateCapsule(ctx, actor, in)
		})

	cmd.Flags().StringVar(&in.Name, "name", "", "display name")
	cmd.Flags().StringVar(&in.Slug, "slug", "", "url slug (derived from the name when empty)")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&in.Policy, "policy", "", "membership policy (default request_approval)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newCapsuleListCommand(opts *RootOptions) *cobra.Command {
	var owner string
	cmd := actionCommand(opts, "list", "List the capsules a user founded", 0,
		func(ctx context.Context, a *app, actor string, _ []string) (any, error) {
			if owner == "" {
				owner = actor
			}
			return a.membership.ListOwnedCapsules(ctx, owner)
		})

	cmd.Flags().StringVar(&owner, "owner", "", "founder's user id (defaults to --as)")
	return cmd
}

func newCapsuleUpdateCommand(opts *RootOptions) *cobra.Command {
	var name, description, avatar, banner string
	var cmd *cobra.Command
	cmd = actionCommand(opts, "update <capsule-id>", "Update a capsule's profile", 1,
		func(ctx context.Context, a *app, actor string, args []string) (any, error) {
			// 只提交显式传入的字段
			var in services.CapsuleProfileInput
			flags := cmd.Flags()
			if flags.Changed("name") {
				in.Name = &name
			}
			if flags.Changed("description") {
				in.Description = &description
			}
			if flags.Changed("avatar-url") {
				in.AvatarURL = &avatar
			}
			if flags.Changed("banner-url") {
				in.BannerURL = &banner
			}
			return a.membership.UpdateCapsuleProfile(ctx, actor, args[0], in)
		})

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&avatar, "avatar-url", "", "avatar image url")
	cmd.Flags().StringVar(&banner, "banner-url", "", "banner image url")
	return cmd
}
