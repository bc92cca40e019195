package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewMembershipCommand groups join, follow, invite and moderation commands.
func NewMembershipCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "membership",
		Aliases: []string{"member"},
		Short:   "Join, follow, invite and moderate capsule members",
	}

	var requestMessage string
	request := actionCommand(opts, "request <capsule-id>", "Join an open capsule or ask to join", 1,
		func(ctx context.Context, a *app, actor string, args []string) (any, error) {
			return a.membership.RequestMembership(ctx, actor, args[0], requestMessage)
		})
	request.Flags().StringVarP(&requestMessage, "message", "m", "", "note for the reviewers")

	var inviteMessage string
	invite := actionCommand(opts, "invite <capsule-id> <user-id>", "Invite a user to the capsule", 2,
		func(ctx context.Context, a *app, actor string, args []string) (any, error) {
			return a.membership.InviteMember(ctx, actor, args[0], args[1], inviteMessage)
		})
	invite.Flags().StringVarP(&inviteMessage, "message", "m", "", "note for the invitee")

	cmd.AddCommand(
		request,
		actionCommand(opts, "follow <capsule-id>", "Follow a capsule", 1,
			func(ctx context.Context, a *app, actor string, args []string) (any, error) {
				return a.membership.FollowCapsule(ctx, actor, args[0])
			}),
		actionCommand(opts, "unfollow <capsule-id>", "Stop following a capsule", 1,
			func(ctx context.Context, a *app, actor string, args []string) (any, error) {
				return a.membership.UnfollowCapsule(ctx, actor, args[0])
			}),
		actionCommand(opts, "leave <capsule-id>", "Leave a capsule", 1,
			func(ctx context.Context, a *app, actor string, args []string) (any, error) {
				return a.membership.LeaveCapsule(ctx, actor, args[0])
			}),
		invite,
		actionCommand(opts, "accept-invite <request-id>", "Accept an invite addressed to you", 1,
			func(ctx context.Context, a *app, actor string, args []string) (any, error) {
				return a.membership.AcceptInvite(ctx, actor, args[0])
			}),
		actionCommand(opts, "decline-invite <request-id>", "Decline an invite addressed to you", 1,
			func(ctx context.Context, a *app, actor string, args []string) (any, error) {
				return a.membership.DeclineInvite(ctx, actor, args[0])
			}),
		actionCommand(opts, "approve <request-id>", "Approve a join request", 1,
			func(ctx context.Context, a *app, actor string, args []string) (any, error) {
				return a.membership.ApproveRequest(ctx, actor, args[0])
			}),
		actionCommand(opts, "decline <request-id>", "Decline a join request", 1,
			func(ctx context.Context, a *app, actor string, args []string) (any, error) {
				return a.membership.DeclineRequest(ctx, actor, args[0])
			}),
		actionCommand(opts, "cancel <request-id>", "Withdraw your own join request", 1,
			func(ctx context.Context, a *app, actor string, args []string) (any, error) {
				return a.membership.CancelRequest(ctx, actor, args[0])
			}),
		actionCommand(opts, "remove <capsule-id> <user-id>", "Remove a member", 2,
			func(ctx context.Context, a *app, actor string, args []string) (any, error) {
				return a.membership.RemoveMember(ctx, actor, args[0], args[1])
			}),
		actionCommand(opts, "set-role <capsule-id> <user-id> <role>", "Change a member's role", 3,
			func(ctx context.Context, a *app, actor string, args []string) (any, error) {
				return a.membership.SetMemberRole(ctx, actor, args[0], args[1], args[2])
			}),
	)
	return cmd
}
