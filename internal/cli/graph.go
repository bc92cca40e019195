package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewGraphCommand groups friend, follow and block commands.
func NewGraphCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Manage friends, follows and blocks",
	}

	var friendMessage string
	friendRequest := actionCommand(opts, "friend-request <user-id>", "Send a friend request", 1,
		func(ctx context.Context, a *app, actor string, args []string) (any, error) {
			return a.graph.SendFriendRequest(ctx, actor, args[0], friendMessage)
		})
	friendRequest.Flags().StringVarP(&friendMessage, "message", "m", "", "note for the recipient")

	var blockReason string
	block := actionCommand(opts, "block <user-id>", "Block a user", 1,
		func(ctx context.Context, a *app, actor string, args []string) (any, error) {
			return a.graph.BlockUser(ctx, actor, args[0], blockReason)
		})
	block.Flags().StringVar(&blockReason, "reason", "", "private reason")

	cmd.AddCommand(
		actionCommand(opts, "show", "Show the acting user's social graph", 0,
			func(ctx context.Context, a *app, actor string, _ []string) (any, error) {
				return a.graph.GetSocialGraph(ctx, actor)
			}),
		friendRequest,
		actionCommand(opts, "accept <user-id>", "Accept a friend request from a user", 1,
			func(ctx context.Context, a *app, actor string, args []string) (any, error) {
				return a.graph.AcceptFriendRequest(ctx, actor, args[0])
			}),
		actionCommand(opts, "decline <user-id>", "Decline a friend request from a user", 1,
			func(ctx context.Context, a *app, actor string, args []string) (any, error) {
				return a.graph.DeclineFriendRequest(ctx, actor, args[0])
			}),
		actionCommand(opts, "cancel <user-id>", "Withdraw a friend request you sent", 1,
			func(ctx context.Context, a *app, actor string, args []string) (any, error) {
				return a.graph.CancelFriendRequest(ctx, actor, args[0])
			}),
		actionCommand(opts, "unfriend <user-id>", "Remove a friend", 1,
			func(ctx context.Context, a *app, actor string, args []string) (any, error) {
				return a.graph.RemoveFriend(ctx, actor, args[0])
			}),
		actionCommand(opts, "follow <user-id>", "Follow a user", 1,
			func(ctx context.Context, a *app, actor string, args []string) (any, error) {
				return a.graph.FollowUser(ctx, actor, args[0])
			}),
		actionCommand(opts, "unfollow <user-id>", "Stop following a user", 1,
			func(ctx context.Context, a *app, actor string, args []string) (any, error) {
				return a.graph.UnfollowUser(ctx, actor, args[0])
			}),
		block,
		actionCommand(opts, "unblock <user-id>", "Unblock a user", 1,
			func(ctx context.Context, a *app, actor string, args []string) (any, error) {
				return a.graph.UnblockUser(ctx, actor, args[0])
			}),
	)
	return cmd
}
