package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// keyFlag is the optional --key flag shared by signing commands. When empty
// the key of the locally registered agent is used.
var keyFlag string

func requestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request [from] [to]",
		Short: "Ask another agent for a connection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, _, cleanup, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			key, err := e.SigningKey(ctx, args[0], keyFlag)
			if err != nil {
				return err
			}
			seq, err := e.Negotiator.RequestConnection(ctx, args[0], key, args[1])
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"sequenceNumber": seq})
		},
	}
	cmd.Flags().StringVar(&keyFlag, "key", "", "private key of the requesting agent")
	return cmd
}

func acceptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accept [account] [requester]",
		Short: "Accept a connection request and open a channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, _, cleanup, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			key, err := e.SigningKey(ctx, args[0], keyFlag)
			if err != nil {
				return err
			}
			channelID, err := e.Negotiator.AcceptConnection(ctx, args[0], key, args[1])
			if err != nil {
				return err
			}
			return printJSON(acceptResult(channelID))
		},
	}
	cmd.Flags().StringVar(&keyFlag, "key", "", "private key of the accepting agent")
	return cmd
}

// acceptResult uses the same key as the REST and MCP transports.
func acceptResult(channelID string) map[string]string {
	return map[string]string{"connectionTopicId": channelID}
}

func pendingCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "pending [account]",
		Short: "List connection requests awaiting an answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, _, cleanup, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if all {
				reqs, err := e.Negotiator.InboundRequests(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(reqs)
			}
			reqs, err := e.Negotiator.PendingRequests(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(reqs)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include accepted and expired requests")
	return cmd
}

func connectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connections [account]",
		Short: "List the peers an account has channels with",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, _, cleanup, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			peers, err := e.Negotiator.ListConnections(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(peers)
		},
	}
}

func sendCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "send [account] [channel] [message]",
		Short: "Send a message on a connection channel",
		Long: `Sends a message on a channel the account participates in. Bodies larger
than protocol.inlineThreshold are stored as a chunked object and sent as a
locator. Use -f to read the body from a file, or "-" to read stdin.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := messageBody(args[2:], file)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			e, _, cleanup, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			key, err := e.SigningKey(ctx, args[0], keyFlag)
			if err != nil {
				return err
			}
			seq, err := e.Negotiator.SendMessage(ctx, args[0], key, args[1], body)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"sequenceNumber": seq})
		},
	}
	cmd.Flags().StringVar(&keyFlag, "key", "", "private key of the sending agent")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the message body from a file")
	return cmd
}

func messageBody(args []string, file string) (string, error) {
	switch {
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read message file: %w", err)
		}
		return string(data), nil
	case len(args) == 1 && args[0] == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return strings.TrimSuffix(string(data), "\n"), nil
	case len(args) == 1:
		return args[0], nil
	default:
		return "", fmt.Errorf("message body required (argument, -f file or - for stdin)")
	}
}

func messagesCmd() *cobra.Command {
	var (
		limit   int
		decode  bool
		resolve bool
	)
	cmd := &cobra.Command{
		Use:   "messages [channel]",
		Short: "Show the most recent messages on a channel, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, _, cleanup, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if decode {
				envs, err := e.Negotiator.GetEnvelopes(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return printJSON(envs)
			}
			msgs, err := e.Negotiator.GetMessages(ctx, args[0], limit)
			if err != nil {
				return err
			}
			if resolve {
				for i, m := range msgs {
					content, err := e.Negotiator.Resolve(ctx, m)
					if err != nil {
						logger.Warn("cannot resolve message", "index", i, "err", err)
						continue
					}
					msgs[i] = string(content)
				}
			}
			return printJSON(msgs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of messages")
	cmd.Flags().BoolVar(&decode, "decode", false, "print full envelopes")
	cmd.Flags().BoolVar(&resolve, "resolve", false, "replace locators with the stored content")
	return cmd
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [data]",
		Short: "Print message data, fetching it when it is a locator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, _, cleanup, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			content, err := e.Negotiator.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(content)
			return err
		},
	}
}
