package main

import (
	"fmt"

	"agentlink/internal/keys"
	"agentlink/internal/registry"

	"github.com/spf13/cobra"
)

func registerCmd() *cobra.Command {
	var (
		opts registry.RegisterOptions
		file string
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an agent on the ledger",
		Long: `Creates an agent account with inbound and outbound topics, publishes its
profile and appends it to the registry. Pass --account and --key to import
an existing account, or -f to read the definition from a YAML file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				def, err := registry.LoadDefinition(file)
				if err != nil {
					return err
				}
				// Flags given explicitly win over the file.
				if cmd.Flags().Changed("name") {
					def.Name = opts.Name
				}
				if cmd.Flags().Changed("capability") {
					def.Capabilities = opts.Capabilities
				}
				if cmd.Flags().Changed("model") {
					def.Model = opts.Model
				}
				if cmd.Flags().Changed("creator") {
					def.Creator = opts.Creator
				}
				if opts.AccountID != "" {
					def.AccountID, def.PrivateKey = opts.AccountID, opts.PrivateKey
				}
				opts = def
			}

			e, _, cleanup, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			rec, err := e.Registry.RegisterAgent(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if opts.Imported() {
				rec.PrivateKey = ""
			}
			logger.Info("agent registered", "name", rec.Profile.Name, "account", rec.AccountID, "registry", e.Registry.RegistryTopicID())
			return printJSON(rec)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "agent definition file (YAML)")
	cmd.Flags().StringVarP(&opts.Name, "name", "n", "", "agent name")
	cmd.Flags().IntSliceVar(&opts.Capabilities, "capability", nil, "capability codes (repeatable)")
	cmd.Flags().StringVar(&opts.Model, "model", "", "model identifier")
	cmd.Flags().StringVar(&opts.Creator, "creator", "", "creator")
	cmd.Flags().StringVar(&opts.AccountID, "account", "", "existing account id to import")
	cmd.Flags().StringVar(&opts.PrivateKey, "key", "", "private key of the imported account")
	return cmd
}

func profileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profile [account]",
		Short: "Show the published profile of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, cleanup, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			p, err := e.Registry.GetAgentProfile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if p == nil {
				return fmt.Errorf("no agent profile for %s", args[0])
			}
			return printJSON(p)
		},
	}
}

func findCmd() *cobra.Command {
	var (
		name       string
		capability int
	)
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Search the registry by name or capability",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, cleanup, err := openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			f := registry.Filter{Name: name}
			if cmd.Flags().Changed("capability") {
				f.Capability = &capability
			}
			profiles, err := e.Registry.FindAgents(cmd.Context(), f)
			if err != nil {
				return err
			}
			return printJSON(profiles)
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "case-insensitive name substring")
	cmd.Flags().IntVar(&capability, "capability", 0, "capability code")
	return cmd
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := keys.Generate()
			if err != nil {
				return err
			}
			return printJSON(map[string]string{
				"privateKey": k.String(),
				"publicKey":  k.Public().String(),
			})
		},
	}
}
