package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/capforge/api/internal/capability"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "capmap",
	Short: "Inspect capability maps",
	Long: `capmap checks the capability map an application exposes to the generator.
- validate: structural checks (version, sections, generatedAt).
- summary: section counts and every query and action with its route.
- match: which capabilities a prompt would be scoped to before the feasibility check.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	rootCmd.AddCommand(validateCmd(), summaryCmd(), matchCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CAPMAP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("file", "f", "capability-map.json", "capability map file (JSON or YAML)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("file", rootCmd.PersistentFlags().Lookup("file"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func mapFile(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return viper.GetString("file")
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a capability map",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := mapFile(args)
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			problems := capability.Validate(data)
			if viper.GetBool("json") {
				if err := printJSON(map[string]any{"file": path, "valid": len(problems) == 0, "errors": orEmpty(problems)}); err != nil {
					return err
				}
			} else if len(problems) == 0 {
				fmt.Printf("%s: valid\n", path)
			} else {
				for _, p := range problems {
					fmt.Printf("%s: %s\n", path, p)
				}
			}
			if len(problems) > 0 {
				return errors.New("capability map is invalid")
			}
			return nil
		},
	}
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary [file]",
		Short: "Summarize a capability map",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := capability.LoadFile(mapFile(args))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{
					"projectName": m.ProjectName,
					"summary":     capability.Summarize(m),
					"queries":     m.Queries,
					"actions":     m.Actions,
				})
			}

			s := capability.Summarize(m)
			if m.ProjectName != "" {
				fmt.Printf("Project: %s\n", m.ProjectName)
			}
			fmt.Printf("Entities: %d  Queries: %d  Actions: %d  Components: %d\n",
				s.Entities, s.Queries, s.Actions, s.Components)
			renderCapabilities(capability.Subset{Queries: m.Queries, Actions: m.Actions})
			return nil
		},
	}
}

func matchCmd() *cobra.Command {
	var prompt string
	var keywords []string
	cmd := &cobra.Command{
		Use:   "match [file]",
		Short: "Show the capabilities a prompt is scoped to",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if prompt == "" && len(keywords) == 0 {
				return errors.New("--prompt or --keyword is required")
			}
			m, err := capability.LoadFile(mapFile(args))
			if err != nil {
				return err
			}
			in := capability.SubsetInput{Keywords: keywords, Prompt: prompt}
			subset := capability.SelectSubset(m, in)
			matched := capability.HasMatch(m, in)
			if viper.GetBool("json") {
				return printJSON(map[string]any{
					"matched":  matched,
					"tokens":   capability.Tokenize(prompt),
					"keywords": capability.NormalizeKeywords(keywords),
					"subset":   subset,
				})
			}
			if !matched {
				fmt.Println("No capability matches; the feasibility check would short-circuit.")
				return nil
			}
			renderCapabilities(subset)
			return nil
		},
	}
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "user prompt")
	cmd.Flags().StringSliceVarP(&keywords, "keyword", "k", nil, "extracted keyword (repeatable)")
	return cmd
}

func renderCapabilities(s capability.Subset) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Kind", "Name", "Route", "Description"})
	for _, section := range []struct {
		kind    capability.Kind
		entries []capability.Entry
	}{
		{capability.KindQuery, s.Queries.Entries()},
		{capability.KindAction, s.Actions.Entries()},
	} {
		for _, e := range section.entries {
			r := capability.RouteFor(e.Capability, section.kind)
			tw.AppendRow(table.Row{section.kind, e.Name, r.Method + " " + r.Path, e.Capability.Description})
		}
	}
	tw.Render()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orEmpty(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
