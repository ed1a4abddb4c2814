package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:          "genclient",
	Short:        "Drive the capforge generation API from the command line",
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	rootCmd.AddCommand(generateCmd(), streamCmd(), jobCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GENCLIENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.String("url", "http://localhost:8080/api", "API base URL")
	flags.String("token", "", "bearer token")
	flags.String("jwt-secret", "", "sign a token locally with this secret (instead of --token)")
	flags.String("subject", "genclient", "subject of a locally signed token")
	flags.Duration("timeout", 5*time.Minute, "overall deadline")
	for _, name := range []string{"url", "token", "jwt-secret", "subject", "timeout"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func newClient() (*apiClient, error) {
	token := viper.GetString("token")
	if token == "" && viper.GetString("jwt-secret") != "" {
		var err error
		token, err = signToken(viper.GetString("jwt-secret"), viper.GetString("subject"))
		if err != nil {
			return nil, fmt.Errorf("sign token: %w", err)
		}
	}
	return &apiClient{
		baseURL: viper.GetString("url"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), viper.GetDuration("timeout"))
}

type requestFlags struct {
	provider  string
	model     string
	maxTokens int
	dsl       bool
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.provider, "provider", "openai", "LLM provider")
	cmd.Flags().StringVar(&f.model, "model", "gpt-4o", "model id")
	cmd.Flags().IntVar(&f.maxTokens, "max-tokens", 0, "completion budget per call")
	cmd.Flags().BoolVar(&f.dsl, "dsl", false, "use the legacy DSL mode")
}

func (f *requestFlags) request(prompt string) generateRequest {
	req := generateRequest{
		Prompt:   prompt,
		Provider: f.provider,
		Model:    f.model,
		Options:  generateOptions{MaxTokens: f.maxTokens},
	}
	if f.dsl {
		req.Options.Mode = "dsl"
	}
	return req
}

func generateCmd() *cobra.Command {
	var flags requestFlags
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Submit a generation job and poll it to completion",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			req := flags.request(strings.Join(args, " "))
			if flags.dsl {
				out, err := client.legacy(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(out)
			}

			id, err := client.submit(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "job %s queued\n", id)

			st, err := client.poll(ctx, id, interval, func(step string) {
				fmt.Fprintf(os.Stderr, "step: %s\n", step)
			})
			if err != nil {
				return err
			}
			return report(st)
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval")
	return cmd
}

func streamCmd() *cobra.Command {
	var flags requestFlags
	cmd := &cobra.Command{
		Use:   "stream <prompt>",
		Short: "Run a generation over server-sent events",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			var failure error
			err = client.stream(ctx, flags.request(strings.Join(args, " ")), func(ev sseEvent) {
				switch ev.Name {
				case "step":
					var s struct{ Step, Status string }
					_ = json.Unmarshal([]byte(ev.Data), &s)
					fmt.Fprintf(os.Stderr, "step: %s %s\n", s.Step, s.Status)
				case "chunk":
					var c struct{ Text string }
					_ = json.Unmarshal([]byte(ev.Data), &c)
					fmt.Fprint(os.Stderr, c.Text)
				case "done":
					_ = printJSON(json.RawMessage(ev.Data))
				case "error":
					failure = errors.New(ev.Data)
				}
			})
			if err != nil {
				return err
			}
			return failure
		},
	}
	flags.register(cmd)
	return cmd
}

func jobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "job <id>",
		Short: "Show the current state of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			st, err := client.job(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(st)
		},
	}
}

func report(st *jobStatus) error {
	switch st.Status {
	case "failed":
		return fmt.Errorf("generation failed: %s", st.Error)
	case "clarification":
		fmt.Fprintln(os.Stderr, "the generator needs clarification:")
	}
	return printJSON(st.Result)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
