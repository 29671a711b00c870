package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"opsdesk/internal/agenda"
	"opsdesk/internal/app"
	"opsdesk/internal/config"
	"opsdesk/internal/db"
	"opsdesk/internal/engine"
	"opsdesk/internal/logging"
	"opsdesk/internal/migrate"
	"opsdesk/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "desk",
	Short: "Desk operations CLI",
	Long: `Desk runs the small jobs around a Notion workspace.
- Agendas: collect the open items of an agenda data source and email them.
- Trending: write today's trending repositories and retire older duplicates.
- Tasks: list open tasks and ask the language model for a digest.
- Pages: write markdown (or generated text) into pages and read them back.
Every job that writes is journaled in .desk/desk.db; see 'desk runs' and 'desk events'.
Secrets come from DESK_NOTION_TOKEN, DESK_RESEND_API_KEY, DESK_GROQ_API_KEY and DESK_JWT_SECRET.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	// .env in the workspace is a fallback for secrets not in the environment.
	envFile := filepath.Join(viper.GetString("workspace"), ".env")
	if _, err := os.Stat(envFile); err == nil {
		v := viper.New()
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err == nil {
			for _, key := range v.AllKeys() {
				name := strings.TrimPrefix(key, "desk_")
				if name != key && !viper.IsSet(name) {
					viper.SetDefault(name, v.GetString(key))
				}
			}
		}
	}
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", defaultActor(), "name recorded on journaled runs")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-dev", false, "human-readable logs")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log_dev", rootCmd.PersistentFlags().Lookup("log-dev"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(agendaCmd())
	rootCmd.AddCommand(trendingCmd())
	rootCmd.AddCommand(tasksCmd())
	rootCmd.AddCommand(colleaguesCmd())
	rootCmd.AddCommand(pageCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(configCmd())
}

func initCmd() *cobra.Command {
	var force, withSecret bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create desk.yml and the journal database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			dir, err := db.EnsureWorkspace(workspace)
			if err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			wrote := false
			if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) || force {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				wrote = true
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			applied, err := migrate.Apply(cmd.Context(), conn)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(applied))
			for _, m := range applied {
				names = append(names, m.Name)
			}
			out := map[string]any{"workspace": dir, "config": cfgPath, "config_written": wrote, "database": db.Path(workspace), "migrations": names}
			if withSecret {
				envPath := filepath.Join(workspace, ".env")
				secret := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
				if err := setEnvValue(envPath, "DESK_JWT_SECRET", secret); err != nil {
					return err
				}
				out["env"] = envPath
			}
			if viper.GetBool("json") {
				return printJSON(out)
			}
			if wrote {
				fmt.Printf("Wrote %s\n", cfgPath)
			} else {
				fmt.Printf("Kept existing %s (use --force to overwrite)\n", cfgPath)
			}
			fmt.Printf("Journal at %s (%d migration(s) applied)\n", db.Path(workspace), len(names))
			if withSecret {
				fmt.Printf("Stored DESK_JWT_SECRET in %s\n", out["env"])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing desk.yml")
	cmd.Flags().BoolVar(&withSecret, "with-secret", false, "generate DESK_JWT_SECRET into .env")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noAuth bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session, logger *zap.Logger) error {
				authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt_secret"), Disabled: noAuth}
				if authCfg.JWTSecret == "" && !noAuth {
					return fmt.Errorf("DESK_JWT_SECRET is required for bearer auth (or pass --no-auth)")
				}
				handler, err := server.New(server.Config{Engine: s.Engine, BasePath: basePath, Auth: authCfg, Logger: logger.Named("http")})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Desk API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&noAuth, "no-auth", false, "disable bearer auth (local use only)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an API bearer token with DESK_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt_secret")
			if secret == "" {
				return fmt.Errorf("DESK_JWT_SECRET is not set")
			}
			token, err := server.SignToken(secret, subject, ttl, time.Now())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"token": token, "subject": subject, "expires_in": ttl.String()})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "local-user", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect desk.yml",
		Long:  "desk.yml lives in the workspace root. ${VAR} references are expanded from the environment when it is loaded.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, seeded, err := app.ResolveConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			if seeded {
				fmt.Println("# no desk.yml found; showing defaults")
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate desk.yml and the email template",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := validateConfig(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func validateConfig(workspace string) error {
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	_, err = agenda.LoadTemplate(cfg.Email.TemplatePath)
	return err
}

// --- helpers ---

func newLogger() (*zap.Logger, error) {
	return logging.New(viper.GetString("log_level"), viper.GetBool("log_dev"))
}

func secrets() engine.Secrets {
	return engine.Secrets{
		WorkspaceToken: viper.GetString("notion_token"),
		MailAPIKey:     viper.GetString("resend_api_key"),
		LLMAPIKey:      viper.GetString("groq_api_key"),
	}
}

func withSession(ctx context.Context, fn func(context.Context, *app.Session, *zap.Logger) error) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()
	s, err := app.Open(ctx, viper.GetString("workspace"), secrets(), logger)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(engine.WithActor(ctx, viper.GetString("actor")), s, logger)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withSession(ctx, func(ctx context.Context, s *app.Session, _ *zap.Logger) error {
		return fn(ctx, s.Engine)
	})
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return "cli:" + u
	}
	return "cli"
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row(header))
	return tw
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// printRun reports the journaled run id after a job, including failed ones.
func printRun(runID string) {
	if runID != "" && !viper.GetBool("json") {
		fmt.Printf("run %s\n", runID)
	}
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}
