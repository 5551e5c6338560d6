package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/markbook/internal/handler"
	appI18n "github.com/pavelanni/markbook/internal/i18n"
	"github.com/pavelanni/markbook/internal/llm"
	"github.com/pavelanni/markbook/internal/llm/prompts"
	"github.com/pavelanni/markbook/internal/llm/tesseract"
	"github.com/pavelanni/markbook/internal/model"
	"github.com/pavelanni/markbook/internal/store"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP grading server",
		RunE:  runServe,
	}
	addStoreFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("upload-dir", "uploads", "Directory for uploaded papers")
	f.Int("max-upload-mb", 10, "Maximum upload size in MB")
	f.String("provider", "openai", "Analysis provider (openai, gemini, ocr)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for the OpenAI-compatible endpoint")
	f.String("llm-model", "llama3.2", "Text model name")
	f.String("vision-model", "llama3.2-vision", "Vision model name (defaults to --llm-model when empty)")
	f.String("gemini-key", "", "Gemini API key")
	f.String("gemini-model", "gemini-2.5-flash", "Gemini model name")
	f.StringSlice("ocr-langs", []string{"chi_sim", "eng"}, "Tesseract languages for the ocr provider")
	f.String("prompt-variant", string(prompts.PromptStandard), "Grading prompt variant (strict, standard, lenient)")
	f.String("prompt-dir", "", "Directory with templates/*.txt overriding the built-in prompts")
	f.StringP("lang", "l", "zh", "Default language (zh, en)")
	f.Duration("analyze-timeout", 3*time.Minute, "Timeout for one provider call")
	f.Float64("rate-limit", 1, "Provider calls per second per client (0 disables)")
	f.Int("rate-burst", 5, "Provider call burst per client")
	f.Bool("require-auth", false, "Require login for record routes")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.Bool("cleanup-uploads", false, "Delete uploaded files once analysis completes")
	f.String("admin-password", "", "Initial admin password (or set MARKBOOK_ADMIN_PASSWORD)")
	addLogFlags(cmd)
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	if dir := v.GetString("prompt-dir"); dir != "" {
		if err := prompts.Load(os.DirFS(dir)); err != nil {
			return fmt.Errorf("load prompts: %w", err)
		}
		slog.Info("loaded prompt templates", "dir", dir)
	}

	db, err := openStore(v)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := seedAdmin(cmd.Context(), db, v.GetString("admin-password"), v.GetBool("require-auth")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	promptVariant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(promptVariant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", promptVariant)
		promptVariant = string(prompts.PromptStandard)
	}
	provider, err := newProvider(cmd.Context(), v, llm.Options{Variant: prompts.PromptVariant(promptVariant), Lang: lang})
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}

	cfg := model.ServerConfig{
		UploadDir:      v.GetString("upload-dir"),
		MaxUploadBytes: int64(v.GetInt("max-upload-mb")) << 20,
		AnalyzeTimeout: v.GetDuration("analyze-timeout"),
		RequireAuth:    v.GetBool("require-auth"),
		SecureCookies:  v.GetBool("secure-cookies"),
		CleanupUploads: v.GetBool("cleanup-uploads"),
		RateLimit:      v.GetFloat64("rate-limit"),
		RateBurst:      v.GetInt("rate-burst"),
	}
	h, err := handler.New(db, provider, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go cleanupSessions(ctx, db, time.Hour)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	slog.Info("starting server",
		"addr", addr,
		"provider", provider.Name(),
		"db_driver", v.GetString("db-driver"),
		"lang", lang,
		"prompt_variant", promptVariant,
		"max_upload_mb", v.GetInt("max-upload-mb"),
		"require_auth", cfg.RequireAuth,
		"rate_limit", cfg.RateLimit,
	)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newProvider(ctx context.Context, v *viper.Viper, opts llm.Options) (llm.Provider, error) {
	openAI := func() *llm.OpenAIClient {
		return llm.NewOpenAI(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"), v.GetString("vision-model"), opts)
	}
	switch name := strings.ToLower(v.GetString("provider")); name {
	case "openai":
		return openAI(), nil
	case "gemini":
		key := v.GetString("gemini-key")
		if key == "" {
			return nil, fmt.Errorf("--gemini-key is required for the gemini provider")
		}
		g, err := llm.NewGemini(ctx, key, v.GetString("gemini-model"), opts)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "ocr":
		if !tesseract.Available() {
			slog.Warn("built without the tesseract tag, the ocr provider only reads PDF text layers")
		}
		return llm.NewOCRPipeline(tesseract.New(v.GetStringSlice("ocr-langs")...), openAI()), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

func cleanupSessions(ctx context.Context, db store.SessionRepository, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := db.CleanupExpiredSessions(ctx); err != nil {
				slog.Warn("failed to clean up expired sessions", "error", err)
			}
		}
	}
}

func seedAdmin(ctx context.Context, db store.UserRepository, password string, required bool) error {
	count, err := db.UserCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		if required {
			return fmt.Errorf("admin password is required with --require-auth: set --admin-password flag or MARKBOOK_ADMIN_PASSWORD env var")
		}
		slog.Info("no users and no admin password, running without an admin account")
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(ctx, model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
