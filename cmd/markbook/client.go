package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/markbook/internal/apiclient"
	appI18n "github.com/pavelanni/markbook/internal/i18n"
	"github.com/pavelanni/markbook/internal/imageprep"
	"github.com/pavelanni/markbook/internal/model"
	"github.com/pavelanni/markbook/internal/workflow"
)

func addClientFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("server", "s", "http://localhost:8080", "markbook server URL")
	f.String("session", "default", "Name of the client session")
	f.String("session-store", "file", "Where the session is kept (file, redis)")
	f.String("session-dir", "", "Directory for file sessions (default: user cache dir)")
	f.String("redis-addr", "localhost:6379", "Redis address for --session-store=redis")
	f.Duration("session-ttl", 7*24*time.Hour, "Expiry of redis sessions")
	f.StringP("lang", "l", "zh", "Message language (zh, en)")
	f.String("username", "", "Log in as this user before calling the server")
	f.String("password", "", "Password for --username (or set MARKBOOK_PASSWORD)")
	addLogFlags(cmd)
}

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "analyze FILE",
		Short:        "Upload an exam paper and show the graded result",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         runAnalyze,
	}
	addClientFlags(cmd)
	f := cmd.Flags()
	f.Int("max-retries", workflow.DefaultRetryPolicy().MaxRetries, "Retries of a failed server call")
	f.Duration("retry-base", workflow.DefaultRetryPolicy().BaseDelay, "Delay before the first retry; doubles each retry")
	f.Int("max-dimension", imageprep.DefaultMaxDimension, "Downsize images to this many pixels on the longer side (0 keeps the original)")
	f.Int("jpeg-quality", imageprep.DefaultQuality, "JPEG quality of downsized images")
	return cmd
}

func retryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "retry",
		Short:        "Analyze the last failed paper again without uploading it",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         runRetry,
	}
	addClientFlags(cmd)
	f := cmd.Flags()
	f.Int("max-retries", workflow.DefaultRetryPolicy().MaxRetries, "Retries of a failed server call")
	f.Duration("retry-base", workflow.DefaultRetryPolicy().BaseDelay, "Delay before the first retry; doubles each retry")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "status",
		Short:        "Show the saved client session",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         runStatus,
	}
	addClientFlags(cmd)
	return cmd
}

func resetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "reset",
		Short:        "Forget the saved client session",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         runReset,
	}
	addClientFlags(cmd)
	return cmd
}

func wrongQuestionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "wrong-questions",
		Short:        "List wrong questions from graded papers",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         runWrongQuestions,
	}
	addClientFlags(cmd)
	cmd.Flags().Bool("classified", false, "Group by knowledge point, error type and difficulty")
	return cmd
}

// clientEnv is what every client command needs.
type clientEnv struct {
	v      *viper.Viper
	ctx    context.Context
	api    *apiclient.Client
	store  workflow.SessionStore
	close  func()
	engine *workflow.Engine
}

func newClientEnv(cmd *cobra.Command) (*clientEnv, error) {
	v := viperForCmd(cmd)
	setupLogging(v)

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return nil, fmt.Errorf("init i18n: %w", err)
	}
	ctx := appI18n.WithLang(cmd.Context(), lang)

	api := apiclient.New(v.GetString("server"), nil).WithLanguage(lang)
	if username := v.GetString("username"); username != "" {
		if err := api.Login(ctx, username, v.GetString("password")); err != nil {
			return nil, fmt.Errorf("log in as %s: %w", username, err)
		}
		slog.Debug("logged in", "username", username)
	}

	store, closeStore, err := openSessionStore(v)
	if err != nil {
		return nil, err
	}
	return &clientEnv{v: v, ctx: ctx, api: api, store: store, close: closeStore}, nil
}

func openSessionStore(v *viper.Viper) (workflow.SessionStore, func(), error) {
	session := v.GetString("session")
	switch kind := strings.ToLower(v.GetString("session-store")); kind {
	case "", "file":
		dir := v.GetString("session-dir")
		if dir == "" {
			cache, err := os.UserCacheDir()
			if err != nil {
				return nil, nil, fmt.Errorf("locate cache dir: %w", err)
			}
			dir = filepath.Join(cache, "markbook", "sessions")
		}
		fs, err := workflow.NewFileSessionStore(filepath.Join(dir, session))
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: v.GetString("redis-addr")})
		rs := workflow.NewRedisSessionStore(client, "markbook:"+session+":", v.GetDuration("session-ttl"))
		return rs, func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown session store %q", kind)
	}
}

// startEngine restores the saved session and starts reporting progress and
// connectivity. The returned stop function must be called before env.close.
func (env *clientEnv) startEngine(cfg workflow.Config) (stop func(), err error) {
	cfg.Lang = env.v.GetString("lang")
	cfg.Retry.MaxRetries = env.v.GetInt("max-retries")
	cfg.Retry.BaseDelay = env.v.GetDuration("retry-base")
	env.engine = workflow.New(env.api, env.store, cfg)
	if err := env.engine.Restore(env.ctx); err != nil {
		return nil, fmt.Errorf("restore session: %w", err)
	}

	unsubscribe := env.engine.Subscribe(progressPrinter(os.Stderr))

	watchCtx, cancel := context.WithCancel(env.ctx)
	watcher := &workflow.NetWatcher{
		Probe:    env.api.Health,
		Interval: 5 * time.Second,
		Timeout:  3 * time.Second,
		OnChange: env.engine.SetOnline,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		watcher.Run(watchCtx)
	}()

	return func() {
		cancel()
		<-done
		unsubscribe()
		_ = env.engine.Close()
	}, nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	file, err := readPaper(args[0])
	if err != nil {
		return err
	}
	env, err := newClientEnv(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	cfg := workflow.DefaultConfig()
	cfg.MaxDimension = env.v.GetInt("max-dimension")
	cfg.JPEGQuality = env.v.GetInt("jpeg-quality")
	cfg.Previews = workflow.TempPreviews{}
	stop, err := env.startEngine(cfg)
	if err != nil {
		return err
	}
	defer stop()

	ctx, cancel := signal.NotifyContext(env.ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := env.engine.SelectFile(ctx, file); err != nil {
		return reportFailure(env, err)
	}
	st := env.engine.State()
	printResult(os.Stdout, env.ctx, st.Results)
	return nil
}

func runRetry(cmd *cobra.Command, _ []string) error {
	env, err := newClientEnv(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	stop, err := env.startEngine(workflow.DefaultConfig())
	if err != nil {
		return err
	}
	defer stop()

	ctx, cancel := signal.NotifyContext(env.ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := env.engine.RetryAnalysis(ctx); err != nil {
		return reportFailure(env, err)
	}
	printResult(os.Stdout, env.ctx, env.engine.State().Results)
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	env, err := newClientEnv(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	engine := workflow.New(env.api, env.store, workflow.Config{Lang: env.v.GetString("lang")})
	if err := engine.Restore(env.ctx); err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	printState(os.Stdout, engine.State())

	if id := engine.State().ExamPaperID; id != "" {
		rec, err := env.api.GetRecord(env.ctx, id)
		if err != nil {
			slog.Warn("could not fetch the record", "record_id", id, "error", err)
			return nil
		}
		fmt.Fprintf(os.Stdout, "server status: %s\n", rec.Status)
	}
	return nil
}

func runReset(cmd *cobra.Command, _ []string) error {
	env, err := newClientEnv(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	engine := workflow.New(env.api, env.store, workflow.Config{Lang: env.v.GetString("lang")})
	if err := engine.Restore(env.ctx); err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	return engine.StartOver(env.ctx)
}

func runWrongQuestions(cmd *cobra.Command, _ []string) error {
	env, err := newClientEnv(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	if env.v.GetBool("classified") {
		c, err := env.api.ClassifiedWrongQuestions(env.ctx)
		if err != nil {
			return errors.New(apiclient.UserMessage(env.ctx, err))
		}
		printClassification(os.Stdout, env.ctx, c)
		return nil
	}
	wqs, err := env.api.WrongQuestions(env.ctx)
	if err != nil {
		return errors.New(apiclient.UserMessage(env.ctx, err))
	}
	printWrongQuestions(os.Stdout, env.ctx, wqs)
	return nil
}

// reportFailure turns an engine error into the message already shown in the
// state, so the command exits non-zero with what the user saw.
func reportFailure(env *clientEnv, err error) error {
	st := env.engine.State()
	switch {
	case errors.Is(err, workflow.ErrBusy), errors.Is(err, workflow.ErrNothingToRetry):
		return errors.New(st.Notice)
	case st.Error != "":
		if st.CanRetry() {
			fmt.Fprintln(os.Stderr, appI18n.T(env.ctx, "NoticeResumeHint"))
		}
		return errors.New(st.Error)
	}
	return err
}

func readPaper(path string) (workflow.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return workflow.File{}, fmt.Errorf("read %s: %w", path, err)
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
		if model.IsPDF(path, mimeType) {
			mimeType = "application/pdf"
		}
	}
	return workflow.File{Name: filepath.Base(path), MIMEType: mimeType, Data: data}, nil
}
