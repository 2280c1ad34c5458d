// Package quiz models one simulated user of the quiz gateway.
//
// A Session registers a fresh account, logs in, and then repeatedly performs
// one of three weighted actions: list the quiz, update the score and look at
// the ranking, or create a question. Every HTTP exchange is reported to a
// Recorder under a fixed label so that statistics group by action.
package quiz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Defaults for a session.
const (
	DefaultLoginPrefix = "locust"
	DefaultPassword    = "senha123"
	DefaultWaitMin     = time.Second
	DefaultWaitMax     = 3 * time.Second
)

// Task names used by the weighted picker.
const (
	TaskGetQuiz        = "get_quiz"
	TaskUpdateScore    = "update_score_and_ranking"
	TaskCreateQuestion = "create_question"
)

// maxReasonBody bounds how much of a response body ends up in a failure reason.
const maxReasonBody = 200

// Weights are the relative frequencies of the repeatable actions.
type Weights struct {
	GetQuiz        int `json:"getQuiz" yaml:"getQuiz"`
	UpdateScore    int `json:"updateScore" yaml:"updateScore"`
	CreateQuestion int `json:"createQuestion" yaml:"createQuestion"`
}

// DefaultWeights returns the 5:3:1 mix.
func DefaultWeights() Weights {
	return Weights{GetQuiz: 5, UpdateScore: 3, CreateQuestion: 1}
}

// Config controls session behavior.
type Config struct {
	// BaseURL is the gateway root, e.g. http://localhost:3000
	BaseURL string

	// LoginPrefix is prepended to the random login suffix.
	LoginPrefix string

	// Password is shared by every session.
	Password string

	// WaitMin and WaitMax bound the pause between iterations.
	WaitMin time.Duration
	WaitMax time.Duration

	Weights Weights
}

// DefaultConfig returns a config pointing at baseURL with default behavior.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:     baseURL,
		LoginPrefix: DefaultLoginPrefix,
		Password:    DefaultPassword,
		WaitMin:     DefaultWaitMin,
		WaitMax:     DefaultWaitMax,
		Weights:     DefaultWeights(),
	}
}

// Session is one simulated user.
//
// A Session is driven by a single goroutine; its methods are not safe for
// concurrent use. Sessions share nothing with each other except the Doer and
// Recorder, which must be safe for concurrent use.
type Session struct {
	// ID identifies the session within a run.
	ID int

	cfg      Config
	client   Doer
	recorder Recorder
	rand     Rand
	logger   *zap.Logger
	picker   *Picker

	loginName     string
	password      string
	displayName   string
	rememberToken string
	started       bool
}

// NewSession creates a session. It returns an error only when the configured
// weights leave no selectable action.
func NewSession(id int, cfg Config, client Doer, recorder Recorder, rnd Rand, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Session{
		ID:       id,
		cfg:      cfg,
		client:   client,
		recorder: recorder,
		rand:     rnd,
		logger:   logger.With(zap.Int("session", id)),
	}

	picker, err := NewPicker(
		Task{Name: TaskGetQuiz, Weight: cfg.Weights.GetQuiz, Fn: func(ctx context.Context) { s.GetQuiz(ctx) }},
		Task{Name: TaskUpdateScore, Weight: cfg.Weights.UpdateScore, Fn: func(ctx context.Context) { s.UpdateScoreAndRanking(ctx) }},
		Task{Name: TaskCreateQuestion, Weight: cfg.Weights.CreateQuestion, Fn: func(ctx context.Context) { s.CreateQuestion(ctx) }},
	)
	if err != nil {
		return nil, err
	}
	s.picker = picker

	return s, nil
}

// LoginName returns the generated login, empty before OnStart.
func (s *Session) LoginName() string { return s.loginName }

// DisplayName returns the name sent at registration.
func (s *Session) DisplayName() string { return s.displayName }

// Password returns the session password.
func (s *Session) Password() string { return s.password }

// RememberToken returns the login token, empty until a successful login.
func (s *Session) RememberToken() string { return s.rememberToken }

// OnStart assigns the session identity, registers the user and logs in.
// It runs at most once; later calls are no-ops.
func (s *Session) OnStart(ctx context.Context) {
	if s.started {
		return
	}
	s.started = true

	s.loginName = GenerateLoginName(s.rand, s.cfg.LoginPrefix)
	s.password = s.cfg.Password
	s.displayName = "User " + s.loginName

	s.CreateUser(ctx)
	if ctx.Err() != nil {
		return
	}
	s.Login(ctx)

	s.logger.Debug("session started",
		zap.String("login", s.loginName),
		zap.Bool("authenticated", s.rememberToken != ""))
}

// RunIteration performs one weighted action.
func (s *Session) RunIteration(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	task := s.picker.Pick(s.rand)
	task.Fn(ctx)
	return nil
}

// WaitTime returns the pause before the next iteration, uniform in [WaitMin, WaitMax].
func (s *Session) WaitTime() time.Duration {
	if s.cfg.WaitMax <= s.cfg.WaitMin {
		return s.cfg.WaitMin
	}
	return time.Duration(s.rand.Float64Range(float64(s.cfg.WaitMin), float64(s.cfg.WaitMax)))
}

// CreateUser registers the session's account. Only HTTP 200 counts as success.
func (s *Session) CreateUser(ctx context.Context) Outcome {
	out, body := s.send(ctx, LabelCreateUser, http.MethodPost, PathCreateUser, CreateUserRequest{
		Name:     s.displayName,
		Login:    s.loginName,
		Password: s.password,
	})

	if out.Err == nil && out.StatusCode != http.StatusOK {
		out.Success = false
		out.Reason = fmt.Sprintf("create user failed: %d %s", out.StatusCode, reasonBody(body))
	}

	s.record(ctx, out)
	return out
}

// Login authenticates and stores the remember token on success.
//
// Success requires HTTP 200, a JSON object body and a non-empty "tokenrem"
// string.
func (s *Session) Login(ctx context.Context) Outcome {
	out, body := s.send(ctx, LabelLogin, http.MethodPost, PathLogin, LoginRequest{
		Login:    s.loginName,
		Password: s.password,
	})

	if out.Err == nil {
		switch {
		case out.StatusCode != http.StatusOK:
			out.Success = false
			out.Reason = fmt.Sprintf("login failed: %d %s", out.StatusCode, reasonBody(body))
		case !gjson.ValidBytes(body):
			out.Success = false
			out.Reason = fmt.Sprintf("invalid JSON in %s: %q", PathLogin, reasonBody(body))
		case !gjson.ParseBytes(body).IsObject():
			out.Success = false
			out.Reason = fmt.Sprintf("invalid JSON in %s: expected an object, got %q", PathLogin, reasonBody(body))
		default:
			token := gjson.GetBytes(body, "tokenrem")
			if token.Type != gjson.String || token.Str == "" {
				out.Success = false
				out.Reason = "login OK but no 'tokenrem' in JSON"
			} else {
				s.setRememberToken(token.Str)
			}
		}
	}

	if !out.Success && ctx.Err() == nil {
		s.logger.Debug("login failed", zap.String("login", s.loginName), zap.String("reason", out.Reason))
	}

	s.record(ctx, out)
	return out
}

// GetQuiz lists the quiz questions.
func (s *Session) GetQuiz(ctx context.Context) Outcome {
	out, _ := s.send(ctx, LabelGetQuiz, http.MethodGet, PathQuiz, nil)
	s.record(ctx, out)
	return out
}

// UpdateScoreAndRanking posts a random score and then reads the ranking.
// Without a remember token it sends nothing and returns nil.
func (s *Session) UpdateScoreAndRanking(ctx context.Context) []Outcome {
	if s.rememberToken == "" {
		return nil
	}

	score, _ := s.send(ctx, LabelUpdateScore, http.MethodPost, PathUpdateScore,
		NewUpdateScoreRequest(s.rand, s.rememberToken))
	s.record(ctx, score)

	if ctx.Err() != nil {
		return []Outcome{score}
	}

	ranking, _ := s.send(ctx, LabelGetRanking, http.MethodGet, PathRanking, nil)
	s.record(ctx, ranking)

	return []Outcome{score, ranking}
}

// CreateQuestion posts a generated question.
func (s *Session) CreateQuestion(ctx context.Context) Outcome {
	out, _ := s.send(ctx, LabelCreateQuestion, http.MethodPost, PathQuiz, NewCreateQuestionRequest(s.rand))
	s.record(ctx, out)
	return out
}

// setRememberToken stores the token once; a set token is never replaced.
func (s *Session) setRememberToken(token string) {
	if s.rememberToken != "" {
		return
	}
	s.rememberToken = token
}

// send performs one exchange. Success is set when the exchange completed at
// the transport level; callers apply any semantic checks on top.
func (s *Session) send(ctx context.Context, name, method, path string, payload interface{}) (Outcome, []byte) {
	out := Outcome{Name: name}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			out.Err = fmt.Errorf("failed to encode %s body: %w", name, err)
			out.Reason = out.Err.Error()
			return out, nil
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.url(path), body)
	if err != nil {
		out.Err = fmt.Errorf("failed to build request: %w", err)
		out.Reason = out.Err.Error()
		return out, nil
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		out.Duration = time.Since(start)
		out.Err = err
		out.Reason = err.Error()
		return out, nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	out.Duration = time.Since(start)
	out.StatusCode = resp.StatusCode
	out.Bytes = int64(len(respBody))
	if err != nil {
		out.Err = fmt.Errorf("failed to read response body: %w", err)
		out.Reason = out.Err.Error()
		return out, respBody
	}

	out.Success = true
	return out, respBody
}

// record reports an outcome. Exchanges cut short by run-stop are dropped.
func (s *Session) record(ctx context.Context, out Outcome) {
	if s.recorder == nil {
		return
	}
	if out.Err != nil && ctx.Err() != nil {
		return
	}

	s.recorder.RecordLatency(out.Duration, out.Name, out.Success, out.Bytes)
	if !out.Success {
		s.recorder.RecordFailure(out.Name, out.Reason)
	}
}

func (s *Session) url(path string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + path
}

func reasonBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > maxReasonBody {
		cut := maxReasonBody
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		return text[:cut] + "..."
	}
	return text
}
