// Package quiztest provides an in-memory quiz gateway for tests and local
// smoke runs.
package quiztest

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wesleyorama2/quizload/internal/quiz"
)

// Route keys accepted by Gateway.Hits.
const (
	RouteCreateUser     = http.MethodPost + " " + quiz.PathCreateUser
	RouteLogin          = http.MethodPost + " " + quiz.PathLogin
	RouteGetQuiz        = http.MethodGet + " " + quiz.PathQuiz
	RouteCreateQuestion = http.MethodPost + " " + quiz.PathQuiz
	RouteUpdateScore    = http.MethodPost + " " + quiz.PathUpdateScore
	RouteGetRanking     = http.MethodGet + " " + quiz.PathRanking
)

// User is a registered account as listed by the ranking route.
type User struct {
	Name  string `json:"nome"`
	Login string `json:"login"`
	Score int    `json:"score"`

	password string
	token    string
}

// Question is a stored quiz question.
type Question struct {
	ID           int      `json:"id"`
	Text         string   `json:"texto"`
	Alternatives []string `json:"alternativas"`
	AnswerIndex  int      `json:"indice_resposta"`
	Explanation  string   `json:"explicacao"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Gateway serves the quiz HTTP API from memory.
//
// It keeps the response shapes of the real gateway: login returns
// {"tokenrem": ...}, the ranking is {"users": [...]} ordered by score and
// backend failures are 502 with {"error": ...}.
type Gateway struct {
	mux     *http.ServeMux
	logger  *zap.Logger
	latency time.Duration

	mu          sync.Mutex
	users       map[string]*User // by login
	byToken     map[string]*User
	questions   []Question
	nextID      int
	hits        map[string]int
	loginStatus int
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLatency delays every response by d.
func WithLatency(d time.Duration) Option {
	return func(g *Gateway) { g.latency = d }
}

// WithLogger logs every request at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// NewGateway creates an empty gateway.
func NewGateway(opts ...Option) *Gateway {
	g := &Gateway{
		mux:     http.NewServeMux(),
		logger:  zap.NewNop(),
		users:   make(map[string]*User),
		byToken: make(map[string]*User),
		hits:    make(map[string]int),
		nextID:  1,
	}
	for _, opt := range opts {
		opt(g)
	}

	g.mux.HandleFunc(RouteCreateUser, g.createUser)
	g.mux.HandleFunc(RouteLogin, g.login)
	g.mux.HandleFunc(RouteGetQuiz, g.listQuestions)
	g.mux.HandleFunc(RouteCreateQuestion, g.createQuestion)
	g.mux.HandleFunc("DELETE "+quiz.PathQuiz+"/{id}", g.deleteQuestion)
	g.mux.HandleFunc(RouteUpdateScore, g.updateScore)
	g.mux.HandleFunc(RouteGetRanking, g.ranking)
	g.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("healthy"))
	})

	return g
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	g.hits[r.Method+" "+r.URL.Path]++
	g.mu.Unlock()

	g.logger.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path))

	if g.latency > 0 {
		select {
		case <-time.After(g.latency):
		case <-r.Context().Done():
			return
		}
	}
	g.mux.ServeHTTP(w, r)
}

// FailLogins makes every login answer with status instead of a token.
// Zero restores normal logins.
func (g *Gateway) FailLogins(status int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.loginStatus = status
}

// Hits returns how many requests reached route ("METHOD /path").
func (g *Gateway) Hits(route string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hits[route]
}

// Logins returns the registered logins in sorted order.
func (g *Gateway) Logins() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	logins := make([]string, 0, len(g.users))
	for login := range g.users {
		logins = append(logins, login)
	}
	sort.Strings(logins)
	return logins
}

// Score returns the accumulated score of login.
func (g *Gateway) Score(login string) (int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	u, ok := g.users[login]
	if !ok {
		return 0, false
	}
	return u.Score, true
}

// Questions returns a copy of the stored questions.
func (g *Gateway) Questions() []Question {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Question(nil), g.questions...)
}

func (g *Gateway) createUser(w http.ResponseWriter, r *http.Request) {
	var req quiz.CreateUserRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Login == "" {
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "login is required"})
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.users[req.Login]; exists {
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "login already exists"})
		return
	}
	u := &User{Name: req.Name, Login: req.Login, password: req.Password, token: uuid.NewString()}
	g.users[u.Login] = u
	g.byToken[u.token] = u
	writeJSON(w, http.StatusOK, struct{}{})
}

func (g *Gateway) login(w http.ResponseWriter, r *http.Request) {
	var req quiz.LoginRequest
	if !decode(w, r, &req) {
		return
	}

	g.mu.Lock()
	status := g.loginStatus
	u, ok := g.users[req.Login]
	g.mu.Unlock()

	if status != 0 {
		writeJSON(w, status, errorResponse{Error: http.StatusText(status)})
		return
	}
	if !ok || u.password != req.Password {
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tokenrem": u.token})
}

func (g *Gateway) updateScore(w http.ResponseWriter, r *http.Request) {
	var req quiz.UpdateScoreRequest
	if !decode(w, r, &req) {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	// Unknown tokens update nothing, like an UPDATE matching no rows.
	if u, ok := g.byToken[req.RememberToken]; ok {
		u.Score += req.Score
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (g *Gateway) ranking(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	users := make([]User, 0, len(g.users))
	for _, u := range g.users {
		users = append(users, *u)
	}
	g.mu.Unlock()

	sort.Slice(users, func(i, j int) bool {
		if users[i].Score != users[j].Score {
			return users[i].Score > users[j].Score
		}
		return users[i].Login < users[j].Login
	})
	writeJSON(w, http.StatusOK, map[string][]User{"users": users})
}

func (g *Gateway) listQuestions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.Questions())
}

func (g *Gateway) createQuestion(w http.ResponseWriter, r *http.Request) {
	var req quiz.CreateQuestionRequest
	if !decode(w, r, &req) {
		return
	}

	g.mu.Lock()
	q := Question{
		ID:           g.nextID,
		Text:         req.Text,
		Alternatives: req.Alternatives,
		AnswerIndex:  req.AnswerIndex,
		Explanation:  req.Explanation,
	}
	g.nextID++
	g.questions = append(g.questions, q)
	g.mu.Unlock()

	writeJSON(w, http.StatusOK, q)
}

func (g *Gateway) deleteQuestion(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "invalid id"})
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for i, q := range g.questions {
		if q.ID == id {
			g.questions = append(g.questions[:i], g.questions[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]int{"statusRet": 1})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"statusRet": 0})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
