package quiz

// API routes exposed by the quiz gateway.
const (
	PathCreateUser  = "/grpc/user"
	PathLogin       = "/grpc/login"
	PathQuiz        = "/grpc/quiz"
	PathUpdateScore = "/grpc/user/score"
	PathRanking     = "/grpc/ranking"
)

// Score and answer bounds, both inclusive.
const (
	MinScore        = 0
	MaxScore        = 100
	NumAlternatives = 4
)

// QuestionExplanation is sent with every generated question.
const QuestionExplanation = "Pergunta criada pelo quizload para teste de carga."

// QuestionAlternatives are the fixed answer labels of generated questions.
var QuestionAlternatives = [NumAlternatives]string{"Alt A", "Alt B", "Alt C", "Alt D"}

// CreateUserRequest is the body of POST /grpc/user.
type CreateUserRequest struct {
	Name     string `json:"nome"`
	Login    string `json:"login"`
	Password string `json:"senha"`
}

// LoginRequest is the body of POST /grpc/login.
type LoginRequest struct {
	Login    string `json:"loginreq"`
	Password string `json:"senhareq"`
}

// UpdateScoreRequest is the body of POST /grpc/user/score.
type UpdateScoreRequest struct {
	Score         int    `json:"scorenew"`
	RememberToken string `json:"remembertok"`
}

// CreateQuestionRequest is the body of POST /grpc/quiz.
type CreateQuestionRequest struct {
	Text         string   `json:"texto"`
	Alternatives []string `json:"alternativas"`
	AnswerIndex  int      `json:"indice_resposta"`
	Explanation  string   `json:"explicacao"`
}

// NewUpdateScoreRequest draws a score in [MinScore, MaxScore].
func NewUpdateScoreRequest(r Rand, token string) UpdateScoreRequest {
	return UpdateScoreRequest{
		Score:         r.Number(MinScore, MaxScore),
		RememberToken: token,
	}
}

// NewCreateQuestionRequest builds a question with a random text suffix and
// a random correct answer index.
func NewCreateQuestionRequest(r Rand) CreateQuestionRequest {
	return CreateQuestionRequest{
		Text:         "Pergunta de carga " + RandomString(r, 4) + "?",
		Alternatives: QuestionAlternatives[:],
		AnswerIndex:  r.Number(0, NumAlternatives-1),
		Explanation:  QuestionExplanation,
	}
}
