package quiz

import (
	"net/http"
	"time"
)

// Metric labels. Statistics are grouped by these names, never by URL.
const (
	LabelCreateUser     = "CreateUser"
	LabelLogin          = "Login"
	LabelGetQuiz        = "GetQuiz"
	LabelUpdateScore    = "UpdateScore"
	LabelGetRanking     = "GetRanking"
	LabelCreateQuestion = "CreatePergunta"
)

// Labels lists every action label in the order they are reported.
var Labels = []string{
	LabelCreateUser,
	LabelLogin,
	LabelGetQuiz,
	LabelUpdateScore,
	LabelGetRanking,
	LabelCreateQuestion,
}

// Outcome classifies one HTTP exchange.
type Outcome struct {
	Name       string        `json:"name"`
	Success    bool          `json:"success"`
	Reason     string        `json:"reason,omitempty"`
	StatusCode int           `json:"statusCode"`
	Duration   time.Duration `json:"duration"`
	Bytes      int64         `json:"bytes"`
	Err        error         `json:"-"`
}

// Recorder receives every classified exchange.
type Recorder interface {
	RecordLatency(duration time.Duration, requestName string, success bool, bytes int64)
	RecordFailure(requestName, reason string)
}

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}
