package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/victornm/arena/internal/arena"
	"github.com/victornm/arena/internal/domain"
	"github.com/victornm/arena/internal/errors"
	"github.com/victornm/arena/internal/leaderboard"
	"github.com/victornm/arena/internal/scoring"
)

const defaultQuestionLimit = 10

type SubmitRequest struct {
	// Answers maps question ID to the chosen value.
	Answers map[string]string `json:"answers"`
}

func (a *API) getRoom(c *gin.Context) {
	v, err := a.arena.State(c.Request.Context(), c.Param("room"))
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, v)
}

func (a *API) startRound(c *gin.Context) {
	var spec arena.RoundSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid body: %s", err)))
		return
	}

	r, err := a.arena.StartRound(c.Request.Context(), c.Param("room"), spec)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, arena.RoundView(*r))
}

func (a *API) forceResolve(c *gin.Context) {
	res, err := a.arena.ForceResolve(c.Request.Context(), c.Param("room"))
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (a *API) getStandings(c *gin.Context) {
	st, err := a.ls.GetStandings(c.Request.Context(), c.Param("room"))
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, st)
}

func (a *API) getQuestions(c *gin.Context) {
	limit := defaultQuestionLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			renderError(c, errors.InvalidArgument("invalid limit: %s", s))
			return
		}
		limit = n
	}

	qs, err := a.questions.SampleQuestions(c.Request.Context(), c.Query("topic"), c.Query("difficulty"), limit)
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"questions": lo.Map(qs, func(q domain.Question, _ int) arena.QuestionView {
			return arena.QuestionView{QuestionID: q.QuestionID, Text: q.Text, Options: q.Options}
		}),
	})
}

// submit grades a solo practice attempt. It does not touch any room.
func (a *API) submit(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		renderError(c, errors.InvalidArgument("userId is required"))
		return
	}

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Answers) == 0 {
		renderError(c, errors.InvalidArgument("answers are required"))
		return
	}

	correct, err := a.questions.CorrectAnswers(c.Request.Context(), lo.Keys(req.Answers))
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, scoring.Evaluate(userID, req.Answers, correct))
}

func (a *API) getLeaderboard(c *gin.Context) {
	w, err := domain.ParseWindow(c.Query("window"))
	if err != nil {
		renderError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("%s", err)))
		return
	}

	l, err := a.ls.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{
		Window: w,
		Topic:  c.Query("topic"),
		RoomID: c.Query("room"),
	})
	if err != nil {
		renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, l)
}

func renderError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed", "path", c.FullPath(), "error", err)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{"error": e})
}
