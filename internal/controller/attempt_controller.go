package controller

import (
	"errors"
	"exam_platform_backend/internal/model"
	"exam_platform_backend/internal/service"
	"exam_platform_backend/internal/util"
	"net/http"

	"github.com/gin-gonic/gin"
)

type AttemptController struct {
	AttemptService *service.AttemptService
}

func NewAttemptController(attemptService *service.AttemptService) *AttemptController {
	return &AttemptController{AttemptService: attemptService}
}

// AnswersRequest 答案，key 为题目ID
type AnswersRequest struct {
	Answers model.Answers `json:"answers"`
}

// Start godoc
// @Summary 开始作答
// @Tags 作答
// @Produce json
// @Security BearerAuth
// @Param id path int true "试卷ID"
// @Success 201 {object} util.Response{data=model.Attempt}
// @Failure 404 {object} util.Response "试卷不存在"
// @Failure 409 {object} util.Response{data=model.Attempt} "已有进行中的作答"
// @Router /api/papers/{id}/attempts [post]
func (c *AttemptController) Start(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	paperID, ok := util.ParseID(ctx.Param("id"))
	if !ok {
		util.BadRequest(ctx, "invalid paper id")
		return
	}

	attempt, err := c.AttemptService.Start(ctx.Request.Context(), user.UserID, paperID)
	if err != nil {
		if errors.Is(err, util.ErrActiveAttemptExists) && attempt != nil {
			util.ErrorWithData(ctx, http.StatusConflict, err.Error(), attempt)
			return
		}
		writeAttemptError(ctx, err, attempt)
		return
	}
	util.Created(ctx, attempt)
}

// Get godoc
// @Summary 查看作答
// @Tags 作答
// @Produce json
// @Security BearerAuth
// @Param id path int true "作答ID"
// @Success 200 {object} util.Response{data=model.Attempt}
// @Router /api/attempts/{id} [get]
func (c *AttemptController) Get(ctx *gin.Context) {
	attempt, ok := c.loadOwned(ctx)
	if !ok {
		return
	}
	util.Success(ctx, attempt)
}

// SaveAnswers godoc
// @Summary 暂存答案
// @Tags 作答
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "作答ID"
// @Param body body AnswersRequest true "答案"
// @Success 200 {object} util.Response{data=model.Attempt}
// @Failure 422 {object} util.Response "已超过截止时间"
// @Router /api/attempts/{id}/answers [put]
func (c *AttemptController) SaveAnswers(ctx *gin.Context) {
	var req AnswersRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	attempt, ok := c.loadOwned(ctx)
	if !ok {
		return
	}

	saved, err := c.AttemptService.SaveAnswers(ctx.Request.Context(), attempt.ID, req.Answers)
	if err != nil {
		writeAttemptError(ctx, err, saved)
		return
	}
	util.Success(ctx, saved)
}

// Submit godoc
// @Summary 交卷
// @Description 已交卷（包括超时自动交卷）时返回已有结果
// @Tags 作答
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "作答ID"
// @Param body body AnswersRequest false "最终答案"
// @Success 200 {object} util.Response{data=model.Attempt}
// @Failure 422 {object} util.Response "已超过截止时间"
// @Router /api/attempts/{id}/submit [post]
func (c *AttemptController) Submit(ctx *gin.Context) {
	var req AnswersRequest
	if ctx.Request.ContentLength != 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			util.BadRequest(ctx, err.Error())
			return
		}
	}
	attempt, ok := c.loadOwned(ctx)
	if !ok {
		return
	}

	submitted, err := c.AttemptService.Submit(ctx.Request.Context(), attempt.ID, req.Answers)
	if err != nil {
		writeAttemptError(ctx, err, submitted)
		return
	}
	util.Success(ctx, submitted)
}

// AutoSubmit godoc
// @Summary 强制结束超时作答（管理员）
// @Description 未到截止时间或已结束时不做修改，closed 为 false
// @Tags 作答
// @Produce json
// @Security BearerAuth
// @Param id path int true "作答ID"
// @Success 200 {object} util.Response{data=object}
// @Router /api/admin/attempts/{id}/autosubmit [post]
func (c *AttemptController) AutoSubmit(ctx *gin.Context) {
	id, ok := util.ParseID(ctx.Param("id"))
	if !ok {
		util.BadRequest(ctx, "invalid attempt id")
		return
	}

	attempt, closed, err := c.AttemptService.AutoSubmit(ctx.Request.Context(), id)
	if err != nil {
		writeAttemptError(ctx, err, attempt)
		return
	}
	util.Success(ctx, gin.H{"attempt": attempt, "closed": closed})
}

// loadOwned 读取作答并校验归属，管理员可查看任意作答
func (c *AttemptController) loadOwned(ctx *gin.Context) (*model.Attempt, bool) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return nil, false
	}
	id, ok := util.ParseID(ctx.Param("id"))
	if !ok {
		util.BadRequest(ctx, "invalid attempt id")
		return nil, false
	}

	attempt, err := c.AttemptService.Get(ctx.Request.Context(), id)
	if err != nil {
		writeAttemptError(ctx, err, nil)
		return nil, false
	}
	if attempt.UserID != user.UserID && user.Role != model.Admin {
		util.Forbidden(ctx)
		return nil, false
	}
	return attempt, true
}

func writeAttemptError(ctx *gin.Context, err error, attempt *model.Attempt) {
	switch {
	case errors.Is(err, util.ErrAlreadyTerminal):
		// 已结束不是错误：返回已有结果
		util.Success(ctx, attempt)
	case errors.Is(err, util.ErrAttemptNotFound), errors.Is(err, util.ErrPaperNotFound):
		util.Error(ctx, http.StatusNotFound, err.Error())
	case errors.Is(err, util.ErrActiveAttemptExists), errors.Is(err, util.ErrConcurrentUpdate):
		util.Conflict(ctx, err.Error())
	case errors.Is(err, util.ErrDeadlineExceeded):
		util.Error(ctx, http.StatusUnprocessableEntity, "deadline exceeded")
	case errors.Is(err, util.ErrInvalidPaperDuration), errors.Is(err, util.ErrAttemptNotStarted):
		util.Error(ctx, http.StatusUnprocessableEntity, err.Error())
	default:
		util.LogInternalError(ctx, err)
	}
}
