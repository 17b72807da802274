package handler

import (
	"errors"
	"net/http"
	"strconv"

	"photo-fusion/app/model"
	"photo-fusion/app/service"

	"github.com/gin-gonic/gin"
)

// TaskHandler 后台任务处理器
type TaskHandler struct {
	orch *service.Orchestrator
}

// NewTaskHandler 创建后台任务处理器
func NewTaskHandler(orch *service.Orchestrator) *TaskHandler {
	return &TaskHandler{orch: orch}
}

// StartTaskRequest 触发任务请求
type StartTaskRequest struct {
	TaskType string `json:"task_type" binding:"required"`
}

// Start 触发一个后台任务。同类型任务已在运行时返回现有任务。
func (h *TaskHandler) Start(c *gin.Context) {
	var req StartTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
		return
	}

	taskType := model.TaskType(req.TaskType)
	if !model.IsValidTaskType(taskType) {
		fail(c, http.StatusBadRequest, 400, "未知的任务类型: "+req.TaskType)
		return
	}

	task, err := h.orch.Start(taskType)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBusy):
			fail(c, http.StatusServiceUnavailable, 503, "系统繁忙，请稍后重试")
		case errors.Is(err, service.ErrInvalidTaskType):
			fail(c, http.StatusBadRequest, 400, "该任务类型未注册")
		default:
			fail(c, http.StatusInternalServerError, 500, "触发任务失败")
		}
		return
	}

	success(c, task, "任务已触发")
}

// Cancel 取消任务
func (h *TaskHandler) Cancel(c *gin.Context) {
	task, err := h.orch.Cancel(c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTaskNotFound):
			fail(c, http.StatusNotFound, 404, "任务不存在")
		case errors.Is(err, service.ErrInvalidTaskState):
			fail(c, http.StatusConflict, 409, "任务已结束，无法取消")
		default:
			fail(c, http.StatusInternalServerError, 500, "取消任务失败")
		}
		return
	}

	success(c, task, "任务已标记取消")
}

// Get 查询单个任务，在跑的任务附带实时进度
func (h *TaskHandler) Get(c *gin.Context) {
	taskID := c.Param("id")
	task, err := h.orch.Get(taskID)
	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			fail(c, http.StatusNotFound, 404, "任务不存在")
			return
		}
		fail(c, http.StatusInternalServerError, 500, "查询任务失败")
		return
	}

	success(c, service.ActiveTask{
		ProcessingTask: *task,
		Progress:       h.orch.Progress(taskID),
	}, "查询任务成功")
}

// Active 列出所有未结束的任务及其进度
func (h *TaskHandler) Active(c *gin.Context) {
	tasks, err := h.orch.ListActive()
	if err != nil {
		fail(c, http.StatusInternalServerError, 500, "查询任务失败")
		return
	}
	success(c, tasks, "查询成功")
}

// List 按创建时间倒序列出最近的任务
func (h *TaskHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	tasks, err := h.orch.List(limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, 500, "查询任务失败")
		return
	}
	success(c, tasks, "查询成功")
}
