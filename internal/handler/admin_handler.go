package handler

import (
	"context"

	"datavault-go/internal/model"
	"datavault-go/internal/service"
	"datavault-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
)

// AdminHandler 负责存储管理、一致性检查、后台任务和用户凭证等管理员接口。
type AdminHandler struct {
	assetstores service.AssetstoreService
	uploads     service.UploadService
	consistency service.ConsistencyService
	jobs        service.JobService
	hierarchy   service.HierarchyService
	access      service.AccessService
	jwtManager  *token.JWTManager
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(
	assetstores service.AssetstoreService,
	uploads service.UploadService,
	consistency service.ConsistencyService,
	jobs service.JobService,
	hierarchy service.HierarchyService,
	access service.AccessService,
	jwtManager *token.JWTManager,
) *AdminHandler {
	return &AdminHandler{
		assetstores: assetstores,
		uploads:     uploads,
		consistency: consistency,
		jobs:        jobs,
		hierarchy:   hierarchy,
		access:      access,
		jwtManager:  jwtManager,
	}
}

// ListAssetstores 列出所有存储及其容量。
func (h *AdminHandler) ListAssetstores(c *gin.Context) {
	stores, err := h.assetstores.List(c.Request.Context())
	if err != nil {
		fail(c, "AdminHandler.ListAssetstores", err)
		return
	}
	ok(c, stores)
}

// GetCurrentAssetstore 返回当前存储。
func (h *AdminHandler) GetCurrentAssetstore(c *gin.Context) {
	store, err := h.assetstores.GetCurrent(c.Request.Context())
	if err != nil {
		fail(c, "AdminHandler.GetCurrentAssetstore", err)
		return
	}
	ok(c, store)
}

// CreateAssetstore 创建存储，配置会先被校验。
func (h *AdminHandler) CreateAssetstore(c *gin.Context) {
	var req service.AssetstoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载: "+err.Error())
		return
	}
	store, err := h.assetstores.Create(c.Request.Context(), req)
	if err != nil {
		fail(c, "AdminHandler.CreateAssetstore", err)
		return
	}
	ok(c, store)
}

// SetCurrentAssetstore 切换当前存储。
func (h *AdminHandler) SetCurrentAssetstore(c *gin.Context) {
	if err := h.assetstores.SetCurrent(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, "AdminHandler.SetCurrentAssetstore", err)
		return
	}
	ok(c, nil)
}

// RemoveAssetstore 删除没有文件引用的存储。
func (h *AdminHandler) RemoveAssetstore(c *gin.Context) {
	if err := h.assetstores.Remove(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, "AdminHandler.RemoveAssetstore", err)
		return
	}
	ok(c, nil)
}

// ImportDataRequest 定义了导入已有数据 API 的请求体结构。
type ImportDataRequest struct {
	Path       string             `json:"path" binding:"required"`
	ParentType model.ResourceType `json:"parentType" binding:"required"`
	ParentID   string             `json:"parentId" binding:"required"`
	Include    string             `json:"include"`
	Exclude    string             `json:"exclude"`
}

// ImportData 以后台任务的形式把存储中已有的数据登记到层级树上。
func (h *AdminHandler) ImportData(c *gin.Context) {
	var req ImportDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载: "+err.Error())
		return
	}
	user := currentUser(c)
	importReq := service.ImportRequest{
		AssetstoreID: c.Param("id"),
		Path:         req.Path,
		ParentType:   req.ParentType,
		ParentID:     req.ParentID,
		Include:      req.Include,
		Exclude:      req.Exclude,
		UserID:       userID(user),
	}
	job, err := h.jobs.Start(c.Request.Context(), "import", "import "+req.Path, user.ID, func(ctx context.Context, tracker service.JobTracker) (int, error) {
		return h.assetstores.ImportData(ctx, importReq, tracker)
	})
	if err != nil {
		fail(c, "AdminHandler.ImportData", err)
		return
	}
	ok(c, job)
}

// UntrackedUploads 列出（GET）或删除（DELETE）后端中没有上传记录的暂存数据。
func (h *AdminHandler) UntrackedUploads(c *gin.Context) {
	action := service.UntrackedList
	if c.Request.Method == "DELETE" {
		action = service.UntrackedDelete
	}
	found, err := h.uploads.UntrackedUploads(c.Request.Context(), action, c.Query("assetstoreId"))
	if err != nil {
		fail(c, "AdminHandler.UntrackedUploads", err)
		return
	}
	ok(c, found)
}

// RunCheck 以后台任务的形式运行一种一致性检查：prune、baseParents 或 sizes。
func (h *AdminHandler) RunCheck(c *gin.Context) {
	var run func(ctx context.Context, progress service.ProgressSink) (int, error)
	kind := c.Param("kind")
	switch kind {
	case "prune":
		run = h.consistency.PruneOrphans
	case "baseParents":
		run = h.consistency.FixBaseParents
	case "sizes":
		run = h.consistency.RecalculateSizes
	default:
		fail(c, "AdminHandler.RunCheck", errors.NotValidf("check %q", kind))
		return
	}
	job, err := h.jobs.Start(c.Request.Context(), "check:"+kind, "consistency check "+kind, currentUser(c).ID, func(ctx context.Context, tracker service.JobTracker) (int, error) {
		return run(ctx, tracker)
	})
	if err != nil {
		fail(c, "AdminHandler.RunCheck", err)
		return
	}
	ok(c, job)
}

func (h *AdminHandler) authorizedJob(c *gin.Context, op string) (*model.Job, bool) {
	job, err := h.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, op, err)
		return nil, false
	}
	user := currentUser(c)
	if !user.Admin && job.UserID != user.ID {
		fail(c, op, errors.Forbiddenf("access to job %s", job.ID))
		return nil, false
	}
	return job, true
}

// GetJob 返回任务进度，任务发起者和管理员可见。
func (h *AdminHandler) GetJob(c *gin.Context) {
	job, allowed := h.authorizedJob(c, "AdminHandler.GetJob")
	if !allowed {
		return
	}
	ok(c, job)
}

// CancelJob 请求取消一个仍在运行的任务。
func (h *AdminHandler) CancelJob(c *gin.Context) {
	job, allowed := h.authorizedJob(c, "AdminHandler.CancelJob")
	if !allowed {
		return
	}
	if err := h.jobs.Cancel(c.Request.Context(), job.ID); err != nil {
		fail(c, "AdminHandler.CancelJob", err)
		return
	}
	ok(c, nil)
}

// CreateUserRequest 定义了创建用户 API 的请求体结构。
type CreateUserRequest struct {
	Login string `json:"login" binding:"required"`
	Admin bool   `json:"admin"`
}

// CreateUser 创建用户并返回其 access token。
func (h *AdminHandler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载: "+err.Error())
		return
	}
	user, err := h.hierarchy.CreateUser(c.Request.Context(), req.Login, req.Admin)
	if err != nil {
		fail(c, "AdminHandler.CreateUser", err)
		return
	}
	tok, err := h.jwtManager.GenerateToken(user.ID, user.Login, user.Admin)
	if err != nil {
		fail(c, "AdminHandler.CreateUser", err)
		return
	}
	ok(c, gin.H{"user": user, "token": tok})
}

// IssueToken 为已有用户签发新的 access token。
func (h *AdminHandler) IssueToken(c *gin.Context) {
	user, err := h.access.User(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "AdminHandler.IssueToken", err)
		return
	}
	tok, err := h.jwtManager.GenerateToken(user.ID, user.Login, user.Admin)
	if err != nil {
		fail(c, "AdminHandler.IssueToken", err)
		return
	}
	ok(c, gin.H{"token": tok})
}
