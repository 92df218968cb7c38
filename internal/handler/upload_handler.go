package handler

import (
	"strconv"
	"time"

	"datavault-go/internal/model"
	"datavault-go/internal/repository"
	"datavault-go/internal/service"

	"github.com/gin-gonic/gin"
)

// UploadHandler 负责处理所有与文件上传相关的 API 请求。
type UploadHandler struct {
	uploadService service.UploadService
	fileService   service.FileService
	access        service.AccessService
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。
func NewUploadHandler(uploadService service.UploadService, fileService service.FileService, access service.AccessService) *UploadHandler {
	return &UploadHandler{uploadService: uploadService, fileService: fileService, access: access}
}

// CreateUploadRequest 定义了创建上传 API 的请求体结构。
type CreateUploadRequest struct {
	ParentType   model.ResourceType `json:"parentType" binding:"required"`
	ParentID     string             `json:"parentId" binding:"required"`
	Name         string             `json:"name" binding:"required"`
	Size         *int64             `json:"size" binding:"required"`
	MimeType     string             `json:"mimeType"`
	Reference    string             `json:"reference"`
	AssetstoreID string             `json:"assetstoreId"`
	AttachParent bool               `json:"attachParent"`
}

// CreateUpload 创建一个新的上传；size 为 0 时直接返回生成的文件。
func (h *UploadHandler) CreateUpload(c *gin.Context) {
	var req CreateUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	user := currentUser(c)
	if err := h.access.CheckParent(ctx, user, req.ParentType, req.ParentID, service.AccessWrite); err != nil {
		fail(c, "UploadHandler.CreateUpload", err)
		return
	}

	res, err := h.uploadService.CreateUpload(ctx, service.CreateUploadRequest{
		UserID:       userID(user),
		Name:         req.Name,
		ParentType:   req.ParentType,
		ParentID:     req.ParentID,
		Size:         *req.Size,
		MimeType:     req.MimeType,
		Reference:    req.Reference,
		AssetstoreID: req.AssetstoreID,
		AttachParent: req.AttachParent,
	})
	if err != nil {
		fail(c, "UploadHandler.CreateUpload", err)
		return
	}
	ok(c, res)
}

// ReplaceContentsRequest 定义了替换文件内容 API 的请求体结构。
type ReplaceContentsRequest struct {
	Size         *int64 `json:"size" binding:"required"`
	MimeType     string `json:"mimeType"`
	Reference    string `json:"reference"`
	AssetstoreID string `json:"assetstoreId"`
}

// ReplaceContents 为已有文件创建一个替换其内容的上传。
func (h *UploadHandler) ReplaceContents(c *gin.Context) {
	var req ReplaceContentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	user := currentUser(c)
	file, err := h.fileService.Get(ctx, c.Param("id"))
	if err != nil {
		fail(c, "UploadHandler.ReplaceContents", err)
		return
	}
	if err := h.access.CheckFile(ctx, user, file, service.AccessWrite); err != nil {
		fail(c, "UploadHandler.ReplaceContents", err)
		return
	}

	res, err := h.uploadService.CreateUploadToFile(ctx, service.ReplaceUploadRequest{
		FileID:       file.ID,
		UserID:       userID(user),
		Size:         *req.Size,
		MimeType:     req.MimeType,
		Reference:    req.Reference,
		AssetstoreID: req.AssetstoreID,
	})
	if err != nil {
		fail(c, "UploadHandler.ReplaceContents", err)
		return
	}
	ok(c, res)
}

// authorizedUpload 加载上传记录并检查调用方是否是发起者。
func (h *UploadHandler) authorizedUpload(c *gin.Context, op string) (*model.Upload, bool) {
	upload, err := h.uploadService.Get(c.Request.Context(), c.Param("id"))
	if err == nil {
		err = h.access.CheckUpload(currentUser(c), upload)
	}
	if err != nil {
		fail(c, op, err)
		return nil, false
	}
	return upload, true
}

// UploadChunk 把请求体作为下一个分片写入。
// 查询参数 offset 是客户端认为的写入位置，不一致时返回 400 和服务端的偏移。
func (h *UploadHandler) UploadChunk(c *gin.Context) {
	upload, allowed := h.authorizedUpload(c, "UploadHandler.UploadChunk")
	if !allowed {
		return
	}
	offset, err := queryInt64(c, "offset", service.UnknownOffset)
	if err != nil {
		fail(c, "UploadHandler.UploadChunk", err)
		return
	}
	length := c.Request.ContentLength
	if length < 0 {
		length = service.UnknownLength
	}

	res, err := h.uploadService.HandleChunk(c.Request.Context(), service.ChunkRequest{
		UploadID: upload.ID,
		Offset:   offset,
		Length:   length,
		Body:     c.Request.Body,
	})
	if err != nil {
		fail(c, "UploadHandler.UploadChunk", err)
		return
	}
	ok(c, res)
}

// GetOffset 返回服务端已经接收的字节数，用于断点续传。
func (h *UploadHandler) GetOffset(c *gin.Context) {
	upload, allowed := h.authorizedUpload(c, "UploadHandler.GetOffset")
	if !allowed {
		return
	}
	offset, err := h.uploadService.RequestOffset(c.Request.Context(), upload.ID)
	if err != nil {
		fail(c, "UploadHandler.GetOffset", err)
		return
	}
	ok(c, gin.H{"offset": offset, "size": upload.Size})
}

// Finalize 重试一个已经接收完所有字节但完成步骤失败的上传。
func (h *UploadHandler) Finalize(c *gin.Context) {
	upload, allowed := h.authorizedUpload(c, "UploadHandler.Finalize")
	if !allowed {
		return
	}
	file, err := h.uploadService.FinalizeUpload(c.Request.Context(), upload.ID)
	if err != nil {
		fail(c, "UploadHandler.Finalize", err)
		return
	}
	ok(c, file)
}

// Cancel 取消上传并清理暂存数据。
func (h *UploadHandler) Cancel(c *gin.Context) {
	upload, allowed := h.authorizedUpload(c, "UploadHandler.Cancel")
	if !allowed {
		return
	}
	if err := h.uploadService.CancelUpload(c.Request.Context(), upload.ID); err != nil {
		fail(c, "UploadHandler.Cancel", err)
		return
	}
	ok(c, nil)
}

// List 列出上传；非管理员只能看到自己的上传。
func (h *UploadHandler) List(c *gin.Context) {
	user := currentUser(c)
	filter := repository.UploadFilter{
		UploadID:     c.Query("uploadId"),
		UserID:       c.Query("userId"),
		ParentID:     c.Query("parentId"),
		AssetstoreID: c.Query("assetstoreId"),
	}
	if !user.Admin {
		filter.UserID = user.ID
	}
	minAge, err := queryInt64(c, "minimumAge", 0)
	if err != nil {
		fail(c, "UploadHandler.List", err)
		return
	}
	filter.MinimumAge = time.Duration(minAge) * time.Second

	limit, err := queryInt64(c, "limit", 50)
	if err != nil {
		fail(c, "UploadHandler.List", err)
		return
	}
	offset, err := queryInt64(c, "offset", 0)
	if err != nil {
		fail(c, "UploadHandler.List", err)
		return
	}
	desc, _ := strconv.ParseBool(c.Query("desc"))

	uploads, err := h.uploadService.List(c.Request.Context(), filter, repository.Page{
		Limit:  int(limit),
		Offset: int(offset),
		Sort:   c.Query("sort"),
		Desc:   desc,
	})
	if err != nil {
		fail(c, "UploadHandler.List", err)
		return
	}
	ok(c, uploads)
}
