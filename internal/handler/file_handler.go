package handler

import (
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"datavault-go/internal/model"
	"datavault-go/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
)

// FileHandler 负责文件的查询、下载和删除。
type FileHandler struct {
	fileService service.FileService
	access      service.AccessService
}

// NewFileHandler 创建一个新的 FileHandler 实例。
func NewFileHandler(fileService service.FileService, access service.AccessService) *FileHandler {
	return &FileHandler{fileService: fileService, access: access}
}

func (h *FileHandler) authorizedFile(c *gin.Context, op string, level service.AccessLevel) (*model.File, bool) {
	file, err := h.fileService.Get(c.Request.Context(), c.Param("id"))
	if err == nil {
		err = h.access.CheckFile(c.Request.Context(), currentUser(c), file, level)
	}
	if err != nil {
		fail(c, op, err)
		return nil, false
	}
	return file, true
}

// Get 返回文件的元数据。
func (h *FileHandler) Get(c *gin.Context) {
	file, allowed := h.authorizedFile(c, "FileHandler.Get", service.AccessRead)
	if !allowed {
		return
	}
	ok(c, file)
}

// LocalPath 返回文件数据在服务器本机上的路径，仅供管理员排查使用。
func (h *FileHandler) LocalPath(c *gin.Context) {
	path, err := h.fileService.LocalPath(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "FileHandler.LocalPath", err)
		return
	}
	ok(c, gin.H{"path": path})
}

// parseRange 解析单区间的 Range 头，返回 [offset, end)，end 为 -1 表示到文件末尾。
func parseRange(header string, size int64) (int64, int64, error) {
	spec, found := strings.CutPrefix(header, "bytes=")
	if !found || strings.Contains(spec, ",") {
		return 0, 0, errors.NotValidf("range %q", header)
	}
	first, last, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, errors.NotValidf("range %q", header)
	}
	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, errors.NotValidf("range %q", header)
		}
		if n > size {
			n = size
		}
		return size - n, -1, nil
	}
	offset, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, 0, errors.NotValidf("range %q", header)
	}
	if last == "" {
		return offset, -1, nil
	}
	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil || end < offset {
		return 0, 0, errors.NotValidf("range %q", header)
	}
	return offset, end + 1, nil
}

// Download 流式返回文件内容。
// 区间可以用查询参数 offset/endByte（endByte 不包含）或 Range 头指定；外链文件返回 303。
func (h *FileHandler) Download(c *gin.Context) {
	file, allowed := h.authorizedFile(c, "FileHandler.Download", service.AccessRead)
	if !allowed {
		return
	}

	offset, err := queryInt64(c, "offset", 0)
	if err != nil {
		fail(c, "FileHandler.Download", err)
		return
	}
	endByte, err := queryInt64(c, "endByte", -1)
	if err != nil {
		fail(c, "FileHandler.Download", err)
		return
	}
	if rng := c.GetHeader("Range"); rng != "" {
		if offset, endByte, err = parseRange(rng, file.Size); err != nil {
			c.Header("Content-Range", fmt.Sprintf("bytes */%d", file.Size))
			c.JSON(http.StatusRequestedRangeNotSatisfiable, gin.H{"code": http.StatusRequestedRangeNotSatisfiable, "message": err.Error()})
			return
		}
	}

	d, err := h.fileService.Download(c.Request.Context(), file.ID, offset, endByte)
	if err != nil {
		fail(c, "FileHandler.Download", err)
		return
	}
	if d.RedirectURL != "" {
		c.Redirect(http.StatusSeeOther, d.RedirectURL)
		return
	}
	defer d.Body.Close()

	disposition := "attachment"
	if c.Query("contentDisposition") == "inline" {
		disposition = "inline"
	}
	contentType := d.File.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	headers := map[string]string{
		"Accept-Ranges":       "bytes",
		"Content-Disposition": mime.FormatMediaType(disposition, map[string]string{"filename": d.File.Name}),
	}
	status := http.StatusOK
	if d.Offset > 0 || d.End < d.File.Size {
		status = http.StatusPartialContent
		headers["Content-Range"] = fmt.Sprintf("bytes %d-%d/%d", d.Offset, d.End-1, d.File.Size)
	}
	c.DataFromReader(status, d.Length(), contentType, d.Body, headers)
}

// CreateLinkRequest 定义了创建外链文件 API 的请求体结构。
type CreateLinkRequest struct {
	ParentType model.ResourceType `json:"parentType" binding:"required"`
	ParentID   string             `json:"parentId" binding:"required"`
	Name       string             `json:"name" binding:"required"`
	URL        string             `json:"url" binding:"required"`
	MimeType   string             `json:"mimeType"`
}

// CreateLink 创建一个外链文件。
func (h *FileHandler) CreateLink(c *gin.Context) {
	var req CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载: "+err.Error())
		return
	}
	user := currentUser(c)
	if err := h.access.CheckParent(c.Request.Context(), user, req.ParentType, req.ParentID, service.AccessWrite); err != nil {
		fail(c, "FileHandler.CreateLink", err)
		return
	}
	file, err := h.fileService.CreateLinkFile(c.Request.Context(), service.LinkFileRequest{
		Name:       req.Name,
		ParentType: req.ParentType,
		ParentID:   req.ParentID,
		URL:        req.URL,
		MimeType:   req.MimeType,
		CreatorID:  userID(user),
	})
	if err != nil {
		fail(c, "FileHandler.CreateLink", err)
		return
	}
	ok(c, file)
}

// Delete 删除文件并更新各级缓存大小。
func (h *FileHandler) Delete(c *gin.Context) {
	file, allowed := h.authorizedFile(c, "FileHandler.Delete", service.AccessWrite)
	if !allowed {
		return
	}
	if err := h.fileService.DeleteFile(c.Request.Context(), file.ID); err != nil {
		fail(c, "FileHandler.Delete", err)
		return
	}
	ok(c, nil)
}
