package handler

import (
	"datavault-go/internal/model"
	"datavault-go/internal/service"

	"github.com/gin-gonic/gin"
)

// HierarchyHandler 负责集合、文件夹和 Item 的增删改查与移动。
type HierarchyHandler struct {
	hierarchy service.HierarchyService
	access    service.AccessService
}

// NewHierarchyHandler 创建一个新的 HierarchyHandler 实例。
func NewHierarchyHandler(hierarchy service.HierarchyService, access service.AccessService) *HierarchyHandler {
	return &HierarchyHandler{hierarchy: hierarchy, access: access}
}

// CreateCollectionRequest 定义了创建集合 API 的请求体结构。
type CreateCollectionRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Public      bool   `json:"public"`
}

// CreateCollection 创建一个集合，调用方成为其创建者。
func (h *HierarchyHandler) CreateCollection(c *gin.Context) {
	var req CreateCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载: "+err.Error())
		return
	}
	collection, err := h.hierarchy.CreateCollection(c.Request.Context(), req.Name, req.Description, req.Public, userID(currentUser(c)))
	if err != nil {
		fail(c, "HierarchyHandler.CreateCollection", err)
		return
	}
	ok(c, collection)
}

// CreateFolderRequest 定义了创建文件夹 API 的请求体结构。
type CreateFolderRequest struct {
	ParentType  model.ResourceType `json:"parentType" binding:"required"`
	ParentID    string             `json:"parentId" binding:"required"`
	Name        string             `json:"name" binding:"required"`
	Description string             `json:"description"`
	Public      bool               `json:"public"`
}

// CreateFolder 在用户、集合或文件夹下创建文件夹。
func (h *HierarchyHandler) CreateFolder(c *gin.Context) {
	var req CreateFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	user := currentUser(c)
	if err := h.access.CheckParent(ctx, user, req.ParentType, req.ParentID, service.AccessWrite); err != nil {
		fail(c, "HierarchyHandler.CreateFolder", err)
		return
	}
	folder, err := h.hierarchy.CreateFolder(ctx, service.FolderRequest{
		ParentType:  req.ParentType,
		ParentID:    req.ParentID,
		Name:        req.Name,
		Description: req.Description,
		Public:      req.Public,
		CreatorID:   userID(user),
	})
	if err != nil {
		fail(c, "HierarchyHandler.CreateFolder", err)
		return
	}
	ok(c, folder)
}

func (h *HierarchyHandler) authorizedFolder(c *gin.Context, op string, level service.AccessLevel) (*model.Folder, bool) {
	folder, err := h.hierarchy.GetFolder(c.Request.Context(), c.Param("id"))
	if err == nil {
		err = h.access.CheckFolder(c.Request.Context(), currentUser(c), folder, level)
	}
	if err != nil {
		fail(c, op, err)
		return nil, false
	}
	return folder, true
}

// GetFolder 返回文件夹及其直接子节点。
func (h *HierarchyHandler) GetFolder(c *gin.Context) {
	folder, allowed := h.authorizedFolder(c, "HierarchyHandler.GetFolder", service.AccessRead)
	if !allowed {
		return
	}
	contents, err := h.hierarchy.ListFolder(c.Request.Context(), folder.ID)
	if err != nil {
		fail(c, "HierarchyHandler.GetFolder", err)
		return
	}
	ok(c, contents)
}

// MoveFolderRequest 定义了移动文件夹 API 的请求体结构。
type MoveFolderRequest struct {
	ParentType model.ResourceType `json:"parentType" binding:"required"`
	ParentID   string             `json:"parentId" binding:"required"`
}

// MoveFolder 把文件夹连同子树移动到新的父节点下。
func (h *HierarchyHandler) MoveFolder(c *gin.Context) {
	var req MoveFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载: "+err.Error())
		return
	}
	folder, allowed := h.authorizedFolder(c, "HierarchyHandler.MoveFolder", service.AccessWrite)
	if !allowed {
		return
	}
	ctx := c.Request.Context()
	if err := h.access.CheckParent(ctx, currentUser(c), req.ParentType, req.ParentID, service.AccessWrite); err != nil {
		fail(c, "HierarchyHandler.MoveFolder", err)
		return
	}
	moved, err := h.hierarchy.MoveFolder(ctx, folder.ID, req.ParentType, req.ParentID)
	if err != nil {
		fail(c, "HierarchyHandler.MoveFolder", err)
		return
	}
	ok(c, moved)
}

// DeleteFolder 递归删除文件夹。
func (h *HierarchyHandler) DeleteFolder(c *gin.Context) {
	folder, allowed := h.authorizedFolder(c, "HierarchyHandler.DeleteFolder", service.AccessWrite)
	if !allowed {
		return
	}
	if err := h.hierarchy.DeleteFolder(c.Request.Context(), folder.ID); err != nil {
		fail(c, "HierarchyHandler.DeleteFolder", err)
		return
	}
	ok(c, nil)
}

// CreateItemRequest 定义了创建 Item API 的请求体结构。
type CreateItemRequest struct {
	FolderID    string `json:"folderId" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// CreateItem 在文件夹下创建一个空 Item。
func (h *HierarchyHandler) CreateItem(c *gin.Context) {
	var req CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	user := currentUser(c)
	if err := h.access.CheckParent(ctx, user, model.ResourceFolder, req.FolderID, service.AccessWrite); err != nil {
		fail(c, "HierarchyHandler.CreateItem", err)
		return
	}
	item, err := h.hierarchy.CreateItem(ctx, req.FolderID, req.Name, req.Description, userID(user))
	if err != nil {
		fail(c, "HierarchyHandler.CreateItem", err)
		return
	}
	ok(c, item)
}

func (h *HierarchyHandler) authorizedItem(c *gin.Context, op string, level service.AccessLevel) (*model.Item, bool) {
	item, err := h.hierarchy.GetItem(c.Request.Context(), c.Param("id"))
	if err == nil {
		err = h.access.CheckItem(c.Request.Context(), currentUser(c), item, level)
	}
	if err != nil {
		fail(c, op, err)
		return nil, false
	}
	return item, true
}

// GetItem 返回 Item 及其文件列表。
func (h *HierarchyHandler) GetItem(c *gin.Context) {
	item, allowed := h.authorizedItem(c, "HierarchyHandler.GetItem", service.AccessRead)
	if !allowed {
		return
	}
	files, err := h.hierarchy.ListItemFiles(c.Request.Context(), item.ID)
	if err != nil {
		fail(c, "HierarchyHandler.GetItem", err)
		return
	}
	ok(c, gin.H{"item": item, "files": files})
}

// ItemDestinationRequest 是移动和复制 Item 的目标文件夹。
type ItemDestinationRequest struct {
	FolderID string `json:"folderId" binding:"required"`
}

func (h *HierarchyHandler) bindDestination(c *gin.Context, op string) (string, bool) {
	var req ItemDestinationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求负载: "+err.Error())
		return "", false
	}
	if err := h.access.CheckParent(c.Request.Context(), currentUser(c), model.ResourceFolder, req.FolderID, service.AccessWrite); err != nil {
		fail(c, op, err)
		return "", false
	}
	return req.FolderID, true
}

// MoveItem 把 Item 移动到另一个文件夹。
func (h *HierarchyHandler) MoveItem(c *gin.Context) {
	item, allowed := h.authorizedItem(c, "HierarchyHandler.MoveItem", service.AccessWrite)
	if !allowed {
		return
	}
	dest, allowed := h.bindDestination(c, "HierarchyHandler.MoveItem")
	if !allowed {
		return
	}
	moved, err := h.hierarchy.MoveItem(c.Request.Context(), item.ID, dest)
	if err != nil {
		fail(c, "HierarchyHandler.MoveItem", err)
		return
	}
	ok(c, moved)
}

// CopyItem 把 Item 及其文件复制到另一个文件夹。
func (h *HierarchyHandler) CopyItem(c *gin.Context) {
	item, allowed := h.authorizedItem(c, "HierarchyHandler.CopyItem", service.AccessRead)
	if !allowed {
		return
	}
	dest, allowed := h.bindDestination(c, "HierarchyHandler.CopyItem")
	if !allowed {
		return
	}
	copied, err := h.hierarchy.CopyItem(c.Request.Context(), item.ID, dest, userID(currentUser(c)))
	if err != nil {
		fail(c, "HierarchyHandler.CopyItem", err)
		return
	}
	ok(c, copied)
}

// DeleteItem 删除 Item 及其文件。
func (h *HierarchyHandler) DeleteItem(c *gin.Context) {
	item, allowed := h.authorizedItem(c, "HierarchyHandler.DeleteItem", service.AccessWrite)
	if !allowed {
		return
	}
	if err := h.hierarchy.DeleteItem(c.Request.Context(), item.ID); err != nil {
		fail(c, "HierarchyHandler.DeleteItem", err)
		return
	}
	ok(c, nil)
}
