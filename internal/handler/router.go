package handler

import (
	"datavault-go/internal/middleware"
	"datavault-go/internal/service"
	"datavault-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// Services 汇总路由需要的所有业务服务。
type Services struct {
	Uploads     service.UploadService
	Files       service.FileService
	Hierarchy   service.HierarchyService
	Assetstores service.AssetstoreService
	Consistency service.ConsistencyService
	Jobs        service.JobService
	Access      service.AccessService
}

// NewRouter 创建路由引擎并注册 /api/v1 下的所有路由。
func NewRouter(s Services, jwtManager *token.JWTManager) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	uploadHandler := NewUploadHandler(s.Uploads, s.Files, s.Access)
	fileHandler := NewFileHandler(s.Files, s.Access)
	hierarchyHandler := NewHierarchyHandler(s.Hierarchy, s.Access)
	adminHandler := NewAdminHandler(s.Assetstores, s.Uploads, s.Consistency, s.Jobs, s.Hierarchy, s.Access, jwtManager)

	apiV1 := r.Group("/api/v1")
	// 认证是可选的：匿名请求可以读取公开内容和续传匿名上传
	apiV1.Use(middleware.AuthMiddleware(jwtManager, s.Access))

	apiV1.GET("/users/me", middleware.RequireUser(), NewUserHandler().GetProfile)

	upload := apiV1.Group("/upload")
	{
		upload.POST("", uploadHandler.CreateUpload)
		upload.GET("", middleware.RequireUser(), uploadHandler.List)
		upload.POST("/:id/chunk", uploadHandler.UploadChunk)
		upload.GET("/:id/offset", uploadHandler.GetOffset)
		upload.POST("/:id/finalize", uploadHandler.Finalize)
		upload.DELETE("/:id", uploadHandler.Cancel)
	}

	file := apiV1.Group("/file")
	{
		file.POST("", fileHandler.CreateLink)
		file.GET("/:id", fileHandler.Get)
		file.GET("/:id/download", fileHandler.Download)
		file.POST("/:id/contents", uploadHandler.ReplaceContents)
		file.DELETE("/:id", fileHandler.Delete)
	}

	apiV1.POST("/collection", middleware.RequireUser(), hierarchyHandler.CreateCollection)

	folder := apiV1.Group("/folder")
	{
		folder.POST("", hierarchyHandler.CreateFolder)
		folder.GET("/:id", hierarchyHandler.GetFolder)
		folder.PUT("/:id/move", hierarchyHandler.MoveFolder)
		folder.DELETE("/:id", hierarchyHandler.DeleteFolder)
	}

	item := apiV1.Group("/item")
	{
		item.POST("", hierarchyHandler.CreateItem)
		item.GET("/:id", hierarchyHandler.GetItem)
		item.PUT("/:id/move", hierarchyHandler.MoveItem)
		item.POST("/:id/copy", hierarchyHandler.CopyItem)
		item.DELETE("/:id", hierarchyHandler.DeleteItem)
	}

	job := apiV1.Group("/job", middleware.RequireUser())
	{
		job.GET("/:id", adminHandler.GetJob)
		job.DELETE("/:id", adminHandler.CancelJob)
	}

	admin := apiV1.Group("/admin", middleware.AdminAuthMiddleware())
	{
		admin.POST("/users", adminHandler.CreateUser)
		admin.POST("/users/:id/token", adminHandler.IssueToken)
		admin.GET("/files/:id/path", fileHandler.LocalPath)

		assetstores := admin.Group("/assetstore")
		{
			assetstores.GET("", adminHandler.ListAssetstores)
			assetstores.POST("", adminHandler.CreateAssetstore)
			assetstores.GET("/current", adminHandler.GetCurrentAssetstore)
			assetstores.PUT("/:id/current", adminHandler.SetCurrentAssetstore)
			assetstores.DELETE("/:id", adminHandler.RemoveAssetstore)
			assetstores.POST("/:id/import", adminHandler.ImportData)
		}

		admin.GET("/uploads/untracked", adminHandler.UntrackedUploads)
		admin.DELETE("/uploads/untracked", adminHandler.UntrackedUploads)
		admin.POST("/check/:kind", adminHandler.RunCheck)
	}
	return r
}
