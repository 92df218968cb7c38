// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"datavault-go/internal/assetstore"
	"datavault-go/internal/assetstore/filesystem"
	"datavault-go/internal/assetstore/miniostore"
	"datavault-go/internal/assetstore/s3store"
	"datavault-go/internal/config"
	"datavault-go/internal/handler"
	"datavault-go/internal/model"
	"datavault-go/internal/pipeline"
	"datavault-go/internal/repository"
	"datavault-go/internal/repository/memrepo"
	"datavault-go/internal/service"
	"datavault-go/internal/task"
	"datavault-go/pkg/database"
	"datavault-go/pkg/kafka"
	"datavault-go/pkg/log"
	"datavault-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/juju/errors"
)

// repositories 汇总所有仓库，按 database.driver 选择 MySQL+Redis 或内存实现。
type repositories struct {
	roots   repository.RootRepository
	folders repository.FolderRepository
	items   repository.ItemRepository
	files   repository.FileRepository
	uploads repository.UploadRepository
	stores  repository.AssetstoreRepository
	jobs    repository.JobRepository
	rdb     *redis.Client
}

func openRepositories(cfg config.DatabaseConfig) repositories {
	if cfg.Driver == "memory" {
		log.Warnf("使用内存存储，重启后所有元数据都会丢失")
		mem := memrepo.New()
		return repositories{
			roots:   mem.Roots(),
			folders: mem.Folders(),
			items:   mem.Items(),
			files:   mem.Files(),
			uploads: mem.Uploads(),
			stores:  mem.Assetstores(),
			jobs:    mem.Jobs(),
		}
	}
	db := database.InitMySQL(cfg.MySQL.DSN)
	rdb := database.InitRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	return repositories{
		roots:   repository.NewRootRepository(db),
		folders: repository.NewFolderRepository(db),
		items:   repository.NewItemRepository(db),
		files:   repository.NewFileRepository(db),
		uploads: repository.NewUploadRepository(db, rdb),
		stores:  repository.NewAssetstoreRepository(db),
		jobs:    repository.NewJobRepository(rdb),
		rdb:     rdb,
	}
}

// newRegistry 注册三种存储后端的构造函数。
func newRegistry(ctx context.Context, files repository.FileRepository) *assetstore.Registry {
	return assetstore.NewRegistry(map[assetstore.Kind]assetstore.Factory{
		assetstore.KindFilesystem: func(s *model.Assetstore) (assetstore.Adapter, error) {
			return filesystem.New(s, files)
		},
		assetstore.KindMinio: func(s *model.Assetstore) (assetstore.Adapter, error) {
			return miniostore.New(ctx, s, files)
		},
		assetstore.KindS3: func(s *model.Assetstore) (assetstore.Adapter, error) {
			return s3store.New(ctx, s, files)
		},
	})
}

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// 3. 初始化 Repository 和存储注册表
	repos := openRepositories(cfg.Database)
	registry := newRegistry(rootCtx, repos.files)

	// 4. 事件发布：未配置 Kafka 时丢弃事件
	var publisher service.EventPublisher = service.NopPublisher()
	var kafkaPublisher *kafka.Publisher
	if cfg.Kafka.Brokers != "" {
		kafkaPublisher = kafka.NewPublisher(cfg.Kafka)
		publisher = kafkaPublisher
	}

	// 5. 初始化 Service (依赖注入)
	sizes := service.NewSizePropagator(repos.items, repos.folders, repos.roots)
	fileService := service.NewFileService(repos.files, repos.items, repos.folders, repos.stores, registry, sizes)
	hierarchyService := service.NewHierarchyService(repos.roots, repos.folders, repos.items, repos.files, fileService, sizes)
	assetstoreService := service.NewAssetstoreService(repos.stores, repos.files, repos.uploads, registry, hierarchyService)
	uploadService := service.NewUploadService(service.UploadServiceOptions{
		Uploads:      repos.uploads,
		Files:        repos.files,
		Assetstores:  repos.stores,
		Registry:     registry,
		Hierarchy:    hierarchyService,
		Sizes:        sizes,
		Publisher:    publisher,
		ChunkLockTTL: cfg.Upload.ChunkLockTTL,
	})
	consistencyService := service.NewConsistencyService(repos.roots, repos.folders, repos.items, repos.files, hierarchyService, fileService)
	jobService := service.NewJobService(repos.jobs)
	accessService := service.NewAccessService(repos.roots, repos.folders, repos.items)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)

	// 6. 启动前的数据准备：补齐旧文档的根节点缓存、创建默认存储和管理员
	if n, err := hierarchyService.MigrateBaseParents(rootCtx); err != nil {
		log.Fatal("补齐根节点缓存失败", err)
	} else if n > 0 {
		log.Infof("已为 %d 个文档补齐根节点缓存", n)
	}
	b := cfg.Assetstore.Bootstrap
	if _, err := assetstoreService.Bootstrap(rootCtx, service.AssetstoreRequest{
		Name:            b.Name,
		Type:            b.Type,
		Root:            b.Root,
		Endpoint:        b.Endpoint,
		Region:          b.Region,
		Bucket:          b.Bucket,
		Prefix:          b.Prefix,
		AccessKeyID:     b.AccessKeyID,
		SecretAccessKey: b.SecretAccessKey,
		UseSSL:          b.UseSSL,
	}); err != nil {
		log.Fatal("创建默认存储失败", err)
	}
	if err := ensureAdmin(rootCtx, cfg.JWT.AdminLogin, accessService, hierarchyService, jwtManager); err != nil {
		log.Fatal("创建管理员失败", err)
	}

	// 7. 启动后台 Kafka 消费者（重试计数依赖 Redis）
	if cfg.Kafka.Brokers != "" && repos.rdb != nil {
		go kafka.StartConsumer(rootCtx, cfg.Kafka, repos.rdb, pipeline.NewProcessor(fileService))
	}

	// 8. 启动定时任务
	scheduler, err := task.NewScheduler(cfg.Schedule, cfg.Upload.StaleAge, uploadService, consistencyService)
	if err != nil {
		log.Fatal("定时任务配置错误", err)
	}
	scheduler.Start()

	// 9. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(handler.Services{
		Uploads:     uploadService,
		Files:       fileService,
		Hierarchy:   hierarchyService,
		Assetstores: assetstoreService,
		Consistency: consistencyService,
		Jobs:        jobService,
		Access:      accessService,
	}, jwtManager)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止消费者和定时任务，后台任务会在下一次检查取消标记前自然结束
	cancelRoot()
	scheduler.Stop()
	if kafkaPublisher != nil {
		if err := kafkaPublisher.Close(); err != nil {
			log.Errorf("关闭 Kafka 生产者失败: %v", err)
		}
	}
	log.Info("服务已优雅关闭")
}

// ensureAdmin 在管理员不存在时创建它，并输出一次 access token 用于首次登录。
func ensureAdmin(ctx context.Context, login string, access service.AccessService, hierarchy service.HierarchyService, jwtManager *token.JWTManager) error {
	if login == "" {
		return nil
	}
	if _, err := access.UserByLogin(ctx, login); err == nil {
		return nil
	} else if !errors.Is(err, errors.NotFound) {
		return err
	}
	admin, err := hierarchy.CreateUser(ctx, login, true)
	if err != nil {
		return err
	}
	tok, err := jwtManager.GenerateToken(admin.ID, admin.Login, true)
	if err != nil {
		return err
	}
	log.Infof("已创建管理员 %s, access token: %s", admin.Login, tok)
	return nil
}
