package http

import (
	"context"

	"github.com/gin-gonic/gin"

	"studymate/internal/bootstrap"
	"studymate/internal/transport/http/handler"
	"studymate/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(middleware.RequestLogger(app.Log), gin.Recovery())

	healthHandler := handler.NewHealthHandler(
		app.Config.App.Name,
		app.Config.App.Env,
		app.StartedAt,
		handler.HealthCheck{Name: "mysql", Probe: func(ctx context.Context) error {
			sqlDB, err := app.MySQL.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}},
		handler.HealthCheck{Name: "redis", Probe: func(ctx context.Context) error {
			return app.Redis.Ping(ctx).Err()
		}},
		handler.HealthCheck{Name: "rabbitmq", Probe: func(context.Context) error {
			if app.MQConn == nil || app.MQConn.IsClosed() {
				return errConnectionClosed
			}
			return nil
		}},
		handler.HealthCheck{Name: "milvus", Probe: app.Vectors.Ping},
	)
	router.GET("/healthz", healthHandler.Check)

	svc := app.Services
	secret := app.Config.Auth.JWTSecret
	maxUpload := int64(app.Config.Ingestion.MaxUploadMB) << 20

	authHandler := handler.NewAuthHandler(svc.Auth)
	documentHandler := handler.NewDocumentHandler(svc.Ingest, svc.Documents, app.Hub, maxUpload)
	chatHandler := handler.NewChatHandler(svc.Chat)
	quizHandler := handler.NewQuizHandler(svc.Quiz)
	studyHandler := handler.NewStudyHandler(svc.Podcast, svc.Quota, svc.Coach)
	visionHandler := handler.NewVisionHandler(svc.Describer)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", middleware.AuthJWT(secret), authHandler.Me)

	// EventSource cannot set headers, so the stream also accepts ?access_token=.
	v1.GET("/documents/progress", middleware.AuthJWTWithQuery(secret), documentHandler.Progress)

	authed := v1.Group("")
	authed.Use(middleware.AuthJWT(secret))

	documents := authed.Group("/documents")
	documents.POST("", documentHandler.Upload)
	documents.GET("", documentHandler.List)
	documents.DELETE("/:id", documentHandler.Delete)

	chat := authed.Group("/chat")
	chat.POST("/messages", chatHandler.SendMessage)
	chat.GET("/history", chatHandler.GetHistory)

	quiz := authed.Group("/quiz")
	quiz.POST("/generate", quizHandler.Generate)
	quiz.POST("/results", quizHandler.SaveResult)
	quiz.GET("/results", quizHandler.ListResults)
	quiz.POST("/mistakes", quizHandler.RecordMistakes)

	authed.GET("/podcast/daily", studyHandler.DailyPodcast)
	authed.GET("/usage", studyHandler.Usage)
	authed.POST("/coach", studyHandler.Coach)
	authed.POST("/vision/describe", visionHandler.Describe)

	return router
}
