package app

import (
	"exam_platform_backend/docs"
	"exam_platform_backend/internal/config"
	"exam_platform_backend/internal/middleware"
	"exam_platform_backend/internal/model"
	"exam_platform_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/auth/otp/request", c.auth.RequestOTP)
		public.POST("/auth/otp/verify", c.auth.VerifyOTP)
	}

	// 2. 作答
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		authGroup.POST("/papers/:id/attempts", c.attempt.Start)
		authGroup.GET("/attempts/:id", c.attempt.Get)
		authGroup.PUT("/attempts/:id/answers", c.attempt.SaveAnswers)
		authGroup.POST("/attempts/:id/submit", c.attempt.Submit)
	}

	// 3. 管理员
	admin := router.Group("/api/admin")
	admin.Use(middleware.AuthMiddleware(cfg), middleware.RoleMiddleware(model.Admin))
	{
		admin.POST("/attempts/:id/autosubmit", c.attempt.AutoSubmit)
	}
}
