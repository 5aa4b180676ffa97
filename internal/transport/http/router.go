package httptransport

import (
	"log/slog"

	"github.com/ErlanBelekov/backup-agent/internal/transport/http/handler"
	"github.com/ErlanBelekov/backup-agent/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

func NewRouter(logger *slog.Logger, scheduleHandler *handler.ScheduleHandler, jwtKey []byte) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	schedules := r.Group("/schedules", middleware.Auth(jwtKey))
	schedules.GET("", scheduleHandler.List)
	schedules.POST("", scheduleHandler.Create)
	schedules.GET("/:key", scheduleHandler.GetByKey)
	schedules.DELETE("/:key", scheduleHandler.Delete)
	schedules.PUT("/:key/exclude", scheduleHandler.Exclude)
	schedules.DELETE("/:key/exclude", scheduleHandler.Include)
	schedules.GET("/:key/runs", scheduleHandler.ListRuns)

	return r
}
